package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func TestLivenessAlwaysServes200(t *testing.T) {
	h := NewHealthChecker("1.2.3")
	h.SetComponent("scheduler", false, "poll loop stalled")

	w := httptest.NewRecorder()
	h.LiveHandler()(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code, "degradation must not fail liveness")
	status := decodeHealth(t, w)
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "poll loop stalled", status.Components["scheduler"])
	assert.Equal(t, "1.2.3", status.Version)
	assert.NotEmpty(t, status.Uptime)
}

func TestLivenessRecoversWhenComponentHealsItself(t *testing.T) {
	h := NewHealthChecker("")
	h.SetComponent("metering", false, "flush failing")
	h.SetComponent("metering", true, "")

	assert.Equal(t, "alive", h.Liveness().Status)
	assert.Empty(t, h.Liveness().Components)
}

func TestReadinessRunsProbesPerRequest(t *testing.T) {
	h := NewHealthChecker("")
	var storeUp bool
	h.RegisterProbe("storage", func(context.Context) error {
		if !storeUp {
			return errors.New("bolt file locked")
		}
		return nil
	})

	w := httptest.NewRecorder()
	h.ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "unready", status.Status)
	assert.Equal(t, "bolt file locked", status.Components["storage"])

	storeUp = true
	w = httptest.NewRecorder()
	h.ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status = decodeHealth(t, w)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "ok", status.Components["storage"])
}

func TestReadinessWithNoProbesIsReady(t *testing.T) {
	h := NewHealthChecker("")
	assert.Equal(t, "ready", h.Readiness(context.Background()).Status)
}
