package metering

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

func TestHTTPSinkPostsBatch(t *testing.T) {
	var got exportBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client())
	events := []types.UsageEvent{
		{EventID: "evt-1", TenantID: "acme", EventType: types.UsagePlanRun, Quantity: 1},
		{EventID: "evt-2", TenantID: "acme", EventType: types.UsageAICall, Quantity: 0.02},
	}
	require.NoError(t, sink.WriteUsage(context.Background(), events))

	require.Len(t, got.Events, 2)
	assert.Equal(t, "evt-1", got.Events[0].EventID)
	assert.False(t, got.SentAt.IsZero())
}

func TestHTTPSinkRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, srv.Client())
	err := sink.WriteUsage(context.Background(), []types.UsageEvent{{EventID: "evt-1"}})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindCollaboratorDown))
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	first := newCaptureSink()
	second := newCaptureSink()
	multi := NewMultiSink(first, second)

	err := multi.WriteUsage(context.Background(), []types.UsageEvent{{EventID: "evt-1"}})
	require.NoError(t, err)
	assert.Len(t, first.events(), 1)
	assert.Len(t, second.events(), 1)
}

func TestMultiSinkJoinsFailures(t *testing.T) {
	bad := newCaptureSink()
	bad.err = assert.AnError
	good := newCaptureSink()
	multi := NewMultiSink(bad, good)

	err := multi.WriteUsage(context.Background(), []types.UsageEvent{{EventID: "evt-1"}})
	require.Error(t, err)
	// The healthy sink still received the batch.
	assert.Len(t, good.events(), 1)
}
