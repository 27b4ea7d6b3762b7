package metering

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

const defaultExportTimeout = 15 * time.Second

// exportBatch is the wire envelope posted to the export endpoint.
type exportBatch struct {
	SentAt time.Time          `json:"sent_at"`
	Events []types.UsageEvent `json:"events"`
}

// HTTPSink ships flushed batches to an external billing endpoint. The
// endpoint has been screened against private address space at config load;
// delivery failures surface to the collector, which drops the batch and
// counts it, the same contract as every other sink.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewHTTPSink builds a sink posting to endpoint. A nil client gets a
// default with a bounded timeout.
func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: defaultExportTimeout}
	}
	return &HTTPSink{endpoint: endpoint, client: client, now: time.Now}
}

// WriteUsage posts the batch as a single JSON document. Any non-2xx status
// is a delivery failure.
func (s *HTTPSink) WriteUsage(ctx context.Context, events []types.UsageEvent) error {
	body, err := json.Marshal(exportBatch{SentAt: s.now().UTC(), Events: events})
	if err != nil {
		return fmt.Errorf("failed to encode usage batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errdefs.CollaboratorDown(err, "usage export endpoint unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errdefs.CollaboratorDown(nil, "usage export endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// MultiSink fans a batch out to several sinks. Every sink sees every batch;
// failures are joined so the collector counts the batch dropped when any
// destination failed.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink composes sinks in delivery order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// WriteUsage delivers to each sink in turn.
func (s *MultiSink) WriteUsage(ctx context.Context, events []types.UsageEvent) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.WriteUsage(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
