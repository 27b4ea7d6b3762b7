package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// UsageWriter is the slice of the storage layer the store sink needs.
type UsageWriter interface {
	InsertUsage(ctx context.Context, events []types.UsageEvent) error
}

// StoreSink persists batches through the storage layer.
type StoreSink struct {
	store UsageWriter
}

// NewStoreSink creates a sink backed by store.
func NewStoreSink(store UsageWriter) *StoreSink {
	return &StoreSink{store: store}
}

// WriteUsage inserts the batch. Duplicate event ids are ignored by the
// storage layer, so retried batches stay idempotent.
func (s *StoreSink) WriteUsage(ctx context.Context, events []types.UsageEvent) error {
	return s.store.InsertUsage(ctx, events)
}

// FileSink appends usage events as JSON lines to a local file. It is used
// when no database is configured, and by exporters that ship the file to
// external billing systems.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (or creates) the JSONL file at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create usage log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage log: %w", err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

// WriteUsage appends one JSON line per event.
func (s *FileSink) WriteUsage(_ context.Context, events []types.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if err := s.enc.Encode(event); err != nil {
			return fmt.Errorf("failed to append usage event: %w", err)
		}
	}
	return s.file.Sync()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
