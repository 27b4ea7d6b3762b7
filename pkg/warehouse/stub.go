package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/ironlayer/ironlayer/pkg/errdefs"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// DryRunClient satisfies Client without touching a real engine. Local mode
// and tests run against it: statements are recorded, results are synthesized
// deterministically from the statement text, and described tables come from
// a seedable in-memory catalogue.
type DryRunClient struct {
	mu        sync.Mutex
	executed  []ExecutedStatement
	tables    map[string][]ColumnInfo
	execErr   error
	latency   time.Duration
	clusterID string
}

// ExecutedStatement is one recorded Execute call.
type ExecutedStatement struct {
	SQL     string
	Cluster types.ClusterTemplate
}

// NewDryRunClient builds an empty dry-run client.
func NewDryRunClient() *DryRunClient {
	return &DryRunClient{
		tables:    make(map[string][]ColumnInfo),
		clusterID: "dry-run",
	}
}

// SeedTable registers the column layout DescribeTableExtended reports for fqn.
func (c *DryRunClient) SeedTable(fqn string, cols []ColumnInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[fqn] = cols
}

// FailWith makes every subsequent Execute return err.
func (c *DryRunClient) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execErr = err
}

// SetLatency makes Execute sleep for d before answering, so timeout paths
// can be exercised.
func (c *DryRunClient) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

// Executed returns a copy of every statement run so far.
func (c *DryRunClient) Executed() []ExecutedStatement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutedStatement, len(c.executed))
	copy(out, c.executed)
	return out
}

// Execute records the statement and fabricates a result sized off the SQL
// text so repeated runs of the same plan yield identical telemetry.
func (c *DryRunClient) Execute(ctx context.Context, sql string, cluster types.ClusterTemplate, timeout time.Duration) (ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	c.mu.Lock()
	latency := c.latency
	failErr := c.execErr
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ExecResult{}, errdefs.CollaboratorTimeout(ctx.Err(), "warehouse execute cancelled")
		}
	}
	if err := ctx.Err(); err != nil {
		return ExecResult{}, errdefs.CollaboratorTimeout(err, "warehouse execute cancelled")
	}
	if latency > timeout {
		return ExecResult{}, errdefs.CollaboratorTimeout(context.DeadlineExceeded, "warehouse statement exceeded %s", timeout)
	}
	if failErr != nil {
		return ExecResult{}, errdefs.CollaboratorDown(failErr, "warehouse execute failed")
	}

	c.mu.Lock()
	c.executed = append(c.executed, ExecutedStatement{SQL: sql, Cluster: cluster})
	c.mu.Unlock()

	n := int64(len(sql))
	return ExecResult{
		RowsRead:     n * 100,
		RowsWritten:  n * 10,
		ShuffleBytes: n * 1024,
		Partitions:   int(n%7) + 1,
		Duration:     time.Duration(n) * time.Millisecond,
		ClusterID:    c.clusterID,
	}, nil
}

// DescribeTableExtended answers from the seeded catalogue.
func (c *DryRunClient) DescribeTableExtended(ctx context.Context, fqn string) ([]ColumnInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.CollaboratorTimeout(err, "warehouse describe cancelled")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.tables[fqn]
	if !ok {
		return nil, errdefs.NotFoundf("table %s not found", fqn)
	}
	out := make([]ColumnInfo, len(cols))
	copy(out, cols)
	return out, nil
}

// Ping always succeeds for the dry-run client.
func (c *DryRunClient) Ping(ctx context.Context) error {
	return ctx.Err()
}
