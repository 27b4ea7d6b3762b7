package warehouse

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/pkg/types"
)

// DefaultStatementTimeout bounds a single statement when the caller does not
// supply its own deadline.
const DefaultStatementTimeout = 30 * time.Minute

// ExecResult reports what a completed statement did. RowsWritten counts the
// rows the statement produced: result rows for a query, affected rows for
// DML. The apply loop copies these numbers into telemetry rows verbatim.
type ExecResult struct {
	RowsRead     int64         `json:"rows_read"`
	RowsWritten  int64         `json:"rows_written"`
	ShuffleBytes int64         `json:"shuffle_bytes"`
	Partitions   int           `json:"partitions"`
	Duration     time.Duration `json:"duration"`
	ClusterID    string        `json:"cluster_id"`
}

// ColumnInfo describes one column of a physical table as the engine sees it.
// Used by schema drift checks to compare declared contracts against reality.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

// Client is the warehouse collaborator. Implementations must honor ctx
// cancellation and return errdefs.KindCollaboratorTimeout when the engine
// does not answer within the deadline.
type Client interface {
	// Execute runs one statement on a cluster built from the given template.
	Execute(ctx context.Context, sql string, cluster types.ClusterTemplate, timeout time.Duration) (ExecResult, error)

	// DescribeTableExtended returns the live column layout of a table
	// identified by its fully qualified name.
	DescribeTableExtended(ctx context.Context, fqn string) ([]ColumnInfo, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
}

// templates is the closed cluster catalogue. Rates are USD per second of
// wall time; workers feed the cost predictor's diminishing-returns term.
var templates = map[types.ClusterSize]types.ClusterTemplate{
	types.ClusterSmall:  {Size: types.ClusterSmall, Workers: 4, USDPerSec: 0.0030, DriverSpec: "i3.xlarge"},
	types.ClusterMedium: {Size: types.ClusterMedium, Workers: 8, USDPerSec: 0.0060, DriverSpec: "i3.2xlarge"},
	types.ClusterLarge:  {Size: types.ClusterLarge, Workers: 16, USDPerSec: 0.0120, DriverSpec: "i3.4xlarge"},
}

// TemplateFor resolves a cluster size to its fixed template. Unknown or
// empty sizes fall back to the small template so a missing header never
// blocks planning.
func TemplateFor(size types.ClusterSize) types.ClusterTemplate {
	if t, ok := templates[size]; ok {
		return t
	}
	return templates[types.ClusterSmall]
}

// Templates returns the catalogue in ascending cost order.
func Templates() []types.ClusterTemplate {
	return []types.ClusterTemplate{
		templates[types.ClusterSmall],
		templates[types.ClusterMedium],
		templates[types.ClusterLarge],
	}
}
