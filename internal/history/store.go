package history

import (
	"context"

	"github.com/mvaldr/cascade/pkg/schema"
)

// Store defines the persistence layer contract for run history, memories,
// and scheduled jobs. All implementations must be safe for concurrent use.
type Store interface {
	// Run history
	RecordGraphRun(ctx context.Context, result *schema.GraphResult) error
	RecordPipelineRun(ctx context.Context, result *schema.PipelineResult) error
	GetGraphRun(ctx context.Context, runID string) (*schema.GraphResult, error)
	GetPipelineRun(ctx context.Context, runID string) (*schema.PipelineResult, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunSummary, error)
	LastRun(ctx context.Context, kind RunKind) (*RunSummary, error)

	// Memories (consumed by the memory capability)
	SaveMemory(ctx context.Context, key string, content map[string]any) error
	RecallMemories(ctx context.Context, key string, limit int) ([]map[string]any, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
