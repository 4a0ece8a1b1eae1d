package store

import (
	"context"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Store is the only mutation surface for instances, executions and the event log.
// All implementations must be safe for concurrent use and must return copies,
// never references to their internal state.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, inst *schema.WorkflowInstance, execs []*schema.WorkflowExecution) error
	GetInstance(ctx context.Context, id string) (*schema.WorkflowInstance, error)
	UpdateInstance(ctx context.Context, inst *schema.WorkflowInstance) error
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error)

	// Executions
	GetExecution(ctx context.Context, instanceID, stepID string) (*schema.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, exec *schema.WorkflowExecution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
