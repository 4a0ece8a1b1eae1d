package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// MemoryStore keeps all state in process memory. It is used when no database
// path is configured and throughout the engine tests.
type MemoryStore struct {
	mu         sync.RWMutex
	instances  map[string]*schema.WorkflowInstance
	order      []string
	executions map[string][]*schema.WorkflowExecution
	events     map[string][]*Event
	nextID     int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:  make(map[string]*schema.WorkflowInstance),
		executions: make(map[string][]*schema.WorkflowExecution),
		events:     make(map[string][]*Event),
	}
}

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// --- Instances ---

func (m *MemoryStore) CreateInstance(_ context.Context, inst *schema.WorkflowInstance, execs []*schema.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "instance %q already exists", inst.ID)
	}
	m.instances[inst.ID] = inst.Clone()
	m.order = append(m.order, inst.ID)

	copies := make([]*schema.WorkflowExecution, 0, len(execs))
	for _, e := range execs {
		copies = append(copies, e.Clone())
	}
	m.executions[inst.ID] = copies
	return nil
}

func (m *MemoryStore) GetInstance(_ context.Context, id string) (*schema.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, storeNotFound("instance", id)
	}
	return inst.Clone(), nil
}

func (m *MemoryStore) UpdateInstance(_ context.Context, inst *schema.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[inst.ID]; !ok {
		return storeNotFound("instance", inst.ID)
	}
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*schema.WorkflowInstance
	for _, id := range m.order {
		inst := m.instances[id]
		if !filter.matches(inst) {
			continue
		}
		out = append(out, inst.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Executions ---

func (m *MemoryStore) GetExecution(_ context.Context, instanceID, stepID string) (*schema.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.executions[instanceID] {
		if e.StepID == stepID {
			return e.Clone(), nil
		}
	}
	return nil, storeNotFound("execution", instanceID+"/"+stepID)
}

func (m *MemoryStore) UpdateExecution(_ context.Context, exec *schema.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.executions[exec.InstanceID]
	for i, e := range list {
		if e.StepID == exec.StepID {
			list[i] = exec.Clone()
			return nil
		}
	}
	return storeNotFound("execution", exec.InstanceID+"/"+exec.StepID)
}

func (m *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order
	if filter.InstanceID != "" {
		ids = []string{filter.InstanceID}
	}

	var out []*schema.WorkflowExecution
	for _, id := range ids {
		inst, ok := m.instances[id]
		if !ok {
			continue
		}
		if filter.ActiveOnly && inst.Status.Terminal() {
			continue
		}
		for _, e := range m.executions[id] {
			if filter.matches(e) {
				out = append(out, e.Clone())
			}
		}
	}
	return out, nil
}

// --- Events ---

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.events[event.InstanceID]
	m.nextID++
	event.ID = m.nextID
	event.Sequence = int64(len(log)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	m.events[event.InstanceID] = append(log, &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, instanceID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events[instanceID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetEventsByType(_ context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for id, log := range m.events {
		if filter.InstanceID != "" && id != filter.InstanceID {
			continue
		}
		for _, e := range log {
			if e.Type != eventType || (!filter.Since.IsZero() && e.Timestamp.Before(filter.Since)) {
				continue
			}
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
