package actions

import (
	"sort"
	"sync"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// Registry is the thread-safe set of automated-step actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action. Returns an error on a duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q already registered", name)
	}
	r.actions[name] = action
	return nil
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// For picks the action for an automated step: the named action, then the
// action named like the step, then the generic action.
func (r *Registry) For(step *schema.WorkflowStep) (Action, error) {
	for _, name := range []string{step.Action, step.ID, GenericActionName} {
		if name == "" {
			continue
		}
		if a, ok := r.Get(name); ok {
			return a, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution, "no action registered for step %q", step.ID).WithStep(step.ID)
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, ActionInfo{Name: a.Name(), Description: a.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
