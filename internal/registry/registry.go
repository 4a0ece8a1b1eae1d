package registry

import (
	"sort"
	"sync"

	"github.com/floridafirst/sopflow/internal/validation"
	"github.com/floridafirst/sopflow/pkg/schema"
)

// Registry holds the immutable workflow definitions known to the orchestrator.
// Definitions are validated and normalized (steps sorted by sequence number) on
// registration. Callers must treat returned definitions as read-only.
type Registry struct {
	validator validation.Validator

	mu    sync.RWMutex
	defs  map[string]*schema.WorkflowDefinition
	order []string
}

// New creates an empty Registry. A nil validator skips schema and expression
// validation; step id uniqueness and dependency order are always enforced.
func New(v validation.Validator) *Registry {
	return &Registry{
		validator: v,
		defs:      make(map[string]*schema.WorkflowDefinition),
	}
}

// Register validates def and adds a normalized copy.
func (r *Registry) Register(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	normalized := normalize(def)
	if r.validator != nil {
		if err := r.validator.ValidateDefinition(normalized); err != nil {
			return err
		}
	}
	if err := checkStepGraph(normalized); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateDefinition, "workflow definition %q already registered", def.ID)
	}
	r.defs[def.ID] = normalized
	r.order = append(r.order, def.ID)
	return nil
}

// MustRegister registers every definition, panicking on the first failure.
// Intended for startup wiring of embedded definitions.
func (r *Registry) MustRegister(defs ...*schema.WorkflowDefinition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition with the given id.
func (r *Registry) Get(id string) (*schema.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// Lookup is Get with a DEFINITION_NOT_FOUND error.
func (r *Registry) Lookup(id string) (*schema.WorkflowDefinition, error) {
	if d, ok := r.Get(id); ok {
		return d, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound, "workflow definition %q not found", id)
}

// List returns all definitions in registration order.
func (r *Registry) List() []*schema.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*schema.WorkflowDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// normalize copies def with its steps in sequence order. Slices are copied
// so later mutation of the caller's value cannot reach the registry.
// checkStepGraph rejects repeated step ids and dependencies that do not name
// an earlier step. Steps must already be in sequence order.
func checkStepGraph(def *schema.WorkflowDefinition) error {
	declared := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if declared[step.ID] {
			return schema.NewErrorf(schema.ErrCodeDuplicateStepID, "duplicate step id %q", step.ID).WithStep(step.ID)
		}
		for _, dep := range step.Dependencies {
			if !declared[dep] {
				return schema.NewErrorf(schema.ErrCodeInvalidDependency,
					"step %q depends on %q, which is not declared earlier", step.ID, dep).WithStep(step.ID)
			}
		}
		declared[step.ID] = true
	}
	return nil
}

func normalize(def *schema.WorkflowDefinition) *schema.WorkflowDefinition {
	cp := *def
	cp.Steps = append([]schema.WorkflowStep(nil), def.Steps...)
	sort.SliceStable(cp.Steps, func(i, j int) bool {
		return cp.Steps[i].SequenceNumber < cp.Steps[j].SequenceNumber
	})
	cp.Triggers = append([]schema.WorkflowTrigger(nil), def.Triggers...)
	cp.Variables = append([]schema.WorkflowVariable(nil), def.Variables...)
	cp.Conditions = append([]schema.WorkflowCondition(nil), def.Conditions...)
	return &cp
}
