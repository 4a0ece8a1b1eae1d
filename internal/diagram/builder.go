package diagram

import (
	"fmt"
	"sort"

	"github.com/floridafirst/sopflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build converts a definition into a DiagramModel. Steps are chained in
// sequence order; dependencies that are not the immediate predecessor get an
// extra dependency edge. When inst is non-nil, execs supply the status overlay.
func Build(def *schema.WorkflowDefinition, inst *schema.WorkflowInstance, execs []*schema.WorkflowExecution) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil definition")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("diagram: definition %s has no steps", def.ID)
	}

	steps := make([]schema.WorkflowStep, len(def.Steps))
	copy(steps, def.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].SequenceNumber < steps[j].SequenceNumber
	})

	overlays := make(map[string]*StatusOverlay, len(execs))
	if inst != nil {
		for _, e := range execs {
			if e == nil || e.InstanceID != inst.ID {
				continue
			}
			overlays[e.StepID] = &StatusOverlay{
				Status:     string(e.Status),
				AssignedTo: e.AssignedTo,
				Attempts:   e.Attempts,
				Overdue:    e.Overdue,
				Escalated:  e.Escalated,
				Error:      e.Error,
			}
		}
	}

	model := &DiagramModel{Title: title(def, inst)}
	model.Nodes = append(model.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	prev := startID
	for i, s := range steps {
		model.Nodes = append(model.Nodes, &Node{
			ID:     s.ID,
			Label:  fmt.Sprintf("%d. %s", s.SequenceNumber, s.Title),
			Kind:   kindOf(s.Type),
			Role:   s.AssignedRole,
			Status: overlays[s.ID],
		})
		model.Edges = append(model.Edges, Edge{From: prev, To: s.ID, Kind: EdgeSequence})

		for _, dep := range s.Dependencies {
			if i > 0 && dep == steps[i-1].ID {
				continue
			}
			model.Edges = append(model.Edges, Edge{From: dep, To: s.ID, Kind: EdgeDependency, Label: "requires"})
		}
		prev = s.ID
	}

	model.Nodes = append(model.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	model.Edges = append(model.Edges, Edge{From: prev, To: endID, Kind: EdgeSequence})
	return model, nil
}

func title(def *schema.WorkflowDefinition, inst *schema.WorkflowInstance) string {
	t := def.Name
	if t == "" {
		t = def.ID
	}
	if inst != nil {
		t = fmt.Sprintf("%s [%s: %s]", t, inst.ID, inst.Status)
	}
	return t
}

func kindOf(t schema.StepType) NodeKind {
	switch t {
	case schema.StepTypeManual:
		return NodeKindManual
	case schema.StepTypeApproval:
		return NodeKindApproval
	case schema.StepTypeNotification:
		return NodeKindNotification
	case schema.StepTypeIntegration:
		return NodeKindIntegration
	default:
		return NodeKindAutomated
	}
}
