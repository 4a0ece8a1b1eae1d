package diagram

// NodeKind classifies a diagram node by its SOP step type.
type NodeKind string

const (
	NodeKindAutomated    NodeKind = "automated"
	NodeKindManual       NodeKind = "manual"
	NodeKindApproval     NodeKind = "approval"
	NodeKindNotification NodeKind = "notification"
	NodeKindIntegration  NodeKind = "integration"
	NodeKindStart        NodeKind = "start"
	NodeKindEnd          NodeKind = "end"
)

// EdgeKind distinguishes the execution order from declared dependencies.
type EdgeKind string

const (
	EdgeSequence   EdgeKind = "sequence"
	EdgeDependency EdgeKind = "dependency"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one step of the SOP, or the start/end marker.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Role   string
	Status *StatusOverlay
}

// StatusOverlay carries the runtime state of a step within one instance.
type StatusOverlay struct {
	Status     string // from schema.ExecutionStatus
	AssignedTo string
	Attempts   int
	Overdue    bool
	Escalated  bool
	Error      string
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Kind  EdgeKind
	Label string
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
