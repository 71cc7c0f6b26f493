// Package diagram renders Procedures and Processes as flowcharts, optionally
// overlaid with the progress of a Run or ProcessRun.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAuto      NodeKind = "auto"
	NodeKindHuman     NodeKind = "human"
	NodeKindProcedure NodeKind = "procedure"
	NodeKindDelay     NodeKind = "delay"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Overlay statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusFlagged   = "flagged"
	StatusRunning   = "running"
	StatusWaiting   = "waiting"
	StatusPending   = "pending"
)

// DiagramModel is the intermediate representation used by all renderers.
// Procedures and Processes are linear, so Nodes are in execution order.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status string
	Actor  string
	Error  string
}

// Edge connects two consecutive nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
