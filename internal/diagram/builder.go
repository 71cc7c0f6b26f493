package diagram

import (
	"fmt"

	"github.com/rendis/procflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// BuildProcedure builds a model of p. When run is non-nil, each step carries
// the state recorded in the run's logs.
func BuildProcedure(p *schema.Procedure, run *schema.Run) (*DiagramModel, error) {
	if p == nil {
		return nil, fmt.Errorf("diagram: procedure is nil")
	}

	title := p.Name
	if title == "" {
		title = p.ID
	}
	b := newChain(title)
	for i := range p.Steps {
		step := &p.Steps[i]
		kind := NodeKindAuto
		if step.ExecutionType() == schema.ExecutionHuman {
			kind = NodeKindHuman
		}
		label := string(step.Action)
		if step.Title != "" {
			label = step.Title + "\n" + label
		}
		var overlay *StatusOverlay
		if run != nil {
			overlay = runOverlay(run, i)
		}
		b.add(&Node{ID: step.ID, Label: label, Kind: kind, Status: overlay})
	}
	return b.finish(), nil
}

// BuildProcess builds a model of p. When pr is non-nil, each step carries the
// state of its history entry.
func BuildProcess(p *schema.Process, pr *schema.ProcessRun) (*DiagramModel, error) {
	if p == nil {
		return nil, fmt.Errorf("diagram: process is nil")
	}

	title := p.Name
	if title == "" {
		title = p.ID
	}
	b := newChain(title)
	for i := range p.Steps {
		step := &p.Steps[i]
		node := &Node{ID: step.InstanceID}
		switch step.Type {
		case schema.ProcessStepDelay:
			node.Kind = NodeKindDelay
			node.Label = "wait"
			if step.Delay != nil {
				node.Label = "wait " + step.Delay.Duration
			}
		default:
			node.Kind = NodeKindProcedure
			node.Label = step.ProcedureID
		}
		if pr != nil {
			node.Status = historyOverlay(pr, i)
		}
		b.add(node)
	}
	return b.finish(), nil
}

// chain accumulates a linear model between start and end nodes.
type chain struct {
	model *DiagramModel
	last  string
}

func newChain(title string) *chain {
	m := &DiagramModel{Title: title}
	m.Nodes = append(m.Nodes, &Node{ID: startID, Label: "start", Kind: NodeKindStart})
	return &chain{model: m, last: startID}
}

func (c *chain) add(n *Node) {
	c.model.Nodes = append(c.model.Nodes, n)
	c.model.Edges = append(c.model.Edges, Edge{From: c.last, To: n.ID})
	c.last = n.ID
}

func (c *chain) finish() *DiagramModel {
	c.model.Nodes = append(c.model.Nodes, &Node{ID: endID, Label: "end", Kind: NodeKindEnd})
	c.model.Edges = append(c.model.Edges, Edge{From: c.last, To: endID})
	return c.model
}

// runOverlay derives the state of step index from the latest log entry for it.
func runOverlay(run *schema.Run, index int) *StatusOverlay {
	for i := len(run.Logs) - 1; i >= 0; i-- {
		entry := run.Logs[i]
		if entry.StepIndex != index {
			continue
		}
		o := &StatusOverlay{Actor: entry.ExecutedBy, Error: entry.Error}
		switch entry.Outcome {
		case schema.OutcomeSuccess:
			o.Status = StatusCompleted
		case schema.OutcomeFailure:
			o.Status = StatusFailed
		case schema.OutcomeFlagged:
			o.Status = StatusFlagged
		default:
			o.Status = StatusWaiting
		}
		return o
	}
	if run.Status == schema.RunStatusFlagged && run.CurrentStepIndex == index {
		return &StatusOverlay{Status: StatusFlagged, Error: run.FlagReason}
	}
	return &StatusOverlay{Status: StatusPending}
}

func historyOverlay(pr *schema.ProcessRun, index int) *StatusOverlay {
	for i := len(pr.StepHistory) - 1; i >= 0; i-- {
		entry := pr.StepHistory[i]
		if entry.Index != index {
			continue
		}
		switch entry.Status {
		case schema.HistoryStatusCompleted:
			return &StatusOverlay{Status: StatusCompleted}
		case schema.HistoryStatusFlagged:
			return &StatusOverlay{Status: StatusFlagged, Error: pr.FlagReason}
		case schema.HistoryStatusWaiting:
			return &StatusOverlay{Status: StatusWaiting}
		default:
			return &StatusOverlay{Status: StatusRunning}
		}
	}
	return &StatusOverlay{Status: StatusPending}
}
