// Package assignee decides who is responsible for a step.
package assignee

import (
	"context"
	"log/slog"

	"github.com/rendis/procflow/internal/identity"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

// Result is the resolved holder of a step.
type Result struct {
	AssigneeID   string              `json:"assignee_id"`
	AssigneeType schema.AssigneeType `json:"assignee_type"`
	Email        string              `json:"email,omitempty"`
}

// Resolver maps a step's assignment policy onto a concrete actor.
type Resolver struct {
	directory identity.Directory
	logger    *slog.Logger
}

// NewResolver creates a Resolver. directory may be nil, in which case emails
// are never looked up.
func NewResolver(directory identity.Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Resolver{directory: directory, logger: logger}
}

// Resolve returns the assignee of step for a Run started by starterID.
// AUTO steps without a policy resolve to the system actor.
func (r *Resolver) Resolve(ctx context.Context, orgID string, step *schema.Step, starterID string) (*Result, error) {
	a := step.Assignment
	if a == nil || a.Type == "" {
		if step.ExecutionType() == schema.ExecutionAuto {
			return &Result{AssigneeID: schema.SystemActor, AssigneeType: schema.AssigneeSystem}, nil
		}
		return nil, unresolved(step, "step has no assignment")
	}

	var res *Result
	switch a.Type {
	case schema.AssignStarter:
		if starterID == "" {
			return nil, unresolved(step, "run has no starter")
		}
		res = &Result{AssigneeID: starterID, AssigneeType: schema.AssigneeUser}
	case schema.AssignSpecificUser:
		if a.AssigneeID == "" {
			return nil, unresolved(step, "specific user assignment without assignee_id")
		}
		res = &Result{AssigneeID: a.AssigneeID, AssigneeType: schema.AssigneeUser}
	case schema.AssignTeamQueue:
		if a.AssigneeID == "" {
			return nil, unresolved(step, "team queue assignment without assignee_id")
		}
		return &Result{AssigneeID: a.AssigneeID, AssigneeType: schema.AssigneeTeam}, nil
	default:
		return nil, unresolved(step, "unknown assignment type "+string(a.Type))
	}

	res.Email = r.lookupEmail(ctx, orgID, res.AssigneeID)
	return res, nil
}

func (r *Resolver) lookupEmail(ctx context.Context, orgID, userID string) string {
	if r.directory == nil {
		return ""
	}
	email, err := r.directory.LookupEmail(ctx, orgID, userID)
	if err != nil {
		logging.LogWith(ctx, r.logger).Warn("assignee email lookup failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		return ""
	}
	return email
}

func unresolved(step *schema.Step, msg string) error {
	return schema.NewError(schema.ErrCodeAssignmentUnresolved, msg).
		WithStep(step.ID).
		WithDetails(map[string]any{"action": string(step.Action)})
}
