// Package trigger turns external stimuli (new files, webhook calls) into Runs
// of the Procedures whose trigger matches them.
package trigger

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/telemetry"
	"github.com/rendis/procflow/pkg/schema"
)

// SecretHeader carries the shared secret of webhook triggers.
const SecretHeader = "X-Webhook-Secret"

// Starter creates Runs. *engine.Engine satisfies it.
type Starter interface {
	StartRun(ctx context.Context, org schema.OrgContext, req engine.StartRequest) (*engine.StartResult, error)
}

// FileEvent announces a file created in a watched storage provider.
type FileEvent struct {
	Path   string `json:"file_path"`
	URL    string `json:"file_url,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

// FileRun is one Run started for a file event.
type FileRun struct {
	ProcedureID string           `json:"procedure_id"`
	RunID       string           `json:"run_id"`
	Status      schema.RunStatus `json:"status"`
	MatchedBy   string           `json:"matched_by"`
}

// DispatchFailure records a matching Procedure whose Run could not start.
type DispatchFailure struct {
	ProcedureID string `json:"procedure_id"`
	Error       string `json:"error"`
}

// FileDispatchResult summarizes a file dispatch.
type FileDispatchResult struct {
	RunsCreated int               `json:"runs_created"`
	Runs        []FileRun         `json:"runs,omitempty"`
	Failed      []DispatchFailure `json:"failed,omitempty"`
	// Duplicate is set by SeenFiles when the file was already dispatched.
	Duplicate bool `json:"duplicate,omitempty"`
}

// WebhookResult is the Run started by a webhook call.
type WebhookResult struct {
	RunID  string           `json:"run_id"`
	Status schema.RunStatus `json:"status"`
}

// Dispatcher matches stimuli against Procedure triggers. It does not
// deduplicate; wrap it in SeenFiles for that.
type Dispatcher struct {
	store   store.Store
	starter Starter
	events  *store.EventLog
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(s store.Store, starter Starter, metrics *telemetry.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   s,
		starter: starter,
		events:  store.NewEventLog(s),
		metrics: metrics,
		logger:  logger,
	}
}

// DispatchFileEvent starts one Run per published, active ON_FILE_CREATED
// Procedure of the org whose folder matches ev. No match is not an error.
// A Procedure whose Run fails to start is reported in Failed and does not
// stop the others.
func (d *Dispatcher) DispatchFileEvent(ctx context.Context, org schema.OrgContext, ev FileEvent) (*FileDispatchResult, error) {
	if strings.TrimSpace(ev.Path) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "file_path is required")
	}
	ctx = logging.WithOrgID(ctx, org.OrgID)
	log := logging.LogWith(ctx, d.logger)

	candidates, err := d.store.ListProcedures(ctx, store.ProcedureFilter{
		OrgID:       org.OrgID,
		TriggerType: schema.TriggerOnFileCreated,
		Published:   store.BoolPtr(true),
		Active:      store.BoolPtr(true),
	})
	if err != nil {
		return nil, err
	}

	result := &FileDispatchResult{}
	folder := containingFolder(normalizeFolder(ev.Path))
	for _, p := range candidates {
		matchedBy, ok := MatchFolder(p.Trigger, ev.Path)
		if !ok {
			continue
		}

		req := engine.StartRequest{
			ProcedureID: p.ID,
			StarterID:   p.OwnerID,
			Trigger:     schema.TriggerOnFileCreated,
			TriggerContext: map[string]any{
				"file_path":  ev.Path,
				"file_url":   ev.URL,
				"file_id":    ev.FileID,
				"folder":     folder,
				"matched_by": matchedBy,
			},
			InitialInput: map[string]any{
				"file_path": ev.Path,
				"file_url":  ev.URL,
			},
		}
		res, err := d.starter.StartRun(ctx, schema.OrgContext{OrgID: org.OrgID, ActorID: p.OwnerID}, req)
		if err != nil {
			log.Warn("file trigger start failed",
				slog.String("procedure_id", p.ID),
				slog.String("error", err.Error()))
			result.Failed = append(result.Failed, DispatchFailure{ProcedureID: p.ID, Error: err.Error()})
			continue
		}

		d.recordMatch(ctx, res.RunID, map[string]any{
			"procedure_id": p.ID,
			"trigger":      schema.TriggerOnFileCreated,
			"matched_by":   matchedBy,
			"file_path":    ev.Path,
		})
		result.Runs = append(result.Runs, FileRun{
			ProcedureID: p.ID,
			RunID:       res.RunID,
			Status:      res.Status,
			MatchedBy:   matchedBy,
		})
	}
	result.RunsCreated = len(result.Runs)

	d.metrics.TriggerDispatched(ctx, string(schema.TriggerOnFileCreated), result.RunsCreated)
	log.Info("file event dispatched",
		slog.String("file_path", ev.Path),
		slog.Int("candidates", len(candidates)),
		slog.Int("runs_created", result.RunsCreated),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}

// DispatchWebhook starts a Run of procedureID from a webhook call. The org is
// taken from the Procedure. body and headers are stored under trigger.body and
// trigger.headers; the secret header is never stored.
func (d *Dispatcher) DispatchWebhook(ctx context.Context, procedureID string, body any, headers map[string]string) (*WebhookResult, error) {
	p, err := d.store.GetProcedure(ctx, procedureID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOrgID(ctx, p.OrgID)

	if err := checkWebhook(p, headers); err != nil {
		logging.LogWith(ctx, d.logger).Warn("webhook rejected",
			slog.String("procedure_id", p.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	res, err := d.starter.StartRun(ctx, schema.OrgContext{OrgID: p.OrgID, ActorID: p.OwnerID}, engine.StartRequest{
		ProcedureID:    p.ID,
		StarterID:      p.OwnerID,
		Trigger:        schema.TriggerWebhook,
		TriggerContext: map[string]any{"body": body, "headers": withoutSecret(headers)},
	})
	if err != nil {
		return nil, err
	}

	d.recordMatch(ctx, res.RunID, map[string]any{
		"procedure_id": p.ID,
		"trigger":      schema.TriggerWebhook,
	})
	d.metrics.TriggerDispatched(ctx, string(schema.TriggerWebhook), 1)
	return &WebhookResult{RunID: res.RunID, Status: res.Status}, nil
}

func checkWebhook(p *schema.Procedure, headers map[string]string) error {
	reject := func(reason, msg string) error {
		return schema.NewError(schema.ErrCodeTriggerRejected, msg).
			WithDetails(map[string]any{"reason": reason, "procedure_id": p.ID})
	}
	switch {
	case !p.Active:
		return reject("inactive", "procedure is not active")
	case !p.Published:
		return reject("unpublished", "procedure is not published")
	case p.TriggerType() != schema.TriggerWebhook:
		return reject("wrong_trigger", "procedure is not triggered by webhooks")
	}

	if secret := p.Trigger.Secret; secret != "" {
		got := headerValue(headers, SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return reject("bad_secret", "webhook secret mismatch")
		}
	}
	return nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// withoutSecret copies headers minus SecretHeader, matched case-insensitively.
func withoutSecret(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, SecretHeader) {
			continue
		}
		out[k] = v
	}
	return out
}

func (d *Dispatcher) recordMatch(ctx context.Context, runID string, payload map[string]any) {
	if _, err := d.events.Record(ctx, runID, "", schema.EventTriggerMatched, payload); err != nil {
		logging.LogWith(ctx, d.logger).Warn("record trigger match", slog.String("error", err.Error()))
	}
}
