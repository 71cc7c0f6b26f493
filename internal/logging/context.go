package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	orgIDKey ctxKey = iota
	runIDKey
	processRunIDKey
	stepIDKey
)

// correlationKeys lists the context keys in the order they are logged.
var correlationKeys = []struct {
	key  ctxKey
	attr string
}{
	{orgIDKey, "org_id"},
	{processRunIDKey, "process_run_id"},
	{runIDKey, "run_id"},
	{stepIDKey, "step_id"},
}

// WithOrgID returns a context carrying the organization ID.
func WithOrgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, orgIDKey, id)
}

// WithRunID returns a context carrying the run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithProcessRunID returns a context carrying the process run ID.
func WithProcessRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, processRunIDKey, id)
}

// WithStepID returns a context carrying the step ID.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// OrgID extracts the organization ID from the context, or "".
func OrgID(ctx context.Context) string { return value(ctx, orgIDKey) }

// RunID extracts the run ID from the context, or "".
func RunID(ctx context.Context) string { return value(ctx, runIDKey) }

// ProcessRunID extracts the process run ID from the context, or "".
func ProcessRunID(ctx context.Context) string { return value(ctx, processRunIDKey) }

// StepID extracts the step ID from the context, or "".
func StepID(ctx context.Context) string { return value(ctx, stepIDKey) }

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithRun sets the org and run IDs at once.
func WithRun(ctx context.Context, orgID, runID string) context.Context {
	return WithRunID(WithOrgID(ctx, orgID), runID)
}

// LogWith returns a logger enriched with the correlation IDs present in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, ck := range correlationKeys {
		if v := value(ctx, ck.key); v != "" {
			logger = logger.With(slog.String(ck.attr, v))
		}
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs found
// in the record's context, so logger.InfoContext(ctx, ...) needs no extra
// attributes.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, ck := range correlationKeys {
		if v := value(ctx, ck.key); v != "" {
			r.AddAttrs(slog.String(ck.attr, v))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// New builds the process logger: a text or JSON handler at the given level,
// wrapped in a CorrelationHandler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
