// Package api exposes the engine, trigger dispatcher and process coordinator
// over REST.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/streaming"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/internal/validation"
	"github.com/rendis/procflow/pkg/schema"
)

// Header names carrying the caller's identity.
const (
	HeaderOrgID  = "X-Org-ID"
	HeaderUserID = "X-User-ID"
)

// RunService is the engine surface used by the API. *engine.Engine
// satisfies it.
type RunService interface {
	StartRun(ctx context.Context, org schema.OrgContext, req engine.StartRequest) (*engine.StartResult, error)
	Resume(ctx context.Context, org schema.OrgContext, runID, stepID string, outcome schema.Outcome, output *schema.StepOutput) (*engine.ResumeResult, error)
	Status(ctx context.Context, org schema.OrgContext, runID string) (*schema.Run, error)
	Tasks(ctx context.Context, org schema.OrgContext, filter store.TaskFilter) ([]*schema.UserTask, error)
	Trace(ctx context.Context, org schema.OrgContext, runID string) (map[string]*store.StepTrace, error)
}

// WebhookDispatcher starts Runs from webhook calls. *trigger.Dispatcher
// satisfies it.
type WebhookDispatcher interface {
	DispatchWebhook(ctx context.Context, procedureID string, body any, headers map[string]string) (*trigger.WebhookResult, error)
}

// ProcessService drives process runs. *process.Coordinator satisfies it.
type ProcessService interface {
	StartProcess(ctx context.Context, org schema.OrgContext, processID, starterID string, input map[string]any) (*schema.ProcessRun, error)
	GetProcessRun(ctx context.Context, org schema.OrgContext, id string) (*schema.ProcessRun, error)
	ResumeDelay(ctx context.Context, processRunID string) (*schema.ProcessRun, error)
}

// Deps holds the collaborators of the REST server. Hub is optional and
// enables the event stream.
type Deps struct {
	Store     store.Store
	Runs      RunService
	Files     trigger.FileDispatcher
	Hooks     WebhookDispatcher
	Processes ProcessService
	Validator validation.Validator
	Hub       streaming.EventHub
	Logger    *slog.Logger
	// ServiceName labels request spans.
	ServiceName string
}

// Server is the REST surface.
type Server struct {
	deps Deps
	echo *echo.Echo
}

// NewServer builds the echo instance and registers every route.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "procflow"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = problemHandler(deps.Logger)

	s := &Server{deps: deps, echo: e}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(deps.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			deps.Logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID))
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)

	// Webhooks authenticate with the procedure's secret, not org headers.
	e.POST("/api/v1/hooks/:procedureId", s.dispatchWebhook)

	v1 := e.Group("/api/v1", requireOrg)
	v1.POST("/procedures", s.saveProcedure)
	v1.GET("/procedures/:id", s.getProcedure)
	v1.POST("/procedures/:id/runs", s.startRun)
	v1.GET("/procedures/:id/diagram", s.procedureDiagram)

	v1.GET("/runs/:id", s.getRun)
	v1.GET("/runs/:id/trace", s.traceRun)
	v1.POST("/runs/:id/resume", s.resumeRun)
	v1.GET("/tasks", s.listTasks)

	v1.POST("/events/files", s.dispatchFile)

	v1.POST("/processes", s.saveProcess)
	v1.POST("/processes/:id/runs", s.startProcess)
	v1.GET("/processes/:id/diagram", s.processDiagram)
	v1.GET("/process-runs/:id", s.getProcessRun)
	v1.POST("/process-runs/:id/resume", s.resumeProcessRun)

	if s.deps.Hub != nil {
		v1.GET("/stream", s.stream)
	}
}

// Handler returns the HTTP handler, for tests and custom servers.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.deps.Logger.Info("http server listening", slog.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}
