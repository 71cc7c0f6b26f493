package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rendis/procflow/internal/engine"
	"github.com/rendis/procflow/internal/store"
	"github.com/rendis/procflow/internal/trigger"
	"github.com/rendis/procflow/pkg/schema"
)

// maxWebhookBody caps webhook payloads.
const maxWebhookBody = 1 << 20

type startRunRequest struct {
	StarterID string         `json:"starter_id"`
	Input     map[string]any `json:"input"`
}

type resumeRequest struct {
	StepID  string          `json:"step_id"`
	Outcome schema.Outcome  `json:"outcome"`
	Output  json.RawMessage `json:"output"`
}

type startProcessRequest struct {
	StarterID string         `json:"starter_id"`
	Input     map[string]any `json:"input"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %s", err.Error())
	}
	return nil
}

// --- procedures ---

func (s *Server) saveProcedure(c echo.Context) error {
	org := orgOf(c)
	var p schema.Procedure
	if err := bind(c, &p); err != nil {
		return err
	}
	p.OrgID = org.OrgID
	if p.OwnerID == "" {
		p.OwnerID = org.ActorID
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateProcedure(&p); err != nil {
			return err
		}
	}

	ctx := c.Request().Context()
	if existing, err := s.deps.Store.GetProcedure(ctx, p.ID); err == nil && existing.OrgID != org.OrgID {
		return schema.NewErrorf(schema.ErrCodeConflict, "procedure id %s is taken", p.ID)
	}
	if err := s.deps.Store.SaveProcedure(ctx, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) getProcedure(c echo.Context) error {
	p, err := s.deps.Store.GetProcedure(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if p.OrgID != orgOf(c).OrgID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "procedure %s not found", c.Param("id"))
	}
	return c.JSON(http.StatusOK, p)
}

// --- runs ---

func (s *Server) startRun(c echo.Context) error {
	var req startRunRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Runs.StartRun(c.Request().Context(), orgOf(c), engine.StartRequest{
		ProcedureID:  c.Param("id"),
		StarterID:    req.StarterID,
		InitialInput: req.Input,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.deps.Runs.Status(c.Request().Context(), orgOf(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) traceRun(c echo.Context) error {
	trace, err := s.deps.Runs.Trace(c.Request().Context(), orgOf(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trace)
}

func (s *Server) resumeRun(c echo.Context) error {
	var req resumeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.StepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step_id is required")
	}
	output, err := schema.ParseOutput(req.Output)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid output: %s", err.Error())
	}
	res, err := s.deps.Runs.Resume(c.Request().Context(), orgOf(c), c.Param("id"), req.StepID, req.Outcome, output)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) listTasks(c echo.Context) error {
	filter := store.TaskFilter{
		AssigneeID: c.QueryParam("assignee_id"),
		RunID:      c.QueryParam("run_id"),
	}
	if st := c.QueryParam("status"); st != "" {
		status := schema.TaskStatus(st)
		filter.Status = &status
	}
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid limit %q", l)
		}
		filter.Limit = n
	}
	tasks, err := s.deps.Runs.Tasks(c.Request().Context(), orgOf(c), filter)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*schema.UserTask{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// --- triggers ---

func (s *Server) dispatchFile(c echo.Context) error {
	var ev trigger.FileEvent
	if err := bind(c, &ev); err != nil {
		return err
	}
	res, err := s.deps.Files.DispatchFileEvent(c.Request().Context(), orgOf(c), ev)
	if err != nil {
		return err
	}
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

func (s *Server) dispatchWebhook(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "read body: %s", err.Error())
	}
	if len(raw) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			"webhook body exceeds "+strconv.Itoa(maxWebhookBody)+" bytes")
	}

	var body any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	}

	headers := make(map[string]string, len(c.Request().Header))
	for k, v := range c.Request().Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	res, err := s.deps.Hooks.DispatchWebhook(c.Request().Context(), c.Param("procedureId"), body, headers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// --- processes ---

func (s *Server) saveProcess(c echo.Context) error {
	org := orgOf(c)
	var p schema.Process
	if err := bind(c, &p); err != nil {
		return err
	}
	p.OrgID = org.OrgID
	if s.deps.Validator != nil {
		if err := s.deps.Validator.ValidateProcess(&p); err != nil {
			return err
		}
	}

	ctx := c.Request().Context()
	if existing, err := s.deps.Store.GetProcess(ctx, p.ID); err == nil && existing.OrgID != org.OrgID {
		return schema.NewErrorf(schema.ErrCodeConflict, "process id %s is taken", p.ID)
	}
	if err := s.deps.Store.SaveProcess(ctx, &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) startProcess(c echo.Context) error {
	var req startProcessRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pr, err := s.deps.Processes.StartProcess(c.Request().Context(), orgOf(c), c.Param("id"), req.StarterID, req.Input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pr)
}

func (s *Server) getProcessRun(c echo.Context) error {
	pr, err := s.deps.Processes.GetProcessRun(c.Request().Context(), orgOf(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pr)
}

func (s *Server) resumeProcessRun(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.deps.Processes.GetProcessRun(ctx, orgOf(c), c.Param("id")); err != nil {
		return err
	}
	pr, err := s.deps.Processes.ResumeDelay(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pr)
}
