package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/procflow/internal/diagram"
	"github.com/rendis/procflow/pkg/schema"
)

// renderDiagram writes model in the format named by the "format" query
// parameter: mermaid (default), ascii or png.
func renderDiagram(c echo.Context, model *diagram.DiagramModel) error {
	switch format := c.QueryParam("format"); format {
	case "", "mermaid":
		return c.String(http.StatusOK, diagram.RenderMermaid(model))
	case "ascii":
		return c.String(http.StatusOK, diagram.RenderASCII(model))
	case "png":
		png, err := diagram.RenderImage(c.Request().Context(), model)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, "image/png", png)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "format must be mermaid, ascii or png, got %q", format)
	}
}

func (s *Server) procedureDiagram(c echo.Context) error {
	ctx := c.Request().Context()
	org := orgOf(c)
	p, err := s.deps.Store.GetProcedure(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if p.OrgID != org.OrgID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "procedure %s not found", c.Param("id"))
	}

	var run *schema.Run
	if runID := c.QueryParam("run_id"); runID != "" {
		if run, err = s.deps.Runs.Status(ctx, org, runID); err != nil {
			return err
		}
		if run.ProcedureID != p.ID {
			return schema.NewErrorf(schema.ErrCodeValidation, "run %s is not a run of procedure %s", runID, p.ID)
		}
	}

	model, err := diagram.BuildProcedure(p, run)
	if err != nil {
		return err
	}
	return renderDiagram(c, model)
}

func (s *Server) processDiagram(c echo.Context) error {
	ctx := c.Request().Context()
	org := orgOf(c)
	p, err := s.deps.Store.GetProcess(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if p.OrgID != org.OrgID {
		return schema.NewErrorf(schema.ErrCodeNotFound, "process %s not found", c.Param("id"))
	}

	var pr *schema.ProcessRun
	if id := c.QueryParam("process_run_id"); id != "" {
		if pr, err = s.deps.Processes.GetProcessRun(ctx, org, id); err != nil {
			return err
		}
		if pr.ProcessID != p.ID {
			return schema.NewErrorf(schema.ErrCodeValidation, "process run %s is not a run of process %s", id, p.ID)
		}
	}

	model, err := diagram.BuildProcess(p, pr)
	if err != nil {
		return err
	}
	return renderDiagram(c, model)
}
