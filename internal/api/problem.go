package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/procflow/pkg/schema"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Code     string         `json:"code,omitempty"`
	StepID   string         `json:"step_id,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// statusFor maps engine error codes to HTTP statuses.
func statusFor(ee *schema.EngineError) int {
	switch ee.Code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeInvalidState, schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeValidation, schema.ErrCodeAssignmentUnresolved:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeTriggerRejected:
		if ee.Details["reason"] == "bad_secret" {
			return http.StatusForbidden
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func problemFor(err error) Problem {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		status := statusFor(ee)
		return Problem{
			Type:    "urn:procflow:error:" + ee.Code,
			Title:   http.StatusText(status),
			Status:  status,
			Detail:  ee.Message,
			Code:    ee.Code,
			StepID:  ee.StepID,
			Details: ee.Details,
		}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return Problem{Type: "about:blank", Title: http.StatusText(he.Code), Status: he.Code, Detail: detail}
	}

	return Problem{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: err.Error(),
	}
}

// problemHandler renders every handler error as a problem document.
func problemHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		p := problemFor(err)
		p.Instance = c.Request().URL.Path
		if p.Status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request().Context(), "request failed",
				slog.String("path", p.Instance),
				slog.String("error", err.Error()))
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(p.Status)
		} else {
			c.Response().Header().Set(echo.HeaderContentType, problemContentType)
			werr = c.JSON(p.Status, p)
		}
		if werr != nil {
			logger.Warn("write problem", slog.String("error", werr.Error()))
		}
	}
}
