package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rendis/procflow/internal/streaming"
)

// stream sends the org's live events as Server-Sent Events. Optional query
// parameters: subject_id and a comma separated types list.
func (s *Server) stream(c echo.Context) error {
	filter := streaming.EventFilter{
		OrgID:     orgOf(c).OrgID,
		SubjectID: c.QueryParam("subject_id"),
	}
	if types := c.QueryParam("types"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}

	w := c.Response()
	ctx := c.Request().Context()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "subscribe failed")
	}
	defer cancel()

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			w.Flush()
		}
	}
}
