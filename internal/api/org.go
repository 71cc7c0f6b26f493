package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rendis/procflow/internal/logging"
	"github.com/rendis/procflow/pkg/schema"
)

const orgKey = "procflow.org"

// requireOrg reads the org and actor headers into the request context.
func requireOrg(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID := strings.TrimSpace(c.Request().Header.Get(HeaderOrgID))
		if orgID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderOrgID+" header")
		}
		org := schema.OrgContext{
			OrgID:   orgID,
			ActorID: strings.TrimSpace(c.Request().Header.Get(HeaderUserID)),
		}
		c.Set(orgKey, org)

		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithOrgID(req.Context(), orgID)))
		return next(c)
	}
}

func orgOf(c echo.Context) schema.OrgContext {
	org, _ := c.Get(orgKey).(schema.OrgContext)
	return org
}
