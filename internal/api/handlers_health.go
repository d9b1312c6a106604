// handlers_health.go - Health check and catalog handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/models"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version    string
	sessionMgr SessionManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessionMgr SessionManager) HealthHandler {
	return &HealthHandlerImpl{
		version:    version,
		sessionMgr: sessionMgr,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.sessionMgr != nil {
		resp["sessions"] = h.sessionMgr.Len()
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleListModels returns the processing tiers in display order
func (h *HealthHandlerImpl) HandleListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"models":  models.Catalog(),
		"default": models.DefaultModelID,
	})
}
