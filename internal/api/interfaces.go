// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/session"
)

// HealthHandler handles health check and catalog operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleListModels(c echo.Context) error
}

// SessionHandler handles session lifecycle operations
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleGetSessionMsgpack(c echo.Context) error
	HandleCloseSession(c echo.Context) error
}

// FlowHandler handles upload flow transitions
type FlowHandler interface {
	HandleSelectFile(c echo.Context) error
	HandleClearFile(c echo.Context) error
	HandleSetTier(c echo.Context) error
	HandleSubmit(c echo.Context) error
	HandleCancel(c echo.Context) error
	HandleDismiss(c echo.Context) error
	HandleRetry(c echo.Context) error
	HandleBack(c echo.Context) error
	HandleNewImage(c echo.Context) error
}

// ViewerHandler handles result viewer operations
type ViewerHandler interface {
	HandleGetViewer(c echo.Context) error
	HandleZoom(c echo.Context) error
	HandleScroll(c echo.Context) error
	HandlePanStart(c echo.Context) error
	HandlePanMove(c echo.Context) error
	HandlePanEnd(c echo.Context) error
	HandleReset(c echo.Context) error
	HandleSetOpacity(c echo.Context) error
	HandleSetMode(c echo.Context) error
	HandleGetBlend(c echo.Context) error
	HandleExportMask(c echo.Context) error
	HandleExportBlend(c echo.Context) error
	HandleExportMetadata(c echo.Context) error
}

// BlobHandler serves handle contents
type BlobHandler interface {
	HandleGetBlob(c echo.Context) error
	HandleListBlobs(c echo.Context) error
}

// StreamHandler pushes flow transitions over a websocket
type StreamHandler interface {
	HandleStream(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create() (*session.State, error)
	Get(id string) (*session.State, error)
	Close(id string) error
	Len() int
}

var _ SessionManager = (*session.Manager)(nil)
