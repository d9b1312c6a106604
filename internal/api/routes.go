// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segment-viewer/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Session SessionHandler
	Flow    FlowHandler
	Viewer  ViewerHandler
	Blob    BlobHandler
	Stream  StreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.SessionMgr),
		Session: NewSessionHandler(deps.SessionMgr),
		Flow:    NewFlowHandler(deps.SessionMgr),
		Viewer:  NewViewerHandler(deps.SessionMgr),
		Blob:    NewBlobHandler(deps.Store),
		Stream:  NewWebSocketHandler(deps.SessionMgr),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health and catalog
	apiGroup.GET("/health", handlers.Health.HandleHealth)
	apiGroup.GET("/models", handlers.Health.HandleListModels)

	// Handle contents
	apiGroup.GET("/blobs", handlers.Blob.HandleListBlobs)
	apiGroup.GET("/blobs/:handleId", handlers.Blob.HandleGetBlob)

	// Session lifecycle
	apiGroup.POST("/sessions", handlers.Session.HandleCreateSession)
	sessionGroup := apiGroup.Group("/sessions/:id")
	sessionGroup.GET("", handlers.Session.HandleGetSession)
	sessionGroup.DELETE("", handlers.Session.HandleCloseSession)
	sessionGroup.GET("/msgpack", handlers.Session.HandleGetSessionMsgpack)
	sessionGroup.GET("/ws", handlers.Stream.HandleStream)

	// Upload flow
	sessionGroup.POST("/file", handlers.Flow.HandleSelectFile)
	sessionGroup.DELETE("/file", handlers.Flow.HandleClearFile)
	sessionGroup.PUT("/tier", handlers.Flow.HandleSetTier)
	sessionGroup.POST("/submit", handlers.Flow.HandleSubmit)
	sessionGroup.POST("/cancel", handlers.Flow.HandleCancel)
	sessionGroup.POST("/dismiss", handlers.Flow.HandleDismiss)
	sessionGroup.POST("/retry", handlers.Flow.HandleRetry)
	sessionGroup.POST("/back", handlers.Flow.HandleBack)
	sessionGroup.POST("/new-image", handlers.Flow.HandleNewImage)

	// Result viewer
	viewerGroup := sessionGroup.Group("/viewer")
	viewerGroup.GET("", handlers.Viewer.HandleGetViewer)
	viewerGroup.POST("/zoom", handlers.Viewer.HandleZoom)
	viewerGroup.POST("/scroll", handlers.Viewer.HandleScroll)
	viewerGroup.POST("/pan/start", handlers.Viewer.HandlePanStart)
	viewerGroup.POST("/pan/move", handlers.Viewer.HandlePanMove)
	viewerGroup.POST("/pan/end", handlers.Viewer.HandlePanEnd)
	viewerGroup.POST("/reset", handlers.Viewer.HandleReset)
	viewerGroup.PUT("/opacity", handlers.Viewer.HandleSetOpacity)
	viewerGroup.PUT("/mode", handlers.Viewer.HandleSetMode)
	viewerGroup.GET("/blend", handlers.Viewer.HandleGetBlend)

	// Exports
	exportGroup := sessionGroup.Group("/export")
	exportGroup.GET("/mask", handlers.Viewer.HandleExportMask)
	exportGroup.GET("/blend", handlers.Viewer.HandleExportBlend)
	exportGroup.GET("/metadata", handlers.Viewer.HandleExportMetadata)
}

// RegisterMetricsRoute exposes the prometheus registry
func RegisterMetricsRoute(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
