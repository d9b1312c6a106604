// handlers_viewer.go - Result viewer and export handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/viewer"
)

// ViewerHandlerImpl implements the ViewerHandler interface
type ViewerHandlerImpl struct {
	sessionMgr SessionManager
}

// NewViewerHandler creates a new viewer handler instance
func NewViewerHandler(sessionMgr SessionManager) ViewerHandler {
	return &ViewerHandlerImpl{sessionMgr: sessionMgr}
}

type zoomRequest struct {
	Direction string `json:"direction"` // "in" or "out"
	Zoom      *int   `json:"zoom,omitempty"`
}

func (r *zoomRequest) validate() error {
	if r.Zoom == nil && r.Direction != "in" && r.Direction != "out" {
		return NewValidationError("direction")
	}
	return nil
}

type scrollRequest struct {
	DeltaY float64 `json:"deltaY"`
}

type opacityRequest struct {
	Opacity *float64 `json:"opacity"`
}

type modeRequest struct {
	Mode viewer.Mode `json:"mode"`
}

func (h *ViewerHandlerImpl) viewer(c echo.Context) (*viewer.Viewer, error) {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return nil, err
	}
	return s.Viewer, nil
}

// HandleGetViewer returns the current view settings
func (h *ViewerHandlerImpl) HandleGetViewer(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v.State())
}

// HandleZoom steps the zoom by one button press or sets it outright
func (h *ViewerHandlerImpl) HandleZoom(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var req zoomRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	switch {
	case req.Zoom != nil:
		v.SetZoom(*req.Zoom)
	case req.Direction == "in":
		v.ZoomIn()
	default:
		v.ZoomOut()
	}
	return c.JSON(http.StatusOK, v.State())
}

// HandleScroll applies one wheel gesture
func (h *ViewerHandlerImpl) HandleScroll(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var req scrollRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	v.Scroll(req.DeltaY)
	return c.JSON(http.StatusOK, v.State())
}

// HandlePanStart records the drag origin
func (h *ViewerHandlerImpl) HandlePanStart(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var p viewer.Point
	if err := c.Bind(&p); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	v.BeginDrag(p)
	return c.JSON(http.StatusOK, v.State())
}

// HandlePanMove updates the offset while dragging
func (h *ViewerHandlerImpl) HandlePanMove(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var p viewer.Point
	if err := c.Bind(&p); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	v.Drag(p)
	return c.JSON(http.StatusOK, v.State())
}

// HandlePanEnd finishes the drag
func (h *ViewerHandlerImpl) HandlePanEnd(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}
	v.EndDrag()
	return c.JSON(http.StatusOK, v.State())
}

// HandleReset restores default zoom and pan
func (h *ViewerHandlerImpl) HandleReset(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}
	v.Reset()
	return c.JSON(http.StatusOK, v.State())
}

// HandleSetOpacity sets the blend opacity
func (h *ViewerHandlerImpl) HandleSetOpacity(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var req opacityRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Opacity == nil {
		return NewValidationError("opacity")
	}
	v.SetOpacity(*req.Opacity)
	return c.JSON(http.StatusOK, v.State())
}

// HandleSetMode switches between mask and blend display
func (h *ViewerHandlerImpl) HandleSetMode(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := v.SetMode(req.Mode); err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, v.State())
}

// HandleGetBlend returns the blended raster, computing it on first request
func (h *ViewerHandlerImpl) HandleGetBlend(c echo.Context) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	data, err := v.Composite(c.Request().Context())
	if err != nil {
		return toAPIError(err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, "image/png", data)
}

// HandleExportMask downloads the mask raster
func (h *ViewerHandlerImpl) HandleExportMask(c echo.Context) error {
	return h.export(c, (*viewer.Viewer).ExportMask)
}

// HandleExportBlend downloads the blend raster if one has been computed
func (h *ViewerHandlerImpl) HandleExportBlend(c echo.Context) error {
	return h.export(c, (*viewer.Viewer).ExportBlend)
}

// HandleExportMetadata downloads {classes, width, height} as JSON
func (h *ViewerHandlerImpl) HandleExportMetadata(c echo.Context) error {
	return h.export(c, (*viewer.Viewer).ExportMetadata)
}

func (h *ViewerHandlerImpl) export(c echo.Context, produce func(*viewer.Viewer) (*viewer.Artifact, error)) error {
	v, err := h.viewer(c)
	if err != nil {
		return err
	}

	a, err := produce(v)
	if err != nil {
		return toAPIError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", a.Filename))
	return c.Blob(http.StatusOK, a.ContentType, a.Data)
}
