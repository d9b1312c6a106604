// handlers_blob.go - Handle content handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
)

// BlobHandlerImpl implements the BlobHandler interface
type BlobHandlerImpl struct {
	store storage.Store
}

// NewBlobHandler creates a new blob handler instance
func NewBlobHandler(store storage.Store) BlobHandler {
	return &BlobHandlerImpl{store: store}
}

// HandleGetBlob streams the bytes behind a live handle. Released handles
// answer 404.
func (h *BlobHandlerImpl) HandleGetBlob(c echo.Context) error {
	id := c.Param("handleId")
	if id == "" {
		return NewValidationError("handleId")
	}

	meta, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("handle", id)
	}
	data, err := h.store.Open(id)
	if err != nil {
		return NewNotFoundError("handle", id)
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	// Handles are revocable; a cached copy would outlive its release
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Blob(http.StatusOK, contentType, data)
}

const (
	defaultBlobListLimit = 20
	maxBlobListLimit     = 100
)

type blobListResponse struct {
	Live    int              `json:"live"`
	Handles []*models.Handle `json:"handles"`
}

// HandleListBlobs returns the metadata of the most recently created live
// handles, newest first. ?limit= caps the list (default 20, max 100).
func (h *BlobHandlerImpl) HandleListBlobs(c echo.Context) error {
	limit := defaultBlobListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = min(n, maxBlobListLimit)
	}

	handles, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list handles", err)
	}
	if handles == nil {
		handles = []*models.Handle{}
	}
	return c.JSON(http.StatusOK, blobListResponse{Live: h.store.Len(), Handles: handles})
}
