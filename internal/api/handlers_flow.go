// handlers_flow.go - Upload flow transition handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/flow"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/upload"
)

// FormFieldImage is the multipart field carrying the picked image
const FormFieldImage = "image"

// FlowHandlerImpl implements the FlowHandler interface
type FlowHandlerImpl struct {
	sessionMgr SessionManager
}

// NewFlowHandler creates a new flow handler instance
func NewFlowHandler(sessionMgr SessionManager) FlowHandler {
	return &FlowHandlerImpl{sessionMgr: sessionMgr}
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

func (r *setTierRequest) validate() error {
	if r.Tier == "" {
		return NewValidationError("tier")
	}
	return nil
}

type submitResponse struct {
	Started  bool                `json:"started"`
	Snapshot models.FlowSnapshot `json:"snapshot"`
}

// HandleSelectFile validates the uploaded image and selects it. A rejected
// file answers 422; the rejection is also visible in the snapshot.
func (h *FlowHandlerImpl) HandleSelectFile(c echo.Context) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	fh, err := c.FormFile(FormFieldImage)
	if err != nil {
		return NewBadRequestError("no image provided", err)
	}

	if err := s.Flow.SelectFile(upload.FromFileHeader(fh)); err != nil {
		requestLogger(c).Infow("file_rejected", "session", s.ID, "file", fh.Filename, "error", err.Error())
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, s.Flow.Snapshot())
}

// HandleClearFile removes the selected file
func (h *FlowHandlerImpl) HandleClearFile(c echo.Context) error {
	return h.transition(c, (*flow.Controller).ClearFile)
}

// HandleSetTier selects the processing tier
func (h *FlowHandlerImpl) HandleSetTier(c echo.Context) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	var req setTierRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	if err := s.Flow.SetTier(req.Tier); err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, s.Flow.Snapshot())
}

// HandleSubmit starts processing the selected file. Without a file, or while
// already processing, nothing happens and started is false. With ?wait=true
// the response is held until the submission settles.
func (h *FlowHandlerImpl) HandleSubmit(c echo.Context) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	done, ok := s.Flow.Submit()
	if !ok {
		return c.JSON(http.StatusOK, submitResponse{Started: false, Snapshot: s.Flow.Snapshot()})
	}

	if c.QueryParam("wait") == "true" {
		// The held response outlives the server read and write deadlines; an
		// expired read deadline would also cancel the request context
		rc := http.NewResponseController(c.Response())
		if err := rc.SetReadDeadline(time.Time{}); err != nil {
			requestLogger(c).Warnw("read_deadline_not_cleared", "session", s.ID, "error", err.Error())
		}
		if err := rc.SetWriteDeadline(time.Time{}); err != nil {
			requestLogger(c).Warnw("write_deadline_not_cleared", "session", s.ID, "error", err.Error())
		}
		select {
		case <-done:
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
		return c.JSON(http.StatusOK, submitResponse{Started: true, Snapshot: s.Flow.Snapshot()})
	}
	return c.JSON(http.StatusAccepted, submitResponse{Started: true, Snapshot: s.Flow.Snapshot()})
}

// HandleCancel abandons the in-flight submission
func (h *FlowHandlerImpl) HandleCancel(c echo.Context) error {
	return h.transition(c, (*flow.Controller).Cancel)
}

// HandleDismiss clears the current error
func (h *FlowHandlerImpl) HandleDismiss(c echo.Context) error {
	return h.transition(c, (*flow.Controller).Dismiss)
}

// HandleRetry clears the error and the file
func (h *FlowHandlerImpl) HandleRetry(c echo.Context) error {
	return h.transition(c, (*flow.Controller).Retry)
}

// HandleBack leaves the results view
func (h *FlowHandlerImpl) HandleBack(c echo.Context) error {
	return h.transition(c, (*flow.Controller).Back)
}

// HandleNewImage starts over from an empty upload page
func (h *FlowHandlerImpl) HandleNewImage(c echo.Context) error {
	return h.transition(c, (*flow.Controller).NewImage)
}

func (h *FlowHandlerImpl) transition(c echo.Context, event func(*flow.Controller) error) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}
	if err := event(s.Flow); err != nil {
		return toAPIError(err)
	}
	return c.JSON(http.StatusOK, s.Flow.Snapshot())
}
