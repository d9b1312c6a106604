// handlers_session.go - Session lifecycle handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/session"
	"github.com/segment-viewer/backend/internal/viewer"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the content type of msgpack snapshots
const MIMEApplicationMsgpack = "application/msgpack"

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessionMgr SessionManager
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(sessionMgr SessionManager) SessionHandler {
	return &SessionHandlerImpl{sessionMgr: sessionMgr}
}

// sessionResponse is the full state of one tab
type sessionResponse struct {
	ID        string              `json:"id" msgpack:"id"`
	CreatedAt time.Time           `json:"createdAt" msgpack:"createdAt"`
	Flow      models.FlowSnapshot `json:"flow" msgpack:"flow"`
	Viewer    viewer.State        `json:"viewer" msgpack:"viewer"`
}

func newSessionResponse(s *session.State) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Flow:      s.Flow.Snapshot(),
		Viewer:    s.Viewer.State(),
	}
}

// HandleCreateSession opens a fresh session in the upload state
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	s, err := h.sessionMgr.Create()
	if err != nil {
		return toAPIError(err)
	}
	requestLogger(c).Infow("session_created", "session", s.ID)
	return c.JSON(http.StatusCreated, newSessionResponse(s))
}

// HandleGetSession returns the session's flow and viewer state
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionResponse(s))
}

// HandleGetSessionMsgpack returns the same state encoded as MessagePack
func (h *SessionHandlerImpl) HandleGetSessionMsgpack(c echo.Context) error {
	s, err := lookupSession(c, h.sessionMgr)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(newSessionResponse(s))
	if err != nil {
		return NewInternalError("failed to encode session", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

// HandleCloseSession ends the session and releases its handles
func (h *SessionHandlerImpl) HandleCloseSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if err := h.sessionMgr.Close(id); err != nil {
		return toAPIError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// lookupSession resolves the :id path parameter
func lookupSession(c echo.Context, mgr SessionManager) (*session.State, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	s, err := mgr.Get(id)
	if err != nil {
		return nil, NewNotFoundError("session", id)
	}
	return s, nil
}
