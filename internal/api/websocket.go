package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/flow"
	"github.com/segment-viewer/backend/internal/models"
)

// WebSocket message types for the transition stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected  = "connected"
	MsgTypeTransition = "transition"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsQueueSize  = 32
)

// WSMessage is one frame on the stream
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSTransitionPayload describes an applied flow event
type WSTransitionPayload struct {
	Event    string              `json:"event"`
	From     models.FlowState    `json:"from"`
	To       models.FlowState    `json:"to"`
	Snapshot models.FlowSnapshot `json:"snapshot"`
}

// WSErrorResponse reports a protocol problem to the client
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes a session's flow transitions to the page
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler creates a new transition stream handler
func NewWebSocketHandler(sessionMgr SessionManager) StreamHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by middleware
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleStream upgrades the connection and forwards every transition of the
// session until either side closes.
func (wsh *WebSocketHandler) HandleStream(c echo.Context) error {
	s, err := lookupSession(c, wsh.sessionMgr)
	if err != nil {
		return err
	}
	log := requestLogger(c).With("session", s.ID)

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log.Infow("ws_connected", "request", requestID(c))

	queue := make(chan WSMessage, wsQueueSize)
	unsubscribe := s.Flow.Subscribe(func(ev flow.Event) {
		msg := WSMessage{
			Type:      MsgTypeTransition,
			ID:        ev.Snapshot.SubmissionID,
			Timestamp: time.Now().UnixMilli(),
			Payload: mustJSON(WSTransitionPayload{
				Event:    ev.Name,
				From:     ev.From,
				To:       ev.To,
				Snapshot: ev.Snapshot,
			}),
		}
		select {
		case queue <- msg:
		default:
			log.Warnw("ws_queue_full", "event", ev.Name)
		}
	})
	defer unsubscribe()

	// Reader: answers application pings and notices disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadLimit(4 * 1024)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Infow("ws_read_error", "error", err.Error())
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

			var reply WSMessage
			switch msg.Type {
			case MsgTypePing:
				reply = WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()}
			default:
				reply = WSMessage{
					Type:      MsgTypeError,
					Timestamp: time.Now().UnixMilli(),
					Payload:   mustJSON(WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}),
				}
			}
			select {
			case queue <- reply:
			default:
			}
		}
	}()

	// Writer: the only goroutine that writes to ws
	if err := wsh.write(ws, WSMessage{
		Type:      MsgTypeConnected,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(s.Flow.Snapshot()),
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-queue:
			if err := wsh.write(ws, msg); err != nil {
				log.Infow("ws_write_error", "error", err.Error())
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			log.Infow("ws_disconnected")
			return nil
		}
	}
}

func (wsh *WebSocketHandler) write(ws *websocket.Conn, msg WSMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}

// mustJSON marshals a value that cannot fail to encode
func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
