package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/copilot"
)

const (
	MessageAsk     = "ask"
	MessageSession = "session"
	MessageStream  = "stream"
	MessageDone    = "done"
	MessageError   = "error"
)

// wsAskEndpoint labels per-question request metrics on a websocket.
const wsAskEndpoint = "/ws#ask"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the intranet front end is served from another origin
	},
}

// Message is the websocket frame in both directions. Clients send
// {"type":"ask","content":"..."}; the server answers with a session frame,
// stream frames, then done or error.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
}

// handleWebSocket serves one conversation per connection. Questions are
// answered one at a time, in the order they arrive.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return nil
	}
	defer conn.Close()

	ctx := c.Request().Context()
	var sessionID string

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("Error reading message: %v", err)
			}
			return nil
		}
		if msg.Type != "" && msg.Type != MessageAsk {
			s.sendMessage(conn, MessageError, "unsupported message type "+msg.Type)
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			s.sendMessage(conn, MessageError, types.Kind(types.ErrInvalidConfiguration)+": query is required")
			continue
		}
		requested := sessionID
		if msg.SessionID != "" {
			requested = msg.SessionID
		}

		// the connection only switches sessions once one has been resolved
		reply, err := s.copilot.Ask(ctx, copilot.Request{Query: msg.Content, SessionID: requested})
		if err != nil {
			s.metrics.Requests.WithLabelValues(wsAskEndpoint, types.Kind(err)).Inc()
			s.sendMessage(conn, MessageError, types.Kind(err)+": "+err.Error())
			continue
		}
		if sessionID != reply.SessionID {
			sessionID = reply.SessionID
			if !s.sendMessage(conn, MessageSession, sessionID) {
				reply.Close()
				return nil
			}
		}

		if !s.stream(conn, reply) {
			return nil
		}
	}
}

// stream forwards one answer. It reports false when the connection is gone.
func (s *Server) stream(conn *websocket.Conn, reply *copilot.Reply) bool {
	for token := range reply.Tokens() {
		if !s.sendMessage(conn, MessageStream, token) {
			reply.Close()
			return false
		}
	}
	if err := reply.Err(); err != nil {
		s.metrics.Requests.WithLabelValues(wsAskEndpoint, types.Kind(err)).Inc()
		return s.sendMessage(conn, MessageError, types.Kind(err)+": "+err.Error())
	}
	s.metrics.Requests.WithLabelValues(wsAskEndpoint, "ok").Inc()
	return s.sendMessage(conn, MessageDone, "")
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) bool {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Printf("Error sending message: %v", err)
		return false
	}
	return true
}
