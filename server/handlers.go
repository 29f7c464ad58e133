package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/copilot"
	"github.com/xhad/hrcopilot/pkg/tools"
)

type askRequest struct {
	Query     string        `json:"query"`
	SessionID string        `json:"session_id,omitempty"`
	History   []models.Turn `json:"history,omitempty"`
	Stateless bool          `json:"stateless,omitempty"`
}

// ask streams the answer as plain text. Once the body has started, a failure
// can only be reported through the trailer.
func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body: %v", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return invalid("query is required")
	}
	if req.Stateless && req.SessionID != "" {
		return invalid("session_id cannot be combined with stateless")
	}

	reply, err := s.copilot.Ask(c.Request().Context(), copilot.Request{
		Query:     req.Query,
		SessionID: req.SessionID,
		History:   req.History,
		Stateless: req.Stateless,
	})
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set("Trailer", StreamErrorTrailer)
	if reply.SessionID != "" {
		res.Header().Set(SessionHeader, reply.SessionID)
	}
	res.WriteHeader(http.StatusOK)

	for token := range reply.Tokens() {
		if _, err := res.Write([]byte(token)); err != nil {
			reply.Close()
			break
		}
		res.Flush()
	}

	if err := reply.Err(); err != nil {
		s.logger.Printf("answer for session %q ended early: %v", reply.SessionID, err)
		res.Header().Set(StreamErrorTrailer, types.Kind(err))
	}
	return nil
}

func (s *Server) session(c echo.Context) error {
	sess, err := s.copilot.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

type toolRequest struct {
	// Input is passed to the tool as text. A JSON string is unquoted, any
	// other JSON value is handed over as written.
	Input json.RawMessage `json:"input"`
}

func (s *Server) callTool(c echo.Context) error {
	name := c.Param("name")
	tool, err := s.tools.Get(name)
	if err != nil {
		return &echo.HTTPError{Code: http.StatusNotFound, Message: err.Error(), Internal: err}
	}

	var req toolRequest
	if err := c.Bind(&req); err != nil {
		return invalid("malformed request body: %v", err)
	}
	input := string(req.Input)
	var text string
	if err := json.Unmarshal(req.Input, &text); err == nil {
		input = text
	}

	out, err := tool.Call(c.Request().Context(), input)
	if err != nil {
		s.metrics.ToolCalls.WithLabelValues(name, tools.StatusError).Inc()
		return err
	}
	s.metrics.ToolCalls.WithLabelValues(name, tools.Status(out)).Inc()
	return c.JSONBlob(http.StatusOK, []byte(out))
}
