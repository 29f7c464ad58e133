package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/copilot"
	"github.com/xhad/hrcopilot/pkg/metrics"
	"github.com/xhad/hrcopilot/pkg/tools"
)

// StreamErrorTrailer carries the error kind when an answer fails after the
// response headers have been sent.
const StreamErrorTrailer = "X-Stream-Error"

// SessionHeader carries the conversation id of an /ask response.
const SessionHeader = "X-Session-ID"

type Config struct {
	Addr string
}

// Server exposes the copilot over HTTP and websocket.
type Server struct {
	config  Config
	echo    *echo.Echo
	copilot *copilot.Service
	tools   *tools.Registry
	metrics *metrics.Metrics
	logger  *log.Logger
}

func New(svc *copilot.Service, registry *tools.Registry, m *metrics.Metrics, config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		config:  config,
		echo:    echo.New(),
		copilot: svc,
		tools:   registry,
		metrics: m,
		logger:  log.New(os.Stderr, "[HTTP] ", log.LstdFlags),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.countRequests)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.POST("/ask", s.ask)
	e.GET("/ws", s.handleWebSocket)
	e.GET("/sessions/:id", s.session)
	e.POST("/tools/:name", s.callTool)

	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Printf("Listening on %s", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestError marks a failure caused by the client's input.
type requestError struct {
	err error
}

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func invalid(format string, args ...interface{}) error {
	return requestError{err: fmt.Errorf("%w: "+format, append([]interface{}{types.ErrInvalidConfiguration}, args...)...)}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// status maps an error onto its HTTP status and kind.
func status(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			if _, kind := status(he.Internal); kind != "internal" {
				return he.Code, kind
			}
		}
		return he.Code, strings.ReplaceAll(strings.ToLower(http.StatusText(he.Code)), " ", "_")
	}

	kind := types.Kind(err)
	var re requestError
	switch {
	case errors.As(err, &re):
		return http.StatusBadRequest, kind
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound, kind
	case errors.Is(err, types.ErrEmbeddingUnavailable), errors.Is(err, types.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, kind
	}
	return http.StatusInternalServerError, kind
}

func (s *Server) handleError(err error, c echo.Context) {
	code, kind := status(err)
	detail := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Message != nil {
		detail = fmt.Sprint(he.Message)
	}

	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorBody{Error: kind, Detail: detail})
}

func (s *Server) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		outcome := "ok"
		switch {
		case err != nil:
			code, _ := status(err)
			outcome = fmt.Sprintf("%d", code)
		case c.Response().Header().Get(StreamErrorTrailer) != "":
			outcome = "stream_error"
		case c.Response().Status >= http.StatusBadRequest:
			outcome = fmt.Sprintf("%d", c.Response().Status)
		}
		endpoint := c.Path()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.Requests.WithLabelValues(endpoint, outcome).Inc()
		return err
	}
}
