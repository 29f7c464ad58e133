package copilot

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/llm"
	"github.com/xhad/hrcopilot/pkg/metrics"
	"github.com/xhad/hrcopilot/pkg/rag"
)

//go:embed persona.txt
var DefaultPersona string

// Generator starts a streamed answer. *llm.ChatEngine implements it.
type Generator interface {
	Stream(ctx context.Context, prompt rag.Prompt, history []models.Turn) (*llm.Stream, error)
}

// Config holds the request-independent knobs of the service.
type Config struct {
	SystemPrompt string
	// TopK is the number of chunks placed in the prompt.
	TopK int
	// HistoryWindow caps how many past turns are sent to the model; zero or
	// less sends them all. The session itself keeps every turn.
	HistoryWindow int
}

// Service answers HR questions: it resolves the conversation, retrieves
// context, and streams the model's answer, recording the exchange once the
// answer completes.
type Service struct {
	retriever types.Retriever
	generator Generator
	sessions  types.SessionStore
	config    Config
	metrics   *metrics.Metrics
	logger    *log.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(retriever types.Retriever, generator Generator, sessions types.SessionStore, config Config, opts ...Option) *Service {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.HistoryWindow < 0 {
		config.HistoryWindow = 0
	}
	if strings.TrimSpace(config.SystemPrompt) == "" {
		config.SystemPrompt = DefaultPersona
	}

	s := &Service{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		config:    config,
		logger:    log.New(os.Stderr, "[COPILOT] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Request is one user question.
type Request struct {
	Query string
	// SessionID continues an existing conversation. Empty starts a new one.
	SessionID string
	// History is used instead of a stored session when Stateless is set.
	History   []models.Turn
	Stateless bool
}

// Ask starts answering req. Errors before the first token are returned
// here; a failure mid-answer is reported by Reply.Err.
func (s *Service) Ask(ctx context.Context, req Request) (*Reply, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrInvalidConfiguration)
	}

	sessionID, history, created, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	chunks, err := s.retriever.Retrieve(ctx, query, s.config.TopK)
	metrics.ObserveSince(s.metrics.RetrievalTime, start)
	if errors.Is(err, types.ErrEmptyCollection) {
		s.logger.Printf("knowledge base is empty, answering without context")
		chunks, err = nil, nil
	}
	if err != nil {
		s.abandon(ctx, sessionID, created, err)
		return nil, err
	}

	prompt := rag.Build(chunks, query, s.config.SystemPrompt)
	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.generator.Stream(ctx, prompt, window(history, s.config.HistoryWindow))
	if err != nil {
		cancel()
		s.abandon(ctx, sessionID, created, err)
		return nil, err
	}

	r := &Reply{
		SessionID: sessionID,
		Context:   chunks,
		tokens:    make(chan string),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	go s.forward(ctx, r, stream, query)
	return r, nil
}

// Session returns the stored conversation with id.
func (s *Service) Session(ctx context.Context, id string) (*models.Session, error) {
	return s.sessions.Get(ctx, id)
}

// resolve finds the conversation req continues. created reports whether a
// new session was opened for it.
func (s *Service) resolve(ctx context.Context, req Request) (id string, history []models.Turn, created bool, err error) {
	if req.Stateless {
		history = make([]models.Turn, len(req.History))
		for i, t := range req.History {
			history[i] = models.Turn{Role: models.NormalizeRole(t.Role), Content: t.Content}
		}
		return "", history, false, nil
	}

	if req.SessionID == "" {
		sess, err := s.sessions.Create(ctx)
		if err != nil {
			return "", nil, false, fmt.Errorf("failed to create session: %w", err)
		}
		s.metrics.SessionsCreated.Inc()
		return sess.ID, nil, true, nil
	}

	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return "", nil, false, err
	}
	return sess.ID, sess.History, false, nil
}

// abandon records a failure before the first token. A session opened for
// this question is removed, since its id never reaches the caller.
func (s *Service) abandon(ctx context.Context, sessionID string, created bool, err error) {
	s.failed(err)
	if !created {
		return
	}
	if derr := s.sessions.Delete(context.WithoutCancel(ctx), sessionID); derr != nil {
		s.logger.Printf("failed to discard session %s: %v", sessionID, derr)
	}
}

func (s *Service) forward(ctx context.Context, r *Reply, stream *llm.Stream, query string) {
	defer close(r.done)
	defer close(r.tokens)
	defer r.cancel()

	start := time.Now()
	var answer strings.Builder

	for token := range stream.Tokens() {
		answer.WriteString(token)
		select {
		case r.tokens <- token:
			s.metrics.TokensStreamed.Inc()
		case <-ctx.Done():
			stream.Close()
			r.setErr(ctx.Err())
			s.failed(ctx.Err())
			return
		}
	}
	metrics.ObserveSince(s.metrics.GenerationTime, start)

	err := stream.Err()
	if err == nil {
		// abandoned after the last token
		err = ctx.Err()
	}
	if err != nil {
		r.setErr(err)
		s.failed(err)
		return
	}

	if r.SessionID == "" {
		return
	}
	err = s.sessions.Append(ctx, r.SessionID,
		models.Turn{Role: models.RoleUser, Content: query},
		models.Turn{Role: models.RoleAssistant, Content: answer.String()},
	)
	if err != nil {
		s.logger.Printf("failed to record turn for session %s: %v", r.SessionID, err)
		r.setErr(err)
	}
}

func (s *Service) failed(err error) {
	s.metrics.StreamFailures.WithLabelValues(types.Kind(err)).Inc()
}

// window keeps the last n turns.
func window(history []models.Turn, n int) []models.Turn {
	if n == 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Reply is an answer in progress.
type Reply struct {
	SessionID string
	// Context holds the retrieved chunks in the order they were given to
	// the model.
	Context []string

	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Tokens delivers the answer fragments in order and closes when the answer
// ends, whether it completed or not.
func (r *Reply) Tokens() <-chan string {
	return r.tokens
}

// Err blocks until the answer has ended and reports why it stopped early,
// if it did. A nil error means the exchange was recorded in the session.
func (r *Reply) Err() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close abandons the answer. Nothing is recorded in the session.
func (r *Reply) Close() {
	r.cancel()
	for range r.tokens {
	}
	<-r.done
}

// WriteTo copies the whole answer to w.
func (r *Reply) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for token := range r.tokens {
		m, err := io.WriteString(w, token)
		n += int64(m)
		if err != nil {
			r.Close()
			return n, err
		}
	}
	return n, r.Err()
}

func (r *Reply) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
