package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/rag"
)

var tracer = otel.Tracer("github.com/xhad/hrcopilot/pkg/llm")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string // Ollama server URL or OpenAI-compatible endpoint
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// ChatEngine streams answers from a chat model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}

	var (
		model llms.Model
		err   error
	)

	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "llama3"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: an API key is required for the openai chat provider", types.ErrInvalidConfiguration)
		}
		if config.Model == "" {
			config.Model = "gpt-4o-mini"
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown chat provider %q", types.ErrInvalidConfiguration, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize LLM: %v", types.ErrGenerationUnavailable, err)
	}

	return NewWithModel(model, config)
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", types.ErrInvalidConfiguration)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens cannot be negative", types.ErrInvalidConfiguration)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	return &ChatEngine{config: config, llm: model}, nil
}

// Messages lays out the conversation in the order the model sees it:
// system instruction, prior turns, then the augmented question.
func Messages(prompt rag.Prompt, history []models.Turn) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(history)+2)
	if strings.TrimSpace(prompt.System) != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if models.NormalizeRole(turn.Role) == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, turn.Content))
	}
	return append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt.User))
}

// Stream is an in-flight generation. Tokens arrive on Tokens() until the
// channel closes; Err then reports how the generation ended.
type Stream struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Tokens returns the channel of text fragments in generation order.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Err blocks until the generation has finished and returns its error, if any.
func (s *Stream) Err() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the generation and releases its goroutine.
func (s *Stream) Close() {
	s.cancel()
	for range s.tokens {
	}
	<-s.done
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Stream starts generating an answer. Failures that happen before the first
// token are returned directly; later ones surface through Stream.Err.
func (ce *ChatEngine) Stream(parent context.Context, prompt rag.Prompt, history []models.Turn) (*Stream, error) {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		tokens: make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	started := make(chan struct{})
	var once sync.Once

	content := Messages(prompt, history)

	go func() {
		defer close(s.done)
		defer close(s.tokens)
		defer cancel()

		ctx, span := tracer.Start(ctx, "llm.generate")
		defer span.End()
		span.SetAttributes(
			attribute.String("llm.model", ce.config.Model),
			attribute.Int("llm.messages", len(content)),
		)

		streamed := false
		emit := func(token string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			streamed = true
			once.Do(func() { close(started) })
			select {
			case s.tokens <- token:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		resp, err := ce.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithTemperature(ce.config.Temperature),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				return emit(string(chunk))
			}),
		)
		// some backends ignore the streaming callback and only return the
		// final response
		if err == nil && !streamed && resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
			err = emit(resp.Choices[0].Content)
		}
		if err != nil {
			span.RecordError(err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.setErr(ctxErr)
				return
			}
			s.setErr(fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err))
		}
	}()

	select {
	case <-started:
		return s, nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return nil, err
		}
		return s, nil
	case <-parent.Done():
		s.Close()
		return nil, parent.Err()
	}
}

// Complete runs a generation to the end and returns the whole answer.
func (ce *ChatEngine) Complete(ctx context.Context, prompt rag.Prompt, history []models.Turn) (string, error) {
	stream, err := ce.Stream(ctx, prompt, history)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for token := range stream.Tokens() {
		b.WriteString(token)
	}
	if err := stream.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

// Model reports the chat model name.
func (ce *ChatEngine) Model() string {
	return ce.config.Model
}
