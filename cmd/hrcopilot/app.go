package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/config"
	"github.com/xhad/hrcopilot/pkg/copilot"
	"github.com/xhad/hrcopilot/pkg/llm"
	"github.com/xhad/hrcopilot/pkg/metrics"
	"github.com/xhad/hrcopilot/pkg/rag"
	"github.com/xhad/hrcopilot/pkg/session"
	"github.com/xhad/hrcopilot/pkg/store"
	"github.com/xhad/hrcopilot/pkg/telemetry"
	"github.com/xhad/hrcopilot/pkg/tools"
)

// loadConfig reads and validates the configuration. Every validation
// problem is reported at once.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
	}
	return cfg, validate(cfg)
}

func validate(cfg *config.Config) error {
	problems := cfg.Validate()
	if len(problems) == 0 {
		return nil
	}
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.Error()
	}
	return fmt.Errorf("%w:\n  %s", types.ErrInvalidConfiguration, strings.Join(msgs, "\n  "))
}

// app holds the components shared by the commands. Fields a command does
// not need stay nil.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	tracing  *telemetry.TracerProvider
	embedder *llm.Embedder
	store    *store.PGVectorStore
	sessions types.SessionStore
	engine   *llm.ChatEngine
	copilot  *copilot.Service
	tools    *tools.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	tp, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracing = tp

	a.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		BatchSize: cfg.Database.BatchSize,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	a.store, err = store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.DSN(),
		TableName:  cfg.Database.TableName,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	return a, nil
}

// withCopilot adds the conversation side: chat model, sessions and tools.
func (a *app) withCopilot(ctx context.Context) error {
	cfg := a.cfg

	var err error
	a.engine, err = llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	a.sessions, err = session.New(ctx, session.Config{
		Backend:       cfg.Session.Backend,
		BoltPath:      cfg.Session.BoltPath,
		RedisAddr:     cfg.Session.RedisAddr,
		RedisPassword: cfg.Session.RedisPassword,
		RedisDB:       cfg.Session.RedisDB,
		TTL:           cfg.Session.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	system, err := cfg.LoadSystemPrompt()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
	}

	retriever := rag.NewRetriever(a.embedder, a.store)
	a.copilot = copilot.New(retriever, a.engine, a.sessions, copilot.Config{
		SystemPrompt:  system,
		TopK:          cfg.Database.SearchLimit,
		HistoryWindow: cfg.Session.HistoryWindow,
	}, copilot.WithMetrics(a.metrics))

	a.tools = tools.NewRegistry(
		tools.Calculator{},
		tools.NewVacationRequester(),
		tools.NewKnowledgeBase(retriever),
	)
	return nil
}

// close releases everything that was opened, in reverse order.
func (a *app) close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			log.Printf("Error closing session store: %v", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("Error flushing traces: %v", err)
		}
	}
}
