package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/hrcopilot/internal/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// EmbedderConfig represents the configuration for an embedding provider.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or OpenAI-compatible endpoint
	APIKey    string
	BatchSize int
}

// Embedder turns text into vectors through a langchaingo embedding client.
type Embedder struct {
	config   EmbedderConfig
	embedder embeddings.Embedder
}

// NewEmbedderWithConfig builds the backing client for the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}

	var (
		client embeddings.EmbedderClient
		err    error
	)

	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		client, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: an API key is required for the openai embedding provider", types.ErrInvalidConfiguration)
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", types.ErrInvalidConfiguration, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize embedding client: %v", types.ErrEmbeddingUnavailable, err)
	}

	return NewEmbedderFromClient(client, config)
}

// NewEmbedderFromClient wraps an existing client, which lets tests and
// alternative backends plug in without a network connection.
func NewEmbedderFromClient(client embeddings.EmbedderClient, config EmbedderConfig) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, err)
	}

	return &Embedder{config: config, embedder: emb}, nil
}

// Embed returns the vector for one text. Blank input and empty provider
// responses are failures, never zero vectors.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: cannot embed empty text", types.ErrEmbeddingUnavailable)
	}

	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned an empty vector", types.ErrEmbeddingUnavailable)
	}

	return toFloat64(vec), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: cannot embed empty text at position %d", types.ErrEmbeddingUnavailable, i)
		}
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrEmbeddingUnavailable, len(vecs), len(texts))
	}

	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: provider returned an empty vector at position %d", types.ErrEmbeddingUnavailable, i)
		}
		out[i] = toFloat64(v)
	}
	return out, nil
}

// Model reports the embedding model name.
func (e *Embedder) Model() string {
	return e.config.Model
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

var _ types.Embedder = (*Embedder)(nil)
