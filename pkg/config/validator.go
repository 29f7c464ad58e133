package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/hrcopilot/internal/types"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			add("llm.base_url", "Ollama base URL is required")
		} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", "invalid Ollama base URL")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			add("llm.api_key", "an API key is required for the openai provider (set OPENAI_API_KEY)")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q, expected ollama or openai", c.LLM.Provider))
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}

	// Database
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			add("database.url", "invalid database URL")
		}
	}

	if !types.TableNamePattern.MatchString(c.Database.TableName) {
		add("database.table_name", "table_name must be a lowercase SQL identifier")
	}

	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	if c.Database.Metric != "cosine" && c.Database.Metric != "l2" {
		add("database.metric", "metric must be cosine or l2")
	}

	if c.Database.BatchSize < 1 {
		add("database.batch_size", "batch_size must be positive")
	}

	if c.Database.SearchLimit < 1 {
		add("database.search_limit", "search_limit must be positive")
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Ingest
	if c.Ingest.MaxDepth < 1 {
		add("ingest.max_depth", "max_depth must be positive")
	}

	if c.Ingest.RateLimit <= 0 {
		add("ingest.rate_limit", "rate_limit must be positive")
	}

	if c.Ingest.EmbedRateLimit <= 0 {
		add("ingest.embed_rate_limit", "embed_rate_limit must be positive")
	}

	// Session
	switch c.Session.Backend {
	case "memory", "bolt", "redis":
	default:
		add("session.backend", fmt.Sprintf("unknown backend %q, expected memory, bolt or redis", c.Session.Backend))
	}

	if c.Session.HistoryWindow < -1 {
		add("session.history_window", "history_window must be -1 (unlimited) or positive")
	}

	if c.Session.TTL < 0 {
		add("session.ttl", "ttl cannot be negative")
	}

	// Telemetry
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate", "sample_rate must be between 0 and 1")
	}

	return errors
}
