package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Database  DatabaseConfig  `yaml:"database"`
	Processor ProcessorConfig `yaml:"processor"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Session   SessionConfig   `yaml:"session"`
	Server    ServerConfig    `yaml:"server"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	APIKey         string  `yaml:"api_key"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	TableName   string `yaml:"table_name"`
	VectorDim   int    `yaml:"vector_dim"`
	Metric      string `yaml:"metric"`
	BatchSize   int    `yaml:"batch_size"`
	SearchLimit int    `yaml:"search_limit"`
}

type ProcessorConfig struct {
	ChunkSize           int  `yaml:"chunk_size"`
	ChunkOverlap        int  `yaml:"chunk_overlap"`
	NormalizeWhitespace bool `yaml:"normalize_whitespace"`
}

type IngestConfig struct {
	Dir            string   `yaml:"dir"`
	URL            string   `yaml:"url"`
	MaxDepth       int      `yaml:"max_depth"`
	RateLimit      float64  `yaml:"rate_limit"`
	EmbedRateLimit float64  `yaml:"embed_rate_limit"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

type SessionConfig struct {
	Backend       string        `yaml:"backend"`
	BoltPath      string        `yaml:"bolt_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	// HistoryWindow is how many past turns reach the model. Zero means the
	// default of 20, -1 sends the whole conversation.
	HistoryWindow int           `yaml:"history_window"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type PromptConfig struct {
	SystemFile string `yaml:"system_file"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/hrcopilot/config.yaml"),
			"/etc/hrcopilot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "llama3"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		} else {
			config.LLM.EmbeddingModel = "nomic-embed-text"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Database.Host == "" {
		config.Database.Host = "localhost"
	}
	if config.Database.Port == 0 {
		config.Database.Port = 5432
	}
	if config.Database.User == "" {
		config.Database.User = "postgres"
	}
	if config.Database.Password == "" {
		config.Database.Password = "postgres"
	}
	if config.Database.Name == "" {
		config.Database.Name = "ragdb"
	}
	if config.Database.SSLMode == "" {
		config.Database.SSLMode = "disable"
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "items"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.Metric == "" {
		config.Database.Metric = "cosine"
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 3
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 50
	}

	if config.Ingest.Dir == "" {
		config.Ingest.Dir = "./texts"
	}
	if config.Ingest.MaxDepth == 0 {
		config.Ingest.MaxDepth = 3
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 2.0
	}
	if config.Ingest.EmbedRateLimit == 0 {
		config.Ingest.EmbedRateLimit = 10.0
	}

	if config.Session.Backend == "" {
		config.Session.Backend = "memory"
	}
	if config.Session.BoltPath == "" {
		config.Session.BoltPath = "sessions.db"
	}
	if config.Session.RedisAddr == "" {
		config.Session.RedisAddr = "localhost:6379"
	}
	if config.Session.HistoryWindow == 0 {
		config.Session.HistoryWindow = 20
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = "hrcopilot"
	}
	if config.Telemetry.SampleRate == 0 {
		config.Telemetry.SampleRate = 1.0
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if host := os.Getenv("PG_HOST"); host != "" {
		config.Database.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("PG_PORT")); err == nil {
		config.Database.Port = port
	}
	if user := os.Getenv("PG_USER"); user != "" {
		config.Database.User = user
	}
	if pass := os.Getenv("PG_PASS"); pass != "" {
		config.Database.Password = pass
	}
	if name := os.Getenv("PG_DB"); name != "" {
		config.Database.Name = name
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		config.Telemetry.OTLPEndpoint = endpoint
	}
}

// DSN returns database.url when set, otherwise a URL assembled from the
// individual connection fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// LoadSystemPrompt reads prompt.system_file. An empty path returns "" so the
// caller can fall back to the built-in persona.
func (c *Config) LoadSystemPrompt() (string, error) {
	if c.Prompt.SystemFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Prompt.SystemFile)
	if err != nil {
		return "", fmt.Errorf("error reading system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
