package types

import (
	"context"
	"fmt"
	"regexp"

	"github.com/xhad/hrcopilot/internal/models"
)

// Metric is the distance function a collection is declared with.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// ParseMetric validates a metric name coming from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricL2:
		return Metric(s), nil
	case "":
		return MetricCosine, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfiguration, s)
}

// TableNamePattern matches the collection table names the Postgres store
// accepts: a lowercase identifier that needs no quoting.
var TableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Core interfaces
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

type VectorStore interface {
	CreateCollection(ctx context.Context, dimension int, metric Metric, strict bool) error
	Insert(ctx context.Context, chunk models.Chunk) (int64, error)
	InsertBatch(ctx context.Context, chunks []models.Chunk) error
	Nearest(ctx context.Context, vector []float64, k int) ([]models.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
	// ReplaceDocument swaps a document's stored chunks for chunks in one
	// step and reports how many were removed.
	ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close()
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

type SessionStore interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Append(ctx context.Context, id string, turns ...models.Turn) error
	Delete(ctx context.Context, id string) error
	Close() error
}
