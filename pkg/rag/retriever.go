package rag

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

var tracer = otel.Tracer("github.com/xhad/hrcopilot/pkg/rag")

// Retriever embeds a query and returns the nearest stored chunks. It adds no
// recovery of its own: collaborator errors propagate unchanged.
type Retriever struct {
	embedder types.Embedder
	store    types.VectorStore
}

func NewRetriever(embedder types.Embedder, store types.VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// RetrieveScored returns the q.TopK nearest chunks with their distances, in
// ascending distance order.
func (r *Retriever) RetrieveScored(ctx context.Context, q models.Query) ([]models.ScoredChunk, error) {
	if q.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", types.ErrInvalidConfiguration, q.TopK)
	}

	ctx, span := tracer.Start(ctx, "rag.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.top_k", q.TopK))

	vector, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results, err := r.store.Nearest(ctx, vector, q.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("rag.results", len(results)))
	return results, nil
}

// Retrieve returns only the chunk texts, preserving distance order.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	results, err := r.RetrieveScored(ctx, models.Query{Text: query, TopK: k})
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Chunk.Text
	}
	return texts, nil
}

var _ types.Retriever = (*Retriever)(nil)
