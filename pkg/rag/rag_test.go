package rag_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/processor"
	"github.com/xhad/hrcopilot/pkg/rag"
	"github.com/xhad/hrcopilot/pkg/store"
)

// stubEmbedder returns a fixed vector per known text.
type stubEmbedder struct {
	vectors map[string][]float64
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	s.calls++
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for %q", types.ErrEmbeddingUnavailable, text)
	}
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func ingest(t *testing.T, emb *stubEmbedder, s types.VectorStore, doc models.Document, size, overlap int) []models.Chunk {
	t.Helper()
	ctx := context.Background()

	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: size, ChunkOverlap: overlap})
	require.NoError(t, err)
	chunks, err := p.Process([]models.Document{doc})
	require.NoError(t, err)

	for i := range chunks {
		chunks[i].Vector, err = emb.Embed(ctx, chunks[i].Text)
		require.NoError(t, err)
		_, err = s.Insert(ctx, chunks[i])
		require.NoError(t, err)
	}
	return chunks
}

func TestEndToEnd_CatOnMat(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{
		"A cat sat ": {1, 0, 0},
		"t on a mat": {0, 1, 0},
		"at.":        {0, 0, 1},
		"where?":     {1, 0, 0},
	}}

	s := store.NewMemoryStore()
	require.NoError(t, s.CreateCollection(ctx, 3, types.MetricCosine, false))

	chunks := ingest(t, emb, s, models.Document{ID: "cats.txt", RawText: "A cat sat on a mat."}, 10, 2)
	require.Len(t, chunks, 3)

	results, err := s.Nearest(ctx, chunks[0].Vector, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A cat sat ", results[0].Chunk.Text)
	assert.Equal(t, 0, results[0].Chunk.Index)
	assert.InDelta(t, 0, results[0].Distance, 1e-12)

	r := rag.NewRetriever(emb, s)
	texts, err := r.Retrieve(ctx, "where?", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A cat sat "}, texts)
}

func TestRetriever_Deterministic(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{
		"vacaciones": {0.9, 0.1},
		"nómina":     {0.1, 0.9},
		"bajas":      {0.5, 0.5},
		"query":      {0.8, 0.2},
	}}
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateCollection(ctx, 2, types.MetricL2, false))
	for i, text := range []string{"vacaciones", "nómina", "bajas"} {
		_, err := s.Insert(ctx, models.Chunk{DocumentID: "hr.txt", Index: i, Text: text, Vector: emb.vectors[text]})
		require.NoError(t, err)
	}

	r := rag.NewRetriever(emb, s)
	first, err := r.Retrieve(ctx, "query", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"vacaciones", "bajas", "nómina"}, first)

	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(ctx, "query", 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetriever_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{"known": {1}}}
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateCollection(ctx, 1, types.MetricCosine, false))

	r := rag.NewRetriever(emb, s)

	_, err := r.Retrieve(ctx, "known", 2)
	assert.ErrorIs(t, err, types.ErrEmptyCollection)

	_, err = r.Retrieve(ctx, "unknown", 2)
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
}

func TestRetrieveScored(t *testing.T) {
	ctx := context.Background()
	emb := &stubEmbedder{vectors: map[string][]float64{
		"vacaciones": {1, 0},
		"nómina":     {0, 1},
		"query":      {1, 0.1},
	}}
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateCollection(ctx, 2, types.MetricL2, false))
	for i, text := range []string{"vacaciones", "nómina"} {
		_, err := s.Insert(ctx, models.Chunk{DocumentID: "hr.txt", Index: i, Text: text, Vector: emb.vectors[text]})
		require.NoError(t, err)
	}
	r := rag.NewRetriever(emb, s)

	results, err := r.RetrieveScored(ctx, models.Query{Text: "query", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "vacaciones", results[0].Chunk.Text)
	assert.InDelta(t, 0.1, results[0].Distance, 1e-9)
	assert.Less(t, results[0].Distance, results[1].Distance)

	calls := emb.calls
	_, err = r.RetrieveScored(ctx, models.Query{Text: "query", TopK: 0})
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
	assert.Equal(t, calls, emb.calls)
}

func TestAssemble(t *testing.T) {
	got := rag.Assemble([]string{"first chunk", "second chunk"}, "¿Cuántos días de vacaciones tengo?")
	want := "CONTEXT:\nfirst chunk\n\nsecond chunk\n\nQUESTION:\n¿Cuántos días de vacaciones tengo?"
	assert.Equal(t, want, got)

	assert.Equal(t, "CONTEXT:\n\n\nQUESTION:\nhi", rag.Assemble(nil, "hi"))
}

func TestBuild_SystemOnSeparateChannel(t *testing.T) {
	p := rag.Build([]string{"ctx"}, "q", "You are the HR copilot.")
	assert.Equal(t, "You are the HR copilot.", p.System)
	assert.NotContains(t, p.User, "HR copilot")

	assert.Equal(t, "You are the HR copilot.\n\n"+p.User, p.Inline())
	assert.Equal(t, p.User, rag.Prompt{User: p.User}.Inline())
}
