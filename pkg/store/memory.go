package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

type memoryRow struct {
	key   int64
	chunk models.Chunk
}

// MemoryStore is an in-process collection with exact nearest-neighbour
// search. Readers share the lock; writers are serialised.
type MemoryStore struct {
	mu        sync.RWMutex
	created   bool
	dimension int
	metric    types.Metric
	nextKey   int64
	rows      []memoryRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateCollection(_ context.Context, dimension int, metric types.Metric, strict bool) error {
	if err := checkCollection(dimension, metric); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strict && s.created {
		if s.dimension != dimension || s.metric != metric {
			return fmt.Errorf("%w: collection exists with dimension %d/%s, requested %d/%s",
				types.ErrDimensionMismatch, s.dimension, s.metric, dimension, metric)
		}
		return nil
	}

	s.created = true
	s.dimension = dimension
	s.metric = metric
	s.rows = nil
	s.nextKey = 0
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, chunk models.Chunk) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInsert(chunk); err != nil {
		return 0, err
	}
	return s.appendRow(chunk), nil
}

func (s *MemoryStore) InsertBatch(_ context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if err := s.checkInsert(c); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		s.appendRow(c)
	}
	return nil
}

func (s *MemoryStore) Nearest(_ context.Context, vector []float64, k int) ([]models.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", types.ErrInvalidConfiguration, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.created || len(s.rows) == 0 {
		return nil, types.ErrEmptyCollection
	}
	if err := checkVector(s.dimension, vector); err != nil {
		return nil, err
	}

	results := make([]models.ScoredChunk, len(s.rows))
	for i, r := range s.rows {
		results[i] = models.ScoredChunk{
			Key:      r.key,
			Chunk:    r.chunk,
			Distance: Distance(s.metric, vector, r.chunk.Vector),
		}
	}

	// rows are kept in key order, so a stable sort breaks ties by key
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteRows(documentID), nil
}

func (s *MemoryStore) deleteRows(documentID string) int64 {
	kept := s.rows[:0]
	var removed int64
	for _, r := range s.rows {
		if r.chunk.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return removed
}

func (s *MemoryStore) ReplaceDocument(_ context.Context, documentID string, chunks []models.Chunk) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if err := s.checkInsert(c); err != nil {
			return 0, err
		}
	}
	removed := s.deleteRows(documentID)
	for _, c := range chunks {
		s.appendRow(c)
	}
	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) checkInsert(c models.Chunk) error {
	if !s.created {
		return fmt.Errorf("%w: collection has not been created", types.ErrInvalidConfiguration)
	}
	return checkVector(s.dimension, c.Vector)
}

func (s *MemoryStore) appendRow(c models.Chunk) int64 {
	s.nextKey++
	v := make([]float64, len(c.Vector))
	copy(v, c.Vector)
	c.Vector = v
	s.rows = append(s.rows, memoryRow{key: s.nextKey, chunk: c})
	return s.nextKey
}

var _ types.VectorStore = (*MemoryStore)(nil)
