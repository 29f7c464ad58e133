package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

// MemoryStore keeps sessions in process memory. Readers run concurrently,
// writers are serialised.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context) (*models.Session, error) {
	now := m.now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		History:   []models.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return clone(sess), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(sess), nil
}

func (m *MemoryStore) Append(_ context.Context, id string, turns ...models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return notFound(id)
	}
	sess.History = append(sess.History, normalize(turns)...)
	sess.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return notFound(id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(s *models.Session) *models.Session {
	out := *s
	out.History = append([]models.Turn(nil), s.History...)
	if out.History == nil {
		out.History = []models.Turn{}
	}
	return &out
}

func normalize(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, len(turns))
	for i, t := range turns {
		out[i] = models.Turn{Role: models.NormalizeRole(t.Role), Content: t.Content}
	}
	return out
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
}

var _ types.SessionStore = (*MemoryStore)(nil)
