package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

var bucketSessions = []byte("sessions")

// BoltStore persists sessions as JSON values in a single bbolt bucket, so
// conversations survive a restart of a single-node deployment.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open session file %s: %v", types.ErrInvalidConfiguration, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Create(_ context.Context) (*models.Session, error) {
	now := s.now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		History:   []models.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketSessions), sess)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

func (s *BoltStore) Get(_ context.Context, id string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		sess, err = get(tx.Bucket(bucketSessions), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *BoltStore) Append(_ context.Context, id string, turns ...models.Turn) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		sess, err := get(b, id)
		if err != nil {
			return err
		}
		sess.History = append(sess.History, normalize(turns)...)
		sess.UpdatedAt = s.now().UTC()
		return put(b, sess)
	})
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(id)) == nil {
			return notFound(id)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func get(b *bbolt.Bucket, id string) (*models.Session, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, notFound(id)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	if sess.History == nil {
		sess.History = []models.Turn{}
	}
	return &sess, nil
}

func put(b *bbolt.Bucket, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return b.Put([]byte(sess.ID), data)
}

var _ types.SessionStore = (*BoltStore)(nil)
