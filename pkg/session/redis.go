package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is refreshed on every write. Zero keeps sessions forever.
	TTL time.Duration
}

// RedisStore keeps session metadata under session:<id>:meta and the turns in
// a list under session:<id>:turns. Appends use RPUSH, which is atomic, so
// concurrent writers to one session never lose turns.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

type sessionMeta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: redis %s unreachable: %v", types.ErrInvalidConfiguration, config.Addr, err)
	}
	return &RedisStore{client: rdb, ttl: config.TTL, now: time.Now}, nil
}

func metaKey(id string) string  { return fmt.Sprintf("session:%s:meta", id) }
func turnsKey(id string) string { return fmt.Sprintf("session:%s:turns", id) }

func (s *RedisStore) Create(ctx context.Context) (*models.Session, error) {
	now := s.now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		History:   []models.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(sessionMeta{CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, metaKey(sess.ID), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	meta, err := s.meta(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session turns: %w", err)
	}

	sess := &models.Session{
		ID:        id,
		History:   make([]models.Turn, 0, len(raw)),
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}
	for _, r := range raw {
		var turn models.Turn
		if err := json.Unmarshal([]byte(r), &turn); err != nil {
			return nil, fmt.Errorf("corrupt turn in session %s: %w", id, err)
		}
		sess.History = append(sess.History, turn)
	}
	return sess, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	meta, err := s.meta(ctx, id)
	if err != nil {
		return err
	}

	values := make([]interface{}, 0, len(turns))
	for _, t := range normalize(turns) {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	meta.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, turnsKey(id), values...)
		}
		pipe.Set(ctx, metaKey(id), data, s.ttl)
		if s.ttl > 0 {
			pipe.Expire(ctx, turnsKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turns: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, metaKey(id), turnsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) meta(ctx context.Context, id string) (*sessionMeta, error) {
	val, err := s.client.Get(ctx, metaKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var meta sessionMeta
	if err := json.Unmarshal([]byte(val), &meta); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &meta, nil
}

var _ types.SessionStore = (*RedisStore)(nil)
