package session

import (
	"context"
	"fmt"
	"time"

	"github.com/xhad/hrcopilot/internal/types"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Config selects and configures a session backend.
type Config struct {
	Backend       string
	BoltPath      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// New opens the configured backend. An empty backend means memory.
func New(ctx context.Context, config Config) (types.SessionStore, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		if config.BoltPath == "" {
			config.BoltPath = "sessions.db"
		}
		return NewBoltStore(config.BoltPath)
	case BackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
			TTL:      config.TTL,
		})
	default:
		return nil, fmt.Errorf("%w: unknown session backend %q", types.ErrInvalidConfiguration, config.Backend)
	}
}
