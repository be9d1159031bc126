// Package redis implements follower.Store on top of Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// Config captures the connection parameters.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key, e.g. "depfollow:".
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Store persists keys as plain Redis strings. Batches run inside MULTI/EXEC.
type Store struct {
	db     *redis.Client
	prefix string
	logger *zap.Logger
}

var _ follower.Store = (*Store)(nil)

// New dials Redis and verifies the connection.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	db := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := db.Ping().Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(db, cfg.KeyPrefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(db *redis.Client, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, prefix: prefix, logger: logger}
}

// Close releases the client.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads key; a missing key maps to follower.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.db.WithContext(ctx).Get(s.prefix + key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", follower.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Put overwrites key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.db.WithContext(ctx).Set(s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Batch writes every op in one MULTI/EXEC transaction.
func (s *Store) Batch(ctx context.Context, ops []follower.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if op.Type != follower.OpPut {
			return fmt.Errorf("unsupported batch op %q", op.Type)
		}
	}
	pipe := s.db.WithContext(ctx).TxPipeline()
	for _, op := range ops {
		pipe.Set(s.prefix+op.Key, op.Value, 0)
	}
	if _, err := pipe.Exec(); err != nil {
		s.logger.Warn("redis batch failed", zap.Int("ops", len(ops)), zap.Error(err))
		return fmt.Errorf("redis batch of %d ops: %w", len(ops), err)
	}
	return nil
}
