// Package redisstore keeps the positions and stats snapshots in Redis,
// msgpack-encoded.
package redisstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

type Store struct {
	rdb    redis.Cmdable
	prefix string

	mu      sync.Mutex
	lastSeq uint64
}

var _ interfaces.StateStore = (*Store)(nil)

func New(rdb redis.Cmdable, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(name string) string { return s.prefix + ":" + name }

func (s *Store) LoadPositions(ctx context.Context) ([]types.Position, error) {
	var ps []types.Position
	if err := s.get(ctx, s.key("positions"), &ps); err != nil {
		return nil, fmt.Errorf("redis: load positions: %w", err)
	}
	return ps, nil
}

func (s *Store) SavePositions(ctx context.Context, seq uint64, ps []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq {
		return nil
	}
	if err := s.set(ctx, s.key("positions"), ps); err != nil {
		return fmt.Errorf("redis: save positions: %w", err)
	}
	s.lastSeq = seq
	return nil
}

func (s *Store) LoadStats(ctx context.Context) (types.Stats, error) {
	var st types.Stats
	if err := s.get(ctx, s.key("stats"), &st); err != nil {
		return types.Stats{}, fmt.Errorf("redis: load stats: %w", err)
	}
	return st, nil
}

func (s *Store) SaveStats(ctx context.Context, st types.Stats) error {
	if err := s.set(ctx, s.key("stats"), st); err != nil {
		return fmt.Errorf("redis: save stats: %w", err)
	}
	return nil
}

// get leaves v untouched when the key does not exist.
func (s *Store) get(ctx context.Context, key string, v any) error {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(b, v)
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, 0).Err()
}
