// Package cache keeps composited preview images in Redis for a limited time.
package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "preview:"

var ErrNotFound = errors.New("cache: preview not found")

// RedisOptions configures Connect.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	TLS      bool
}

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if opts.TLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// kv is the subset of *redis.Client the store uses.
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// PreviewStore saves PNG previews under random ids.
type PreviewStore struct {
	rdb   kv
	ttl   time.Duration
	newID func() string
	log   zerolog.Logger
}

func NewPreviewStore(rdb kv, ttl time.Duration, logger *zerolog.Logger) *PreviewStore {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &PreviewStore{
		rdb:   rdb,
		ttl:   ttl,
		newID: uuid.NewString,
		log:   l.With().Str("component", "preview_store").Logger(),
	}
}

func (s *PreviewStore) Save(ctx context.Context, data []byte) (string, error) {
	id := s.newID()
	if err := s.rdb.Set(ctx, keyPrefix+id, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("cache: save preview: %w", err)
	}
	s.log.Debug().Str("preview_id", id).Int("bytes", len(data)).Dur("ttl", s.ttl).Msg("preview stored")
	return id, nil
}

func (s *PreviewStore) Get(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load preview: %w", err)
	}
	return data, nil
}
