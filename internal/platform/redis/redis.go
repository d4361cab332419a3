// Package redis wraps the Redis client shared by the run-job store and the
// asynq queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"

	"maintscraper/internal/logger"
)

// ErrMiss is returned by CacheGet when the key does not exist.
var ErrMiss = errors.New("cache miss")

type Options struct {
	Addr     string
	Password string
	DB       int
}

type Service struct {
	client *redisv8.Client
	log    *logger.Logger
}

// New connects and pings Redis.
func New(ctx context.Context, opts Options, log *logger.Logger) (*Service, error) {
	c := redisv8.NewClient(&redisv8.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	return NewWithClient(c, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *redisv8.Client, log *logger.Logger) *Service {
	return &Service{client: c, log: log.Named("Redis")}
}

func (s *Service) Close() error            { return s.client.Close() }
func (s *Service) Client() *redisv8.Client { return s.client }

// HealthCheck pings, then round-trips a short-lived key.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.LogErrorf("Redis health check failed: %v", err)
		return fmt.Errorf("redis ping failed: %w", err)
	}

	key := "health:test:" + time.Now().Format("20060102150405.000")
	if err := s.client.Set(ctx, key, "ok", 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write test failed: %w", err)
	}
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis read test failed: %w", err)
	}
	_ = s.client.Del(ctx, key).Err()
	if val != "ok" {
		return fmt.Errorf("redis value mismatch: got %s, want ok", val)
	}
	return nil
}

// AsynqRedisOpt points asynq at the same Redis.
func (s *Service) AsynqRedisOpt() asynq.RedisClientOpt {
	o := s.client.Options()
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// CacheGet decodes the JSON value at key into dest.
func (s *Service) CacheGet(ctx context.Context, key string, dest interface{}) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redisv8.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

// CacheSet stores val as JSON for ttl; a zero ttl keeps it forever.
func (s *Service) CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, ttl).Err()
}

// Publish sends val as JSON on channel.
func (s *Service) Publish(ctx context.Context, channel string, val interface{}) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, b).Err()
}
