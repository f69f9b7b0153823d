// Package cache provides Redis-backed caching with graceful degradation:
// when Redis is down, reads miss and the caller falls back to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"llm-trading-arena/internal/logging"
)

// ErrUnavailable means Redis is disabled or currently unhealthy.
var ErrUnavailable = errors.New("cache unavailable")

// ErrMiss means the key is absent.
var ErrMiss = errors.New("cache miss")

// Keys used across the service.
const (
	KeySettings    = "arena:settings"
	KeyLeaderboard = "arena:leaderboard"
)

// Default TTLs.
const (
	SettingsTTL    = time.Hour
	LeaderboardTTL = 30 * time.Second
)

// Config holds Redis connection settings.
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// Service wraps a Redis client with a small circuit breaker. Three
// consecutive failures mark it unhealthy; a background ping recovers it.
type Service struct {
	client *redis.Client
	log    zerolog.Logger

	mu            sync.RWMutex
	healthy       bool
	failureCount  int
	lastCheck     time.Time
	maxFailures   int
	checkInterval time.Duration
}

// NewService connects to Redis. A failed initial connection returns a
// degraded (but usable) service, not an error: the arena runs without Redis.
func NewService(cfg Config) *Service {
	s := &Service{
		log:           logging.Component("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}
	if !cfg.Enabled {
		s.log.Info().Msg("redis disabled, cache degraded to passthrough")
		return s
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.log.Warn().Err(err).Msg("initial redis connection failed, starting degraded")
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.log.Info().Str("address", cfg.Address).Msg("redis connected")
	return s
}

// IsHealthy reports whether Redis is currently usable.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures && s.healthy {
		s.log.Warn().Int("failures", s.failureCount).Msg("redis marked unhealthy")
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy && s.client != nil {
		s.log.Info().Msg("redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth pings in the background once the recovery interval passes.
func (s *Service) checkHealth() {
	s.mu.RLock()
	shouldCheck := s.client != nil && !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}

	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// GetJSON reads and decodes a key into v.
func (s *Service) GetJSON(ctx context.Context, key string, v interface{}) error {
	if !s.IsHealthy() {
		s.checkHealth()
		return ErrUnavailable
	}
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		s.recordSuccess()
		return ErrMiss
	}
	if err != nil {
		s.recordFailure()
		return ErrUnavailable
	}
	s.recordSuccess()
	return json.Unmarshal([]byte(raw), v)
}

// SetJSON encodes and writes v under key with a TTL.
func (s *Service) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if !s.IsHealthy() {
		s.checkHealth()
		return ErrUnavailable
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.recordFailure()
		return ErrUnavailable
	}
	s.recordSuccess()
	return nil
}

// Invalidate deletes a key. Misses and outages are both fine; the value
// just expires by TTL instead.
func (s *Service) Invalidate(ctx context.Context, key string) {
	if !s.IsHealthy() {
		return
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
	}
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
