package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

// PriceSuspension is an attempt paused because the provider re-quoted
type PriceSuspension struct {
	Old         models.ValidatedOffer `json:"old"`
	New         models.ValidatedOffer `json:"new"`
	SuspendedAt time.Time             `json:"suspended_at"`
}

// QuoteStore keeps short-lived per-attempt state: the validated offer and any
// pending price-change suspension. Entries expire with the offer they hold.
type QuoteStore interface {
	SaveValidated(ctx context.Context, key string, offer models.ValidatedOffer) error
	GetValidated(ctx context.Context, key string) (*models.ValidatedOffer, error)
	DeleteValidated(ctx context.Context, key string) error
	SaveSuspension(ctx context.Context, key string, s PriceSuspension) error
	GetSuspension(ctx context.Context, key string) (*PriceSuspension, error)
	DeleteSuspension(ctx context.Context, key string) error
}

const (
	suspensionTTL = 15 * time.Minute

	// validated offers are kept past expiry so a late create reports the expired hold
	validatedRetention = 10 * time.Minute
)

// ============================================================================
// REDIS
// ============================================================================

// RedisQuoteClient is the subset of go-redis commands the store needs
type RedisQuoteClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisQuoteStore stores quote state as JSON strings with a TTL
type RedisQuoteStore struct {
	client    RedisQuoteClient
	keyPrefix string
	clock     clock.Clock
}

// NewRedisQuoteStore creates a Redis-backed quote store
func NewRedisQuoteStore(client RedisQuoteClient, keyPrefix string, clk clock.Clock) *RedisQuoteStore {
	if keyPrefix == "" {
		keyPrefix = "booking:"
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &RedisQuoteStore{client: client, keyPrefix: keyPrefix, clock: clk}
}

func (s *RedisQuoteStore) validatedKey(key string) string { return s.keyPrefix + "validated:" + key }
func (s *RedisQuoteStore) suspensionKey(key string) string { return s.keyPrefix + "suspended:" + key }

// SaveValidated records the offer until shortly after it expires
func (s *RedisQuoteStore) SaveValidated(ctx context.Context, key string, offer models.ValidatedOffer) error {
	ttl := offer.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("validated offer for %s already expired", key)
	}
	return s.setJSON(ctx, s.validatedKey(key), offer, ttl+validatedRetention)
}

// GetValidated returns the recorded offer, or nil when none is stored
func (s *RedisQuoteStore) GetValidated(ctx context.Context, key string) (*models.ValidatedOffer, error) {
	var offer models.ValidatedOffer
	found, err := s.getJSON(ctx, s.validatedKey(key), &offer)
	if err != nil || !found {
		return nil, err
	}
	return &offer, nil
}

// SaveSuspension records a paused attempt
func (s *RedisQuoteStore) SaveSuspension(ctx context.Context, key string, sus PriceSuspension) error {
	return s.setJSON(ctx, s.suspensionKey(key), sus, suspensionTTL)
}

// GetSuspension returns the paused attempt, or nil when none is stored
func (s *RedisQuoteStore) GetSuspension(ctx context.Context, key string) (*PriceSuspension, error) {
	var sus PriceSuspension
	found, err := s.getJSON(ctx, s.suspensionKey(key), &sus)
	if err != nil || !found {
		return nil, err
	}
	return &sus, nil
}

// DeleteValidated drops the recorded offer for an attempt
func (s *RedisQuoteStore) DeleteValidated(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.validatedKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete validated offer: %w", err)
	}
	return nil
}

// DeleteSuspension removes a paused attempt
func (s *RedisQuoteStore) DeleteSuspension(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.suspensionKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete suspension: %w", err)
	}
	return nil
}

func (s *RedisQuoteStore) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *RedisQuoteStore) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// ============================================================================
// IN-PROCESS (single instance development)
// ============================================================================

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryQuoteStore keeps quote state in process memory
type MemoryQuoteStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   clock.Clock
}

// NewMemoryQuoteStore creates an in-process quote store
func NewMemoryQuoteStore(clk clock.Clock) *MemoryQuoteStore {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &MemoryQuoteStore{entries: make(map[string]memoryEntry), clock: clk}
}

func (s *MemoryQuoteStore) put(key string, v interface{}, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: v, expiresAt: expiresAt}
}

func (s *MemoryQuoteStore) get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// SaveValidated records the offer until shortly after it expires
func (s *MemoryQuoteStore) SaveValidated(_ context.Context, key string, offer models.ValidatedOffer) error {
	if offer.IsExpired(s.clock.Now()) {
		return fmt.Errorf("validated offer for %s already expired", key)
	}
	s.put("validated:"+key, offer, offer.ExpiresAt.Add(validatedRetention))
	return nil
}

// GetValidated returns the recorded offer, or nil when none is stored
func (s *MemoryQuoteStore) GetValidated(_ context.Context, key string) (*models.ValidatedOffer, error) {
	v, ok := s.get("validated:" + key)
	if !ok {
		return nil, nil
	}
	offer := v.(models.ValidatedOffer)
	return &offer, nil
}

// DeleteValidated drops the recorded offer for an attempt
func (s *MemoryQuoteStore) DeleteValidated(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "validated:"+key)
	return nil
}

// SaveSuspension records a paused attempt
func (s *MemoryQuoteStore) SaveSuspension(_ context.Context, key string, sus PriceSuspension) error {
	s.put("suspended:"+key, sus, s.clock.Now().Add(suspensionTTL))
	return nil
}

// GetSuspension returns the paused attempt, or nil when none is stored
func (s *MemoryQuoteStore) GetSuspension(_ context.Context, key string) (*PriceSuspension, error) {
	v, ok := s.get("suspended:" + key)
	if !ok {
		return nil, nil
	}
	sus := v.(PriceSuspension)
	return &sus, nil
}

// DeleteSuspension removes a paused attempt
func (s *MemoryQuoteStore) DeleteSuspension(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "suspended:"+key)
	return nil
}
