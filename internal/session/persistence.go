package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPersistence keeps the token/profile pair of one browser session in Redis.
type RedisPersistence struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisPersistence scopes persistence to the given browser session id.
func NewRedisPersistence(client *redis.Client, browserID string, ttl time.Duration) *RedisPersistence {
	return &RedisPersistence{client: client, key: redisKey(browserID), ttl: ttl}
}

// Load returns the stored pair, or an empty pair when nothing is stored.
// Undecodable payloads are dropped and reported as empty.
func (p *RedisPersistence) Load(ctx context.Context) (Pair, error) {
	payload, err := p.client.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pair{}, nil
		}
		return Pair{}, err
	}
	var pair Pair
	if err := json.Unmarshal(payload, &pair); err != nil {
		_ = p.client.Del(ctx, p.key).Err()
		return Pair{}, nil
	}
	return pair, nil
}

// Save stores the pair and refreshes its expiry.
func (p *RedisPersistence) Save(ctx context.Context, pair Pair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, p.key, data, p.ttl).Err()
}

// Clear removes the stored pair.
func (p *RedisPersistence) Clear(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func redisKey(browserID string) string {
	return "mowe:session:" + browserID
}

// MemoryPersistence is an in-process Persistence, used when no Redis is
// configured and in tests.
type MemoryPersistence struct {
	mu   sync.Mutex
	pair Pair
	set  bool
}

// NewMemoryPersistence returns an empty MemoryPersistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

// Load returns the stored pair.
func (m *MemoryPersistence) Load(ctx context.Context) (Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return Pair{}, nil
	}
	return clonePair(m.pair), nil
}

// Save stores a copy of pair.
func (m *MemoryPersistence) Save(ctx context.Context, pair Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = clonePair(pair)
	m.set = true
	return nil
}

// Clear drops the stored pair.
func (m *MemoryPersistence) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = Pair{}
	m.set = false
	return nil
}

func clonePair(p Pair) Pair {
	out := Pair{Token: p.Token}
	if p.Profile != nil {
		profile := *p.Profile
		out.Profile = &profile
	}
	return out
}
