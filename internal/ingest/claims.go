package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer hands out short-lived exclusive claims on a message key so two
// consumers sharing a mailbox do not process the same message at once.
type Claimer interface {
	// Claim returns ok=false when another holder owns key. release must be
	// called once processing ends.
	Claim(ctx context.Context, key string) (release func(), ok bool, err error)
}

// releaseScript deletes the claim only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaims stores claims as SET NX keys with a TTL.
type RedisClaims struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisClaims builds a claimer on client. Claims expire after ttl even if
// the holder dies.
func NewRedisClaims(client redis.UniversalClient, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisClaims{client: client, prefix: "ingest:claim:", ttl: ttl}
}

func (r *RedisClaims) Claim(ctx context.Context, key string) (func(), bool, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
	}
	return release, true, nil
}

// MemoryClaims is a process-local Claimer.
type MemoryClaims struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{held: map[string]struct{}{}}
}

func (m *MemoryClaims) Claim(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.held[key]; taken {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}
