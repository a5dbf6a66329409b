package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokerTimeout = 3 * time.Second

// TokenRevoker tracks revoked token IDs until expiry.
type TokenRevoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

// UserTokenRevoker additionally revokes every token a user was issued up to a cutoff.
type UserTokenRevoker interface {
	TokenRevoker
	RevokeUser(userID string, since time.Time) error
	RevokedAfter(userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revocations in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry. Expired entries are
// pruned on every call.
func (r *MemoryTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, expiry := range r.tokens {
		if now.After(expiry) {
			delete(r.tokens, id)
		}
	}
	r.tokens[jti] = now.Add(ttl)
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, jti)
		return false, nil
	}
	return true, nil
}

// RevokeUser moves the user's cutoff forward. Older cutoffs are ignored.
func (r *MemoryTokenRevoker) RevokeUser(userID string, since time.Time) error {
	if userID == "" {
		return errors.New("user id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cutoffs[userID]; ok && !since.After(cur) {
		return nil
	}
	r.cutoffs[userID] = since
	return nil
}

// RevokedAfter returns the user's cutoff, or the zero time when none is set.
func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[userID], nil
}

// Keeps the larger of the stored and given cutoff (unix millis).
var raiseCutoffScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[1]) then
  redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RedisTokenRevoker stores revocations in Redis so every replica sees them.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(addr, password string) *RedisTokenRevoker {
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), revokerTimeout)
	defer cancel()
	return r.client.Set(ctx, revocationKey(jti), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), revokerTimeout)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeUser moves the user's cutoff forward. Cutoffs are stored with millisecond precision.
func (r *RedisTokenRevoker) RevokeUser(userID string, since time.Time) error {
	if userID == "" {
		return errors.New("user id required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), revokerTimeout)
	defer cancel()
	return raiseCutoffScript.Run(ctx, r.client, []string{userCutoffKey(userID)}, since.UnixMilli()).Err()
}

// RevokedAfter returns the user's cutoff, or the zero time when none is set.
func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), revokerTimeout)
	defer cancel()
	raw, err := r.client.Get(ctx, userCutoffKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Close releases the Redis connection pool.
func (r *RedisTokenRevoker) Close() error {
	return r.client.Close()
}

func revocationKey(jti string) string {
	return "revoked:" + jti
}

func userCutoffKey(userID string) string {
	return "revoked_user:" + userID
}
