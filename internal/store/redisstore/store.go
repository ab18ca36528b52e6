package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store backs the busy lock and token revocation with Redis.
type Store struct {
	rdb     *redis.Client
	prefix  string
	lockTTL time.Duration
}

const defaultLockTTL = 5 * time.Minute

func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewWithClient(rdb), nil
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, prefix: "studio:", lockTTL: defaultLockTTL}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) lockKey(key string) string    { return s.prefix + "busy:" + key }
func (s *Store) revokedKey(jti string) string { return s.prefix + "revoked:" + jti }

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// TryLock implements chat.Locker. The lock expires after lockTTL if the
// holder dies mid-exchange.
func (s *Store) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token, err := randomToken()
	if err != nil {
		return nil, false, err
	}
	k := s.lockKey(key)
	ok, err := s.rdb.SetNX(ctx, k, token, s.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire busy lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, s.rdb, []string{k}, token).Err()
	}, true, nil
}

// Revoke implements auth.Revoker.
func (s *Store) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.revokedKey(jti), "1", ttl).Err()
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
