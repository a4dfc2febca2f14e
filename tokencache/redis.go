package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "credpool"

// Sealer encrypts tokens before they leave the process. *crypt.Cipher satisfies it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(record string) (string, error)
}

// RedisCache shares tokens between processes. Values are sealed records;
// expiry is delegated to Redis.
type RedisCache struct {
	rdb    redis.UniversalClient
	sealer Sealer
	prefix string
}

// NewRedisCache returns a cache storing under "<prefix>:tok:<accountID>".
func NewRedisCache(rdb redis.UniversalClient, sealer Sealer, prefix string) (*RedisCache, error) {
	if rdb == nil {
		return nil, errors.New("tokencache: redis client is required")
	}
	if sealer == nil {
		return nil, errors.New("tokencache: sealer is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{rdb: rdb, sealer: sealer, prefix: prefix}, nil
}

func (c *RedisCache) key(accountID string) string {
	return c.prefix + ":tok:" + accountID
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	token, err := c.sealer.Decrypt(raw)
	if err != nil {
		// Sealed under another key; the entry is useless to this process.
		_ = c.rdb.Del(ctx, c.key(accountID)).Err()
		return "", false, fmt.Errorf("cached token for %s: %w", accountID, err)
	}
	return token, true, nil
}

func (c *RedisCache) Put(ctx context.Context, accountID, token string, ttl time.Duration) error {
	if ttl <= 0 || token == "" {
		return nil
	}
	sealed, err := c.sealer.Encrypt(token)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.key(accountID), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, accountID string) error {
	if err := c.rdb.Del(ctx, c.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
