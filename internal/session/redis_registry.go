package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

const (
	fieldTitle     = "title"
	fieldExpiresAt = "expires_at"
)

// RedisRegistry stores sessions in redis so several replicas can serve each
// other's downloads. A sorted set orders ids by deadline; a hash per session
// holds its metadata and carries a matching TTL.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry creates a RedisRegistry with keys under prefix.
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "archiver"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) expiryKey() string {
	return r.prefix + ":expiry"
}

func (r *RedisRegistry) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

// Register implements Registry.
func (r *RedisRegistry) Register(ctx context.Context, id, title string, expiresAt time.Time) error {
	key := r.sessionKey(id)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fieldTitle, title, fieldExpiresAt, expiresAt.UnixMilli())
	pipe.PExpireAt(ctx, key, expiresAt)
	pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(expiresAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register session %s: %w", id, err)
	}
	return nil
}

// Lookup implements Registry.
func (r *RedisRegistry) Lookup(ctx context.Context, id string, now time.Time) (Entry, error) {
	values, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("lookup session %s: %w", id, err)
	}
	if len(values) == 0 {
		return Entry{}, listing.ErrSessionNotFound
	}
	ms, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("session %s has malformed deadline: %w", id, err)
	}
	entry := Entry{ID: id, Title: values[fieldTitle], ExpiresAt: time.UnixMilli(ms)}
	if !entry.ExpiresAt.After(now) {
		return Entry{}, listing.ErrSessionNotFound
	}
	return entry, nil
}

// Expired implements Registry.
func (r *RedisRegistry) Expired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return ids, nil
}

// Remove implements Registry.
func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.expiryKey(), id)
	pipe.Del(ctx, r.sessionKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

// Active implements Registry.
func (r *RedisRegistry) Active(ctx context.Context, now time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.expiryKey(), "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}
