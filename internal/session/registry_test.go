package session

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()

	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, reg.Register(ctx, "a", "First listing", base.Add(time.Hour)))
	require.NoError(t, reg.Register(ctx, "b", "Second listing", base.Add(2*time.Hour)))

	entry, err := reg.Lookup(ctx, "a", base)
	require.NoError(t, err)
	assert.Equal(t, "First listing", entry.Title)
	assert.True(t, entry.ExpiresAt.Equal(base.Add(time.Hour)))

	_, err = reg.Lookup(ctx, "missing", base)
	require.ErrorIs(t, err, listing.ErrSessionNotFound)

	later := base.Add(90 * time.Minute)
	_, err = reg.Lookup(ctx, "a", later)
	require.ErrorIs(t, err, listing.ErrSessionNotFound)

	// The deadline itself counts as expired.
	_, err = reg.Lookup(ctx, "a", base.Add(time.Hour))
	require.ErrorIs(t, err, listing.ErrSessionNotFound)

	expired, err := reg.Expired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, expired)

	active, err := reg.Active(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	require.NoError(t, reg.Remove(ctx, "a"))
	expired, err = reg.Expired(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, expired)

	require.NoError(t, reg.Remove(ctx, "a"))
}

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()
	exerciseRegistry(t, NewMemoryRegistry())
}

func TestMemoryRegistryExpiredOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := NewMemoryRegistry()
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Register(ctx, "late", "", base.Add(2*time.Minute)))
	require.NoError(t, reg.Register(ctx, "early", "", base.Add(time.Minute)))

	ids, err := reg.Expired(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids)
}

func TestRedisRegistry(t *testing.T) {
	t.Parallel()

	addr := os.Getenv("ARCHIVER_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	prefix := fmt.Sprintf("archiver-test-%d", time.Now().UnixNano())
	reg := NewRedisRegistry(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
	})

	exerciseRegistry(t, reg)
}

func TestRedisRegistryKeys(t *testing.T) {
	t.Parallel()

	reg := NewRedisRegistry(nil, "")
	assert.Equal(t, "archiver:expiry", reg.expiryKey())
	assert.Equal(t, "archiver:session:abc", reg.sessionKey("abc"))
}
