//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/medpractice/records/internal/domain/dedup"
	"github.com/medpractice/records/internal/platform/cache"
)

// newRedisStore starts a redis:7-alpine container for the calling test.
func newRedisStore(t *testing.T) *cache.RedisStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	store, err := cache.NewRedis(ctx, url, "records-test:")
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Health(ctx))
}

func TestRedisStore_Expires(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Second))
	require.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, "short")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)
}

func TestDedup_ReportCachedInRedis(t *testing.T) {
	f := newFixtures(t)
	store := newRedisStore(t)
	ctx := context.Background()

	f.createPatient(t, "Faure", "Lea", "2920213000004", "")
	f.createPatient(t, "Faure", "Lea", "2920213000004", "")

	svc := dedup.NewService(dedup.NewRepositoryStore(f.patients, f.careSheets, f.prescriptions), dedup.ServiceConfig{
		Cache:    store,
		CacheTTL: time.Minute,
		Logger:   zerolog.Nop(),
	})

	first, err := svc.Report(ctx)
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)

	_, ok, err := store.Get(ctx, "dedup:report:"+first.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok, "report stored under its snapshot fingerprint")

	second, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.GeneratedAt.UnixNano(), second.GeneratedAt.UnixNano(), "served from cache")

	// A new patient changes the fingerprint, so detection reruns.
	f.createPatient(t, "Faure", "Lea", "2920213000004", "")
	third, err := svc.Report(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
	require.Len(t, third.Groups, 1)
	assert.Len(t, third.Groups[0].Patients, 3)
}
