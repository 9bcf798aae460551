package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok, "entry should live until its ttl")

	now = now.Add(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "entry should expire at its ttl")
}

func TestMemoryStore_NoTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(24 * time.Hour)
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	got, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'
	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestNewRedis_EmptyURL(t *testing.T) {
	s, err := NewRedis(context.Background(), "", "records:")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-redis-url", "records:")
	assert.Error(t, err)
}

func TestRedisStore_Key(t *testing.T) {
	s := NewRedisStore(nil, "records:")
	assert.Equal(t, "records:dedup:abc", s.key("dedup:abc"))
}

func TestMemoryStore_SweepsExpiredOnSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 5000; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("dedup:report:%d", i), []byte("v"), time.Minute))
		now = now.Add(time.Hour)
	}
	assert.Equal(t, 1, s.Len(), "only the latest entry is still live")

	require.NoError(t, s.Set(ctx, "keep", []byte("v"), 0))
	now = now.Add(time.Hour)
	require.NoError(t, s.Set(ctx, "next", []byte("v"), time.Minute))
	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "keep")
	assert.True(t, ok)
}

func TestMemoryStore_EvictsSoonestExpiringAtCapacity(t *testing.T) {
	ctx := context.Background()
	s := NewBoundedMemoryStore(3)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))
	require.NoError(t, s.Set(ctx, "long", []byte("v"), 24*time.Hour))
	require.NoError(t, s.Set(ctx, "short", []byte("v"), time.Minute))

	require.NoError(t, s.Set(ctx, "long", []byte("v2"), 24*time.Hour))
	assert.Equal(t, 3, s.Len(), "overwriting a key never evicts")

	require.NoError(t, s.Set(ctx, "new", []byte("v"), time.Hour))
	assert.Equal(t, 3, s.Len())
	_, ok, _ := s.Get(ctx, "short")
	assert.False(t, ok, "the entry closest to expiry goes first")
	for _, k := range []string{"forever", "long", "new"} {
		_, ok, _ := s.Get(ctx, k)
		assert.True(t, ok, k)
	}
}

func TestMemoryStore_EvictsUnboundedEntriesLast(t *testing.T) {
	ctx := context.Background()
	s := NewBoundedMemoryStore(2)

	require.NoError(t, s.Set(ctx, "a", []byte("v"), 0))
	require.NoError(t, s.Set(ctx, "b", []byte("v"), 0))
	require.NoError(t, s.Set(ctx, "c", []byte("v"), 0))
	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "c")
	assert.True(t, ok)
}
