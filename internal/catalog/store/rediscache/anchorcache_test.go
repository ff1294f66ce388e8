package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/mscatalog/catalogrelay/internal/catalog/store"
)

func setupTestCache(t *testing.T) (*AnchorCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := New(Config{Addr: mr.Addr(), TTL: time.Minute}, nil)
	require.NoError(t, err)
	return cache, mr
}

func TestAnchorCache_GetSetInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()
	filter := store.AnchorFilter{Kind: "categories"}

	_, err := cache.Get(ctx, filter)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cache.Set(ctx, filter, "anchor-1"))

	got, err := cache.Get(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, "anchor-1", got)

	require.NoError(t, cache.Invalidate(ctx, filter))
	_, err = cache.Get(ctx, filter)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAnchorCache_KeysScopedByFilter(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	catFilter := store.AnchorFilter{Kind: "categories"}
	updFilter := store.AnchorFilter{Kind: "updates", Hash: "abc123"}

	require.NoError(t, cache.Set(ctx, catFilter, "cat-anchor"))
	require.NoError(t, cache.Set(ctx, updFilter, "upd-anchor"))

	got, err := cache.Get(ctx, catFilter)
	require.NoError(t, err)
	require.Equal(t, "cat-anchor", got)

	got, err = cache.Get(ctx, updFilter)
	require.NoError(t, err)
	require.Equal(t, "upd-anchor", got)
}

func TestAnchorCache_Health(t *testing.T) {
	cache, _ := setupTestCache(t)
	require.NoError(t, cache.Health(context.Background()))
}

type fakeStore struct {
	store.MetadataStore
	anchors     map[string]string
	commitCalls int
}

func (f *fakeStore) GetAnchor(ctx context.Context, filter store.AnchorFilter) (string, bool, error) {
	anchor, ok := f.anchors[cacheKey(filter)]
	return anchor, ok, nil
}

func (f *fakeStore) CommitAnchor(ctx context.Context, filter store.AnchorFilter, anchor string) error {
	if f.anchors == nil {
		f.anchors = map[string]string{}
	}
	f.anchors[cacheKey(filter)] = anchor
	f.commitCalls++
	return nil
}

func (f *fakeStore) Close() error { return nil }

func TestCachedStore_GetAnchorFallsThroughOnMiss(t *testing.T) {
	cache, _ := setupTestCache(t)
	base := &fakeStore{anchors: map[string]string{}}
	cached := NewCachedStore(base, cache)
	ctx := context.Background()

	filter := store.AnchorFilter{Kind: "categories"}
	require.NoError(t, base.CommitAnchor(ctx, filter, "from-store"))

	anchor, ok, err := cached.GetAnchor(ctx, filter)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "from-store", anchor)

	cached2, err := cache.Get(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, "from-store", cached2)
}

func TestCachedStore_CommitAnchorWritesThrough(t *testing.T) {
	cache, _ := setupTestCache(t)
	base := &fakeStore{}
	cached := NewCachedStore(base, cache)
	ctx := context.Background()
	filter := store.AnchorFilter{Kind: "updates", Hash: "xyz"}

	require.NoError(t, cached.CommitAnchor(ctx, filter, "anchor-2"))
	require.Equal(t, 1, base.commitCalls)

	got, err := cache.Get(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, "anchor-2", got)
}

func TestCachedStore_Close(t *testing.T) {
	cache, _ := setupTestCache(t)
	base := &fakeStore{}
	cached := NewCachedStore(base, cache)
	require.NoError(t, cached.Close())

	err := cache.Health(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}
