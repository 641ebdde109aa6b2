package cache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metavault/pkg/core"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. SpyStore (间谍存储)
// 用于统计底层方法被调用的次数，验证请求是否穿透了缓存
// -----------------------------------------------------------------------------
type SpyStore struct {
	hasCount int32
	putCount int32
	getCount int32

	mu      sync.Mutex
	objects map[types.Hash][]byte
}

func NewSpyStore() *SpyStore {
	return &SpyStore{objects: make(map[types.Hash][]byte)}
}

func (s *SpyStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	atomic.AddInt32(&s.hasCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[hash]
	return ok, nil
}

func (s *SpyStore) Put(ctx context.Context, obj core.Object) error {
	atomic.AddInt32(&s.putCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID()] = obj.Bytes()
	return nil
}

func (s *SpyStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	atomic.AddInt32(&s.getCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *SpyStore) Delete(ctx context.Context, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[hash]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objects, hash)
	return nil
}

func (s *SpyStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	return "", storage.ErrNotFound
}

// -----------------------------------------------------------------------------
// 2. 测试
// -----------------------------------------------------------------------------

func setupCachedStore(t *testing.T, maxBytes int) (*CachedStore, *SpyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	spy := NewSpyStore()
	store, err := NewCachedStore(spy, Config{
		RedisURL:      "redis://" + mr.Addr(),
		TTL:           time.Hour,
		MaxValueBytes: maxBytes,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, spy, mr
}

func mustSnapshot(t *testing.T, raw string) *core.Snapshot {
	t.Helper()
	doc, err := core.ParseJSON([]byte(raw))
	require.NoError(t, err)
	snap, err := core.NewSnapshot(doc)
	require.NoError(t, err)
	return snap
}

func TestCachedStore_ExistenceCache(t *testing.T) {
	store, spy, mr := setupCachedStore(t, 0)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"id":"RE-001"}`)

	// --- Step 1: Cache Miss ---
	exists, err := store.Has(ctx, snap.ID())
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.hasCount), "Backend Has() should be called on miss")

	// --- Step 2: Put (Write-Through) ---
	require.NoError(t, store.Put(ctx, snap))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.putCount), "Backend Put() should be called")
	assert.True(t, mr.Exists(store.hasKey(snap.ID())), "Redis key should be set after Put")
	assert.False(t, mr.Exists(store.objKey(snap.ID())), "values are not cached when MaxValueBytes is 0")

	// --- Step 3: Cache Hit ---
	exists, err = store.Has(ctx, snap.ID())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.hasCount), "Backend Has() should NOT be called on hit")

	// --- Step 4: 重复 Put 被缓存拦截 ---
	require.NoError(t, store.Put(ctx, snap))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.putCount))
}

func TestCachedStore_ValueCache(t *testing.T) {
	store, spy, mr := setupCachedStore(t, 4096)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"id":"RE-001","analyses":[{"id":"AN01"}]}`)

	require.NoError(t, store.Put(ctx, snap))
	assert.True(t, mr.Exists(store.objKey(snap.ID())))

	loaded, err := storage.LoadSnapshot(ctx, store, snap.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.ID(), loaded.ID())
	assert.Zero(t, atomic.LoadInt32(&spy.getCount), "small objects are served from redis")

	// 缓存被清空后回源，并异步回填
	mr.FlushAll()
	_, err = storage.LoadSnapshot(ctx, store, snap.ID())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount))
	assert.Eventually(t, func() bool { return mr.Exists(store.objKey(snap.ID())) }, time.Second, 10*time.Millisecond)
}

func TestCachedStore_LargeObjectPassThrough(t *testing.T) {
	store, spy, mr := setupCachedStore(t, 8)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"description":"much longer than eight bytes"}`)

	require.NoError(t, store.Put(ctx, snap))
	assert.False(t, mr.Exists(store.objKey(snap.ID())))

	data, err := storage.ReadAll(ctx, store, snap.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.Bytes(), data, "the prefix read for the size check must not be lost")
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount))
}

func TestCachedStore_Delete(t *testing.T) {
	store, _, mr := setupCachedStore(t, 4096)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"a":1}`)

	require.NoError(t, store.Put(ctx, snap))
	require.NoError(t, store.Delete(ctx, snap.ID()))

	assert.False(t, mr.Exists(store.hasKey(snap.ID())))
	assert.False(t, mr.Exists(store.objKey(snap.ID())))

	exists, err := store.Has(ctx, snap.ID())
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, store.Delete(ctx, snap.ID()), storage.ErrNotFound)
}

func TestCachedStore_BackfillAfterDelete(t *testing.T) {
	store, spy, mr := setupCachedStore(t, 4096)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"a":2}`)

	require.NoError(t, store.Put(ctx, snap))
	require.NoError(t, store.Delete(ctx, snap.ID()))

	// 删除前发起的回填在删除之后才落地，不能写回存在标记
	require.NoError(t, store.backfill(ctx, snap.ID(), snap.Bytes()))
	assert.False(t, mr.Exists(store.hasKey(snap.ID())))
	assert.False(t, mr.Exists(store.objKey(snap.ID())))

	// 重新写入会清掉删除标记
	require.NoError(t, store.Put(ctx, snap))
	assert.Equal(t, int32(2), atomic.LoadInt32(&spy.putCount), "a deleted object must be written again")
	assert.False(t, mr.Exists(store.delKey(snap.ID())))
	assert.True(t, mr.Exists(store.hasKey(snap.ID())))

	mr.Del(store.hasKey(snap.ID()))
	require.NoError(t, store.backfill(ctx, snap.ID(), nil))
	assert.True(t, mr.Exists(store.hasKey(snap.ID())))
}

func TestCachedStore_RedisDownFallsBack(t *testing.T) {
	store, spy, mr := setupCachedStore(t, 4096)
	ctx := context.Background()
	snap := mustSnapshot(t, `{"a":1}`)
	require.NoError(t, spy.Put(ctx, snap))

	mr.Close()

	exists, err := store.Has(ctx, snap.ID())
	require.NoError(t, err)
	assert.True(t, exists, "redis failure degrades to the backend")

	data, err := storage.ReadAll(ctx, store, snap.ID())
	require.NoError(t, err)
	assert.Equal(t, snap.Bytes(), data)
}
