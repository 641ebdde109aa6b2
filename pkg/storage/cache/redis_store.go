package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"metavault/pkg/core"
	"metavault/pkg/storage"
	"metavault/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 缓存层
//
// 三类 Key:
//   - mv:has:<hash> 记录对象存在，用于去重
//   - mv:obj:<hash> 保存小对象的完整字节 (版本、快照通常只有几 KB)
//   - mv:del:<hash> 短期的删除标记，阻止回填
type CachedStore struct {
	backend  storage.Store
	client   *redis.Client
	ttl      time.Duration
	maxBytes int
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	// MaxValueBytes 不超过该大小的对象会整体缓存，0 表示只缓存存在性
	MaxValueBytes int
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend:  backend,
		client:   client,
		ttl:      cfg.TTL,
		maxBytes: cfg.MaxValueBytes,
	}, nil
}

func (s *CachedStore) hasKey(hash types.Hash) string { return "mv:has:" + string(hash) }
func (s *CachedStore) objKey(hash types.Hash) string { return "mv:obj:" + string(hash) }
func (s *CachedStore) delKey(hash types.Hash) string { return "mv:del:" + string(hash) }

// tombstoneTTL 要长于回填的超时时间
const (
	fillTimeout  = 2 * time.Second
	tombstoneTTL = 5 * fillTimeout
)

// fillScript 在没有删除标记时写入存在标记和 (可选的) 对象字节
// KEYS: has, obj, del; ARGV: ttl 毫秒, 对象字节
var fillScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
	return 0
end
local ttl = tonumber(ARGV[1])
local function put(key, value)
	if ttl > 0 then
		redis.call("SET", key, value, "PX", ttl)
	else
		redis.call("SET", key, value)
	end
end
put(KEYS[1], "1")
if #ARGV[2] > 0 then
	put(KEYS[2], ARGV[2])
end
return 1
`)

// fill 异步回填缓存，不阻塞主流程
// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
func (s *CachedStore) fill(hash types.Hash, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fillTimeout)
		defer cancel()
		if err := s.backfill(ctx, hash, data); err != nil {
			slog.Warn("redis cache fill failed", "hash", hash.Short(), "error", err)
		}
	}()
}

// backfill 与 Delete 并发时，删除标记保证不会写回过期的存在标记
func (s *CachedStore) backfill(ctx context.Context, hash types.Hash, data []byte) error {
	keys := []string{s.hasKey(hash), s.objKey(hash), s.delKey(hash)}
	return fillScript.Run(ctx, s.client, keys, s.ttl.Milliseconds(), data).Err()
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	val, err := s.client.Exists(ctx, s.hasKey(hash)).Result()
	if err != nil {
		// 缓存故障降级为无缓存模式，直接查底层存储
		slog.Warn("redis exists failed, falling back to backend", "hash", hash.Short(), "error", err)
	} else if val > 0 {
		return true, nil
	}

	found, err := s.backend.Has(ctx, hash)
	if err != nil {
		return false, err
	}
	if found {
		s.fill(hash, nil)
	}
	return found, nil
}

// Put 上传对象。利用 Has 的缓存能力进行预检。
func (s *CachedStore) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}

	// 只有底层写成功了，才写 Redis；这里的错误不影响主流程
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.delKey(obj.ID()))
	pipe.Set(ctx, s.hasKey(obj.ID()), "1", s.ttl)
	if data := obj.Bytes(); s.maxBytes > 0 && len(data) <= s.maxBytes {
		pipe.Set(ctx, s.objKey(obj.ID()), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis cache write failed", "hash", obj.ID().Short(), "error", err)
	}
	return nil
}

// Get 小对象直接从 Redis 返回，大对象透传
func (s *CachedStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	if s.maxBytes <= 0 {
		return s.backend.Get(ctx, hash)
	}

	data, err := s.client.Get(ctx, s.objKey(hash)).Bytes()
	switch {
	case err == nil:
		return io.NopCloser(bytes.NewReader(data)), nil
	case !errors.Is(err, redis.Nil):
		slog.Warn("redis get failed, falling back to backend", "hash", hash.Short(), "error", err)
	}

	rc, err := s.backend.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	// 多读一个字节判断是否超过上限
	head, err := io.ReadAll(io.LimitReader(rc, int64(s.maxBytes)+1))
	if err != nil {
		rc.Close()
		return nil, err
	}
	if len(head) <= s.maxBytes {
		rc.Close()
		s.fill(hash, head)
		return io.NopCloser(bytes.NewReader(head)), nil
	}
	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), rc), rc}, nil
}

// Delete 先写删除标记并清缓存，再删底层，删完再清一次
// 删除标记挡住删除前已经发起的异步回填
func (s *CachedStore) Delete(ctx context.Context, hash types.Hash) error {
	keys := []string{s.hasKey(hash), s.objKey(hash)}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.delKey(hash), "1", tombstoneTTL)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis delete failed", "hash", hash.Short(), "error", err)
	}
	if err := s.backend.Delete(ctx, hash); err != nil {
		return err
	}
	s.client.Del(ctx, keys...)
	return nil
}

// ExpandHash 透传
func (s *CachedStore) ExpandHash(ctx context.Context, short types.HashPrefix) (types.Hash, error) {
	return s.backend.ExpandHash(ctx, short)
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}
