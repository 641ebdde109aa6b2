package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"metavault/pkg/config"
	"metavault/pkg/core"
	"metavault/pkg/engine"
	"metavault/pkg/meta"
	"metavault/pkg/metrics"
	"metavault/pkg/storage"
	"metavault/pkg/storage/cache"
	"metavault/pkg/storage/disk"
	"metavault/pkg/storage/s3"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务，服务端和 CLI 的本地模式共用
type App struct {
	Config   *config.Config
	DB       *meta.DB
	Store    storage.Store
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Logger   *slog.Logger

	closers []io.Closer
}

// New 是工厂函数，按配置组装元数据库、对象存储和版本引擎
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Logger: log}

	// 1. 元数据库
	db, err := meta.NewDB(ctx, meta.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		Path:     cfg.Database.Path,
		LogSQL:   cfg.Database.LogSQL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init metadata db: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db)

	// 2. 对象存储 (+ 可选的 Redis 缓存)
	store, err := initStore(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	// 3. 指标
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// 4. 版本引擎
	a.Engine, err = engine.New(meta.NewRepository(db), store,
		engine.WithKeying(core.Keying{Field: cfg.Diff.KeyField}),
		engine.WithSnapshotCache(cfg.Cache.SnapshotEntries),
		engine.WithMetrics(a.Metrics),
		engine.WithLogger(log),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Debug("app initialized",
		slog.String("db", cfg.Database.Driver),
		slog.String("storage", cfg.Storage.Type),
		slog.Bool("redis", cfg.Cache.RedisURL != ""),
	)
	return a, nil
}

// initStore 根据 storage.type 选择后端，配置了 redis 时再包一层缓存
func initStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Storage.Type {
	case config.StorageDisk:
		store, err = disk.NewAdapter(cfg.Storage.Path)
	case config.StorageS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		store, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			KeyPrefix:       cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	if cfg.Cache.RedisURL == "" {
		return store, nil
	}
	cached, err := cache.NewCachedStore(store, cache.Config{
		RedisURL:      cfg.Cache.RedisURL,
		TTL:           cfg.Cache.TTL,
		MaxValueBytes: cfg.Cache.MaxValueBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init storage cache: %w", err)
	}
	return cached, nil
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
