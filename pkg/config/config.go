// Package config 定义 metavault 的配置结构和加载逻辑
package config

import (
	"io"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config 对应 config.yaml 的完整结构
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	S3       S3Config       `mapstructure:"s3"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Diff     DiffConfig     `mapstructure:"diff"`
	User     UserConfig     `mapstructure:"user"`
	Log      LogConfig      `mapstructure:"log"`
}

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Storage.Type == StorageS3 {
		if err := c.S3.Validate(); err != nil {
			return err
		}
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path 仅 sqlite 使用
	Path   string `mapstructure:"path"`
	LogSQL bool   `mapstructure:"log_sql"`
}

func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverPostgres, DriverSQLite)),
		validation.Field(&c.Host, validation.When(c.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.Port, validation.When(c.Driver == DriverPostgres, validation.Required, validation.Min(1), validation.Max(65535))),
		validation.Field(&c.DBName, validation.When(c.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.Path, validation.When(c.Driver == DriverSQLite, validation.Required)),
	)
}

const (
	StorageDisk = "disk"
	StorageS3   = "s3"
)

type StorageConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required, validation.In(StorageDisk, StorageS3).Error("unsupported storage type")),
		validation.Field(&c.Path, validation.When(c.Type == StorageDisk, validation.Required)),
	)
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

func (c *S3Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required.Error("bucket is required")),
		validation.Field(&c.Region, validation.Required),
	)
}

// CacheConfig RedisURL 为空时不启用 Redis 缓存；SnapshotEntries 是进程内快照 LRU 的容量
type CacheConfig struct {
	RedisURL        string        `mapstructure:"redis_url"`
	TTL             time.Duration `mapstructure:"ttl"`
	MaxValueBytes   int           `mapstructure:"max_value_bytes"`
	SnapshotEntries int           `mapstructure:"snapshot_entries"`
}

func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxValueBytes, validation.Min(0)),
		validation.Field(&c.SnapshotEntries, validation.Min(1)),
	)
}

// ServerConfig Remote 非空时 mvctl 连接远端服务，否则在本进程内直接打开仓库
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Remote      string `mapstructure:"remote"`
}

func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required),
	)
}

type DiffConfig struct {
	// KeyField 是 keyed 数组用来识别元素的字段
	KeyField string `mapstructure:"key_field"`
}

type UserConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("text", "json")),
	)
}

// Logger 按配置构造 slog.Logger
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
