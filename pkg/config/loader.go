package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量前缀，例如 MV_DATABASE_HOST 覆盖 database.host
const EnvPrefix = "MV"

// Load 初始化 Viper 配置并解码成 Config
// cfgFile: 可选，用户显式指定的配置文件路径
// 使用全局 viper，命令行 flag 可以通过 viper.BindPFlag 覆盖任意键
func Load(cfgFile string) (*Config, error) {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录 -> ./.mv -> ~/.mv
		viper.AddConfigPath(".")
		viper.AddConfigPath(".mv")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".mv"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. 读取环境变量 (MV_DATABASE_HOST 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件；找不到文件不算错，格式错才算
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and env vars")
	} else {
		slog.Debug("using config file", slog.String("path", viper.ConfigFileUsed()))
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults 给每个键都设置默认值，AutomaticEnv 只对已知的键生效
func setDefaults() {
	// 数据库
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "metavault")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "metavault")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "")
	viper.SetDefault("database.log_sql", false)

	// 对象存储
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".mv", "objects"))

	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.bucket", "")
	viper.SetDefault("s3.access_key", "")
	viper.SetDefault("s3.secret_key", "")
	viper.SetDefault("s3.prefix", "")

	// 缓存
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.max_value_bytes", 64*1024)
	viper.SetDefault("cache.snapshot_entries", 256)

	// 服务端
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.metrics_addr", ":9090")
	viper.SetDefault("server.remote", "")

	viper.SetDefault("diff.key_field", "id")
	viper.SetDefault("user.name", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}
