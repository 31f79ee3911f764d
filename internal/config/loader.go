package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLegacyCacheName(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageBackend == StorageBackendDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", StorageBackendDisk)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("Cache.Prefix", "audiox-")
	v.SetDefault("Cache.APIPrefix", "/api/")
	v.SetDefault("Cache.StreamMarker", "/stream/")
	v.SetDefault("Cache.SkipWaitingOnInstall", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.StorageBackend) == "" {
		g.StorageBackend = StorageBackendDisk
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	c.Prefix = strings.TrimSpace(c.Prefix)
	c.Version = strings.TrimPrefix(strings.TrimSpace(c.Version), "v")
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	c.Origin = strings.TrimRight(strings.TrimSpace(c.Origin), "/")
	if c.Domain == "" {
		if origin := c.OriginURL(); origin != nil {
			c.Domain = strings.ToLower(origin.Hostname())
		}
	}
	for i, host := range c.AssetHosts {
		c.AssetHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
	for i, origin := range c.BypassOrigins {
		c.BypassOrigins[i] = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectLegacyCacheName 拒绝旧版单缓存写法（CacheName = "audiox-v1"），
// 该写法无法区分分区，激活阶段会误删外部缓存。
func rejectLegacyCacheName(v *viper.Viper) error {
	if v.IsSet("CacheName") || v.IsSet("Cache.Name") {
		return newFieldError("Cache.Name", "字段已弃用，请改用 Cache.Prefix + Cache.Version")
	}
	return nil
}
