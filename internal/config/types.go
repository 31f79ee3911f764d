package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

const (
	// StorageBackendDisk 将缓存分区落盘到 StoragePath/<partition>/。
	StorageBackendDisk = "disk"
	// StorageBackendMemory 使用进程内缓存，重启即丢失。
	StorageBackendMemory = "memory"
)

// GlobalConfig 描述进程级运行参数，与缓存语义无关。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// CacheConfig 对应 [Cache] 表：分区命名、预缓存清单与路由判定所需的路径/域名。
// 这些值需要与源站路由表保持同步，因此全部来自配置而非代码。
type CacheConfig struct {
	Prefix               string   `mapstructure:"Prefix"`
	Version              string   `mapstructure:"Version"`
	Domain               string   `mapstructure:"Domain"`
	Origin               string   `mapstructure:"Origin"`
	Manifest             []string `mapstructure:"Manifest"`
	AssetHosts           []string `mapstructure:"AssetHosts"`
	APIPrefix            string   `mapstructure:"APIPrefix"`
	StreamMarker         string   `mapstructure:"StreamMarker"`
	ExcludedPaths        []string `mapstructure:"ExcludedPaths"`
	BypassOrigins        []string `mapstructure:"BypassOrigins"`
	SkipWaitingOnInstall bool     `mapstructure:"SkipWaitingOnInstall"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}

// OriginURL 返回解析后的第一方源站地址（假定 Validate 已经通过）。
func (c CacheConfig) OriginURL() *url.URL {
	parsed, err := url.Parse(c.Origin)
	if err != nil {
		return nil
	}
	return parsed
}

// ManifestURLs 将清单条目解析为绝对地址，相对路径基于 Origin。
func (c CacheConfig) ManifestURLs() ([]*url.URL, error) {
	base := c.OriginURL()
	if base == nil {
		return nil, newFieldError("Cache.Origin", "无法解析")
	}
	result := make([]*url.URL, 0, len(c.Manifest))
	for i, raw := range c.Manifest {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, newFieldError(fmt.Sprintf("Cache.Manifest[%d]", i), err.Error())
		}
		result = append(result, base.ResolveReference(ref))
	}
	return result, nil
}

// Summary 输出便于启动日志打印的缓存配置摘要。
func (c CacheConfig) Summary() map[string]interface{} {
	return map[string]interface{}{
		"prefix":      c.Prefix,
		"version":     c.Version,
		"origin":      c.Origin,
		"manifest":    len(c.Manifest),
		"asset_hosts": len(c.AssetHosts),
	}
}
