package config

import (
	"testing"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageBackend != StorageBackendDisk {
		t.Fatalf("默认应使用磁盘存储，得到 %s", cfg.Global.StorageBackend)
	}
	if cfg.Global.ShutdownTimeout.DurationValue() == 0 {
		t.Fatalf("ShutdownTimeout 应该自动填充默认值")
	}
	if cfg.Cache.Domain != "audiox.example" {
		t.Fatalf("Domain 应从 Origin 推导，得到 %s", cfg.Cache.Domain)
	}
	if !cfg.Cache.SkipWaitingOnInstall {
		t.Fatalf("SkipWaitingOnInstall 默认应为 true")
	}
	if len(cfg.Cache.Manifest) != 6 {
		t.Fatalf("清单条目数量不符: %d", len(cfg.Cache.Manifest))
	}
}

func TestManifestURLsResolveAgainstOrigin(t *testing.T) {
	cfg := validConfig()
	urls, err := cfg.Cache.ManifestURLs()
	if err != nil {
		t.Fatalf("解析清单失败: %v", err)
	}
	if urls[1].String() != "https://audiox.example/static/css/main.css" {
		t.Fatalf("相对路径应基于 Origin 解析，得到 %s", urls[1])
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsUndeclaredThirdPartyManifestEntry(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Manifest = append(cfg.Cache.Manifest, "https://unpkg.com/lib.js")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未声明的第三方主机应当报错")
	}
}

func TestValidateCacheFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty prefix", func(c *Config) { c.Cache.Prefix = "" }, true},
		{"prefix with slash", func(c *Config) { c.Cache.Prefix = "audiox/" }, true},
		{"empty version", func(c *Config) { c.Cache.Version = "" }, true},
		{"origin with path", func(c *Config) { c.Cache.Origin = "https://audiox.example/app" }, true},
		{"ftp origin", func(c *Config) { c.Cache.Origin = "ftp://audiox.example" }, true},
		{"api prefix without slash", func(c *Config) { c.Cache.APIPrefix = "api/" }, true},
		{"empty stream marker", func(c *Config) { c.Cache.StreamMarker = " " }, true},
		{"asset host equals domain", func(c *Config) { c.Cache.AssetHosts = []string{"audiox.example"} }, true},
		{"duplicate asset host", func(c *Config) { c.Cache.AssetHosts = []string{"cdn.jsdelivr.net", "cdn.jsdelivr.net"} }, true},
		{"bad bypass origin", func(c *Config) { c.Cache.BypassOrigins = []string{"js.stripe.com"} }, true},
		{"relative excluded path", func(c *Config) { c.Cache.ExcludedPaths = []string{"admin"} }, true},
		{"unknown backend", func(c *Config) { c.Global.StorageBackend = "redis" }, true},
		{"memory backend without path", func(c *Config) {
			c.Global.StorageBackend = StorageBackendMemory
			c.Global.StoragePath = ""
		}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("期望错误，但得到 nil")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("不应报错: %v", err)
			}
		})
	}
}
