package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	StorageBackendDisk:   {},
	StorageBackendMemory: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 disk|memory")
	}
	if g.StorageBackend == StorageBackendDisk && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	return c.Cache.validate()
}

func (c *CacheConfig) validate() error {
	if c.Prefix == "" {
		return newFieldError("Cache.Prefix", "不能为空")
	}
	if strings.ContainsAny(c.Prefix, `/\ `) {
		return newFieldError("Cache.Prefix", "不允许包含路径分隔符或空格")
	}
	if c.Version == "" {
		return newFieldError("Cache.Version", "不能为空")
	}
	if strings.ContainsAny(c.Version, `/\ `) {
		return newFieldError("Cache.Version", "不允许包含路径分隔符或空格")
	}
	if err := validateOrigin(c.Origin); err != nil {
		return fmt.Errorf("Cache.Origin: %w", err)
	}
	if err := validateDomain(c.Domain); err != nil {
		return fmt.Errorf("Cache.Domain: %w", err)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return newFieldError("Cache.APIPrefix", "必须以 / 开头")
	}
	if strings.TrimSpace(c.StreamMarker) == "" {
		return newFieldError("Cache.StreamMarker", "不能为空")
	}

	seenHosts := map[string]struct{}{}
	for i, host := range c.AssetHosts {
		if err := validateDomain(host); err != nil {
			return fmt.Errorf("%s: %w", listField("Cache.AssetHosts", i), err)
		}
		if host == c.Domain {
			return newFieldError(listField("Cache.AssetHosts", i), "不能与 Cache.Domain 相同")
		}
		if _, exists := seenHosts[host]; exists {
			return newFieldError(listField("Cache.AssetHosts", i), "重复")
		}
		seenHosts[host] = struct{}{}
	}
	for i, raw := range c.BypassOrigins {
		if err := validateOrigin(raw); err != nil {
			return fmt.Errorf("%s: %w", listField("Cache.BypassOrigins", i), err)
		}
	}
	for i, p := range c.ExcludedPaths {
		if !strings.HasPrefix(p, "/") {
			return newFieldError(listField("Cache.ExcludedPaths", i), "必须以 / 开头")
		}
	}

	manifest, err := c.ManifestURLs()
	if err != nil {
		return err
	}
	origin := c.OriginURL()
	for i, entry := range manifest {
		if entry.Scheme != "http" && entry.Scheme != "https" {
			return newFieldError(listField("Cache.Manifest", i), "仅支持 http/https")
		}
		host := strings.ToLower(entry.Hostname())
		if entry.Host == origin.Host {
			continue
		}
		if _, ok := seenHosts[host]; !ok {
			return newFieldError(listField("Cache.Manifest", i), fmt.Sprintf("第三方主机 %s 未在 Cache.AssetHosts 中声明", host))
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不允许包含路径: %s", raw)
	}
	return nil
}
