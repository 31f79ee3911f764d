package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/audiox/audiox-cache/internal/config"
)

// HostRoute 描述一个被代理的 Host 及其回源地址，请求 URL 会按 Upstream 重建，
// 以便 worker 依据真实来源（第一方/第三方）分类。
type HostRoute struct {
	// Host 是客户端请求的 Host（不含端口，小写）。
	Host string
	// Upstream 是该 Host 对应的源站 scheme://host。
	Upstream *url.URL
	// FirstParty 标记应用自身所在的源站。
	FirstParty bool
	// ListenPort 记录当前监听端口，方便日志输出。
	ListenPort int
}

// HostRegistry 提供 Host/Host:port 到 HostRoute 的查询能力，所有 Host 共享同一个监听端口。
type HostRegistry struct {
	routes  map[string]*HostRoute
	ordered []*HostRoute
}

// NewHostRegistry 根据配置构建 Host 映射：Cache.Domain 指向 Cache.Origin，
// 每个 AssetHost 指向 https://<host>。
func NewHostRegistry(cfg *config.Config) (*HostRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	origin := cfg.Cache.OriginURL()
	if origin == nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Cache.Origin)
	}

	registry := &HostRegistry{
		routes: make(map[string]*HostRoute, len(cfg.Cache.AssetHosts)+1),
	}
	if err := registry.add(cfg.Cache.Domain, origin, true, cfg.Global.ListenPort); err != nil {
		return nil, err
	}
	for _, host := range cfg.Cache.AssetHosts {
		upstream := &url.URL{Scheme: "https", Host: host}
		if err := registry.add(host, upstream, false, cfg.Global.ListenPort); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *HostRegistry) add(domain string, upstream *url.URL, firstParty bool, port int) error {
	normalizedHost := normalizeDomain(domain)
	if normalizedHost == "" {
		return fmt.Errorf("invalid domain %q", domain)
	}
	if _, exists := r.routes[normalizedHost]; exists {
		return fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
	}
	route := &HostRoute{
		Host:       normalizedHost,
		Upstream:   upstream,
		FirstParty: firstParty,
		ListenPort: port,
	}
	r.routes[normalizedHost] = route
	r.ordered = append(r.ordered, route)
	return nil
}

// Lookup 根据 Host 或 Host:port 查找 HostRoute。
func (r *HostRegistry) Lookup(host string) (*HostRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回当前注册的 HostRoute 列表（第一方在前，其余按配置顺序），用于 /-/worker 输出。
func (r *HostRegistry) List() []HostRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]HostRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
