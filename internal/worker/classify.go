package worker

import (
	"net/http"
	"net/url"
	"strings"
)

// Class 是请求的路由类别，每个类别对应一种缓存策略。
type Class string

const (
	// ClassBypass 不经过任何缓存逻辑，直接回源。
	ClassBypass Class = "bypass"
	// ClassNavigation 页面导航，network-first 写入 dynamic-content。
	ClassNavigation Class = "navigation"
	// ClassAppShell 清单内或静态资源，cache-first。
	ClassAppShell Class = "app-shell"
	// ClassAudioStream 音频流，network-first 写入 audio-stream。
	ClassAudioStream Class = "audio-stream"
	// ClassAPI API 调用，永不缓存。
	ClassAPI Class = "api"
	// ClassOther 其余 GET 请求，stale-while-revalidate。
	ClassOther Class = "other"
)

// Classes 按判定优先级列出全部可缓存类别。
func Classes() []Class {
	return []Class{ClassNavigation, ClassAppShell, ClassAudioStream, ClassAPI, ClassOther}
}

// Classifier 是纯函数式的请求分类器，只依赖不可变 Options。
type Classifier struct {
	origin        string
	manifest      map[string]struct{}
	assetHosts    map[string]struct{}
	bypassOrigins map[string]struct{}
	excludedPaths []string
	apiPrefix     string
	streamMarker  string
}

// NewClassifier 根据 Options 预计算查找表。
func NewClassifier(opts Options) Classifier {
	c := Classifier{
		origin:        originOf(opts.Origin),
		manifest:      make(map[string]struct{}, len(opts.Manifest)),
		assetHosts:    make(map[string]struct{}, len(opts.AssetHosts)),
		bypassOrigins: make(map[string]struct{}, len(opts.BypassOrigins)),
		excludedPaths: append([]string(nil), opts.ExcludedPaths...),
		apiPrefix:     opts.APIPrefix,
		streamMarker:  opts.StreamMarker,
	}
	for _, entry := range opts.Manifest {
		c.manifest[manifestKey(entry)] = struct{}{}
	}
	for _, host := range opts.AssetHosts {
		c.assetHosts[strings.ToLower(host)] = struct{}{}
	}
	for _, origin := range opts.BypassOrigins {
		c.bypassOrigins[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return c
}

// Classify 按固定优先级判定类别：bypass → navigation → app-shell → audio → api → other。
// 第一方静态 destination 仅在音频流与 API 判定之后生效，API 响应不会因 dest=image 之类被缓存。
func (c Classifier) Classify(req *http.Request) Class {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return ClassBypass
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return ClassBypass
	}
	origin := originOf(req.URL)
	if _, ok := c.bypassOrigins[origin]; ok {
		return ClassBypass
	}
	firstParty := origin == c.origin
	if firstParty && c.excluded(req.URL.Path) {
		return ClassBypass
	}

	switch {
	case IsNavigation(req):
		return ClassNavigation
	case c.InManifest(req.URL) || c.IsAssetHost(req.URL):
		return ClassAppShell
	case strings.Contains(req.URL.Path, c.streamMarker):
		return ClassAudioStream
	case strings.HasPrefix(req.URL.Path, c.apiPrefix):
		return ClassAPI
	case firstParty && isStaticDestination(Destination(req)):
		return ClassAppShell
	default:
		return ClassOther
	}
}

// IsFirstParty 报告 URL 是否与应用同源。
func (c Classifier) IsFirstParty(u *url.URL) bool {
	return originOf(u) == c.origin
}

// IsAssetHost 报告 URL 是否属于已知的第三方静态资源主机。
func (c Classifier) IsAssetHost(u *url.URL) bool {
	_, ok := c.assetHosts[strings.ToLower(u.Hostname())]
	return ok
}

// InManifest 报告 URL（忽略查询串）是否为预缓存清单条目。
func (c Classifier) InManifest(u *url.URL) bool {
	_, ok := c.manifest[manifestKey(u)]
	return ok
}

func (c Classifier) excluded(path string) bool {
	for _, prefix := range c.excludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func manifestKey(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return originOf(u) + path
}
