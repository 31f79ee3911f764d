package worker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/audiox/audiox-cache/internal/config"
)

// 分区用途后缀，完整名称为 {prefix}{purpose}-v{version}。
const (
	purposeAppShell       = "app-shell"
	purposeStaticAssets   = "static-assets"
	purposeAudioStream    = "audio-stream"
	purposeDynamicContent = "dynamic-content"
)

// Options 是构造 Worker 所需的全部不可变配置。
type Options struct {
	Prefix               string
	Version              string
	Origin               *url.URL
	Manifest             []*url.URL
	AssetHosts           []string
	APIPrefix            string
	StreamMarker         string
	ExcludedPaths        []string
	BypassOrigins        []string
	SkipWaitingOnInstall bool
}

// OptionsFromConfig 将 [Cache] 配置转换为 Worker Options（假定 Validate 已经通过）。
func OptionsFromConfig(cfg config.CacheConfig) (Options, error) {
	origin := cfg.OriginURL()
	if origin == nil {
		return Options{}, fmt.Errorf("invalid origin %q", cfg.Origin)
	}
	manifest, err := cfg.ManifestURLs()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Prefix:               cfg.Prefix,
		Version:              cfg.Version,
		Origin:               origin,
		Manifest:             manifest,
		AssetHosts:           append([]string(nil), cfg.AssetHosts...),
		APIPrefix:            cfg.APIPrefix,
		StreamMarker:         cfg.StreamMarker,
		ExcludedPaths:        append([]string(nil), cfg.ExcludedPaths...),
		BypassOrigins:        append([]string(nil), cfg.BypassOrigins...),
		SkipWaitingOnInstall: cfg.SkipWaitingOnInstall,
	}, nil
}

func (o Options) validate() error {
	if o.Prefix == "" {
		return errors.New("partition prefix required")
	}
	if o.Version == "" {
		return errors.New("worker version required")
	}
	if o.Origin == nil || o.Origin.Host == "" {
		return errors.New("origin required")
	}
	if o.APIPrefix == "" || o.StreamMarker == "" {
		return errors.New("api prefix and stream marker required")
	}
	return nil
}

// PartitionNames 是当前版本拥有的四个分区名。
type PartitionNames struct {
	AppShell       string
	StaticAssets   string
	AudioStream    string
	DynamicContent string
}

// NamesFor 根据前缀和版本计算分区名。
func NamesFor(prefix, version string) PartitionNames {
	name := func(purpose string) string {
		return fmt.Sprintf("%s%s-v%s", prefix, purpose, version)
	}
	return PartitionNames{
		AppShell:       name(purposeAppShell),
		StaticAssets:   name(purposeStaticAssets),
		AudioStream:    name(purposeAudioStream),
		DynamicContent: name(purposeDynamicContent),
	}
}

// List 返回四个分区名。
func (n PartitionNames) List() []string {
	return []string{n.AppShell, n.StaticAssets, n.AudioStream, n.DynamicContent}
}

// Owns 报告 name 是否属于当前版本。
func (n PartitionNames) Owns(name string) bool {
	for _, current := range n.List() {
		if current == name {
			return true
		}
	}
	return false
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
