// Package metrics exposes prometheus collectors for the caching worker:
// per-class request outcomes, precache failures and partition cleanup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder 是 worker 依赖的最小观测接口，nil Collector 亦可安全调用。
type Recorder interface {
	ObserveRequest(class, outcome string)
	ObservePrecache(partition string, ok bool)
	ObservePartitionDeleted(name string)
}

// Collector 聚合全部指标，并持有独立的 prometheus.Registry，避免污染全局默认注册表。
type Collector struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	precache         *prometheus.CounterVec
	partitionDeletes prometheus.Counter
}

// NewCollector 创建并注册全部指标。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiox_cache",
			Name:      "requests_total",
			Help:      "Intercepted requests by routing class and outcome.",
		}, []string{"class", "outcome"}),
		precache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audiox_cache",
			Name:      "precache_entries_total",
			Help:      "Install-time manifest fetches by target partition and result.",
		}, []string{"partition", "result"}),
		partitionDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audiox_cache",
			Name:      "partitions_deleted_total",
			Help:      "Stale cache partitions removed during activation.",
		}),
	}
	c.registry.MustRegister(c.requests, c.precache, c.partitionDeletes)
	return c
}

// Registry 返回用于暴露 /-/metrics 的 Gatherer。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest 记录一次请求的路由类别与结果（hit/miss/network/offline/error/bypass）。
func (c *Collector) ObserveRequest(class, outcome string) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(class, outcome).Inc()
}

// ObservePrecache 记录一次清单条目的预缓存结果。
func (c *Collector) ObservePrecache(partition string, ok bool) {
	if c == nil {
		return
	}
	result := "stored"
	if !ok {
		result = "failed"
	}
	c.precache.WithLabelValues(partition, result).Inc()
}

// ObservePartitionDeleted 记录一次过期分区清理。
func (c *Collector) ObservePartitionDeleted(string) {
	if c == nil {
		return
	}
	c.partitionDeletes.Inc()
}

// Nop 返回丢弃全部观测的 Recorder。
func Nop() Recorder {
	return (*Collector)(nil)
}
