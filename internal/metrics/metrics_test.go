package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsRequests(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("navigation", "network")
	c.ObserveRequest("navigation", "network")
	c.ObserveRequest("audio-stream", "offline")

	if got := testutil.ToFloat64(c.requests.WithLabelValues("navigation", "network")); got != 2 {
		t.Fatalf("expected 2 navigation requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.requests.WithLabelValues("audio-stream", "offline")); got != 1 {
		t.Fatalf("expected 1 offline audio request, got %v", got)
	}
}

func TestCollectorPrecacheAndDeletes(t *testing.T) {
	c := NewCollector()
	c.ObservePrecache("audiox-app-shell-v3", true)
	c.ObservePrecache("audiox-app-shell-v3", false)
	c.ObservePartitionDeleted("audiox-app-shell-v2")

	if got := testutil.ToFloat64(c.precache.WithLabelValues("audiox-app-shell-v3", "failed")); got != 1 {
		t.Fatalf("expected 1 failed precache, got %v", got)
	}
	if got := testutil.ToFloat64(c.partitionDeletes); got != 1 {
		t.Fatalf("expected 1 deleted partition, got %v", got)
	}
	if n, err := testutil.GatherAndCount(c.Registry()); err != nil || n == 0 {
		t.Fatalf("registry should expose metrics, n=%d err=%v", n, err)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveRequest("other", "hit")
	c.ObservePrecache("x", true)
	c.ObservePartitionDeleted("x")
	if c.Registry() != nil {
		t.Fatalf("nil collector should have nil registry")
	}
}
