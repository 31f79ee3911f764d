package worker

import (
	"context"
	"net/http"
	"reflect"
	"testing"

	"github.com/audiox/audiox-cache/internal/cache"
)

func TestInstallPrecachesManifestAndSkipsFailures(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	serveManifest(net)
	net.set(testOrigin+"/static/css/main.css", http.StatusInternalServerError, "boom")
	w := newTestWorker(t, registry, net, testOptions("1"))

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("install should tolerate entry failures: %v", err)
	}
	if len(report.Stored) != len(testManifest)-1 {
		t.Fatalf("expected %d stored entries, got %v", len(testManifest)-1, report.Stored)
	}
	if _, ok := report.Failed[testOrigin+"/static/css/main.css"]; !ok {
		t.Fatalf("failed entry not reported: %v", report.Failed)
	}
	if w.State() != StateInstalled {
		t.Fatalf("expected installed state, got %s", w.State())
	}
	if !w.skipWaitingRequested() {
		t.Fatalf("install should request skip-waiting by default")
	}

	names := w.Partitions()
	ctx := context.Background()
	appShell, err := registry.Lookup(ctx, names.AppShell)
	if err != nil {
		t.Fatalf("app-shell partition missing: %v", err)
	}
	entries, _ := appShell.Entries(ctx)
	if len(entries) != 3 {
		t.Fatalf("expected 3 first-party entries in app-shell, got %d", len(entries))
	}
	static, err := registry.Lookup(ctx, names.StaticAssets)
	if err != nil {
		t.Fatalf("static partition missing: %v", err)
	}
	entries, _ = static.Entries(ctx)
	if len(entries) != 1 || entries[0].URL != testManifest[4] {
		t.Fatalf("third-party entry should land in static-assets: %+v", entries)
	}

	header := net.lastHeader(testManifest[4])
	if header.Get(HeaderFetchMode) != ModeCORS || header.Get("Origin") != testOrigin {
		t.Fatalf("cross-origin precache should use cors mode, got %v", header)
	}
}

func TestInstallFetchesEachEntryOnce(t *testing.T) {
	net := newFakeNetwork()
	serveManifest(net)
	w := newTestWorker(t, cache.NewMemoryRegistry(), net, testOptions("1"))
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, raw := range testManifest {
		if n := net.callCount(raw); n != 1 {
			t.Fatalf("%s fetched %d times", raw, n)
		}
	}
}

func TestInstallOfflineStillCompletes(t *testing.T) {
	net := newFakeNetwork()
	net.setOffline(true)
	opts := testOptions("1")
	opts.SkipWaitingOnInstall = false
	w := newTestWorker(t, cache.NewMemoryRegistry(), net, opts)

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(report.Failed) != len(testManifest) {
		t.Fatalf("every entry should fail offline: %v", report.Failed)
	}
	if w.skipWaitingRequested() {
		t.Fatalf("skip-waiting must respect configuration")
	}
}

func TestActivateDeletesOnlyStaleOwnedPartitions(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	ctx := context.Background()
	for _, name := range []string{
		"audiox-app-shell-v1",
		"audiox-dynamic-content-v1",
		"audiox-app-shell-v2",
		"audiobook-downloads",
		"user-playlists",
	} {
		if _, err := registry.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	w := newTestWorker(t, registry, newFakeNetwork(), testOptions("2"))
	report, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if want := []string{"audiox-app-shell-v1", "audiox-dynamic-content-v1"}; !reflect.DeepEqual(report.Deleted, want) {
		t.Fatalf("expected %v deleted, got %v", want, report.Deleted)
	}

	names, err := registry.Names(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if want := []string{"audiobook-downloads", "audiox-app-shell-v2", "user-playlists"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected survivors %v", names)
	}
	if w.State() != StateActivated {
		t.Fatalf("expected activated state, got %s", w.State())
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	ctx := context.Background()
	if _, err := registry.Open(ctx, "audiox-audio-stream-v1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	w := newTestWorker(t, registry, newFakeNetwork(), testOptions("2"))
	if _, err := w.Activate(ctx); err != nil {
		t.Fatalf("first activate: %v", err)
	}
	report, err := w.Activate(ctx)
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if len(report.Deleted) != 0 {
		t.Fatalf("second activate should delete nothing: %v", report.Deleted)
	}
}
