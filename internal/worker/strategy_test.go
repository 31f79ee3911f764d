package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/fetch"
)

func TestNavigationNetworkFirstFallsBackToCache(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	net.set(testOrigin+"/library", http.StatusOK, "<html>library v1</html>")
	w := newTestWorker(t, registry, net, testOptions("1"))

	if body := readBody(t, mustHandle(t, w, navRequest(testOrigin+"/library"))); body != "<html>library v1</html>" {
		t.Fatalf("unexpected online body: %s", body)
	}

	net.setOffline(true)
	resp := mustHandle(t, w, navRequest(testOrigin+"/library"))
	if resp.Header.Get(cache.HeaderStoredAt) == "" {
		t.Fatalf("offline navigation should be served from cache")
	}
	if body := readBody(t, resp); body != "<html>library v1</html>" {
		t.Fatalf("unexpected cached body: %s", body)
	}

	resp = mustHandle(t, w, navRequest(testOrigin+"/never-visited"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected synthesized 404, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderOffline) != "1" {
		t.Fatalf("offline marker missing")
	}
	if !strings.Contains(readBody(t, resp), "offline") {
		t.Fatalf("offline page should explain the failure")
	}
}

func TestNavigationDoesNotCacheErrorStatus(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	net.set(testOrigin+"/broken", http.StatusInternalServerError, "boom")
	w := newTestWorker(t, registry, net, testOptions("1"))

	resp := mustHandle(t, w, navRequest(testOrigin+"/broken"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error status should pass through, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	_, err := registry.Match(context.Background(), navRequest(testOrigin+"/broken"), cache.MatchOptions{})
	if !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("500 must not be cached, got %v", err)
	}
}

func TestAppShellServedOfflineIgnoringQuery(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	serveManifest(net)
	w := newTestWorker(t, registry, net, testOptions("1"))
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	net.setOffline(true)
	resp := mustHandle(t, w, subresourceRequest(testOrigin+"/static/js/main.js?v=123", "script"))
	if body := readBody(t, resp); body != "precached "+testOrigin+"/static/js/main.js" {
		t.Fatalf("unexpected precached body: %s", body)
	}

	resp = mustHandle(t, w, subresourceRequest("https://cdn.jsdelivr.net/npm/howler@2.2.3/dist/howler.min.js", "script"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("third-party asset should be served from static partition, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAppShellMissStoresAndPropagatesNetworkFailure(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	logo := testOrigin + "/static/img/logo.png"
	net.set(logo, http.StatusOK, "png")
	w := newTestWorker(t, registry, net, testOptions("1"))

	readBody(t, mustHandle(t, w, subresourceRequest(logo, "image")))
	readBody(t, mustHandle(t, w, subresourceRequest(logo, "image")))
	if n := net.callCount(logo); n != 1 {
		t.Fatalf("second request should hit cache, network called %d times", n)
	}
	names := NamesFor("audiox-", "1")
	if _, err := registry.Match(context.Background(), subresourceRequest(logo, "image"), cache.MatchOptions{Partition: names.StaticAssets}); err != nil {
		t.Fatalf("first-party static asset should land in static-assets: %v", err)
	}

	net.setOffline(true)
	_, err := w.Handle(context.Background(), subresourceRequest(testOrigin+"/static/img/banner.png", "image"))
	if !errors.Is(err, fetch.ErrNetwork) {
		t.Fatalf("expected network error to propagate, got %v", err)
	}
}

func TestAudioOnlyCachesCompleteResponses(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	track := testOrigin + "/stream/book-7/chapter-1.mp3"
	net.set(track, http.StatusPartialContent, "0123")
	w := newTestWorker(t, registry, net, testOptions("1"))

	resp := mustHandle(t, w, subresourceRequest(track, "audio"))
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("206 should pass through, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	net.setOffline(true)
	resp = mustHandle(t, w, subresourceRequest(track, "audio"))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected synthesized 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json body, got %s", ct)
	}
	if body := readBody(t, resp); !strings.Contains(body, `"error":"offline"`) {
		t.Fatalf("unexpected offline audio body: %s", body)
	}

	net.setOffline(false)
	net.set(track, http.StatusOK, "full-track")
	readBody(t, mustHandle(t, w, subresourceRequest(track, "audio")))

	net.setOffline(true)
	if body := readBody(t, mustHandle(t, w, subresourceRequest(track, "audio"))); body != "full-track" {
		t.Fatalf("expected cached full track, got %s", body)
	}
}

func TestAPINeverCached(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	api := testOrigin + "/api/books"
	net.set(api, http.StatusOK, `{"books":[]}`)
	w := newTestWorker(t, registry, net, testOptions("1"))

	readBody(t, mustHandle(t, w, subresourceRequest(api, "")))
	names, err := registry.Names(context.Background())
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("api responses must not create partitions: %v", names)
	}

	net.setOffline(true)
	if _, err := w.Handle(context.Background(), subresourceRequest(api, "")); !errors.Is(err, fetch.ErrNetwork) {
		t.Fatalf("expected api network failure to surface, got %v", err)
	}
}

func TestAPIWithStaticDestinationNeverCached(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	avatar := testOrigin + "/api/users/7/avatar"
	net.set(avatar, http.StatusOK, "avatar-v1")
	w := newTestWorker(t, registry, net, testOptions("1"))

	if body := readBody(t, mustHandle(t, w, subresourceRequest(avatar, "image"))); body != "avatar-v1" {
		t.Fatalf("unexpected first body: %s", body)
	}
	net.set(avatar, http.StatusOK, "avatar-v2")
	if body := readBody(t, mustHandle(t, w, subresourceRequest(avatar, "image"))); body != "avatar-v2" {
		t.Fatalf("api image must come from the network, got %s", body)
	}
	if calls := net.callCount(avatar); calls != 2 {
		t.Fatalf("expected 2 network calls, got %d", calls)
	}

	names, err := registry.Names(context.Background())
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("api responses must not create partitions: %v", names)
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	cover := testOrigin + "/covers/42.json"
	net.set(cover, http.StatusOK, "v1")
	w := newTestWorker(t, registry, net, testOptions("1"))

	if body := readBody(t, mustHandle(t, w, subresourceRequest(cover, ""))); body != "v1" {
		t.Fatalf("miss should wait for network, got %s", body)
	}

	net.set(cover, http.StatusOK, "v2")
	if body := readBody(t, mustHandle(t, w, subresourceRequest(cover, ""))); body != "v1" {
		t.Fatalf("expected stale payload, got %s", body)
	}
	waitIdle(t, w)

	if body := readBody(t, mustHandle(t, w, subresourceRequest(cover, ""))); body != "v2" {
		t.Fatalf("expected revalidated payload, got %s", body)
	}
	waitIdle(t, w)
}

func TestStaleWhileRevalidateOfflineMiss(t *testing.T) {
	net := newFakeNetwork()
	net.setOffline(true)
	w := newTestWorker(t, cache.NewMemoryRegistry(), net, testOptions("1"))

	resp := mustHandle(t, w, subresourceRequest(testOrigin+"/covers/missing.json", ""))
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("expected synthesized 408, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRevalidationOutlivesCallerContext(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	cover := testOrigin + "/covers/7.json"
	net.set(cover, http.StatusOK, "old")
	w := newTestWorker(t, registry, net, testOptions("1"))
	readBody(t, mustHandle(t, w, subresourceRequest(cover, "")))

	net.set(cover, http.StatusOK, "new")
	release := net.hold()
	ctx, cancel := context.WithCancel(context.Background())
	resp, err := w.Handle(ctx, subresourceRequest(cover, ""))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	readBody(t, resp)
	cancel()

	if w.Pending() == 0 {
		t.Fatalf("background revalidation should keep the worker busy")
	}
	release()
	waitIdle(t, w)

	net.setOffline(true)
	if body := readBody(t, mustHandle(t, w, subresourceRequest(cover, ""))); body != "new" {
		t.Fatalf("revalidation should complete after caller cancel, got %s", body)
	}
	waitIdle(t, w)
}

func TestWaitHonoursDeadline(t *testing.T) {
	net := newFakeNetwork()
	cover := testOrigin + "/covers/9.json"
	net.set(cover, http.StatusOK, "x")
	w := newTestWorker(t, cache.NewMemoryRegistry(), net, testOptions("1"))
	readBody(t, mustHandle(t, w, subresourceRequest(cover, "")))

	release := net.hold()
	defer func() {
		release()
		waitIdle(t, w)
	}()
	readBody(t, mustHandle(t, w, subresourceRequest(cover, "")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error while revalidation is pending, got %v", err)
	}
}

func TestBypassNeverTouchesCache(t *testing.T) {
	registry := cache.NewMemoryRegistry()
	net := newFakeNetwork()
	net.set(testOrigin+"/admin/users", http.StatusOK, "admin")
	w := newTestWorker(t, registry, net, testOptions("1"))

	post := httptest.NewRequest(http.MethodPost, testOrigin+"/api/login", strings.NewReader("user=a"))
	resp := mustHandle(t, w, post)
	resp.Body.Close()
	readBody(t, mustHandle(t, w, navRequest(testOrigin+"/admin/users")))

	names, err := registry.Names(context.Background())
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("bypassed requests must not touch the cache: %v", names)
	}
	if net.callCount(testOrigin+"/api/login") != 1 {
		t.Fatalf("bypassed request should still reach the network")
	}
}

func TestRedundantWorkerRejectsRequests(t *testing.T) {
	w := newTestWorker(t, cache.NewMemoryRegistry(), newFakeNetwork(), testOptions("1"))
	w.markRedundant()
	if _, err := w.Handle(context.Background(), navRequest(testOrigin+"/")); !errors.Is(err, ErrRedundant) {
		t.Fatalf("expected ErrRedundant, got %v", err)
	}
}
