package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/audiox/audiox-cache/internal/config"
	"github.com/audiox/audiox-cache/internal/logging"
)

func newOriginServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>audiox</html>")
		case "/static/js/main.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = io.WriteString(w, "console.log('audiox')")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serviceConfig(origin, version string) string {
	return fmt.Sprintf(`
ListenPort = 5000
StorageBackend = "memory"
UpstreamTimeout = "5s"

[Cache]
Version = "%s"
Domain = "audiox.test"
Origin = "%s"
Manifest = ["/", "/static/js/main.js"]
`, version, origin)
}

func newTestService(t *testing.T, origin string) (*service, string) {
	t.Helper()
	path := writeConfigFile(t, serviceConfig(origin, "1"))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	svc, err := newService(context.Background(), cfg, path, logging.Discard())
	if err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.registration.Shutdown(ctx)
	})
	return svc, path
}

func TestServiceInstallsWorkerBeforeServing(t *testing.T) {
	origin := newOriginServer(t)
	svc, _ := newTestService(t, origin.URL)

	active := svc.registration.Active()
	if active == nil || active.Version() != "1" {
		t.Fatalf("启动后应存在 v1 活跃 worker，得到 %+v", active)
	}

	app, err := svc.buildApp()
	if err != nil {
		t.Fatalf("构建 app 失败: %v", err)
	}
	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "http://audiox.test/static/js/main.js", nil)
	req.Host = "audiox.test"
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "audiox") {
		t.Fatalf("源站下线后应命中预缓存，得到 %d %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/-/worker", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("诊断接口应可访问，得到 %d", resp.StatusCode)
	}
}

func TestServiceReloadInstallsNewVersion(t *testing.T) {
	origin := newOriginServer(t)
	svc, path := newTestService(t, origin.URL)
	ctx := context.Background()

	if err := svc.reload(ctx); err != nil {
		t.Fatalf("版本不变的 reload 不应失败: %v", err)
	}
	if got := svc.registration.Active().Version(); got != "1" {
		t.Fatalf("版本不变时不应切换 worker，得到 %s", got)
	}

	if err := os.WriteFile(path, []byte(serviceConfig(origin.URL, "2")), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	if err := svc.reload(ctx); err != nil {
		t.Fatalf("reload 失败: %v", err)
	}
	if got := svc.registration.Active().Version(); got != "2" {
		t.Fatalf("reload 后应激活 v2，得到 %s", got)
	}

	names, err := svc.caches.Names(ctx)
	if err != nil {
		t.Fatalf("列出分区失败: %v", err)
	}
	for _, name := range names {
		if strings.HasSuffix(name, "-v1") {
			t.Fatalf("旧版本分区应在激活时删除: %v", names)
		}
	}
}

func TestServiceReloadKeepsWorkerOnInvalidConfig(t *testing.T) {
	origin := newOriginServer(t)
	svc, path := newTestService(t, origin.URL)

	if err := os.WriteFile(path, []byte("[Cache]\nVersion = \"\"\n"), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	if err := svc.reload(context.Background()); err == nil {
		t.Fatalf("无效配置应返回错误")
	}
	if got := svc.registration.Active().Version(); got != "1" {
		t.Fatalf("无效配置不应影响当前 worker，得到 %s", got)
	}
}
