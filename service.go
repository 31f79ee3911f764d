package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/config"
	"github.com/audiox/audiox-cache/internal/fetch"
	"github.com/audiox/audiox-cache/internal/logging"
	"github.com/audiox/audiox-cache/internal/metrics"
	"github.com/audiox/audiox-cache/internal/proxy"
	"github.com/audiox/audiox-cache/internal/server"
	"github.com/audiox/audiox-cache/internal/server/routes"
	"github.com/audiox/audiox-cache/internal/worker"
)

// service 持有进程内共享的缓存后端、回源客户端、指标与 worker 注册表。
type service struct {
	configPath   string
	logger       *logrus.Logger
	caches       *cache.Registry
	fetcher      fetch.Fetcher
	metrics      *metrics.Collector
	registration *worker.Registration
	hosts        *server.HostRegistry

	mu  sync.Mutex
	cfg *config.Config
}

func newService(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*service, error) {
	caches, err := openCaches(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存后端失败: %w", err)
	}
	hosts, err := server.NewHostRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Host 注册表失败: %w", err)
	}

	svc := &service{
		configPath:   configPath,
		logger:       logger,
		caches:       caches,
		fetcher:      fetch.New(fetch.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue())),
		metrics:      metrics.NewCollector(),
		registration: worker.NewRegistration(worker.RegistrationOptions{Logger: logger}),
		hosts:        hosts,
		cfg:          cfg,
	}
	if err := svc.install(ctx, cfg.Cache); err != nil {
		return nil, err
	}
	return svc, nil
}

// openCaches 按 StorageBackend 选择磁盘或进程内缓存。
func openCaches(global config.GlobalConfig) (*cache.Registry, error) {
	switch global.StorageBackend {
	case config.StorageBackendMemory:
		return cache.NewMemoryRegistry(), nil
	default:
		return cache.NewDiskRegistry(global.StoragePath)
	}
}

// install 为给定缓存配置构造新版本 worker 并交给 Registration 安装/激活。
func (s *service) install(ctx context.Context, cacheCfg config.CacheConfig) error {
	opts, err := worker.OptionsFromConfig(cacheCfg)
	if err != nil {
		return err
	}
	w, err := worker.New(opts, worker.Deps{
		Caches:  s.caches,
		Fetcher: s.fetcher,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return err
	}
	return s.registration.Register(ctx, w)
}

// reload 重新读取配置；Cache.Version 变化时安装新版本 worker。
// Host 映射与全局参数需要重启才能生效。
func (s *service) reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("reload", s.configPath)
	if next.Cache.Domain != s.cfg.Cache.Domain || next.Cache.Origin != s.cfg.Cache.Origin || next.Global != s.cfg.Global {
		s.logger.WithFields(fields).Warn("reload_requires_restart")
	}
	if next.Cache.Version == s.cfg.Cache.Version {
		fields["version"] = next.Cache.Version
		s.logger.WithFields(fields).Info("reload_version_unchanged")
		return nil
	}
	if next.Cache.Prefix != s.cfg.Cache.Prefix {
		// 换前缀后旧分区不再被 activate 清理，需要人工处理。
		fields["previous_prefix"] = s.cfg.Cache.Prefix
		s.logger.WithFields(fields).Warn("reload_prefix_changed")
	}

	if err := s.install(ctx, next.Cache); err != nil {
		return err
	}
	previous := s.cfg.Cache.Version
	s.cfg.Cache = next.Cache
	fields["version"] = next.Cache.Version
	fields["previous_version"] = previous
	s.logger.WithFields(fields).Info("reload_worker_installed")
	return nil
}

func (s *service) buildApp() (*fiber.App, error) {
	handler := proxy.NewHandler(s.registration, s.logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:      s.logger,
		Registry:    s.hosts,
		Proxy:       proxy.NewForwarder(handler, s.logger),
		ListenPort:  s.cfg.Global.ListenPort,
		Diagnostics: func(router fiber.Router) {
			routes.RegisterDiagnosticsRoutes(router, routes.Diagnostics{
				Caches:       s.caches,
				Registration: s.registration,
				Hosts:        s.hosts,
				Gatherer:     s.metrics.Registry(),
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// serve 启动 Fiber，直到 ctx 结束；reload 收到信号时重新加载配置。
// 退出时先停止接收请求，再等待 worker 的后台回源完成。
func (s *service) serve(ctx context.Context, reload <-chan os.Signal) error {
	app, err := s.buildApp()
	if err != nil {
		return err
	}
	port := s.cfg.Global.ListenPort

	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	for {
		select {
		case err := <-listenErr:
			return err
		case <-reload:
			go func() {
				if err := s.reload(ctx); err != nil {
					s.logger.WithFields(logging.BaseFields("reload", s.configPath)).
						WithError(err).Error("reload_failed")
				}
			}()
		case <-ctx.Done():
			return s.shutdown(app)
		}
	}
}

func (s *service) shutdown(app *fiber.App) error {
	timeout := s.cfg.Global.ShutdownTimeout.DurationValue()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fields := logrus.Fields{"action": "shutdown", "timeout": timeout.String()}
	if err := app.ShutdownWithContext(ctx); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("http_shutdown_failed")
	}
	if err := s.registration.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.WithFields(fields).Warn("worker_pending_work_abandoned")
			return nil
		}
		return err
	}
	s.logger.WithFields(fields).Info("shutdown_complete")
	return nil
}
