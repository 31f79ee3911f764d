package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/logging"
)

// installConcurrency 限制 install 阶段并发回源的清单条目数。
const installConcurrency = 6

// InstallReport 汇总一次 install 的预缓存结果。
type InstallReport struct {
	Stored []string
	Failed map[string]string
}

// Install 打开 app-shell 与 static-assets 分区并逐条预缓存清单。
// 单个条目失败只记录日志并跳过，install 仍然成功；分区无法打开则 install 失败。
// SkipWaitingOnInstall 为 true 时，完成后请求跳过等待。
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	done := w.lifetime.extend()
	defer done()

	w.setState(StateInstalling)
	logger := w.logger.WithFields(logging.LifecycleFields("install", w.opts.Version))
	logger.WithField("entries", len(w.opts.Manifest)).Info("worker_install_start")

	appShell, err := w.caches.Open(ctx, w.names.AppShell)
	if err != nil {
		w.markRedundant()
		return InstallReport{}, fmt.Errorf("open %s: %w", w.names.AppShell, err)
	}
	static, err := w.caches.Open(ctx, w.names.StaticAssets)
	if err != nil {
		w.markRedundant()
		return InstallReport{}, fmt.Errorf("open %s: %w", w.names.StaticAssets, err)
	}

	report := InstallReport{Failed: map[string]string{}}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, installConcurrency)
	)
	for _, entry := range w.opts.Manifest {
		target := appShell
		if !w.classifier.IsFirstParty(entry) {
			target = static
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(entry *url.URL, target *cache.Partition) {
			defer wg.Done()
			defer func() { <-sem }()

			err := w.precache(ctx, target, entry)
			w.metrics.ObservePrecache(target.Name(), err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[entry.String()] = err.Error()
				logger.WithFields(logrus.Fields{
					"action":    "precache",
					"url":       entry.String(),
					"partition": target.Name(),
					"error":     err.Error(),
				}).Warn("precache_entry_failed")
				return
			}
			report.Stored = append(report.Stored, entry.String())
		}(entry, target)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		w.markRedundant()
		return report, err
	}

	w.setState(StateInstalled)
	if w.opts.SkipWaitingOnInstall {
		w.SkipWaiting()
	}
	logger.WithFields(logrus.Fields{
		"stored": len(report.Stored),
		"failed": len(report.Failed),
	}).Info("worker_install_complete")
	return report, nil
}

// precache 抓取单个清单条目并写入目标分区。跨域条目以 cors 模式请求。
func (w *Worker) precache(ctx context.Context, target *cache.Partition, entry *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.String(), nil)
	if err != nil {
		return err
	}
	if w.classifier.IsFirstParty(entry) {
		req.Header.Set(HeaderFetchMode, ModeSameOrigin)
	} else {
		req.Header.Set(HeaderFetchMode, ModeCORS)
		req.Header.Set("Origin", originOf(w.opts.Origin))
	}

	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return w.put(ctx, target.Name(), req, resp)
}

// ActivateReport 列出 activate 阶段删除的旧分区。
type ActivateReport struct {
	Deleted []string
}

// Activate 删除所有带本部署前缀但不属于当前版本的分区，前缀之外的分区一律保留。
// 接管客户端由 Registration 在 Activate 成功后完成。
func (w *Worker) Activate(ctx context.Context) (ActivateReport, error) {
	done := w.lifetime.extend()
	defer done()

	w.setState(StateActivating)
	logger := w.logger.WithFields(logging.LifecycleFields("activate", w.opts.Version))

	names, err := w.caches.Names(ctx)
	if err != nil {
		return ActivateReport{}, fmt.Errorf("list partitions: %w", err)
	}

	var report ActivateReport
	for _, name := range names {
		if !strings.HasPrefix(name, w.opts.Prefix) || w.names.Owns(name) {
			continue
		}
		deleted, err := w.caches.Delete(ctx, name)
		if err != nil {
			return report, fmt.Errorf("delete partition %s: %w", name, err)
		}
		if deleted {
			report.Deleted = append(report.Deleted, name)
			w.metrics.ObservePartitionDeleted(name)
			logger.WithField("partition", name).Info("partition_deleted")
		}
	}

	w.setState(StateActivated)
	logger.WithField("deleted", len(report.Deleted)).Info("worker_activated")
	return report, nil
}
