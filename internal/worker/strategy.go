package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/cache"
)

const outcomeMiss = "miss"

// navigationNetworkFirst 导航请求优先回源，200 响应写入 dynamic-content；
// 网络失败时回退缓存，仍未命中则返回离线页面。
func (w *Worker) navigationNetworkFirst(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	resp, err := w.net.Fetch(ctx, req)
	if err == nil {
		served, err := w.storeOK(ctx, w.names.DynamicContent, req, resp)
		if err != nil {
			return nil, outcomeError, err
		}
		return served, outcomeNetwork, nil
	}
	w.logFallback(req, ClassNavigation, err)

	cached, cerr := w.caches.Match(ctx, req, cache.MatchOptions{Partition: w.names.DynamicContent})
	switch {
	case cerr == nil:
		return cached, outcomeHit, nil
	case errors.Is(cerr, cache.ErrNotFound):
		return offlinePage(req), outcomeOffline, nil
	default:
		return nil, outcomeError, cerr
	}
}

// cacheFirst 依次在 app-shell 与 static-assets 中忽略查询串查找；
// 未命中时回源，200 响应按来源写入对应分区。网络失败原样上抛。
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	for _, name := range []string{w.names.AppShell, w.names.StaticAssets} {
		cached, err := w.caches.Match(ctx, req, cache.MatchOptions{Partition: name, IgnoreSearch: true})
		if err == nil {
			return cached, outcomeHit, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return nil, outcomeError, err
		}
	}

	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		return nil, outcomeError, err
	}
	served, err := w.storeOK(ctx, w.assetPartition(req), req, resp)
	if err != nil {
		return nil, outcomeError, err
	}
	return served, outcomeMiss, nil
}

// audioNetworkFirst 音频优先回源。只有完整的 200 响应进入 audio-stream，
// 206 片段原样透传；离线时回退缓存，再退化为 503 JSON。
func (w *Worker) audioNetworkFirst(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	resp, err := w.net.Fetch(ctx, req)
	if err == nil {
		served, err := w.storeOK(ctx, w.names.AudioStream, req, resp)
		if err != nil {
			return nil, outcomeError, err
		}
		return served, outcomeNetwork, nil
	}
	w.logFallback(req, ClassAudioStream, err)

	cached, cerr := w.caches.Match(ctx, req, cache.MatchOptions{Partition: w.names.AudioStream})
	switch {
	case cerr == nil:
		return cached, outcomeHit, nil
	case errors.Is(cerr, cache.ErrNotFound):
		return offlineAudio(req), outcomeOffline, nil
	default:
		return nil, outcomeError, cerr
	}
}

// networkOnly API 请求永远回源，结果与错误原样返回。
func (w *Worker) networkOnly(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		return nil, outcomeError, err
	}
	return resp, outcomeNetwork, nil
}

// staleWhileRevalidate 命中时立即返回缓存并在后台刷新 dynamic-content；
// 未命中时等待网络，网络失败返回 408。
func (w *Worker) staleWhileRevalidate(ctx context.Context, req *http.Request) (*http.Response, string, error) {
	cached, err := w.caches.Match(ctx, req, cache.MatchOptions{Partition: w.names.DynamicContent})
	if err == nil {
		w.revalidateInBackground(ctx, req)
		return cached, outcomeHit, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, outcomeError, err
	}

	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		w.logFallback(req, ClassOther, err)
		return offlineResource(req), outcomeOffline, nil
	}
	served, err := w.storeOK(ctx, w.names.DynamicContent, req, resp)
	if err != nil {
		return nil, outcomeError, err
	}
	return served, outcomeMiss, nil
}

// revalidateInBackground 后台回源刷新缓存，生命周期挂在 worker 上而不是请求上：
// 客户端断开不会取消刷新，Wait 会等待其完成。
func (w *Worker) revalidateInBackground(ctx context.Context, req *http.Request) {
	done := w.lifetime.extend()
	bg := context.WithoutCancel(ctx)
	clone := req.Clone(bg)

	go func() {
		defer done()
		resp, err := w.net.Fetch(bg, clone)
		if err != nil {
			w.logger.WithFields(logrus.Fields{
				"action":         "revalidate",
				"url":            clone.URL.Redacted(),
				"worker_version": w.opts.Version,
				"error":          err.Error(),
			}).Debug("revalidate_network_failed")
			return
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return
		}
		err = w.put(bg, w.names.DynamicContent, clone, resp)
		if errors.Is(err, ErrRedundant) {
			return
		}
		if err != nil {
			w.logger.WithFields(logrus.Fields{
				"action":         "revalidate",
				"url":            clone.URL.Redacted(),
				"partition":      w.names.DynamicContent,
				"worker_version": w.opts.Version,
				"error":          err.Error(),
			}).Warn("revalidate_store_failed")
		}
	}()
}

// storeOK 对 200 响应复制一份写入分区并返回另一份；其余状态码原样返回。
// 写入失败视为硬错误，不静默吞掉。
func (w *Worker) storeOK(ctx context.Context, name string, req *http.Request, resp *http.Response) (*http.Response, error) {
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	stored, served, err := cache.Duplicate(resp)
	if err != nil {
		return nil, err
	}
	// 已被取代的 worker 仍把响应交给调用方，只是不再写入。
	if err := w.put(ctx, name, req, stored); err != nil && !errors.Is(err, ErrRedundant) {
		return nil, err
	}
	return served, nil
}

func (w *Worker) logFallback(req *http.Request, class Class, err error) {
	w.logger.WithFields(logrus.Fields{
		"action":         "fallback",
		"route_class":    string(class),
		"url":            req.URL.Redacted(),
		"worker_version": w.opts.Version,
		"error":          err.Error(),
	}).Debug("network_failed_using_cache")
}
