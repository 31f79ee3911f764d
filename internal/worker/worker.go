package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/cache"
	"github.com/audiox/audiox-cache/internal/fetch"
	"github.com/audiox/audiox-cache/internal/logging"
	"github.com/audiox/audiox-cache/internal/metrics"
)

// ErrRedundant 表示 worker 已被新版本取代，不再处理请求。
var ErrRedundant = errors.New("worker is redundant")

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// 请求结果，用于指标与日志。
const (
	outcomeHit     = "hit"
	outcomeNetwork = "network"
	outcomeOffline = "offline"
	outcomeError   = "error"
	outcomeBypass  = "bypass"
)

// Deps 汇集 worker 的外部协作者。
type Deps struct {
	Caches  *cache.Registry
	Fetcher fetch.Fetcher
	Logger  *logrus.Logger
	Metrics metrics.Recorder
}

type strategyFunc func(ctx context.Context, req *http.Request) (*http.Response, string, error)

// Worker 是某一版本的缓存 worker。
type Worker struct {
	opts       Options
	names      PartitionNames
	classifier Classifier
	caches     *cache.Registry
	net        fetch.Fetcher
	logger     *logrus.Logger
	metrics    metrics.Recorder
	strategies map[Class]strategyFunc
	lifetime   *lifetime

	mu          sync.RWMutex
	state       State
	skipWaiting bool

	// writes 串行化“封存”与分区写入：封存后不再打开或写入任何分区。
	writes sync.RWMutex
	sealed bool
}

// New 构造 worker，Caches 与 Fetcher 为必填项。
func New(opts Options, deps Deps) (*Worker, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if deps.Caches == nil {
		return nil, errors.New("cache registry required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop()
	}

	w := &Worker{
		opts:       opts,
		names:      NamesFor(opts.Prefix, opts.Version),
		classifier: NewClassifier(opts),
		caches:     deps.Caches,
		net:        deps.Fetcher,
		logger:     logger,
		metrics:    recorder,
		lifetime:   newLifetime(),
		state:      StateParsed,
	}
	w.strategies = map[Class]strategyFunc{
		ClassNavigation:  w.navigationNetworkFirst,
		ClassAppShell:    w.cacheFirst,
		ClassAudioStream: w.audioNetworkFirst,
		ClassAPI:         w.networkOnly,
		ClassOther:       w.staleWhileRevalidate,
	}
	return w, nil
}

// Version 返回 worker 版本。
func (w *Worker) Version() string {
	return w.opts.Version
}

// Partitions 返回当前版本拥有的分区名。
func (w *Worker) Partitions() PartitionNames {
	return w.names
}

// Classifier 返回 worker 使用的分类器。
func (w *Worker) Classifier() Classifier {
	return w.classifier
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Pending 返回仍在进行的工作数量。
func (w *Worker) Pending() int {
	return w.lifetime.pending()
}

// SkipWaiting 请求在安装完成后立即激活，跳过等待旧版本客户端关闭。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) skipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Wait 阻塞直到全部在途工作（含后台回源）完成或 ctx 结束。
func (w *Worker) Wait(ctx context.Context) error {
	return w.lifetime.wait(ctx)
}

// Handle 处理一次被拦截的请求：分类后交给对应策略。
// bypass 类别直接回源，不触碰任何分区。
func (w *Worker) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	if w.State() == StateRedundant {
		return nil, ErrRedundant
	}
	done := w.lifetime.extend()
	defer done()

	class := w.classifier.Classify(req)
	var (
		resp    *http.Response
		outcome string
		err     error
	)
	if class == ClassBypass {
		resp, err = w.net.Fetch(ctx, req)
		outcome = outcomeBypass
	} else {
		resp, outcome, err = w.strategies[class](ctx, req)
	}
	if err != nil {
		outcome = outcomeError
	}
	w.metrics.ObserveRequest(string(class), outcome)

	if w.logger.IsLevelEnabled(logrus.DebugLevel) {
		fields := logging.RequestFields(string(class), w.partitionFor(class, req), w.opts.Version, outcome == outcomeHit)
		fields["action"] = "handle"
		fields["url"] = req.URL.Redacted()
		fields["outcome"] = outcome
		w.logger.WithFields(fields).Debug("worker_handle")
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", class, req.URL.Redacted(), err)
	}
	return resp, nil
}

// Classify 暴露分类结果，供代理层记录日志。
func (w *Worker) Classify(req *http.Request) Class {
	return w.classifier.Classify(req)
}

// partitionFor 返回类别对应的写入分区，网络直通类别为空串。
func (w *Worker) partitionFor(class Class, req *http.Request) string {
	switch class {
	case ClassNavigation, ClassOther:
		return w.names.DynamicContent
	case ClassAppShell:
		return w.assetPartition(req)
	case ClassAudioStream:
		return w.names.AudioStream
	default:
		return ""
	}
}

// PartitionFor 是 partitionFor 的导出形式。
func (w *Worker) PartitionFor(req *http.Request) string {
	return w.partitionFor(w.classifier.Classify(req), req)
}

// assetPartition 清单条目与已知静态主机写入 app-shell，其余静态资源写入 static-assets。
func (w *Worker) assetPartition(req *http.Request) string {
	if w.classifier.InManifest(req.URL) || w.classifier.IsAssetHost(req.URL) {
		return w.names.AppShell
	}
	return w.names.StaticAssets
}

// sealWrites 禁止之后的分区写入，并等待进行中的写入结束。
// 新版本 Activate 清理旧分区前必须先封存旧 worker，否则在途回源会把分区重新建出来。
func (w *Worker) sealWrites() {
	w.writes.Lock()
	w.sealed = true
	w.writes.Unlock()
}

func (w *Worker) unsealWrites() {
	w.writes.Lock()
	w.sealed = false
	w.writes.Unlock()
}

// put 打开（必要时创建）分区并写入 resp。封存后返回 ErrRedundant，不触碰存储。
func (w *Worker) put(ctx context.Context, name string, req *http.Request, resp *http.Response) error {
	w.writes.RLock()
	defer w.writes.RUnlock()
	if w.sealed {
		resp.Body.Close()
		return ErrRedundant
	}
	partition, err := w.caches.Open(ctx, name)
	if err != nil {
		resp.Body.Close()
		return err
	}
	return partition.Put(ctx, req, resp)
}

func (w *Worker) markRedundant() {
	w.sealWrites()
	w.setState(StateRedundant)
	w.logger.WithFields(logging.LifecycleFields("redundant", w.opts.Version)).Info("worker_redundant")
}
