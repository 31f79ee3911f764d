package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/audiox/audiox-cache/internal/logging"
)

// ErrNoActiveWorker 表示尚无激活的 worker 可以处理请求。
var ErrNoActiveWorker = errors.New("no active worker")

const defaultClientTTL = 30 * time.Minute

// Client 是一个被追踪的页面客户端（浏览器标签页）。
type Client struct {
	ID         string    `json:"id"`
	Controller string    `json:"controller"`
	LastSeen   time.Time `json:"last_seen"`
}

// RegistrationOptions 控制客户端追踪。
type RegistrationOptions struct {
	Logger *logrus.Logger
	// ClientTTL 之后未再出现的客户端视为已关闭。
	ClientTTL time.Duration
	Now       func() time.Time
}

// Registration 持有同一作用域下的 installing/waiting/active worker 以及页面客户端。
type Registration struct {
	logger    *logrus.Logger
	clientTTL time.Duration
	now       func() time.Time

	// activation 串行化 activate，避免两个版本同时清理分区。
	activation sync.Mutex

	mu         sync.RWMutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	retired    []*Worker
	clients    map[string]*Client
}

// NewRegistration 构造空的 Registration。
func NewRegistration(opts RegistrationOptions) *Registration {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ttl := opts.ClientTTL
	if ttl <= 0 {
		ttl = defaultClientTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registration{
		logger:    logger,
		clientTTL: ttl,
		now:       now,
		clients:   map[string]*Client{},
	}
}

// Register 安装新版本 worker。安装完成后它取代任何仍在等待的旧版本；
// 若已请求 skip-waiting、当前无激活 worker 或无存活客户端，则立即激活。
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	_, err := w.Install(ctx)

	r.mu.Lock()
	if r.installing == w {
		r.installing = nil
	}
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}
	superseded := r.waiting
	r.waiting = w
	if superseded != nil {
		r.retired = append(r.retired, superseded)
	}
	r.mu.Unlock()

	if superseded != nil {
		superseded.markRedundant()
	}
	return r.maybeActivate(ctx)
}

// Active 返回当前激活的 worker，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting 返回已安装但尚未激活的 worker，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Installing 返回正在安装的 worker，可能为 nil。
func (r *Registration) Installing() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installing
}

// Controller 登记客户端并返回负责它的 worker。导航请求且 clientID 为空时分配新 ID，
// 并把客户端（重新）绑定到当前激活版本。
func (r *Registration) Controller(ctx context.Context, clientID string, navigation bool) (*Worker, string, error) {
	if err := r.maybeActivate(ctx); err != nil {
		r.logger.WithFields(logrus.Fields{
			"action": "activate",
			"error":  err.Error(),
		}).Warn("worker_activate_failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, clientID, ErrNoActiveWorker
	}
	if clientID == "" {
		// 只有导航才会产生新的页面客户端，匿名子资源请求不登记。
		if !navigation {
			return r.active, "", nil
		}
		clientID = uuid.NewString()
	}
	now := r.now()
	client, ok := r.clients[clientID]
	if !ok {
		client = &Client{ID: clientID, Controller: r.active.Version()}
		r.clients[clientID] = client
	} else if navigation {
		client.Controller = r.active.Version()
	}
	client.LastSeen = now
	return r.active, clientID, nil
}

// Clients 返回存活客户端快照，按 ID 排序。
func (r *Registration) Clients() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneClientsLocked(r.now())
	out := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, *client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SkipWaiting 让 waiting（或仍在安装的）worker 尽快激活。
// 返回被请求的 worker，没有候选时返回 nil。
func (r *Registration) SkipWaiting(ctx context.Context) (*Worker, error) {
	r.mu.RLock()
	target := r.waiting
	if target == nil {
		target = r.installing
	}
	r.mu.RUnlock()
	if target == nil {
		return nil, nil
	}
	target.SkipWaiting()
	return target, r.maybeActivate(ctx)
}

// Shutdown 等待所有 worker 的在途工作结束。
func (r *Registration) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	workers := append([]*Worker(nil), r.retired...)
	for _, w := range []*Worker{r.installing, r.waiting, r.active} {
		if w != nil {
			workers = append(workers, w)
		}
	}
	r.mu.RUnlock()

	for _, w := range workers {
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// maybeActivate 在满足条件时激活 waiting worker：
// 没有激活版本、已请求 skip-waiting，或旧版本不再控制任何存活客户端。
func (r *Registration) maybeActivate(ctx context.Context) error {
	r.activation.Lock()
	defer r.activation.Unlock()

	r.mu.Lock()
	next := r.waiting
	if next == nil {
		r.mu.Unlock()
		return nil
	}
	r.pruneClientsLocked(r.now())
	ready := r.active == nil || next.skipWaitingRequested() || r.controlledLocked(r.active.Version()) == 0
	previous := r.active
	r.mu.Unlock()
	if !ready {
		return nil
	}

	// 先封存旧版本的写入，保证 Activate 删除的分区不会被旧版本的在途工作重建。
	if previous != nil {
		previous.sealWrites()
	}
	if _, err := next.Activate(ctx); err != nil {
		if previous != nil {
			previous.unsealWrites()
		}
		return fmt.Errorf("activate %s: %w", next.Version(), err)
	}

	r.mu.Lock()
	r.active = next
	if r.waiting == next {
		r.waiting = nil
	}
	if previous != nil {
		r.retired = append(r.retired, previous)
	}
	claimed := r.claimLocked(next)
	r.mu.Unlock()

	if previous != nil {
		previous.markRedundant()
	}
	r.logger.WithFields(logging.LifecycleFields("claim", next.Version())).
		WithField("clients", claimed).Info("clients_claimed")
	return nil
}

// claimLocked 把所有存活客户端的控制者切换到 w。
func (r *Registration) claimLocked(w *Worker) int {
	for _, client := range r.clients {
		client.Controller = w.Version()
	}
	return len(r.clients)
}

func (r *Registration) controlledLocked(version string) int {
	n := 0
	for _, client := range r.clients {
		if client.Controller == version {
			n++
		}
	}
	return n
}

func (r *Registration) pruneClientsLocked(now time.Time) {
	for id, client := range r.clients {
		if now.Sub(client.LastSeen) > r.clientTTL {
			delete(r.clients, id)
		}
	}
}
