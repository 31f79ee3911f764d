package worker

import (
	"context"
	"sync"
)

// lifetime 记录仍在进行的工作（请求处理、后台回源、install/activate），
// 对应“延长事件生命周期”的语义：Wait 在所有工作结束前不会返回。
type lifetime struct {
	mu     sync.Mutex
	active int
	idle   chan struct{}
}

func newLifetime() *lifetime {
	idle := make(chan struct{})
	close(idle)
	return &lifetime{idle: idle}
}

// extend 登记一项工作，返回的 done 可重复调用，仅第一次生效。
func (l *lifetime) extend() func() {
	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.active--
			if l.active == 0 {
				close(l.idle)
			}
			l.mu.Unlock()
		})
	}
}

func (l *lifetime) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *lifetime) wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
