package gateway

import (
	"context"
	"errors"
	"sync"
)

// loop 一个可取消、可等待的后台 goroutine，stop 可重复调用
type loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// start 启动 fn；已经启动过返回 false
func (l *loop) start(ctx context.Context, fn func(ctx context.Context) error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go func() {
		err := fn(ctx)
		l.err = err
		cancel()
		close(l.done)
	}()
	return true
}

// stop 取消并等待退出；取消本身不算错误
func (l *loop) stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done
	return l.result()
}

// Done 未启动时返回 nil（select 中永远阻塞）
func (l *loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err 仅在 Done 关闭后有意义
func (l *loop) Err() error {
	done := l.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return l.result()
	default:
		return nil
	}
}

func (l *loop) result() error {
	if errors.Is(l.err, context.Canceled) {
		return nil
	}
	return l.err
}

// running 已启动且尚未退出
func (l *loop) running() bool {
	done := l.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
