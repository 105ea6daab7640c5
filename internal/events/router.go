package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/protocol"
)

// Any 订阅所有 DISPATCH 事件
const Any = "*"

// Event 一条 DISPATCH 事件
type Event struct {
	Name string
	Seq  int64
	Data json.RawMessage
	When time.Time
}

// Decode 把事件数据解到 v
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s: empty data", e.Name)
	}
	return json.Unmarshal(e.Data, v)
}

type Handler func(ctx context.Context, e Event)

type handlerEntry struct {
	id uint64
	fn Handler
}

// Router 按事件名（t 字段）分发 DISPATCH 帧。
// 处理器之间相互隔离：panic 被记录后继续调用下一个，不会影响网关连接。
type Router struct {
	handlersMu sync.RWMutex
	handlers   map[string][]handlerEntry
	nextHID    uint64

	log *zap.SugaredLogger
}

func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string][]handlerEntry),
		log:      log.Sugar(),
	}
}

// On 注册事件处理器并返回一个取消函数，用于移除该处理器
func (r *Router) On(name string, fn Handler) (cancel func()) {
	r.handlersMu.Lock()
	r.nextHID++
	id := r.nextHID
	r.handlers[name] = append(r.handlers[name], handlerEntry{id: id, fn: fn})
	r.handlersMu.Unlock()

	return func() {
		r.handlersMu.Lock()
		defer r.handlersMu.Unlock()
		entries := r.handlers[name]
		filtered := make([]handlerEntry, 0, len(entries))
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(r.handlers, name)
		} else {
			r.handlers[name] = filtered
		}
	}
}

// OnTyped 注册处理器并把数据解码成 T；解码失败只记日志
func OnTyped[T any](r *Router, name string, fn func(ctx context.Context, v T)) (cancel func()) {
	return r.On(name, func(ctx context.Context, e Event) {
		var v T
		if err := e.Decode(&v); err != nil {
			r.log.Warnw("event_decode_failed", "event", e.Name, "err", err)
			return
		}
		fn(ctx, v)
	})
}

// OnReady READY 的便捷注册
func (r *Router) OnReady(fn func(ctx context.Context, ready protocol.ReadyData)) (cancel func()) {
	return OnTyped(r, protocol.EventReady, fn)
}

// Attach 挂到 Dispatcher 的 DISPATCH 上
func (r *Router) Attach(d *gateway.Dispatcher) (cancel func()) {
	return d.RegisterCancelable(protocol.OpDispatch, r.Handle)
}

// Handle 实现 gateway.Handler；按注册顺序同步调用，先具名处理器后 Any
func (r *Router) Handle(ctx context.Context, env *protocol.Envelope) error {
	name := env.EventName()
	if name == "" {
		return nil
	}
	seq, _ := env.Sequence()
	e := Event{Name: name, Seq: seq, Data: env.Data, When: time.Now()}

	r.handlersMu.RLock()
	copied := append([]handlerEntry(nil), r.handlers[name]...)
	copied = append(copied, r.handlers[Any]...)
	r.handlersMu.RUnlock()

	for _, entry := range copied {
		r.call(ctx, entry.fn, e)
	}
	return nil
}

func (r *Router) call(ctx context.Context, fn Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("event_handler_panic", "event", e.Name, "panic", rec)
		}
	}()
	fn(ctx, e)
}
