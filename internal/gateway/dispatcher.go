package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/protocol"
)

// Handler 处理一帧；返回的错误会中止同一帧剩余的处理器
type Handler func(ctx context.Context, env *protocol.Envelope) error

type handlerEntry struct {
	id uint64
	fn Handler
}

// Dispatcher 按 opcode 分发入站帧，支持三种订阅：
// 持久处理器、一次性处理器、等待下一帧的 Future。
//
// 分发策略是 fail-fast：第一个出错（或 panic）的处理器终止本帧剩余的分发，
// 错误原样返回给调用方。需要隔离的上层（如 events.Router）自行 recover。
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[protocol.Opcode][]handlerEntry
	once     map[protocol.Opcode][]handlerEntry
	futures  map[protocol.Opcode][]*Future
	nextID   uint64
	log      *zap.SugaredLogger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[protocol.Opcode][]handlerEntry),
		once:     make(map[protocol.Opcode][]handlerEntry),
		futures:  make(map[protocol.Opcode][]*Future),
		log:      log.Sugar(),
	}
}

// Register 注册持久处理器，按注册顺序调用
func (d *Dispatcher) Register(op protocol.Opcode, fn Handler) { _ = d.RegisterCancelable(op, fn) }

// RegisterCancelable 注册并返回一个取消函数，用于移除该处理器
func (d *Dispatcher) RegisterCancelable(op protocol.Opcode, fn Handler) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[op] = append(d.handlers[op], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() { d.remove(d.handlers, op, id) }
}

// RegisterOnce 只在下一帧匹配时调用一次，随后自动移除
func (d *Dispatcher) RegisterOnce(op protocol.Opcode, fn Handler) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.once[op] = append(d.once[op], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() { d.remove(d.once, op, id) }
}

func (d *Dispatcher) remove(reg map[protocol.Opcode][]handlerEntry, op protocol.Opcode, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := reg[op]
	if len(entries) == 0 {
		return
	}
	filtered := make([]handlerEntry, 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		delete(reg, op)
	} else {
		reg[op] = filtered
	}
}

// Next 返回在下一帧 op 到达时完成的 Future。
// 同一 op 上的多个 Future 由同一帧一起完成。
func (d *Dispatcher) Next(op protocol.Opcode) *Future {
	f := &Future{op: op, d: d, ch: make(chan *protocol.Envelope, 1)}
	d.mu.Lock()
	d.futures[op] = append(d.futures[op], f)
	d.mu.Unlock()
	return f
}

func (d *Dispatcher) removeFuture(f *Future) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.futures[f.op]
	for i, x := range list {
		if x == f {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(d.futures, f.op)
	} else {
		d.futures[f.op] = list
	}
}

// Len 某个 op 上当前挂着的订阅数（持久 + 一次性 + Future）
func (d *Dispatcher) Len(op protocol.Opcode) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[op]) + len(d.once[op]) + len(d.futures[op])
}

// Dispatch 入站唯一入口。顺序：持久处理器 -> 一次性处理器（整批移除）-> Future。
// 处理器出错时跳过其余处理器并返回该错误，但等待中的 Future 照样完成。
// 未知 opcode 静默丢弃。
func (d *Dispatcher) Dispatch(ctx context.Context, env *protocol.Envelope) error {
	if env == nil {
		return nil
	}
	if !env.Op.IsReceive() {
		d.log.Debugw("dispatch_ignored", "op", int(env.Op))
		return nil
	}
	defer d.resolve(env)

	d.mu.Lock()
	persistent := append([]handlerEntry(nil), d.handlers[env.Op]...)
	d.mu.Unlock()
	for _, h := range persistent {
		if err := call(ctx, h.fn, env); err != nil {
			return err
		}
	}

	d.mu.Lock()
	once := d.once[env.Op]
	delete(d.once, env.Op)
	d.mu.Unlock()
	for _, h := range once {
		if err := call(ctx, h.fn, env); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) resolve(env *protocol.Envelope) {
	d.mu.Lock()
	futures := d.futures[env.Op]
	delete(d.futures, env.Op)
	d.mu.Unlock()
	for _, f := range futures {
		f.resolve(env)
	}
}

func call(ctx context.Context, fn Handler, env *protocol.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway: handler panic on %s: %v", env.Op, r)
		}
	}()
	return fn(ctx, env)
}

// Future 等待某个 op 的下一帧
type Future struct {
	op   protocol.Opcode
	d    *Dispatcher
	ch   chan *protocol.Envelope
	once sync.Once
}

// C 完成时收到该帧，只会收到一次
func (f *Future) C() <-chan *protocol.Envelope { return f.ch }

// Wait 阻塞到帧到达或 ctx 结束；ctx 结束时 Future 自动注销
func (f *Future) Wait(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case env := <-f.ch:
		return env, nil
	case <-ctx.Done():
		f.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel 注销尚未完成的 Future
func (f *Future) Cancel() { f.d.removeFuture(f) }

func (f *Future) resolve(env *protocol.Envelope) {
	f.once.Do(func() { f.ch <- env })
}
