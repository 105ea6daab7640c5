package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
)

// enqueuer 心跳只需要往发送队列里塞消息
type enqueuer interface {
	Enqueue(msg *protocol.Message, priority int)
}

const (
	heartbeatIdle int32 = iota
	heartbeatRunning
	heartbeatStopped
)

// Heartbeater 心跳子协议：按 HELLO 给出的间隔固定发送（不加抖动），
// 到下一拍仍未收到 ack 即判定连接已死。
type Heartbeater struct {
	log     *zap.SugaredLogger
	metrics *observe.Metrics
	state   atomic.Int32

	mu       sync.Mutex
	seq      *int64
	acked    bool
	sentAt   time.Time
	latency  time.Duration
	interval time.Duration
	q        enqueuer
	cancels  []func()

	loop loop
}

func NewHeartbeater(log *zap.Logger, metrics *observe.Metrics) *Heartbeater {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeater{log: log.Sugar(), metrics: metrics}
}

// Seed 预置最近的序列号（RESUME 时沿用上一条连接的值）
func (h *Heartbeater) Seed(seq int64) {
	h.mu.Lock()
	h.seq = &seq
	h.mu.Unlock()
}

// Start 注册 op1/op11/op0 处理器并开始心跳循环，Idle -> Running
func (h *Heartbeater) Start(ctx context.Context, interval time.Duration, d *Dispatcher, q enqueuer) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if d == nil || q == nil {
		return ErrNotWired
	}
	if !h.state.CompareAndSwap(heartbeatIdle, heartbeatRunning) {
		return ErrAlreadyStarted
	}

	h.mu.Lock()
	h.interval = interval
	h.q = q
	h.acked = true
	h.cancels = []func(){
		d.RegisterCancelable(protocol.OpHeartbeat, h.onRequest),
		d.RegisterCancelable(protocol.OpHeartbeatAck, h.onAck),
		d.RegisterCancelable(protocol.OpDispatch, h.onDispatch),
	}
	h.mu.Unlock()

	// 第一拍同步入队，保证排在随后的 IDENTIFY 之前
	h.beat(true)
	h.loop.start(ctx, h.run)
	return nil
}

// Stop Running -> Stopped，可重复调用
func (h *Heartbeater) Stop() error {
	if h.state.Swap(heartbeatStopped) != heartbeatRunning {
		return nil
	}
	h.mu.Lock()
	cancels := h.cancels
	h.cancels = nil
	h.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return h.loop.stop()
}

func (h *Heartbeater) Done() <-chan struct{} { return h.loop.Done() }
func (h *Heartbeater) Err() error            { return h.loop.Err() }

// LastSequence 最近一次 DISPATCH 的序列号
func (h *Heartbeater) LastSequence() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq == nil {
		return 0, false
	}
	return *h.seq, true
}

// Latency 最近一次心跳到 ack 的耗时
func (h *Heartbeater) Latency() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latency
}

func (h *Heartbeater) run(ctx context.Context) error {
	h.mu.Lock()
	interval := h.interval
	h.mu.Unlock()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		h.mu.Lock()
		acked := h.acked
		h.mu.Unlock()
		if !acked {
			h.log.Warnw("heartbeat_timeout", "interval", interval)
			return &ConnectionError{Op: "heartbeat", Err: ErrHeartbeatTimeout}
		}
		h.beat(true)
		timer.Reset(interval)
	}
}

// beat 发送一次心跳；tracked 为 false 时是服务端要求的带外心跳，不影响 ack 判定
func (h *Heartbeater) beat(tracked bool) {
	h.mu.Lock()
	var seq *int64
	if h.seq != nil {
		v := *h.seq
		seq = &v
	}
	if tracked {
		h.acked = false
		h.sentAt = time.Now()
	}
	q := h.q
	h.mu.Unlock()

	q.Enqueue(protocol.NewHeartbeat(seq), PriorityHeartbeat)
	h.metrics.IncHeartbeat()
}

func (h *Heartbeater) onRequest(context.Context, *protocol.Envelope) error {
	h.log.Debugw("heartbeat_requested")
	h.beat(false)
	return nil
}

func (h *Heartbeater) onAck(context.Context, *protocol.Envelope) error {
	h.mu.Lock()
	var latency time.Duration
	wasPending := !h.acked
	if wasPending {
		latency = time.Since(h.sentAt)
		h.latency = latency
	}
	h.acked = true
	h.mu.Unlock()
	if wasPending {
		h.metrics.ObserveAck(latency)
	}
	return nil
}

func (h *Heartbeater) onDispatch(_ context.Context, env *protocol.Envelope) error {
	if seq, ok := env.Sequence(); ok {
		h.mu.Lock()
		h.seq = &seq
		h.mu.Unlock()
	}
	return nil
}
