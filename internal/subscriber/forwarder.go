package subscriber

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/bus/redisstream"
	"github.com/hongjun500/concord-go/internal/events"
	"github.com/hongjun500/concord-go/internal/observe"
)

// Publisher 转发目标，redisstream.Bus 实现了它
type Publisher interface {
	Publish(ctx context.Context, m *redisstream.Message) error
}

const (
	defaultForwardBuffer = 1024
	publishTimeout       = 2 * time.Second
)

// Forwarder 把 DISPATCH 事件异步写到总线；缓冲满时丢弃，不阻塞读循环
type Forwarder struct {
	pub     Publisher
	log     *zap.SugaredLogger
	metrics *observe.Metrics
	queue   chan *redisstream.Message
	only    map[string]bool
}

// NewForwarder only 为空时转发全部事件
func NewForwarder(pub Publisher, log *zap.Logger, metrics *observe.Metrics, buffer int, only ...string) *Forwarder {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultForwardBuffer
	}
	f := &Forwarder{
		pub:     pub,
		log:     log.Sugar(),
		metrics: metrics,
		queue:   make(chan *redisstream.Message, buffer),
	}
	if len(only) > 0 {
		f.only = make(map[string]bool, len(only))
		for _, name := range only {
			f.only[name] = true
		}
	}
	return f
}

// Register 订阅 Router 上的全部事件，返回取消函数
func (f *Forwarder) Register(r *events.Router) (cancel func()) {
	return r.On(events.Any, f.enqueue)
}

func (f *Forwarder) enqueue(_ context.Context, e events.Event) {
	if f.only != nil && !f.only[e.Name] {
		return
	}
	m := &redisstream.Message{Type: e.Name, Seq: e.Seq, When: e.When, Data: e.Data}
	select {
	case f.queue <- m:
	default:
		f.log.Warnw("forward_dropped", "event", e.Name, "seq", e.Seq)
		f.metrics.IncDropped("forward")
	}
}

// Run 消费缓冲并发布，ctx 结束时返回
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-f.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := f.pub.Publish(pctx, m)
			cancel()
			if err != nil {
				f.log.Warnw("forward_failed", "event", m.Type, "seq", m.Seq, "err", err)
			}
		}
	}
}
