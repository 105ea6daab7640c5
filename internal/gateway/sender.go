package gateway

import (
	"bytes"
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
	"github.com/hongjun500/concord-go/internal/transport"
)

// 出站优先级，数值越小越先发
const (
	PriorityHeartbeat = -1
	PriorityDefault   = 0
)

type outbound struct {
	msg      *protocol.Message
	priority int
	seq      uint64
}

// outboundQueue 按 (priority, seq) 排序的最小堆；seq 保证同优先级先进先出
type outboundQueue []*outbound

func (q outboundQueue) Len() int { return len(q) }
func (q outboundQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q outboundQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *outboundQueue) Push(x any)   { *q = append(*q, x.(*outbound)) }
func (q *outboundQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Sender 唯一的写 goroutine，按优先级串行写出
type Sender struct {
	codec   protocol.MessageCodec
	log     *zap.SugaredLogger
	metrics *observe.Metrics

	mu      sync.Mutex
	queue   outboundQueue
	counter uint64
	notify  chan struct{}

	loop loop
}

func NewSender(codec protocol.MessageCodec, log *zap.Logger, metrics *observe.Metrics) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sender{
		codec:   codec,
		log:     log.Sugar(),
		metrics: metrics,
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue 入队；Start 之前入队的消息在启动后发出
func (s *Sender) Enqueue(msg *protocol.Message, priority int) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	s.counter++
	heap.Push(&s.queue, &outbound{msg: msg, priority: priority, seq: s.counter})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Send 以默认优先级入队
func (s *Sender) Send(msg *protocol.Message) { s.Enqueue(msg, PriorityDefault) }

// Len 当前排队数
func (s *Sender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sender) pop() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	return heap.Pop(&s.queue).(*outbound).msg
}

func (s *Sender) Start(ctx context.Context, conn transport.Conn) error {
	if conn == nil || s.codec == nil {
		return ErrNotWired
	}
	if !s.loop.start(ctx, func(ctx context.Context) error { return s.run(ctx, conn) }) {
		return ErrAlreadyStarted
	}
	return nil
}

// Stop 立即停止，队列中未发出的消息被丢弃；正在阻塞的写会被写超时打断
func (s *Sender) Stop() error {
	err := s.loop.stop()
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	return err
}

func (s *Sender) Done() <-chan struct{} { return s.loop.Done() }
func (s *Sender) Err() error            { return s.loop.Err() }

func (s *Sender) run(ctx context.Context, conn transport.Conn) error {
	// 取消时把写超时拨到现在，打断阻塞在背压上的 WriteText
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
		close(expired)
	})
	defer func() {
		if !stop() {
			<-expired
			// 写循环已退出，撤销强制超时，关闭帧还要靠它写出
			_ = conn.SetWriteDeadline(time.Time{})
		}
	}()

	var buf bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := s.pop()
		if msg == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.notify:
				continue
			}
		}

		buf.Reset()
		if err := s.codec.Encode(&buf, msg); err != nil {
			s.log.Errorw("encode_failed", "op", msg.Op.String(), "err", err)
			continue
		}
		if err := conn.WriteText(ctx, buf.Bytes()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warnw("ws_write_error", "op", msg.Op.String(), "err", err)
			return &ConnectionError{Op: "write", Err: err}
		}
		s.metrics.IncFrameSent(msg.Op.String())
	}
}
