package gateway

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
	"github.com/hongjun500/concord-go/internal/transport"
)

// ReceiverConfig 读循环参数
type ReceiverConfig struct {
	Codec        protocol.MessageCodec
	Logger       *zap.Logger
	Metrics      *observe.Metrics
	ReadTimeout  time.Duration // 每次读的超时；0 表示只依赖心跳判活
	MaxFrameSize int
}

// Receiver 唯一的读 goroutine，把文本帧解码后交给 Dispatcher。
// 单帧解码失败只丢弃该帧；关闭帧和读错误结束循环。
type Receiver struct {
	cfg  ReceiverConfig
	log  *zap.SugaredLogger
	loop loop
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Receiver{cfg: cfg, log: cfg.Logger.Sugar()}
}

func (r *Receiver) Start(ctx context.Context, conn transport.Conn, d *Dispatcher) error {
	if conn == nil || d == nil || r.cfg.Codec == nil {
		return ErrNotWired
	}
	if !r.loop.start(ctx, func(ctx context.Context) error { return r.run(ctx, conn, d) }) {
		return ErrAlreadyStarted
	}
	return nil
}

func (r *Receiver) Stop() error          { return r.loop.stop() }
func (r *Receiver) Done() <-chan struct{} { return r.loop.Done() }
func (r *Receiver) Err() error            { return r.loop.Err() }

func (r *Receiver) run(ctx context.Context, conn transport.Conn, d *Dispatcher) error {
	// 取消时把读超时拨到现在，打断阻塞中的 ReadFrame
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		if r.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warnw("ws_read_error", "err", err)
			return &ConnectionError{Op: "read", Err: err}
		}

		switch f.Kind {
		case transport.FrameClose:
			r.log.Warnw("ws_closed_by_peer", "code", f.CloseCode, "reason", f.Reason)
			return &ConnectionError{Op: "read", Code: protocol.CloseCode(f.CloseCode), Err: transport.ErrSocketClosed}
		case transport.FrameText:
		default:
			r.log.Debugw("frame_ignored", "kind", f.Kind.String(), "size", len(f.Data))
			r.cfg.Metrics.IncDropped("binary")
			continue
		}

		var env protocol.Envelope
		if err := r.cfg.Codec.Decode(bytes.NewReader(f.Data), &env, r.cfg.MaxFrameSize); err != nil {
			r.log.Warnw("frame_decode_failed", "size", len(f.Data), "err", err)
			r.cfg.Metrics.IncDropped("decode")
			continue
		}
		r.cfg.Metrics.IncFrameReceived(env.Op.String())
		if !env.Op.IsReceive() {
			r.cfg.Metrics.IncDropped("unknown_op")
		}

		if err := d.Dispatch(ctx, &env); err != nil {
			var ce *ConnectionError
			if errors.As(err, &ce) {
				return err
			}
			r.log.Warnw("handler_failed", "op", env.Op.String(), "event", env.EventName(), "err", err)
		}
	}
}
