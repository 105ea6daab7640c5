package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Options websocket 拨号与读写参数
type Options struct {
	HandshakeTimeout time.Duration // 握手超时，默认 10s
	WriteTimeout     time.Duration // 单次写超时；0 表示只受 ctx 和 SetWriteDeadline 约束
	ReadBufferSize   int
	WriteBufferSize  int
	ReadLimit        int64 // 单条消息上限（字节）；0 不限制，由 codec 把关
	Header           http.Header
}

// WebSocketDialer 基于 gorilla/websocket 的 Dialer
type WebSocketDialer struct {
	opt Options
}

func NewWebSocketDialer(opt Options) *WebSocketDialer {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = 10 * time.Second
	}
	return &WebSocketDialer{opt: opt}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	var nc *deadlineConn
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opt.HandshakeTimeout,
		ReadBufferSize:   d.opt.ReadBufferSize,
		WriteBufferSize:  d.opt.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			nc = &deadlineConn{Conn: raw}
			return nc, nil
		},
	}
	c, resp, err := dialer.DialContext(ctx, url, d.opt.Header)
	if err != nil {
		detail := url
		if resp != nil {
			detail += " status=" + resp.Status
		}
		return nil, wrap(ErrDial, detail, err)
	}
	if d.opt.ReadLimit > 0 {
		c.SetReadLimit(d.opt.ReadLimit)
	}
	return &wsConn{conn: c, nc: nc, writeTimeout: d.opt.WriteTimeout}, nil
}

// deadlineConn 给写超时加一个上限。
// gorilla 每写一帧都会重设写超时，上限保证强制设置的过期时间不会被覆盖。
type deadlineConn struct {
	net.Conn

	mu       sync.Mutex
	writeCap time.Time
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writeCap.IsZero() && (t.IsZero() || t.After(c.writeCap)) {
		t = c.writeCap
	}
	return c.Conn.SetWriteDeadline(t)
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// capWrites 设置写超时上限并立即生效，阻塞中的写也会返回；零值取消上限
func (c *deadlineConn) capWrites(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeCap = t
	return c.Conn.SetWriteDeadline(t)
}

// closeGrace 发送关闭帧的等待上限
const closeGrace = time.Second

// wsConn implements Conn for WebSocket connections
type wsConn struct {
	conn         *websocket.Conn
	nc           *deadlineConn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool
}

func (w *wsConn) ReadFrame() (Frame, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return Frame{Kind: FrameClose, CloseCode: ce.Code, Reason: ce.Text}, nil
		}
		if w.closed.Load() {
			return Frame{}, ErrSocketClosed
		}
		return Frame{}, wrap(ErrRead, "", err)
	}
	switch mt {
	case websocket.TextMessage:
		return Frame{Kind: FrameText, Data: data}, nil
	default:
		return Frame{Kind: FrameBinary, Data: data}, nil
	}
}

func (w *wsConn) WriteText(ctx context.Context, data []byte) error {
	if w.closed.Load() {
		return ErrSocketClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var deadline time.Time
	if w.writeTimeout > 0 {
		deadline = time.Now().Add(w.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if w.closed.Load() {
			return ErrSocketClosed
		}
		return wrap(ErrWrite, "", err)
	}
	return nil
}

func (w *wsConn) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

// SetWriteDeadline 可与 WriteText 并发调用，t 之后的写（包括正在阻塞的写）失败
func (w *wsConn) SetWriteDeadline(t time.Time) error {
	if w.nc == nil {
		return nil
	}
	return w.nc.capWrites(t)
}

// Close 先尽力发送关闭帧再断开底层连接，可重复调用
func (w *wsConn) Close(code int, reason string) error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = w.conn.Close()
	})
	return err
}
