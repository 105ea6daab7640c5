package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hongjun500/concord-go/internal/protocol"
	"github.com/hongjun500/concord-go/internal/transport"
)

var errDeadline = errors.New("fake: read deadline exceeded")

// fakeConn 内存中的 transport.Conn：测试往 in 里推服务端帧，从 out 里取客户端写出的帧
type fakeConn struct {
	in     chan transport.Frame
	out    chan []byte
	closed chan struct{}
	kick   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closeCode int
	writeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan transport.Frame, 32),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
}

func (f *fakeConn) ReadFrame() (transport.Frame, error) {
	select {
	case fr := <-f.in:
		return fr, nil
	case <-f.kick:
		return transport.Frame{}, errDeadline
	case <-f.closed:
		return transport.Frame{}, transport.ErrSocketClosed
	}
}

func (f *fakeConn) WriteText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	werr := f.writeErr
	f.mu.Unlock()
	if werr != nil {
		return werr
	}
	cp := append([]byte(nil), data...)
	select {
	case <-f.closed:
		return transport.ErrSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	case f.out <- cp:
		return nil
	}
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close(code int, _ string) error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeConn) push(raw string) {
	f.in <- transport.Frame{Kind: transport.FrameText, Data: []byte(raw)}
}

func (f *fakeConn) pushClose(code int) {
	f.in <- transport.Frame{Kind: transport.FrameClose, CloseCode: code}
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

// sent 客户端写出的一帧
type sent struct {
	Op protocol.Opcode `json:"op"`
	D  json.RawMessage `json:"d"`
}

// next 读出下一帧，超时失败
func (f *fakeConn) next(t *testing.T, timeout time.Duration) sent {
	t.Helper()
	select {
	case raw := <-f.out:
		var s sent
		require.NoError(t, json.Unmarshal(raw, &s), "frame %s", raw)
		return s
	case <-time.After(timeout):
		t.Fatalf("no frame written within %s", timeout)
		return sent{}
	}
}

// nextOp 跳过其他帧直到读到 op
func (f *fakeConn) nextOp(t *testing.T, op protocol.Opcode, timeout time.Duration) sent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			t.Fatalf("no %s frame within %s", op, timeout)
		}
		if s := f.next(t, left); s.Op == op {
			return s
		}
	}
}

// fakeDialer 依次交出预置的连接，用完后拨号失败
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	urls   []string
	err    error
	onDial func()
}

var errNoConn = errors.New("fake: connection refused")

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	hook := d.onDial
	var c *fakeConn
	err := d.err
	if err == nil {
		if len(d.conns) == 0 {
			err = errNoConn
		} else {
			c, d.conns = d.conns[0], d.conns[1:]
		}
	}
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// recorder 记录心跳写入的 enqueuer
type recorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	pri  []int
}

func (r *recorder) Enqueue(msg *protocol.Message, priority int) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.pri = append(r.pri, priority)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.msgs...)
}

func envelope(t *testing.T, raw string) *protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return &env
}

// stallConn 对端不读时的写端：WriteText 不看 ctx，只在写超时到期后返回
type stallConn struct {
	in         chan transport.Frame
	kick       chan struct{}
	writing    chan struct{}
	expired    chan struct{}
	closed     chan struct{}
	expireOnce sync.Once
	closeOnce  sync.Once

	mu        sync.Mutex
	deadlines []time.Time
}

func newStallConn() *stallConn {
	return &stallConn{
		in:      make(chan transport.Frame, 4),
		kick:    make(chan struct{}, 1),
		writing: make(chan struct{}, 1),
		expired: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (c *stallConn) ReadFrame() (transport.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.kick:
		return transport.Frame{}, errDeadline
	case <-c.closed:
		return transport.Frame{}, transport.ErrSocketClosed
	}
}

func (c *stallConn) WriteText(context.Context, []byte) error {
	select {
	case c.writing <- struct{}{}:
	default:
	}
	<-c.expired
	return errDeadline
}

func (c *stallConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && !t.After(time.Now()) {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *stallConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, t)
	c.mu.Unlock()
	if !t.IsZero() && !t.After(time.Now()) {
		c.expireOnce.Do(func() { close(c.expired) })
	}
	return nil
}

func (c *stallConn) Close(int, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// lastDeadline 最后一次设置的写超时
func (c *stallConn) lastDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deadlines) == 0 {
		return time.Time{}
	}
	return c.deadlines[len(c.deadlines)-1]
}

type dialerFunc func(ctx context.Context, url string) (transport.Conn, error)

func (f dialerFunc) Dial(ctx context.Context, url string) (transport.Conn, error) { return f(ctx, url) }
