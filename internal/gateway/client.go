package gateway

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
	"github.com/hongjun500/concord-go/internal/transport"
)

const (
	DefaultGatewayURL        = "wss://gateway.discord.gg"
	DefaultAPIVersion        = 10
	DefaultReconnectAttempts = 5
	DefaultBackoffBase       = 2 * time.Second
	DefaultBackoffMax        = 2 * time.Minute
	DefaultHelloTimeout      = 10 * time.Second
	DefaultReadyTimeout      = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second

	// NoReconnect 关闭重连：第一次连接失败即返回
	NoReconnect = -1

	clientIdentifier = "concord"
)

// Options 网关客户端配置，零值字段取默认值
type Options struct {
	Intents    protocol.IntentSet
	GatewayURL string
	APIVersion int
	Encoding   string

	// ReconnectAttempts 连续失败的最大重连次数；完成一次握手后清零。
	// 0 取 DefaultReconnectAttempts，负数（NoReconnect）不重连
	ReconnectAttempts int
	BackoffBase       time.Duration // 第 n 次重连等待 BackoffBase * 2^(n-1)
	BackoffMax        time.Duration

	HelloTimeout time.Duration
	ReadyTimeout time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	MaxFrameSize int

	Properties     protocol.IdentifyProperties
	Presence       *protocol.PresenceUpdate
	LargeThreshold int

	// Resume 开启后重连优先使用 RESUME 恢复会话
	Resume bool

	Dialer  transport.Dialer
	Logger  *zap.Logger
	Metrics *observe.Metrics
	Tracer  trace.Tracer
}

func (o *Options) setDefaults() {
	if o.GatewayURL == "" {
		o.GatewayURL = DefaultGatewayURL
	}
	if o.APIVersion <= 0 {
		o.APIVersion = DefaultAPIVersion
	}
	if o.Encoding == "" {
		o.Encoding = protocol.Json
	}
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.HelloTimeout <= 0 {
		o.HelloTimeout = DefaultHelloTimeout
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Properties.OS == "" {
		o.Properties.OS = runtime.GOOS
	}
	if o.Properties.Browser == "" {
		o.Properties.Browser = clientIdentifier
	}
	if o.Properties.Device == "" {
		o.Properties.Device = clientIdentifier
	}
	if o.Dialer == nil {
		o.Dialer = transport.NewWebSocketDialer(transport.Options{WriteTimeout: o.WriteTimeout})
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/hongjun500/concord-go/internal/gateway")
	}
}

// State 连接生命周期
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateAwaitingReady
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Session READY 建立的会话身份
type Session struct {
	ID         string
	ResumeURL  string
	User       protocol.User
	APIVersion int
	Guilds     int
}

// Client 网关连接编排：拨号、HELLO、心跳、IDENTIFY/RESUME、READY，
// 之后并发运行发送/接收/心跳三个循环，任一失败即拆除连接并按退避重连。
type Client struct {
	opts       Options
	log        *zap.SugaredLogger
	codec      protocol.MessageCodec
	dispatcher *Dispatcher

	state      atomic.Int32
	identified atomic.Bool
	seq        atomic.Int64
	hasSeq     atomic.Bool

	mu      sync.Mutex
	session *Session
	sender  *Sender
	hb      *Heartbeater
	cancel  context.CancelFunc
	done    chan struct{}
}

// New 创建客户端；编码不受支持时返回错误
func New(opts Options) (*Client, error) {
	opts.setDefaults()
	codec, err := protocol.NewCodec(opts.Encoding)
	if err != nil {
		return nil, err
	}
	c := &Client{
		opts:       opts,
		log:        opts.Logger.Sugar(),
		codec:      codec,
		dispatcher: NewDispatcher(opts.Logger),
	}
	c.dispatcher.Register(protocol.OpDispatch, c.onDispatch)
	c.dispatcher.Register(protocol.OpReconnect, c.onReconnect)
	c.dispatcher.Register(protocol.OpInvalidSession, c.onInvalidSession)
	return c, nil
}

// Dispatcher 供上层注册处理器
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

func (c *Client) Register(op protocol.Opcode, fn Handler) { c.dispatcher.Register(op, fn) }

func (c *Client) RegisterOnce(op protocol.Opcode, fn Handler) func() {
	return c.dispatcher.RegisterOnce(op, fn)
}

func (c *Client) Next(op protocol.Opcode) *Future { return c.dispatcher.Next(op) }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Identified 当前连接是否已发出 IDENTIFY/RESUME
func (c *Client) Identified() bool { return c.identified.Load() }

// Sequence 最近一次 DISPATCH 的序列号
func (c *Client) Sequence() (int64, bool) {
	if !c.hasSeq.Load() {
		return 0, false
	}
	return c.seq.Load(), true
}

// Session 最近一次 READY 给出的会话
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Latency 最近一次心跳往返耗时，未连接时为 0
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	hb := c.hb
	c.mu.Unlock()
	if hb == nil {
		return 0
	}
	return hb.Latency()
}

// Send 将消息放入当前连接的发送队列
func (c *Client) Send(msg *protocol.Message, priority int) error {
	c.mu.Lock()
	s := c.sender
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	s.Enqueue(msg, priority)
	return nil
}

func (c *Client) UpdatePresence(p protocol.PresenceUpdate) error {
	return c.Send(protocol.NewPresenceUpdate(p), PriorityDefault)
}

// Start 阻塞运行到 ctx 结束、Stop 被调用，或遇到不可恢复的错误。
// 主动停止返回 nil；重连次数耗尽返回 *ReconnectExhaustedError。
func (c *Client) Start(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.setState(StateClosed)
		c.mu.Lock()
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
		close(done)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.opts.BackoffMax
	b.Reset()

	failures := 0
	for {
		handshook, err := c.runConnection(ctx, token)
		if ctx.Err() != nil {
			return nil
		}
		if handshook {
			failures = 0
			b.Reset()
		}
		if err == nil {
			err = &ConnectionError{Op: "run", Err: ErrLoopExited}
		}
		if !IsRecoverable(err) {
			c.log.Errorw("gateway_fatal", "err", err)
			return err
		}
		failures++
		if limit := c.reconnectLimit(); failures > limit {
			c.log.Errorw("gateway_reconnect_exhausted", "attempts", limit, "err", err)
			return &ReconnectExhaustedError{Attempts: limit, Last: err}
		}

		delay := b.NextBackOff()
		c.log.Warnw("gateway_reconnect", "attempt", failures, "delay", delay, "err", err)
		c.opts.Metrics.IncReconnect()
		c.setState(StateDisconnected)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) reconnectLimit() int {
	if c.opts.ReconnectAttempts < 0 {
		return 0
	}
	return c.opts.ReconnectAttempts
}

// Stop 结束 Start 并等待连接拆除，可重复调用
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	c.setState(StateClosing)
	cancel()
	<-done
}

// Close 同 Stop
func (c *Client) Close() error {
	c.Stop()
	return nil
}

// resumeTarget 可以 RESUME 时返回会话快照
func (c *Client) resumeTarget() *Session {
	if !c.opts.Resume || !c.hasSeq.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.ID == "" {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Client) dialURL(resume *Session) (string, error) {
	base := c.opts.GatewayURL
	if resume != nil && resume.ResumeURL != "" {
		base = resume.ResumeURL
	}
	return ConnectURL(base, c.opts.APIVersion, c.opts.Encoding)
}

// ConnectURL 在网关地址上附加 v 与 encoding 查询参数
func ConnectURL(base string, version int, encoding string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("gateway: invalid url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(version))
	q.Set("encoding", encoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) attach(s *Sender, hb *Heartbeater) {
	c.mu.Lock()
	c.sender, c.hb = s, hb
	c.mu.Unlock()
}

// runner 三个后台循环的共同形状
type runner interface {
	Done() <-chan struct{}
	Err() error
}

// runConnection 一次完整的连接：握手 + 运行到任一循环失败。
// handshook 表示本次是否走到了 READY。
func (c *Client) runConnection(ctx context.Context, token string) (handshook bool, err error) {
	connID := uuid.NewString()
	logger := c.opts.Logger.With(zap.String("conn_id", connID))
	log := logger.Sugar()
	c.identified.Store(false)
	resume := c.resumeTarget()
	if resume == nil {
		// 新会话从头计数，不带上一条连接的序号
		c.hasSeq.Store(false)
	}

	ctx, span := c.opts.Tracer.Start(ctx, "gateway.connect", trace.WithAttributes(
		attribute.String("conn_id", connID),
		attribute.Bool("resume", resume != nil),
	))
	spanOpen := true
	endSpan := func(err error) {
		if !spanOpen {
			return
		}
		spanOpen = false
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	defer func() { endSpan(err) }()

	target, err := c.dialURL(resume)
	if err != nil {
		return false, err
	}
	c.setState(StateConnecting)
	log.Infow("gateway_dial", "url", target, "resume", resume != nil)
	conn, err := c.opts.Dialer.Dial(ctx, target)
	if err != nil {
		return false, &ConnectionError{Op: "dial", Err: err}
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := NewSender(c.codec, logger, c.opts.Metrics)
	receiver := NewReceiver(ReceiverConfig{
		Codec:        c.codec,
		Logger:       logger,
		Metrics:      c.opts.Metrics,
		ReadTimeout:  c.opts.ReadTimeout,
		MaxFrameSize: c.opts.MaxFrameSize,
	})
	hb := NewHeartbeater(logger, c.opts.Metrics)
	if resume != nil {
		if seq, ok := c.Sequence(); ok {
			hb.Seed(seq)
		}
	}
	c.attach(sender, hb)

	defer func() {
		c.attach(nil, nil)
		_ = receiver.Stop()
		_ = sender.Stop()
		_ = hb.Stop()
		code := transport.CloseNormal
		if c.opts.Resume {
			if _, ok := c.Session(); ok {
				code = transport.CloseResume
			}
		}
		_ = conn.Close(code, "")
		c.opts.Metrics.SetConnected(false)
		log.Infow("gateway_disconnected", "err", err)
	}()

	hello := c.dispatcher.Next(protocol.OpHello)
	defer hello.Cancel()
	if err := sender.Start(cctx, conn); err != nil {
		return false, err
	}
	if err := receiver.Start(cctx, conn, c.dispatcher); err != nil {
		return false, err
	}

	c.setState(StateAwaitingHello)
	env, err := c.await(cctx, hello, c.opts.HelloTimeout, "hello", ErrHelloTimeout, sender, receiver, hb)
	if err != nil {
		return false, err
	}
	var hd protocol.HelloData
	if err := env.DecodeData(&hd); err != nil {
		return false, &ConnectionError{Op: "hello", Err: err}
	}
	interval := time.Duration(hd.HeartbeatInterval) * time.Millisecond
	if err := hb.Start(cctx, interval, c.dispatcher, sender); err != nil {
		return false, &ConnectionError{Op: "hello", Err: err}
	}
	log.Debugw("gateway_hello", "heartbeat_interval", hd.HeartbeatInterval)

	c.setState(StateIdentifying)
	first := c.dispatcher.Next(protocol.OpDispatch)
	defer first.Cancel()
	if resume != nil {
		seq, _ := c.Sequence()
		sender.Enqueue(protocol.NewResume(protocol.ResumeData{
			Token:     token,
			SessionID: resume.ID,
			Seq:       seq,
		}), PriorityHeartbeat)
	} else {
		sender.Enqueue(protocol.NewIdentify(c.identifyData(token)), PriorityHeartbeat)
	}
	c.identified.Store(true)

	c.setState(StateAwaitingReady)
	env, err = c.await(cctx, first, c.opts.ReadyTimeout, "ready", ErrReadyTimeout, sender, receiver, hb)
	if err != nil {
		c.opts.Metrics.IncHandshake("failed")
		return false, err
	}
	result := "resume"
	if resume == nil {
		result = "identify"
		if err := c.storeReady(env); err != nil {
			c.opts.Metrics.IncHandshake("failed")
			return false, &ConnectionError{Op: "ready", Err: err}
		}
	}

	c.opts.Metrics.IncHandshake(result)
	c.opts.Metrics.SetConnected(true)
	c.setState(StateRunning)
	sess, _ := c.Session()
	log.Infow("gateway_ready", "handshake", result, "event", env.EventName(),
		"session_id", sess.ID, "user", sess.User.Username)
	endSpan(nil)

	g, gctx := errgroup.WithContext(cctx)
	for _, r := range []runner{sender, receiver, hb} {
		g.Go(func() error {
			select {
			case <-r.Done():
				return r.Err()
			case <-gctx.Done():
				return nil
			}
		})
	}
	return true, g.Wait()
}

// await 等待握手帧，同时盯住三个循环：任何一个先退出都算握手失败
func (c *Client) await(ctx context.Context, f *Future, timeout time.Duration, op string, timeoutErr error,
	s *Sender, r *Receiver, hb *Heartbeater) (*protocol.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-f.C():
		return env, nil
	case <-timer.C:
		return nil, &ConnectionError{Op: op, Err: timeoutErr}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.Done():
		return nil, loopFailure(op, s)
	case <-r.Done():
		return nil, loopFailure(op, r)
	case <-hb.Done():
		return nil, loopFailure(op, hb)
	}
}

func loopFailure(op string, l runner) error {
	if err := l.Err(); err != nil {
		return err
	}
	return &ConnectionError{Op: op, Err: ErrLoopExited}
}

func (c *Client) identifyData(token string) protocol.IdentifyData {
	return protocol.IdentifyData{
		Token:          token,
		Intents:        c.opts.Intents.Bitmask(),
		Properties:     c.opts.Properties,
		LargeThreshold: c.opts.LargeThreshold,
		Presence:       c.opts.Presence,
	}
}

func (c *Client) storeReady(env *protocol.Envelope) error {
	if name := env.EventName(); name != protocol.EventReady {
		c.log.Warnw("unexpected_first_dispatch", "event", name)
	}
	var ready protocol.ReadyData
	if err := env.DecodeData(&ready); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = &Session{
		ID:         ready.SessionID,
		ResumeURL:  ready.ResumeGatewayURL,
		User:       ready.User,
		APIVersion: ready.Version,
		Guilds:     len(ready.Guilds),
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) onDispatch(_ context.Context, env *protocol.Envelope) error {
	if seq, ok := env.Sequence(); ok {
		c.seq.Store(seq)
		c.hasSeq.Store(true)
	}
	return nil
}

func (c *Client) onReconnect(context.Context, *protocol.Envelope) error {
	c.log.Infow("gateway_reconnect_requested")
	return &ConnectionError{Op: "reconnect", Err: ErrReconnectRequested}
}

func (c *Client) onInvalidSession(_ context.Context, env *protocol.Envelope) error {
	var resumable bool
	if len(env.Data) > 0 {
		_ = env.DecodeData(&resumable)
	}
	if !resumable {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		c.hasSeq.Store(false)
	}
	c.log.Warnw("gateway_invalid_session", "resumable", resumable)
	return &ConnectionError{Op: "invalid_session", Err: ErrInvalidSession}
}
