package transport

import (
	"context"
	"time"
)

const (
	WebSocket = "websocket"
)

// 常用的 websocket 关闭码
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	// CloseResume 非 1000 关闭，服务端保留会话供 RESUME
	CloseResume = 4000
)

// FrameKind 读到的帧类型
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClose:
		return "close"
	}
	return "unknown"
}

// Frame 一次 ReadFrame 的结果；Kind 为 FrameClose 时 CloseCode/Reason 有效
type Frame struct {
	Kind      FrameKind
	Data      []byte
	CloseCode int
	Reason    string
}

// Conn 网关 socket 的最小抽象。
// 同一时刻最多一个 goroutine 读、一个 goroutine 写；Close 和两个 deadline 方法可与二者并发，
// 用于打断阻塞中的读写。
type Conn interface {
	ReadFrame() (Frame, error)
	WriteText(ctx context.Context, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close(code int, reason string) error
}

// Dialer 建立到网关的连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
