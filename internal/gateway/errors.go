package gateway

import (
	"errors"
	"fmt"

	"github.com/hongjun500/concord-go/internal/protocol"
)

// 连接类错误的原因
var (
	ErrHeartbeatTimeout   = errors.New("gateway: heartbeat ack not received")
	ErrHelloTimeout       = errors.New("gateway: timed out waiting for HELLO")
	ErrReadyTimeout       = errors.New("gateway: timed out waiting for READY")
	ErrReconnectRequested = errors.New("gateway: server requested reconnect")
	ErrInvalidSession     = errors.New("gateway: session invalidated")
	ErrLoopExited         = errors.New("gateway: loop exited")
)

// 配置/使用错误，不会重试
var (
	ErrMissingToken    = errors.New("gateway: token is required")
	ErrNotWired        = errors.New("gateway: component used before it was wired")
	ErrInvalidInterval = errors.New("gateway: heartbeat interval must be positive")
	ErrNotConnected    = errors.New("gateway: not connected")
	ErrAlreadyStarted  = errors.New("gateway: already started")
)

// ConnectionError 传输、握手、心跳失败。
// Code 非零时是服务端关闭帧里的状态码，决定是否允许重连。
type ConnectionError struct {
	Op   string
	Code protocol.CloseCode
	Err  error
}

func (e *ConnectionError) Error() string {
	s := "gateway " + e.Op
	if e.Code != 0 {
		s += fmt.Sprintf(" (close %d: %s)", int(e.Code), e.Code)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Reconnectable 4004、4010-4014 为终止性关闭，其余可重连
func (e *ConnectionError) Reconnectable() bool {
	if e.Code != 0 {
		return e.Code.Reconnectable()
	}
	return true
}

// ReconnectExhaustedError 连续失败次数达到上限
type ReconnectExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("gateway: gave up after %d reconnect attempts: %v", e.Attempts, e.Last)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Last }

// IsRecoverable 重连循环唯一的判定入口：只有可重连的 ConnectionError 才重试
func IsRecoverable(err error) bool {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Reconnectable()
	}
	return false
}
