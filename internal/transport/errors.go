package transport

import (
	"fmt"
)

// 传输层错误定义
var (
	ErrSocketClosed = NewTpError(1001, "Socket is closed", "")
	ErrDial         = NewTpError(1002, "Dial failed", "")
	ErrWrite        = NewTpError(1003, "Write failed", "")
	ErrRead         = NewTpError(1004, "Read failed", "")
)

type tpError struct {
	code    int
	msg     string
	context string
	cause   error
}

func (e *tpError) Error() string {
	s := fmt.Sprintf("Error %d: %s", e.code, e.msg)
	if e.context != "" {
		s += fmt.Sprintf(" (context: %s)", e.context)
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *tpError) Unwrap() error { return e.cause }

// Is 同 code 即视为同一类错误，便于 errors.Is(err, ErrDial)
func (e *tpError) Is(target error) bool {
	t, ok := target.(*tpError)
	return ok && t.code == e.code
}

// Code 错误码
func (e *tpError) Code() int { return e.code }

func NewTpError(code int, message string, context string) *tpError {
	return &tpError{
		code:    code,
		msg:     message,
		context: context,
	}
}

// wrap 在某类错误上附加上下文和底层原因
func wrap(base *tpError, context string, cause error) error {
	return &tpError{code: base.code, msg: base.msg, context: context, cause: cause}
}
