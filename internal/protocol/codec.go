package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	Json = "json"
)

// DefaultMaxFrameSize 单帧上限，READY 在大号 bot 上可能有几 MB
const DefaultMaxFrameSize = 16 << 20

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrNotObject     = errors.New("payload not object")
	ErrMissingOp     = errors.New("missing field: op")
)

var codecFactories = map[string]func() MessageCodec{
	Json: func() MessageCodec { return JSONCodec{} },
}

// MessageCodec 网关文本帧的编解码器
type MessageCodec interface {
	Name() string
	Encode(w io.Writer, m *Message) error
	Decode(r io.Reader, e *Envelope, maxSize int) error
}

// NewCodec 根据 encoding 查询参数创建编解码器
func NewCodec(encoding string) (MessageCodec, error) {
	if factory, ok := codecFactories[encoding]; ok {
		return factory(), nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", encoding)
}

// JSONCodec encoding=json
type JSONCodec struct{}

func (JSONCodec) Name() string { return Json }

func (JSONCodec) Encode(w io.Writer, m *Message) error {
	if w == nil {
		return fmt.Errorf("json.Encode: writer is nil")
	}
	if m == nil {
		return fmt.Errorf("json.Encode: message is nil")
	}
	if !m.Op.IsSend() {
		return fmt.Errorf("json.Encode: opcode %s is not sendable", m.Op)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("json.Encode: %s: %w", m, err)
	}
	_, err = w.Write(b)
	return err
}

// wireEnvelope 用指针区分缺失字段和零值
type wireEnvelope struct {
	Op    *Opcode         `json:"op"`
	Data  json.RawMessage `json:"d"`
	Seq   *int64          `json:"s"`
	Event *string         `json:"t"`
}

func (JSONCodec) Decode(r io.Reader, e *Envelope, maxSize int) error {
	if r == nil {
		return fmt.Errorf("json.Decode: reader is nil")
	}
	if e == nil {
		return fmt.Errorf("json.Decode: envelope is nil")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	buf, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	if len(buf) > maxSize {
		return fmt.Errorf("json.Decode: %w: more than %d bytes", ErrFrameTooLarge, maxSize)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(buf, " \t\r\n"), []byte("{")) {
		return fmt.Errorf("json.Decode: %w", ErrNotObject)
	}
	var w wireEnvelope
	if err := json.Unmarshal(buf, &w); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	if w.Op == nil {
		return fmt.Errorf("json.Decode: %w", ErrMissingOp)
	}
	// "d": null 与缺省等价
	if bytes.Equal(bytes.TrimSpace(w.Data), []byte("null")) {
		w.Data = nil
	}
	*e = Envelope{Op: *w.Op, Data: w.Data, Seq: w.Seq, Event: w.Event}
	return nil
}
