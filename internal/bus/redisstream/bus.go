package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultStream = "concord:events"
	DefaultGroup  = "concord"
	defaultBlock  = 5 * time.Second
)

// Bus 基于 Redis Stream 的事件总线：网关侧 XADD，下游用消费组读取
type Bus struct {
	cli    *redis.Client
	stream string
	group  string
	block  time.Duration
	maxLen int64
	log    *zap.SugaredLogger
}

// Message 转发到 stream 的一条 DISPATCH 事件
type Message struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq"`
	When time.Time       `json:"when"`
	Data json.RawMessage `json:"data,omitempty"`
}

func New(addr string, db int, stream, group string) *Bus {
	cli := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return NewWithClient(cli, stream, group)
}

func NewWithClient(cli *redis.Client, stream, group string) *Bus {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	return &Bus{cli: cli, stream: stream, group: group, block: defaultBlock, log: zap.NewNop().Sugar()}
}

// WithLogger 消费过程中的读失败、坏消息、处理失败都记到这里
func (b *Bus) WithLogger(l *zap.Logger) *Bus {
	if l != nil {
		b.log = l.Sugar().With("stream", b.stream, "group", b.group)
	}
	return b
}

// WithBlock 调整 XREADGROUP 的阻塞时长（也是取消生效的最长延迟）
func (b *Bus) WithBlock(d time.Duration) *Bus {
	if d > 0 {
		b.block = d
	}
	return b
}

// WithMaxLen 近似裁剪 stream 长度；0 不裁剪
func (b *Bus) WithMaxLen(n int64) *Bus {
	b.maxLen = n
	return b
}

func (b *Bus) Stream() string { return b.stream }

func (b *Bus) Ping(ctx context.Context) error { return b.cli.Ping(ctx).Err() }

func (b *Bus) Close() error { return b.cli.Close() }

// EnsureGroup 创建 stream 和消费组；组已存在不算错误
func (b *Bus) EnsureGroup(ctx context.Context) error {
	err := b.cli.XGroupCreateMkStream(ctx, b.stream, b.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, m *Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: b.stream, Values: map[string]any{"data": payload}}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	return b.cli.XAdd(ctx, args).Err()
}

type Handler func(ctx context.Context, m *Message) error

// Consume blocks and delivers messages to handler; call cancel to stop.
// 处理失败的消息不 ack，留在 pending 列表里。
func (b *Bus) Consume(ctx context.Context, consumer string, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := b.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: consumer,
			Streams:  []string{b.stream, ">"},
			Count:    100,
			Block:    b.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warnw("stream_read_failed", "consumer", consumer, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, str := range res {
			for _, xmsg := range str.Messages {
				raw, _ := xmsg.Values["data"].(string)
				var m Message
				if err := json.Unmarshal([]byte(raw), &m); err != nil {
					// 无法解析的消息直接 ack 掉，避免反复投递
					b.log.Warnw("stream_decode_failed", "id", xmsg.ID, "err", err)
					b.ack(ctx, xmsg.ID)
					continue
				}
				if err := handler(ctx, &m); err != nil {
					b.log.Warnw("stream_handler_failed", "id", xmsg.ID, "type", m.Type, "err", err)
					continue
				}
				b.ack(ctx, xmsg.ID)
			}
		}
	}
}

func (b *Bus) ack(ctx context.Context, id string) {
	if err := b.cli.XAck(ctx, b.stream, b.group, id).Err(); err != nil {
		b.log.Warnw("stream_ack_failed", "id", id, "err", err)
	}
}
