package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope 服务端下发的一帧：{op, d, s, t}
//
// s / t 只在 DISPATCH 帧上出现；t 决定 d 的具体结构。
type Envelope struct {
	Op    Opcode          `json:"op"`
	Data  json.RawMessage `json:"d,omitempty"`
	Seq   *int64          `json:"s,omitempty"`
	Event *string         `json:"t,omitempty"`
}

// Sequence 返回帧携带的序列号
func (e *Envelope) Sequence() (int64, bool) {
	if e == nil || e.Seq == nil {
		return 0, false
	}
	return *e.Seq, true
}

// EventName 返回 DISPATCH 帧的事件名，非 DISPATCH 帧为空串
func (e *Envelope) EventName() string {
	if e == nil || e.Event == nil {
		return ""
	}
	return *e.Event
}

// DecodeData 把 d 解到 v
func (e *Envelope) DecodeData(v any) error {
	if e == nil || len(e.Data) == 0 {
		return fmt.Errorf("envelope op=%s: empty data", e.opString())
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("envelope op=%s: decode data: %w", e.opString(), err)
	}
	return nil
}

func (e *Envelope) opString() string {
	if e == nil {
		return "<nil>"
	}
	return e.Op.String()
}

// Message 客户端发往网关的消息，d 的结构由 op 决定。
// 只能通过下面的构造函数创建，保证 op 与 d 匹配。
type Message struct {
	Op   Opcode `json:"op"`
	Data any    `json:"d"`
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return "message(op=" + m.Op.String() + ")"
}

// NewHeartbeat 心跳，d 为最近一次收到的序列号；还没有收到过时为 null
func NewHeartbeat(seq *int64) *Message {
	var d any
	if seq != nil {
		v := *seq
		d = v
	}
	return &Message{Op: OpHeartbeat, Data: d}
}

func NewIdentify(d IdentifyData) *Message {
	return &Message{Op: OpIdentify, Data: d}
}

func NewResume(d ResumeData) *Message {
	return &Message{Op: OpResume, Data: d}
}

func NewPresenceUpdate(p PresenceUpdate) *Message {
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	return &Message{Op: OpPresenceUpdate, Data: p}
}

func NewVoiceStateUpdate(d VoiceStateUpdateData) *Message {
	return &Message{Op: OpVoiceStateUpdate, Data: d}
}

func NewRequestGuildMembers(d RequestGuildMembersData) *Message {
	return &Message{Op: OpRequestGuildMembers, Data: d}
}

func NewRequestSoundboardSounds(guildIDs ...string) *Message {
	if guildIDs == nil {
		guildIDs = []string{}
	}
	return &Message{Op: OpRequestSoundboardSounds, Data: RequestSoundboardSoundsData{GuildIDs: guildIDs}}
}
