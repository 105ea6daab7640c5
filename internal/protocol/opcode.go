package protocol

import "strconv"

// Opcode 网关帧的语义类型
type Opcode int

const (
	OpDispatch                Opcode = 0
	OpHeartbeat               Opcode = 1
	OpIdentify                Opcode = 2
	OpPresenceUpdate          Opcode = 3
	OpVoiceStateUpdate        Opcode = 4
	OpResume                  Opcode = 6
	OpReconnect               Opcode = 7
	OpRequestGuildMembers     Opcode = 8
	OpInvalidSession          Opcode = 9
	OpHello                   Opcode = 10
	OpHeartbeatAck            Opcode = 11
	OpRequestSoundboardSounds Opcode = 31
)

var opcodeNames = map[Opcode]string{
	OpDispatch:                "DISPATCH",
	OpHeartbeat:               "HEARTBEAT",
	OpIdentify:                "IDENTIFY",
	OpPresenceUpdate:          "PRESENCE_UPDATE",
	OpVoiceStateUpdate:        "VOICE_STATE_UPDATE",
	OpResume:                  "RESUME",
	OpReconnect:               "RECONNECT",
	OpRequestGuildMembers:     "REQUEST_GUILD_MEMBERS",
	OpInvalidSession:          "INVALID_SESSION",
	OpHello:                   "HELLO",
	OpHeartbeatAck:            "HEARTBEAT_ACK",
	OpRequestSoundboardSounds: "REQUEST_SOUNDBOARD_SOUNDS",
}

// ReceiveOpcodes 客户端会收到的 opcode，dispatcher 只认这些
var ReceiveOpcodes = []Opcode{
	OpDispatch,
	OpHeartbeat,
	OpReconnect,
	OpInvalidSession,
	OpHello,
	OpHeartbeatAck,
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "OPCODE(" + strconv.Itoa(int(o)) + ")"
}

// IsReceive 是否为服务端下发的 opcode
func (o Opcode) IsReceive() bool {
	switch o {
	case OpDispatch, OpHeartbeat, OpReconnect, OpInvalidSession, OpHello, OpHeartbeatAck:
		return true
	}
	return false
}

// IsSend 是否为客户端可发送的 opcode
func (o Opcode) IsSend() bool {
	switch o {
	case OpHeartbeat, OpIdentify, OpPresenceUpdate, OpVoiceStateUpdate,
		OpResume, OpRequestGuildMembers, OpRequestSoundboardSounds:
		return true
	}
	return false
}

// CloseCode 网关关闭帧的状态码
type CloseCode int

const (
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSeq           CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014
)

var closeCodeNames = map[CloseCode]string{
	CloseUnknownError:         "unknown error",
	CloseUnknownOpcode:        "unknown opcode",
	CloseDecodeError:          "decode error",
	CloseNotAuthenticated:     "not authenticated",
	CloseAuthenticationFailed: "authentication failed",
	CloseAlreadyAuthenticated: "already authenticated",
	CloseInvalidSeq:           "invalid seq",
	CloseRateLimited:          "rate limited",
	CloseSessionTimedOut:      "session timed out",
	CloseInvalidShard:         "invalid shard",
	CloseShardingRequired:     "sharding required",
	CloseInvalidAPIVersion:    "invalid api version",
	CloseInvalidIntents:       "invalid intents",
	CloseDisallowedIntents:    "disallowed intents",
}

func (c CloseCode) String() string {
	if n, ok := closeCodeNames[c]; ok {
		return n
	}
	return "close " + strconv.Itoa(int(c))
}

// Reconnectable 收到该关闭码后是否允许重连。
// 4xxx 之外的码（1000/1001/1006 等）一律视为可重连。
func (c CloseCode) Reconnectable() bool {
	switch c {
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		return false
	}
	return true
}
