package protocol

// 常用的 DISPATCH 事件名
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
	EventTypingStart       = "TYPING_START"
	EventInteractionCreate = "INTERACTION_CREATE"
)

// ---- 下行 ----

// HelloData op=10
type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// User READY 中的当前用户（只保留会话需要的字段）
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator,omitempty"`
	GlobalName    *string `json:"global_name,omitempty"`
	Bot           bool    `json:"bot,omitempty"`
}

// UnavailableGuild READY 里尚未下发详情的服务器
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// PartialApplication READY 里的应用信息
type PartialApplication struct {
	ID    string `json:"id"`
	Flags int    `json:"flags"`
}

// ReadyData DISPATCH t=READY
type ReadyData struct {
	Version          int                `json:"v"`
	User             User               `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Shard            []int              `json:"shard,omitempty"`
	Application      PartialApplication `json:"application"`
}

// ---- 上行 ----

// IdentifyProperties 连接属性
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData op=2
type IdentifyData struct {
	Token          string             `json:"token"`
	Intents        int                `json:"intents"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Presence       *PresenceUpdate    `json:"presence,omitempty"`
}

// ResumeData op=6
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Status 在线状态
type Status string

const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
	StatusOffline      Status = "offline"
)

// ActivityType 活动类型
type ActivityType int

const (
	ActivityPlaying ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

// Activity 状态里展示的活动
type Activity struct {
	Name  string       `json:"name"`
	Type  ActivityType `json:"type"`
	URL   *string      `json:"url,omitempty"`
	State string       `json:"state,omitempty"`
}

// PresenceUpdate op=3，也可内嵌在 identify 里
type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     Status     `json:"status"`
	AFK        bool       `json:"afk"`
}

// VoiceStateUpdateData op=4，ChannelID 为 nil 表示离开语音
type VoiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// RequestGuildMembersData op=8
type RequestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}

// RequestSoundboardSoundsData op=31
type RequestSoundboardSoundsData struct {
	GuildIDs []string `json:"guild_ids"`
}
