package protocol

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Intent 单个订阅位，取值都是 2 的幂
type Intent int

const (
	IntentGuilds                      Intent = 1 << 0
	IntentGuildMembers                Intent = 1 << 1
	IntentGuildModeration             Intent = 1 << 2
	IntentGuildExpressions            Intent = 1 << 3
	IntentGuildIntegrations           Intent = 1 << 4
	IntentGuildWebhooks               Intent = 1 << 5
	IntentGuildInvites                Intent = 1 << 6
	IntentGuildVoiceStates            Intent = 1 << 7
	IntentGuildPresences              Intent = 1 << 8
	IntentGuildMessages               Intent = 1 << 9
	IntentGuildMessageReactions       Intent = 1 << 10
	IntentGuildMessageTyping          Intent = 1 << 11
	IntentDirectMessages              Intent = 1 << 12
	IntentDirectMessageReactions      Intent = 1 << 13
	IntentDirectMessageTyping         Intent = 1 << 14
	IntentMessageContent              Intent = 1 << 15
	IntentGuildScheduledEvents        Intent = 1 << 16
	IntentAutoModerationConfiguration Intent = 1 << 20
	IntentAutoModerationExecution     Intent = 1 << 21
	IntentGuildMessagePolls           Intent = 1 << 24
	IntentDirectMessagePolls          Intent = 1 << 25
)

// AllIntents 已知的全部 intent，按位从低到高
var AllIntents = []Intent{
	IntentGuilds,
	IntentGuildMembers,
	IntentGuildModeration,
	IntentGuildExpressions,
	IntentGuildIntegrations,
	IntentGuildWebhooks,
	IntentGuildInvites,
	IntentGuildVoiceStates,
	IntentGuildPresences,
	IntentGuildMessages,
	IntentGuildMessageReactions,
	IntentGuildMessageTyping,
	IntentDirectMessages,
	IntentDirectMessageReactions,
	IntentDirectMessageTyping,
	IntentMessageContent,
	IntentGuildScheduledEvents,
	IntentAutoModerationConfiguration,
	IntentAutoModerationExecution,
	IntentGuildMessagePolls,
	IntentDirectMessagePolls,
}

var intentNames = map[Intent]string{
	IntentGuilds:                      "GUILDS",
	IntentGuildMembers:                "GUILD_MEMBERS",
	IntentGuildModeration:             "GUILD_MODERATION",
	IntentGuildExpressions:            "GUILD_EXPRESSIONS",
	IntentGuildIntegrations:           "GUILD_INTEGRATIONS",
	IntentGuildWebhooks:               "GUILD_WEBHOOKS",
	IntentGuildInvites:                "GUILD_INVITES",
	IntentGuildVoiceStates:            "GUILD_VOICE_STATES",
	IntentGuildPresences:              "GUILD_PRESENCES",
	IntentGuildMessages:               "GUILD_MESSAGES",
	IntentGuildMessageReactions:       "GUILD_MESSAGE_REACTIONS",
	IntentGuildMessageTyping:          "GUILD_MESSAGE_TYPING",
	IntentDirectMessages:              "DIRECT_MESSAGES",
	IntentDirectMessageReactions:      "DIRECT_MESSAGE_REACTIONS",
	IntentDirectMessageTyping:         "DIRECT_MESSAGE_TYPING",
	IntentMessageContent:              "MESSAGE_CONTENT",
	IntentGuildScheduledEvents:        "GUILD_SCHEDULED_EVENTS",
	IntentAutoModerationConfiguration: "AUTO_MODERATION_CONFIGURATION",
	IntentAutoModerationExecution:     "AUTO_MODERATION_EXECUTION",
	IntentGuildMessagePolls:           "GUILD_MESSAGE_POLLS",
	IntentDirectMessagePolls:          "DIRECT_MESSAGE_POLLS",
}

// knownMask 所有已知位的并集
var knownMask = func() int {
	m := 0
	for _, i := range AllIntents {
		m |= int(i)
	}
	return m
}()

func (i Intent) String() string {
	if n, ok := intentNames[i]; ok {
		return n
	}
	return "INTENT(" + strconv.Itoa(int(i)) + ")"
}

// Privileged 需要在开发者后台单独开启的 intent
func (i Intent) Privileged() bool {
	switch i {
	case IntentGuildMembers, IntentGuildPresences, IntentMessageContent:
		return true
	}
	return false
}

// Known 是否为已知的单个 intent
func (i Intent) Known() bool {
	_, ok := intentNames[i]
	return ok
}

// ParseIntent 按名称解析，大小写不敏感，也接受整数写法
func ParseIntent(name string) (Intent, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i, s := range intentNames {
		if s == n {
			return i, nil
		}
	}
	if v, err := strconv.Atoi(n); err == nil && Intent(v).Known() {
		return Intent(v), nil
	}
	return 0, fmt.Errorf("unknown intent: %q", name)
}

// IntentSet intent 集合，值语义：Add/Remove 返回新集合，原集合不变。
// 内部按位或存储，重复加入同一个 intent 不会改变结果。
type IntentSet struct {
	mask int
}

// NewIntentSet 由若干 intent 构造集合；未知位被忽略
func NewIntentSet(intents ...Intent) IntentSet {
	return IntentSet{}.Add(intents...)
}

// IntentSetFromBitmask 从整数掩码解析，未知位被丢弃
func IntentSetFromBitmask(mask int) IntentSet {
	return IntentSet{mask: mask & knownMask}
}

// ParseIntentSet 解析逗号分隔的名称列表，或纯整数掩码
func ParseIntentSet(s string) (IntentSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return IntentSet{}, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 {
			return IntentSet{}, fmt.Errorf("negative intents mask: %d", v)
		}
		return IntentSetFromBitmask(v), nil
	}
	var set IntentSet
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		i, err := ParseIntent(part)
		if err != nil {
			return IntentSet{}, err
		}
		set = set.Add(i)
	}
	return set, nil
}

func (s IntentSet) Add(intents ...Intent) IntentSet {
	for _, i := range intents {
		s.mask |= int(i) & knownMask
	}
	return s
}

func (s IntentSet) Remove(intents ...Intent) IntentSet {
	for _, i := range intents {
		s.mask &^= int(i)
	}
	return s
}

func (s IntentSet) Has(i Intent) bool {
	return i != 0 && s.mask&int(i) == int(i)
}

// Bitmask 发送 IDENTIFY 时使用的整数值
func (s IntentSet) Bitmask() int { return s.mask }

func (s IntentSet) Len() int { return bits.OnesCount(uint(s.mask)) }

func (s IntentSet) IsEmpty() bool { return s.mask == 0 }

func (s IntentSet) Equal(o IntentSet) bool { return s.mask == o.mask }

// Intents 按位从低到高列出成员
func (s IntentSet) Intents() []Intent {
	out := make([]Intent, 0, s.Len())
	for _, i := range AllIntents {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (s IntentSet) String() string {
	names := make([]string, 0, s.Len())
	for _, i := range s.Intents() {
		names = append(names, i.String())
	}
	return "Intents(" + strings.Join(names, ", ") + ")"
}
