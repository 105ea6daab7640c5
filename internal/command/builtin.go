package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/protocol"
)

// RegisterBuiltins 注册内置命令
func RegisterBuiltins(r *Registry) error {
	builtins := []*Command{
		{
			Name: "help",
			Help: "查看帮助",
			Handler: func(ctx *Context) error {
				for _, c := range r.List() {
					aliases := ""
					if len(c.Aliases) > 0 {
						aliases = " (别名: " + strings.Join(c.Aliases, ", ") + ")"
					}
					ctx.Printf("/%s - %s%s", c.Name, c.Help, aliases)
				}
				return nil
			},
		},
		{
			Name: "quit",
			Help: "退出控制台",
			Handler: func(*Context) error {
				return ErrQuit
			},
		},
		{
			Name:    "status",
			Aliases: []string{"state"},
			Help:    "查看连接状态、会话与序列号",
			Handler: status,
		},
		{
			Name:    "latency",
			Aliases: []string{"ping"},
			Help:    "最近一次心跳往返耗时",
			Handler: func(ctx *Context) error {
				ctx.Printf("latency %s", ctx.Gateway.Latency())
				return nil
			},
		},
		{
			Name:    "presence",
			Help:    "更新在线状态: /presence <online|idle|dnd|invisible> [playing text]",
			Handler: presence,
		},
		{
			Name:    "members",
			Help:    "请求成员列表: /members <guild_id> [query] [limit]",
			Handler: members,
		},
		{
			Name:    "voice",
			Help:    "加入或离开语音: /voice <guild_id> [channel_id|-] [mute] [deaf]",
			Handler: voice,
		},
		{
			Name:    "sounds",
			Help:    "请求音效板: /sounds <guild_id>...",
			Handler: sounds,
		},
	}
	for _, c := range builtins {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func status(ctx *Context) error {
	g := ctx.Gateway
	ctx.Printf("state %s", g.State())
	if seq, ok := g.Sequence(); ok {
		ctx.Printf("sequence %d", seq)
	}
	if s, ok := g.Session(); ok {
		ctx.Printf("session %s user=%s guilds=%d v=%d", s.ID, s.User.Username, s.Guilds, s.APIVersion)
	}
	return nil
}

func presence(ctx *Context) error {
	if len(ctx.Args) < 1 {
		return fmt.Errorf("用法: /presence <online|idle|dnd|invisible> [playing text]")
	}
	st := protocol.Status(strings.ToLower(ctx.Args[0]))
	switch st {
	case protocol.StatusOnline, protocol.StatusIdle, protocol.StatusDoNotDisturb, protocol.StatusInvisible:
	default:
		return fmt.Errorf("unknown status %q", ctx.Args[0])
	}
	p := protocol.PresenceUpdate{Status: st, Activities: []protocol.Activity{}}
	if len(ctx.Args) > 1 {
		p.Activities = append(p.Activities, protocol.Activity{
			Name: strings.Join(ctx.Args[1:], " "),
			Type: protocol.ActivityPlaying,
		})
	}
	if st == protocol.StatusIdle {
		since := time.Now().UnixMilli()
		p.Since = &since
	}
	if err := ctx.Gateway.UpdatePresence(p); err != nil {
		return err
	}
	ctx.Printf("presence -> %s", st)
	return nil
}

func members(ctx *Context) error {
	if len(ctx.Args) < 1 {
		return fmt.Errorf("用法: /members <guild_id> [query] [limit]")
	}
	query := ""
	d := protocol.RequestGuildMembersData{GuildID: ctx.Args[0], Query: &query}
	if len(ctx.Args) > 1 {
		query = ctx.Args[1]
	}
	if len(ctx.Args) > 2 {
		n, err := strconv.Atoi(ctx.Args[2])
		if err != nil || n < 0 {
			return fmt.Errorf("limit 不是非负整数: %s", ctx.Args[2])
		}
		d.Limit = n
	}
	return send(ctx, protocol.NewRequestGuildMembers(d))
}

func voice(ctx *Context) error {
	if len(ctx.Args) < 1 {
		return fmt.Errorf("用法: /voice <guild_id> [channel_id|-] [mute] [deaf]")
	}
	d := protocol.VoiceStateUpdateData{GuildID: ctx.Args[0]}
	if len(ctx.Args) > 1 && ctx.Args[1] != "-" {
		ch := ctx.Args[1]
		d.ChannelID = &ch
	}
	for _, flag := range ctx.Args[min(2, len(ctx.Args)):] {
		switch strings.ToLower(flag) {
		case "mute":
			d.SelfMute = true
		case "deaf":
			d.SelfDeaf = true
		default:
			return fmt.Errorf("unknown voice flag %q", flag)
		}
	}
	return send(ctx, protocol.NewVoiceStateUpdate(d))
}

func sounds(ctx *Context) error {
	if len(ctx.Args) < 1 {
		return fmt.Errorf("用法: /sounds <guild_id>...")
	}
	return send(ctx, protocol.NewRequestSoundboardSounds(ctx.Args...))
}

func send(ctx *Context, msg *protocol.Message) error {
	if err := ctx.Gateway.Send(msg, gateway.PriorityDefault); err != nil {
		return err
	}
	ctx.Printf("queued %s", msg.Op)
	return nil
}
