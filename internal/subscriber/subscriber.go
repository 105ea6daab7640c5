package subscriber

import (
	"context"

	"go.uber.org/zap"

	"github.com/hongjun500/concord-go/internal/events"
	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
)

// Deps 内置订阅者的依赖，均可为空
type Deps struct {
	Logger  *zap.Logger
	Metrics *observe.Metrics
}

// RegisterAll 把所有内置订阅者注册到 Router。业务可按需拆分不同订阅集。
func RegisterAll(r *events.Router, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	registerReady(r, d.Logger.Sugar())
	registerGuilds(r, d.Logger.Sugar())
	registerMetrics(r, d.Metrics)
	registerTrace(r, d.Logger.Sugar())
}

func registerReady(r *events.Router, log *zap.SugaredLogger) {
	r.OnReady(func(_ context.Context, ready protocol.ReadyData) {
		log.Infow("gateway_session",
			"user", ready.User.Username,
			"user_id", ready.User.ID,
			"session_id", ready.SessionID,
			"guilds", len(ready.Guilds),
			"version", ready.Version,
		)
	})
	r.On(protocol.EventResumed, func(_ context.Context, e events.Event) {
		log.Infow("gateway_session_resumed", "seq", e.Seq)
	})
}

func registerGuilds(r *events.Router, log *zap.SugaredLogger) {
	events.OnTyped(r, protocol.EventGuildDelete, func(_ context.Context, g protocol.UnavailableGuild) {
		log.Infow("guild_unavailable", "guild_id", g.ID, "unavailable", g.Unavailable)
	})
}

func registerMetrics(r *events.Router, m *observe.Metrics) {
	if m == nil {
		return
	}
	r.On(events.Any, func(_ context.Context, e events.Event) {
		m.IncEvent(e.Name)
	})
}

func registerTrace(r *events.Router, log *zap.SugaredLogger) {
	r.On(events.Any, func(_ context.Context, e events.Event) {
		log.Debugw("gateway_event", "event", e.Name, "seq", e.Seq, "size", len(e.Data))
	})
}
