package subscriber

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hongjun500/concord-go/internal/bus/redisstream"
	"github.com/hongjun500/concord-go/internal/events"
	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
)

func frame(t *testing.T, raw string) *protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	return &env
}

func TestRegisterAllCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.NewMetrics(reg)
	r := events.NewRouter(nil)
	RegisterAll(r, Deps{Metrics: m})

	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":1,"t":"READY","d":{"v":10,"session_id":"s","user":{"id":"1","username":"bot"}}}`))
	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":2,"t":"MESSAGE_CREATE","d":{}}`))
	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":3,"t":"MESSAGE_CREATE","d":{}}`))

	expected := `
# HELP concord_gateway_events_total Total dispatch events by name
# TYPE concord_gateway_events_total counter
concord_gateway_events_total{name="MESSAGE_CREATE"} 2
concord_gateway_events_total{name="READY"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "concord_gateway_events_total"); err != nil {
		t.Fatal(err)
	}
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []*redisstream.Message
}

func (p *memPublisher) Publish(_ context.Context, m *redisstream.Message) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestForwarderPublishesEvents(t *testing.T) {
	pub := &memPublisher{}
	f := NewForwarder(pub, nil, nil, 8)
	r := events.NewRouter(nil)
	f.Register(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	_ = r.Handle(ctx, frame(t, `{"op":0,"s":9,"t":"GUILD_CREATE","d":{"id":"1"}}`))

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if pub.count() != 1 {
		t.Fatalf("expect 1 forwarded message, got %d", pub.count())
	}
	m := pub.msgs[0]
	if m.Type != "GUILD_CREATE" || m.Seq != 9 || string(m.Data) != `{"id":"1"}` {
		t.Fatalf("unexpected forwarded message %+v", m)
	}
}

func TestForwarderFilterAndDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.NewMetrics(reg)
	f := NewForwarder(&memPublisher{}, nil, m, 1, protocol.EventMessageCreate)
	r := events.NewRouter(nil)
	f.Register(r)

	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":1,"t":"TYPING_START","d":{}}`))
	if len(f.queue) != 0 {
		t.Fatal("filtered event was queued")
	}
	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":2,"t":"MESSAGE_CREATE","d":{}}`))
	_ = r.Handle(context.Background(), frame(t, `{"op":0,"s":3,"t":"MESSAGE_CREATE","d":{}}`))
	if len(f.queue) != 1 {
		t.Fatalf("expect buffer of 1 to be full, got %d", len(f.queue))
	}

	expected := `
# HELP concord_gateway_frames_dropped_total Total frames or events dropped by reason
# TYPE concord_gateway_frames_dropped_total counter
concord_gateway_frames_dropped_total{reason="forward"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "concord_gateway_frames_dropped_total"); err != nil {
		t.Fatal(err)
	}
}
