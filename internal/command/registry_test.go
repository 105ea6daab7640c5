package command

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
)

type fakeGateway struct {
	mu       sync.Mutex
	sent     []*protocol.Message
	presence []protocol.PresenceUpdate
}

func (f *fakeGateway) State() gateway.State { return gateway.StateRunning }
func (f *fakeGateway) Session() (gateway.Session, bool) {
	return gateway.Session{ID: "sess-1", User: protocol.User{Username: "bot"}, Guilds: 2, APIVersion: 10}, true
}
func (f *fakeGateway) Sequence() (int64, bool) { return 7, true }
func (f *fakeGateway) Latency() time.Duration { return 42 * time.Millisecond }
func (f *fakeGateway) Send(m *protocol.Message, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeGateway) UpdatePresence(p protocol.PresenceUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, p)
	return nil
}

func newRegistry(t *testing.T, m *observe.Metrics) *Registry {
	t.Helper()
	r := NewRegistry(m)
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return r
}

func run(t *testing.T, r *Registry, g Gateway, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	handled, err := r.Execute(line, &Context{Gateway: g, Out: &out})
	if !handled {
		t.Fatalf("%q not handled", line)
	}
	return out.String(), err
}

func TestRegistryExecute_Basic(t *testing.T) {
	reg := NewRegistry(nil)
	err := reg.Register(&Command{
		Name:    "echo",
		Aliases: []string{"say"},
		Help:    "echo text",
		Handler: func(ctx *Context) error {
			ctx.Printf("ok:%s", strings.Join(ctx.Args, " "))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register err: %v", err)
	}

	out, err := run(t, reg, nil, "/SAY hi there")
	if err != nil || out != "ok:hi there\n" {
		t.Fatalf("execute failed: out=%q err=%v", out, err)
	}
	if handled, _ := reg.Execute("plain text", &Context{}); handled {
		t.Fatal("plain text must not be handled")
	}
	if err := reg.Register(&Command{Name: "echo", Handler: func(*Context) error { return nil }}); err == nil {
		t.Fatal("expect duplicate name error")
	}
	if err := reg.Register(&Command{Name: "a/b", Handler: func(*Context) error { return nil }}); err == nil {
		t.Fatal("expect slash name error")
	}
}

func TestBuiltinsDriveGateway(t *testing.T) {
	g := &fakeGateway{}
	r := newRegistry(t, nil)

	out, err := run(t, r, g, "/status")
	if err != nil || !strings.Contains(out, "state running") || !strings.Contains(out, "session sess-1 user=bot") {
		t.Fatalf("status: %q %v", out, err)
	}

	if _, err := run(t, r, g, "/presence idle chess with friends"); err != nil {
		t.Fatalf("presence: %v", err)
	}
	if len(g.presence) != 1 || g.presence[0].Status != protocol.StatusIdle || g.presence[0].Since == nil {
		t.Fatalf("unexpected presence %+v", g.presence)
	}
	if g.presence[0].Activities[0].Name != "chess with friends" {
		t.Fatalf("unexpected activity %+v", g.presence[0].Activities)
	}

	if _, err := run(t, r, g, "/members 99 al 5"); err != nil {
		t.Fatalf("members: %v", err)
	}
	if _, err := run(t, r, g, "/voice 99 123 mute"); err != nil {
		t.Fatalf("voice: %v", err)
	}
	if _, err := run(t, r, g, "/sounds 1 2"); err != nil {
		t.Fatalf("sounds: %v", err)
	}
	if len(g.sent) != 3 {
		t.Fatalf("expect 3 messages, got %d", len(g.sent))
	}
	b, _ := json.Marshal(g.sent[0])
	if string(b) != `{"op":8,"d":{"guild_id":"99","query":"al","limit":5}}` {
		t.Fatalf("unexpected members frame %s", b)
	}
	b, _ = json.Marshal(g.sent[1])
	if string(b) != `{"op":4,"d":{"guild_id":"99","channel_id":"123","self_mute":true,"self_deaf":false}}` {
		t.Fatalf("unexpected voice frame %s", b)
	}
	if g.sent[2].Op != protocol.OpRequestSoundboardSounds {
		t.Fatalf("unexpected op %s", g.sent[2].Op)
	}
}

func TestBuiltinErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observe.NewMetrics(reg)
	r := newRegistry(t, m)
	g := &fakeGateway{}

	for _, line := range []string{"/presence busy", "/members", "/members 1 q x", "/voice 1 - loud", "/nope"} {
		if _, err := run(t, r, g, line); err == nil {
			t.Errorf("%q: expect error", line)
		}
	}
	if len(g.sent) != 0 || len(g.presence) != 0 {
		t.Fatalf("nothing should be sent: %v %v", g.sent, g.presence)
	}
	expected := `
# HELP concord_console_command_errors_total Total console command errors
# TYPE concord_console_command_errors_total counter
concord_console_command_errors_total{reason="handler"} 4
concord_console_command_errors_total{reason="not_found"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "concord_console_command_errors_total"); err != nil {
		t.Fatal(err)
	}
}

func TestServe(t *testing.T) {
	r := newRegistry(t, nil)
	g := &fakeGateway{}
	in := strings.NewReader("hello\n/latency\n/bogus\n/quit\n/sounds 1\n")
	var out bytes.Buffer
	if err := r.Serve(context.Background(), in, g, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	text := out.String()
	for _, want := range []string{"try /help", "latency 42ms", "error: command bogus not found"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
	if len(g.sent) != 0 {
		t.Fatal("commands after /quit must not run")
	}
}
