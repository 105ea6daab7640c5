package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/protocol"
)

// ErrQuit 由 /quit 返回，控制台循环据此退出
var ErrQuit = errors.New("quit")

// Gateway 控制台命令用到的客户端能力，*gateway.Client 满足该接口
type Gateway interface {
	State() gateway.State
	Session() (gateway.Session, bool)
	Sequence() (int64, bool)
	Latency() time.Duration
	Send(msg *protocol.Message, priority int) error
	UpdatePresence(p protocol.PresenceUpdate) error
}

type Context struct {
	Gateway Gateway
	Out     io.Writer
	Args    []string
	Raw     string
}

func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format+"\n", args...)
}

type HandlerFunc func(ctx *Context) error

type Command struct {
	Name    string
	Aliases []string
	Help    string
	Handler HandlerFunc
}

type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Command
	list    []*Command
	metrics *observe.Metrics
}

func NewRegistry(metrics *observe.Metrics) *Registry {
	return &Registry{
		byName:  make(map[string]*Command),
		list:    make([]*Command, 0),
		metrics: metrics,
	}
}

func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return errors.New("command is nil")
	}
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return errors.New("command name is empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("command name must not contain '/':%s", name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}
	r.byName[name] = cmd
	for _, item := range cmd.Aliases {
		alias := strings.ToLower(strings.TrimSpace(item))
		if alias == "" {
			continue
		}
		if _, exists := r.byName[alias]; exists {
			return fmt.Errorf("command alias %s already registered", alias)
		}
		r.byName[alias] = cmd
	}
	r.list = append(r.list, cmd)
	return nil
}

func (r *Registry) Get(name string) (*Command, bool) {
	k := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[k]
	return cmd, ok
}

func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, len(r.list))
	copy(out, r.list)
	return out
}

// Execute 执行以 / 开头的一行；不是命令时 handled 为 false
func (r *Registry) Execute(raw string, ctx *Context) (handled bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return false, nil
	}
	parts := strings.Fields(raw)
	cmdName := strings.TrimPrefix(parts[0], "/")
	cmd, ok := r.Get(cmdName)
	if !ok {
		r.metrics.IncCommandError("not_found")
		return true, fmt.Errorf("command %s not found", cmdName)
	}
	ctx.Args = parts[1:]
	ctx.Raw = raw
	r.metrics.IncCommand(cmd.Name)
	if err := cmd.Handler(ctx); err != nil {
		if !errors.Is(err, ErrQuit) {
			r.metrics.IncCommandError("handler")
		}
		return true, err
	}
	return true, nil
}

// Serve 逐行读取 in 并执行命令，直到 EOF、/quit 或 ctx 结束。
// 命令错误只打印，不终止循环。
func (r *Registry) Serve(ctx context.Context, in io.Reader, g Gateway, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			c := &Context{Gateway: g, Out: out}
			handled, err := r.Execute(line, c)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			case !handled && strings.TrimSpace(line) != "":
				fmt.Fprintln(out, "commands start with /, try /help")
			}
		}
	}
}
