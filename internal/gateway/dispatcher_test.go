package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hongjun500/concord-go/internal/protocol"
)

func TestDispatcherFanOutInOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var calls []int
	for i := 0; i < 3; i++ {
		d.Register(protocol.OpHeartbeatAck, func(context.Context, *protocol.Envelope) error {
			calls = append(calls, i)
			return nil
		})
	}

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHeartbeatAck}))
	require.Equal(t, []int{0, 1, 2}, calls)

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHello}))
	require.Len(t, calls, 3, "other opcodes must not reach these handlers")
}

func TestDispatcherOneShot(t *testing.T) {
	d := NewDispatcher(nil)
	n := 0
	d.RegisterOnce(protocol.OpHello, func(context.Context, *protocol.Envelope) error {
		n++
		return nil
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHello}))
	}
	require.Equal(t, 1, n)
	require.Zero(t, d.Len(protocol.OpHello))
}

func TestDispatcherFuturesResolveTogether(t *testing.T) {
	d := NewDispatcher(nil)
	a := d.Next(protocol.OpHello)
	b := d.Next(protocol.OpHello)

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHeartbeatAck}))
	select {
	case <-a.C():
		t.Fatal("future resolved by a different opcode")
	default:
	}

	hello := envelope(t, `{"op":10,"d":{"heartbeat_interval":1000}}`)
	require.NoError(t, d.Dispatch(context.Background(), hello))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ea, err := a.Wait(ctx)
	require.NoError(t, err)
	eb, err := b.Wait(ctx)
	require.NoError(t, err)
	require.Same(t, hello, ea)
	require.Same(t, ea, eb)
	require.Zero(t, d.Len(protocol.OpHello))
}

func TestDispatcherOrderAcrossKinds(t *testing.T) {
	d := NewDispatcher(nil)
	var order []string
	f := d.Next(protocol.OpDispatch)
	d.RegisterOnce(protocol.OpDispatch, func(context.Context, *protocol.Envelope) error {
		order = append(order, "once")
		select {
		case <-f.C():
			t.Error("future resolved before one-shot handlers")
		default:
		}
		return nil
	})
	d.Register(protocol.OpDispatch, func(context.Context, *protocol.Envelope) error {
		order = append(order, "persistent")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpDispatch}))
	require.Equal(t, []string{"persistent", "once"}, order)
	select {
	case <-f.C():
	default:
		t.Fatal("future not resolved")
	}
}

func TestDispatcherUnknownOpcodeDropped(t *testing.T) {
	d := NewDispatcher(nil)
	called := false
	d.Register(protocol.OpIdentify, func(context.Context, *protocol.Envelope) error {
		called = true
		return nil
	})
	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpIdentify}))
	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: 42}))
	require.False(t, called)
}

func TestDispatcherFailFast(t *testing.T) {
	d := NewDispatcher(nil)
	boom := errors.New("boom")
	second := false
	d.Register(protocol.OpHello, func(context.Context, *protocol.Envelope) error { return boom })
	d.Register(protocol.OpHello, func(context.Context, *protocol.Envelope) error {
		second = true
		return nil
	})

	err := d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHello})
	require.ErrorIs(t, err, boom)
	require.False(t, second)
}

func TestDispatcherHandlerErrorStillResolvesFutures(t *testing.T) {
	d := NewDispatcher(nil)
	boom := errors.New("boom")
	d.Register(protocol.OpDispatch, func(context.Context, *protocol.Envelope) error { return boom })
	f := d.Next(protocol.OpDispatch)

	env := &protocol.Envelope{Op: protocol.OpDispatch}
	require.ErrorIs(t, d.Dispatch(context.Background(), env), boom)
	select {
	case got := <-f.C():
		require.Same(t, env, got)
	case <-time.After(time.Second):
		t.Fatal("future starved by failing handler")
	}
	require.Equal(t, 1, d.Len(protocol.OpDispatch), "only the persistent handler stays registered")
}

func TestDispatcherRecoversPanic(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(protocol.OpHello, func(context.Context, *protocol.Envelope) error { panic("bad handler") })

	err := d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHello})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad handler")
}

func TestDispatcherCancel(t *testing.T) {
	d := NewDispatcher(nil)
	n := 0
	cancel := d.RegisterCancelable(protocol.OpHello, func(context.Context, *protocol.Envelope) error {
		n++
		return nil
	})
	cancel()
	cancel()
	require.NoError(t, d.Dispatch(context.Background(), &protocol.Envelope{Op: protocol.OpHello}))
	require.Zero(t, n)
}

func TestFutureWaitTimeoutUnregisters(t *testing.T) {
	d := NewDispatcher(nil)
	f := d.Next(protocol.OpHello)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, d.Len(protocol.OpHello))
}
