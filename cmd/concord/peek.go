package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/protocol"
	"github.com/hongjun500/concord-go/internal/transport"
)

func newPeekCommand() *cobra.Command {
	var (
		count   int
		maxSize int
	)
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "dial the gateway without identifying and print the first frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			target, err := gateway.ConnectURL(cfg.GatewayURL, cfg.APIVersion, cfg.Encoding)
			if err != nil {
				return err
			}
			codec, err := protocol.NewCodec(cfg.Encoding)
			if err != nil {
				return err
			}
			return peek(cmd.Context(), transport.NewWebSocketDialer(transport.Options{}), target, codec, count, maxSize, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("gateway-url", "", "gateway url")
	cmd.Flags().IntVar(&count, "count", 1, "number of frames to print")
	cmd.Flags().IntVar(&maxSize, "max", 1<<20, "max frame size in bytes")
	return cmd
}

func peek(ctx context.Context, d transport.Dialer, target string, codec protocol.MessageCodec, count, maxSize int, out io.Writer) error {
	conn, err := d.Dial(ctx, target)
	if err != nil {
		return err
	}
	defer conn.Close(transport.CloseNormal, "")
	fmt.Fprintf(out, "connected: %s\n", target)

	for i := 0; i < count; i++ {
		f, err := conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		switch f.Kind {
		case transport.FrameClose:
			fmt.Fprintf(out, "close: %d %s\n", f.CloseCode, f.Reason)
			return nil
		case transport.FrameBinary:
			s := base64.StdEncoding.EncodeToString(f.Data)
			if len(s) > 80 {
				s = s[:80] + "..."
			}
			fmt.Fprintf(out, "binary(base64): %s\n", s)
			continue
		}

		var env protocol.Envelope
		if err := codec.Decode(bytes.NewReader(f.Data), &env, maxSize); err != nil {
			fmt.Fprintf(out, "decode error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Envelope:\n")
		fmt.Fprintf(out, "  op: %s\n", env.Op)
		if seq, ok := env.Sequence(); ok {
			fmt.Fprintf(out, "  s:  %d\n", seq)
		}
		if name := env.EventName(); name != "" {
			fmt.Fprintf(out, "  t:  %s\n", name)
		}
		if len(env.Data) == 0 || !utf8.Valid(env.Data) {
			fmt.Fprintf(out, "  d:  <empty>\n")
		} else {
			fmt.Fprintf(out, "  d:  %s\n", env.Data)
		}
	}
	return nil
}
