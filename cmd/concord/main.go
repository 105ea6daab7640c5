package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "unknown"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concord",
		Short: "concord - Discord gateway client",
		Long: `concord keeps a bot session on the Discord gateway: heartbeats,
identify/resume, reconnect with backoff, and fans dispatch events out to
logs, prometheus and an optional redis stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "path to a yaml config file (env CONCORD_* still applies)")

	cmd.AddCommand(
		newRunCommand(),
		newIntentsCommand(),
		newConsumeCommand(),
		newPeekCommand(),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "concord %s (%s)\n", version, commit)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
