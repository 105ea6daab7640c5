package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hongjun500/concord-go/internal/bus/redisstream"
	"github.com/hongjun500/concord-go/pkg/logger"
)

func newConsumeCommand() *cobra.Command {
	var consumer string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "read forwarded events from the redis stream and print them as json lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("redis address is required (--redis-addr or CONCORD_REDIS_ADDR)")
			}
			if consumer == "" {
				consumer = "concord-" + uuid.NewString()[:8]
			}
			// stdout 留给事件输出，日志走 stderr
			log, err := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, Output: []string{"stderr"}})
			if err != nil {
				return err
			}
			defer log.Sync()
			bus := redisstream.New(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Stream, cfg.Redis.Group).WithLogger(log)
			defer bus.Close()
			err = consume(cmd.Context(), bus, consumer, cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("redis-addr", "", "redis address")
	cmd.Flags().StringVar(&consumer, "consumer", "", "consumer name inside the group")
	return cmd
}

func consume(ctx context.Context, bus *redisstream.Bus, consumer string, out io.Writer) error {
	if err := bus.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	enc := json.NewEncoder(out)
	return bus.Consume(ctx, consumer, func(_ context.Context, m *redisstream.Message) error {
		return enc.Encode(m)
	})
}
