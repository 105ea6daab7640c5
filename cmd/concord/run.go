package main

import (
	"context"
	"errors"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongjun500/concord-go/internal/bus/redisstream"
	"github.com/hongjun500/concord-go/internal/command"
	"github.com/hongjun500/concord-go/internal/config"
	"github.com/hongjun500/concord-go/internal/events"
	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/observe"
	"github.com/hongjun500/concord-go/internal/subscriber"
	"github.com/hongjun500/concord-go/pkg/logger"
)

func newRunCommand() *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "connect to the gateway and stay connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, console)
		},
	}
	addGatewayFlags(cmd.Flags())
	cmd.Flags().BoolVar(&console, "console", false, "read /commands from stdin")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, console bool) error {
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("concord_start", zap.Stringer("config", cfg), zap.String("version", version))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observe.NewMetrics(reg)

	opts := gatewayOptions(cfg)
	opts.Logger = log
	opts.Metrics = metrics
	client, err := gateway.New(opts)
	if err != nil {
		return err
	}

	router := events.NewRouter(log)
	router.Attach(client.Dispatcher())
	subscriber.RegisterAll(router, subscriber.Deps{Logger: log, Metrics: metrics})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Redis.Addr != "" {
		bus := redisstream.New(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Stream, cfg.Redis.Group).WithLogger(log)
		if cfg.Redis.MaxLen > 0 {
			bus.WithMaxLen(cfg.Redis.MaxLen)
		}
		defer bus.Close()
		if err := bus.Ping(ctx); err != nil {
			return err
		}
		fwd := subscriber.NewForwarder(bus, log, metrics, 0, cfg.Redis.Events...)
		fwd.Register(router)
		g.Go(func() error { return fwd.Run(ctx) })
		log.Info("forwarding_events", zap.String("stream", bus.Stream()), zap.Strings("only", cfg.Redis.Events))
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return observe.StartHTTP(ctx, cfg.MetricsAddr, reg) })
		log.Info("metrics_listen", zap.String("addr", cfg.MetricsAddr))
	}

	if console {
		cmds := command.NewRegistry(metrics)
		if err := command.RegisterBuiltins(cmds); err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return cmds.Serve(ctx, os.Stdin, client, os.Stdout)
		})
	}

	// Start 出错时 errgroup 先记录错误再取消其余任务
	g.Go(func() error { return client.Start(ctx, cfg.Token) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("concord_stop", zap.Error(err))
	return err
}
