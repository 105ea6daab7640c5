package main

import (
	"github.com/spf13/pflag"

	"github.com/hongjun500/concord-go/internal/config"
	"github.com/hongjun500/concord-go/internal/gateway"
	"github.com/hongjun500/concord-go/internal/protocol"
)

func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	path, _ := fs.GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(fs, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addGatewayFlags(fs *pflag.FlagSet) {
	fs.String("intents", "", "intents as a bitmask or comma separated names")
	fs.String("gateway-url", "", "gateway url")
	fs.Int("reconnect-attempts", 0, "max consecutive reconnect attempts")
	fs.Bool("resume", false, "resume the previous session on reconnect")
	fs.String("log-level", "", "debug|info|warn|error")
	fs.String("log-encoding", "", "json|console")
	fs.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	fs.String("redis-addr", "", "forward dispatch events to this redis")
	fs.StringSlice("forward", nil, "only forward these event names")
}

// applyFlags 只覆盖命令行上显式给出的参数
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "intents":
			var set protocol.IntentSet
			set, err = protocol.ParseIntentSet(f.Value.String())
			cfg.Intents = config.Intents{IntentSet: set}
		case "gateway-url":
			cfg.GatewayURL = f.Value.String()
		case "reconnect-attempts":
			cfg.ReconnectAttempts, err = fs.GetInt(f.Name)
		case "resume":
			cfg.Resume, err = fs.GetBool(f.Name)
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "log-encoding":
			cfg.LogEncoding = f.Value.String()
		case "metrics-addr":
			cfg.MetricsAddr = f.Value.String()
		case "redis-addr":
			cfg.Redis.Addr = f.Value.String()
		case "forward":
			cfg.Redis.Events, err = fs.GetStringSlice(f.Name)
		}
	})
	return err
}

func gatewayOptions(cfg *config.Config) gateway.Options {
	attempts := cfg.ReconnectAttempts
	if attempts == 0 {
		// 配置里 0 表示不重连
		attempts = gateway.NoReconnect
	}
	return gateway.Options{
		Intents:           cfg.Intents.IntentSet,
		GatewayURL:        cfg.GatewayURL,
		APIVersion:        cfg.APIVersion,
		Encoding:          cfg.Encoding,
		ReconnectAttempts: attempts,
		BackoffBase:       cfg.BackoffBase,
		BackoffMax:        cfg.BackoffMax,
		HelloTimeout:      cfg.HelloTimeout,
		ReadyTimeout:      cfg.ReadyTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		Resume:            cfg.Resume,
	}
}
