package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level    string   // debug|info|warn|error
	Encoding string   // json|console
	Output   []string // 默认 stdout
}

var (
	baseLogger = zap.NewNop()
	atomicLVL  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// New 按 Options 构建 logger，并替换包级默认 logger
func New(opt Options) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(parseLevel(opt.Level))
	encoding := opt.Encoding
	if encoding != "console" {
		encoding = "json"
	}
	output := opt.Output
	if len(output) == 0 {
		output = []string{"stdout"}
	}
	cfg := zap.Config{
		Level:       lvl,
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      output,
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	baseLogger, atomicLVL = l, lvl
	return l, nil
}

// L 最近一次 New 构建的 logger，之前为 Nop
func L() *zap.Logger { return baseLogger }

func SetLevel(level string) { atomicLVL.SetLevel(parseLevel(level)) }

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
