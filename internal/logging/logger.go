package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how much a worker logs.
type Options struct {
	Service string
	Dir     string
	Level   string // debug|info|warn|error, default info
	Console bool   // also write to stdout
}

// NewLogger writes JSON lines to <logDir>/uptime.log at info level.
func NewLogger(logDir string) (*zap.Logger, error) {
	return NewWithOptions(Options{Dir: logDir})
}

// New is NewLogger with every entry tagged by service name.
func New(service, logDir string) (*zap.Logger, error) {
	return NewWithOptions(Options{Service: service, Dir: logDir})
}

func NewWithOptions(o Options) (*zap.Logger, error) {
	if o.Dir == "" {
		o.Dir = "logs"
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(o.Dir, "uptime.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl := ParseLevel(o.Level)

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl)
	if o.Console {
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), lvl))
	}
	log := zap.New(core)
	if o.Service != "" {
		log = log.With(zap.String("service", o.Service))
	}
	return log, nil
}

// ParseLevel falls back to info for anything it does not recognise.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}
