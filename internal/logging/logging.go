// Package logging builds the process logger from config and adapts it to
// moviecache.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/moviecache"
	"github.com/unkn0wn-root/moviecache/internal/config"
	lr "github.com/unkn0wn-root/moviecache/log/logrus"
	lz "github.com/unkn0wn-root/moviecache/log/zap"
)

// Logger is the cache logger plus the flush the process runs on exit.
type Logger struct {
	moviecache.Logger
	Sync func() error
}

func New(cfg config.LogConfig) (Logger, error) {
	switch cfg.Backend {
	case "", "zap":
		z, err := buildZap(cfg)
		if err != nil {
			return Logger{}, err
		}
		return Logger{Logger: lz.New(z), Sync: z.Sync}, nil
	case "logrus":
		return Logger{Logger: lr.New(buildLogrus(cfg, os.Stderr)), Sync: func() error { return nil }}, nil
	default:
		return Logger{}, fmt.Errorf("logging: unknown backend %q", cfg.Backend)
	}
}

func buildZap(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.DisableStacktrace = true
	zc.Level = zap.NewAtomicLevelAt(ParseZapLevel(cfg.Level))
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func buildLogrus(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(ParseLogrusLevel(cfg.Level))
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// ParseZapLevel maps a config level; unknown values fall back to info.
func ParseZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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

func ParseLogrusLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}
