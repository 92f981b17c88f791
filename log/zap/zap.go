// Package zap adapts a *zap.Logger to moviecache.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/moviecache"
)

type Logger struct{ L *zap.Logger }

var _ moviecache.Logger = Logger{}

// New names the logger "moviecache" so cache lines can be filtered.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("moviecache")}
}

func (z Logger) Debug(msg string, f moviecache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f moviecache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f moviecache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f moviecache.Fields) { z.L.Error(msg, zf(f)...) }

// zf emits fields in key order; errors go through zap.NamedError so
// encoders render them as strings.
func zf(f moviecache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
