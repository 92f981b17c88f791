// Package logrus adapts a logrus logger to moviecache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/moviecache"
)

type Logger struct{ E *logrus.Entry }

var _ moviecache.Logger = Logger{}

// New tags every line with component=moviecache.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: l.WithField("component", "moviecache")}
}

func (l Logger) Debug(msg string, f moviecache.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f moviecache.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f moviecache.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f moviecache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus' error key.
func (l Logger) with(f moviecache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
