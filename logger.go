package moviecache

// Fields carries structured context for a log line. Values may be errors;
// the adapters under log/ render them as strings.
type Fields map[string]any

// Logger is the leveled logger the cache writes through. log/zap and
// log/logrus adapt the two supported backends.
// If Logger is nil in Options, logging is disabled.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
