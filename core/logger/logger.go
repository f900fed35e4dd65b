package logger

// Logger is the logging facade used by every hems package. Implementations
// live in infra/logger.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Warnw(msg string, fields map[string]any)
	Errorf(format string, args ...any)
}

type discard struct{}

func (discard) Debugf(string, ...any)         {}
func (discard) Debugw(string, map[string]any) {}
func (discard) Infof(string, ...any)          {}
func (discard) Warnf(string, ...any)          {}
func (discard) Warnw(string, map[string]any)  {}
func (discard) Errorf(string, ...any)         {}

// Discard returns a Logger that drops everything. Packages fall back to it
// when no logger is injected.
func Discard() Logger { return discard{} }

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return discard{}
	}
	return l
}
