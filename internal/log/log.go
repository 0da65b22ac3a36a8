// Package log provides component-scoped structured logging for execcore.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once       sync.Once
	level      = zerolog.InfoLevel
	writerMu   sync.RWMutex
	writer     io.Writer = os.Stderr
)

// SetLevel sets the process-wide minimum log level. Should be called, if at
// all, before the first call to New.
func SetLevel(l zerolog.Level) {
	level = l
}

// SetOutput redirects Logger instances created after the call to w.
func SetOutput(w io.Writer) {
	writerMu.Lock()
	writer = w
	writerMu.Unlock()
}

// New creates a Logger instance scoped to the named component. Each
// component gets its own "component" field so log lines can be filtered by
// subsystem (executor, orchestrator, jobstore, ...), the same scoping the
// reference jobworker achieved with a *log.Logger per package carrying a
// fixed prefix.
func New(component string) Logger {
	once.Do(func() { zerolog.TimeFieldFormat = zerolog.TimeFormatUnix })

	writerMu.RLock()
	w := writer
	writerMu.RUnlock()

	base := zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
	return Logger{base}
}

// Logger wraps a zerolog.Logger. The thin wrapper exists so call sites
// import internal/log instead of github.com/rs/zerolog directly, keeping
// the logging library swappable behind one seam.
type Logger struct {
	zerolog.Logger
}

// WithJob returns a child Logger with job_id and language fields attached,
// used at every log site that touches a specific job.
func (l Logger) WithJob(jobID, language string) Logger {
	return Logger{l.With().Str("job_id", jobID).Str("language", language).Logger()}
}

// Errorf prints an error log-level message, matching the reference
// jobworker's *printf-style call sites so packages adapted from it did not
// need to restructure every log statement into zerolog's fluent form.
func (l Logger) Errorf(msg string, args ...interface{}) {
	l.Error().Msgf(msg, args...)
}

// Warnf prints a warn log-level message.
func (l Logger) Warnf(msg string, args ...interface{}) {
	l.Warn().Msgf(msg, args...)
}

// Infof prints an info log-level message.
func (l Logger) Infof(msg string, args ...interface{}) {
	l.Info().Msgf(msg, args...)
}
