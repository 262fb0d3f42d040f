package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog. Children made with Named or With share one collector
// slot, so a collector attached after they were derived still sees their
// errors.
type Logger struct {
	zl   zerolog.Logger
	sink *sink
}

type sink struct {
	mu       sync.RWMutex
	c        *LogCollector
	minLevel zerolog.Level
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
	// CollectLevel is the lowest level forwarded to a collector. Default error.
	CollectLevel string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	collect := zerolog.ErrorLevel
	if cfg.CollectLevel != "" {
		if collect, err = zerolog.ParseLevel(cfg.CollectLevel); err != nil {
			return nil, fmt.Errorf("invalid collect level: %w", err)
		}
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl, sink: &sink{minLevel: collect}}, nil
}

func openOutput(dst string) (io.Writer, error) {
	switch dst {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: &sink{minLevel: zerolog.ErrorLevel}}
}

// newWriter logs JSON to w at debug level. Tests use it to inspect output.
func newWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).Level(zerolog.DebugLevel), sink: &sink{minLevel: zerolog.ErrorLevel}}
}

// Named tags every entry with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger(), sink: l.sink}
}

// With returns a child that adds fields to every entry. Collected entries
// only carry the fields passed at the call site.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l *Logger) emit(level zerolog.Level, msg string, fields []Field) {
	if ev := l.zl.WithLevel(level); ev != nil {
		for _, f := range fields {
			f.add(ev)
		}
		ev.Msg(msg)
	}
	l.collect(level, msg, fields)
}

func (l *Logger) collect(level zerolog.Level, msg string, fields []Field) {
	if l.sink == nil {
		return
	}
	l.sink.mu.RLock()
	c, floor := l.sink.c, l.sink.minLevel
	l.sink.mu.RUnlock()
	if c == nil || level < floor {
		return
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(3); ok {
		caller = fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
	}
	values := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}
	c.AddLog(level.String(), msg, values, caller)
}

// AddCollector starts a collector for this logger and every logger sharing
// its slot, replacing any previous one.
func (l *Logger) AddCollector(config *CollectionConfig) {
	c := NewLogCollector(config)
	l.sink.mu.Lock()
	prev := l.sink.c
	l.sink.c = c
	l.sink.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// RemoveCollector flushes and stops the active collector, if any.
func (l *Logger) RemoveCollector() {
	l.sink.mu.Lock()
	prev := l.sink.c
	l.sink.c = nil
	l.sink.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}
