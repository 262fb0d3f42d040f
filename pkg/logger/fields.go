package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is one structured key/value. Value is what collectors receive; add
// writes the typed form to a zerolog event.
type Field struct {
	Key   string
	Value interface{}
	add   func(*zerolog.Event)
}

func String(key, v string) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Str(key, v) }}
}

func Strings(key string, v []string) Field {
	return String(key, strings.Join(v, ", "))
}

func Int(key string, v int) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Int(key, v) }}
}

func Int64(key string, v int64) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Int64(key, v) }}
}

func Float64(key string, v float64) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Float64(key, v) }}
}

func Bool(key string, v bool) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Bool(key, v) }}
}

func Time(key string, v time.Time) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Time(key, v) }}
}

// Duration is logged in whole milliseconds.
func Duration(key string, v time.Duration) Field {
	return Int64(key, v.Milliseconds())
}

// Error logs err under "error". A nil err is skipped.
func Error(err error) Field {
	var v interface{}
	if err != nil {
		v = err.Error()
	}
	return Field{"error", v, func(e *zerolog.Event) { e.AnErr("error", err) }}
}

func Any(key string, v interface{}) Field {
	return Field{key, v, func(e *zerolog.Event) { e.Interface(key, v) }}
}
