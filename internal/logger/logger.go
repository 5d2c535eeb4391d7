// Package logger is the process-wide log facade. Records carry the service
// prefix and are written asynchronously so callers never block on I/O.
// Function timings are logged via DeferLogDuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const asyncBufferSize = 8192

var (
	mu     sync.RWMutex
	prefix string
	base   zerolog.Logger
	once   sync.Once
)

func initLogger() {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	// A full buffer drops records instead of blocking.
	w := diode.NewWriter(os.Stderr, asyncBufferSize, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
	})
	setOutput(w, level)
}

func setOutput(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SetOutput replaces the writer; used by tests to capture records.
func SetOutput(w io.Writer) {
	once.Do(func() {})
	setOutput(w, zerolog.DebugLevel)
}

// SetLevel overrides the LOG_LEVEL the logger started with. Unknown values are ignored.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return
	}
	once.Do(initLogger)
	mu.Lock()
	base = base.Level(lvl)
	mu.Unlock()
}

// SetPrefix sets the service name attached to every record (e.g. "api").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// L returns the structured logger with the service field set.
func L() *zerolog.Logger {
	once.Do(initLogger)
	mu.RLock()
	l := base
	p := prefix
	mu.RUnlock()
	if p != "" {
		l = l.With().Str("service", p).Logger()
	}
	return &l
}

func Info(v ...any) {
	L().Info().Msg(fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	L().Info().Msgf(format, v...)
}

func Debugf(format string, v ...any) {
	L().Debug().Msgf(format, v...)
}

func Error(v ...any) {
	L().Error().Msg(fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	L().Error().Msgf(format, v...)
}

// LogDuration logs fn and its elapsed time. At info level only calls slower
// than 100ms are recorded; at debug level all of them.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := L()
	if elapsed >= 100*time.Millisecond {
		l.Info().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Msg("slow call")
		return
	}
	l.Debug().Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Msg("call")
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("repo.Method", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
