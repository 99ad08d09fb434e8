// ABOUTME: Structured logger construction for the playclock binaries
// ABOUTME: Console or JSON on stderr plus an optional rotated log file
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for the log file.
const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 14
)

// Options selects where log output goes.
type Options struct {
	Level string // zerolog level name, empty for info

	// File, when set, receives JSON logs with rotation.
	File string

	// Console enables stderr output. A TUI owns the terminal, so the
	// monitor turns this off and relies on File.
	Console bool

	// Writer replaces stderr as the console destination.
	Writer io.Writer
}

// New builds a logger from opts and installs it as the zerolog/log global.
// The returned closer releases the log file and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, consoleWriter(opts.Writer))
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		writers = append(writers, lj)
		closer = lj
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer, nil
}

// consoleWriter picks human-readable output for terminals and JSON otherwise.
func consoleWriter(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return os.Stderr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
