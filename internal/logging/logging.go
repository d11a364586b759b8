// Package logging configures the zerolog loggers used across conductor.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls root logger construction.
type Options struct {
	// Level is a zerolog level name ("debug", "info", "warn", ...). Empty means info.
	Level string
	// Out is the primary destination. Defaults to os.Stderr.
	Out io.Writer
	// Pretty forces the console writer. When false, it is chosen automatically
	// if Out is a terminal.
	Pretty bool
	// Extra receives a JSON copy of every entry (typically the debug log file).
	Extra io.Writer
}

// New builds a root logger and installs it as the zerolog global.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = lvl
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty || isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	if opts.Extra != nil {
		out = zerolog.MultiLevelWriter(out, opts.Extra)
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l
	return l, nil
}

// Component creates a new logger with a component identifier.
// Uses the "cmp" key for consistency with zerolog conventions.
func Component(name string) zerolog.Logger {
	return log.With().Str("cmp", name).Logger()
}

// FilePath returns the debug log location inside a workspace.
func FilePath(workspace string) string {
	return filepath.Join(workspace, ".conductor", "logs", "conductor.log")
}

// OpenFile opens (creating if needed) the workspace debug log for appending.
// The caller owns closing the returned file.
func OpenFile(workspace string) (*os.File, error) {
	path := FilePath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fmt.Fprintf(f, "{\"level\":\"info\",\"message\":\"=== conductor log started at %s ===\"}\n", time.Now().Format(time.RFC3339))
	return f, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
