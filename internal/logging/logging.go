// Package logging builds the zerolog loggers shared by the engine components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0664

// Builder assembles a logger from an output and a level.
type Builder struct {
	writer io.Writer
	path   string
	level  string
	format string
}

// Logger is a built logger together with the file it writes to, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New returns a builder writing JSON at info level to stderr.
func New() *Builder {
	return &Builder{writer: os.Stderr, level: "info", format: "json"}
}

// ToWriter directs output to w.
func (b *Builder) ToWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

// ToFile appends output to the file at path.
func (b *Builder) ToFile(path string) *Builder {
	b.path = path
	return b
}

// Level sets the minimum level by name.
func (b *Builder) Level(level string) *Builder {
	b.level = level
	return b
}

// Format selects json or console output.
func (b *Builder) Format(format string) *Builder {
	b.format = format
	return b
}

// Make builds the logger.
func (b *Builder) Make() (*Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(b.level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", b.level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := &Logger{}
	w := b.writer
	if b.path != "" {
		out.file, err = os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		w = zerolog.SyncWriter(out.file)
	}
	if b.format == "console" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: b.path != ""}
	}

	out.Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return out, nil
}

// Close releases the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component returns a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
