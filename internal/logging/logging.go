// Package logging routes the standard logger and the per-component loggers to
// stderr and, when configured, to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"sheetsync/internal/config"
)

// Logs builds prefixed loggers sharing one output.
type Logs struct {
	out   io.Writer
	debug bool
	file  *lumberjack.Logger
}

// Setup points the standard logger at stderr plus the rotating file from cfg.
// verbose forces debug output regardless of cfg.Level.
func Setup(cfg config.LogConfig, verbose bool) *Logs {
	l := &Logs{
		out:   os.Stderr,
		debug: verbose || strings.EqualFold(cfg.Level, "debug"),
	}
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		l.out = io.MultiWriter(os.Stderr, l.file)
	}
	log.SetOutput(l.out)
	log.SetFlags(log.LstdFlags)
	return l
}

// For returns a logger prefixed with "[component] ".
func (l *Logs) For(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Debug returns a logger for verbose output; it discards unless debug is on.
func (l *Logs) Debug(component string) *log.Logger {
	if !l.debug {
		return log.New(io.Discard, "", 0)
	}
	return log.New(l.out, "["+component+"] debug: ", log.LstdFlags|log.Lshortfile)
}

// Close flushes and closes the log file, if any.
func (l *Logs) Close() error {
	log.SetOutput(os.Stderr)
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
