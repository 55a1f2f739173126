// Package dfslog provides the small prefixed, leveled logger used at the
// boundary of every long-lived component in this module.
package dfslog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Level controls which calls actually reach the underlying writer.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var defaultLevel int32 = int32(LevelInfo)

// SetDefaultLevel changes the minimum level for loggers created afterward
// that don't override it explicitly. It does not affect existing *Logger
// instances that already have a level set.
func SetDefaultLevel(l Level) {
	atomic.StoreInt32(&defaultLevel, int32(l))
}

// Logger writes leveled, prefixed lines through the standard log package.
type Logger struct {
	prefix string
	level  Level
	out    *log.Logger
}

// New returns a Logger that prefixes every line with prefix, e.g.
// "FILESERVER[id=3]".
func New(prefix string) *Logger {
	return NewWithOutput(prefix, os.Stderr)
}

// NewWithOutput is like New but writes to w instead of stderr; used by
// tests that want to assert on log output.
func NewWithOutput(prefix string, w io.Writer) *Logger {
	return &Logger{
		prefix: prefix,
		level:  Level(atomic.LoadInt32(&defaultLevel)),
		out:    log.New(w, "", log.LstdFlags),
	}
}

// WithPrefix returns a child logger that appends suffix to this logger's
// prefix, e.g. l.WithPrefix("peer=7") on "FILESERVER[id=3]" produces
// "FILESERVER[id=3] peer=7".
func (l *Logger) WithPrefix(suffix string) *Logger {
	return &Logger{prefix: l.prefix + " " + suffix, level: l.level, out: l.out}
}

func (l *Logger) log(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s", tag, l.prefix, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, "WARN", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, "ERROR", format, args...) }
