/*
mtaserv - a staged-pipeline SMTP mail transfer agent core.
*/

// Package logging implements a minimalistic structured logging helper used
// throughout mtaserv. It wraps a zap.Logger sink so every component logs
// key/value pairs the same way, rather than each package picking its own
// log.Printf conventions.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/mtaserv/mtaserv/internal/xerrors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured messages prefixed with a component Name.
//
// Logger is a small value type and can be copied freely; the underlying
// zap.Logger is shared.
type Logger struct {
	core  *zap.Logger
	Name  string
	Debug bool

	// Fields are merged into every message emitted through this Logger.
	Fields map[string]interface{}
}

// New builds a Logger named name backed by the shared zap core.
func New(name string) Logger {
	return Logger{core: base(), Name: name}
}

// WithDebug returns a copy of l with debug-level messages enabled.
func (l Logger) WithDebug(on bool) Logger {
	l.Debug = on
	return l
}

// With returns a copy of l with extra fields merged in.
func (l Logger) With(kv ...interface{}) Logger {
	merged := make(map[string]interface{}, len(l.Fields)+len(kv)/2)
	for k, v := range l.Fields {
		merged[k] = v
	}
	fieldsToMap(kv, merged)
	l.Fields = merged
	return l
}

// Msg logs an informational event. kv is a flat key, value, key, value... list.
func (l Logger) Msg(msg string, kv ...interface{}) {
	l.log(zapcore.InfoLevel, msg, kv)
}

// Debugf logs a debug-level formatted message, if debug is enabled for l.
func (l Logger) Debugf(format string, args ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(zapcore.DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Error logs msg together with the fields carried by err (see xerrors.Fields)
// and a "reason" field derived from err.Error() unless one is already set.
func (l Logger) Error(msg string, err error, kv ...interface{}) {
	if err == nil {
		return
	}

	fields := xerrors.Fields(err)
	all := make(map[string]interface{}, len(fields)+len(kv)/2+1)
	for k, v := range fields {
		all[k] = v
	}
	if all["reason"] == nil {
		all["reason"] = err.Error()
	}
	fieldsToMap(kv, all)
	l.logFields(zapcore.ErrorLevel, msg, all)
}

func (l Logger) log(level zapcore.Level, msg string, kv []interface{}) {
	fields := make(map[string]interface{}, len(l.Fields)+len(kv)/2)
	for k, v := range l.Fields {
		fields[k] = v
	}
	fieldsToMap(kv, fields)
	l.logFields(level, msg, fields)
}

func (l Logger) logFields(level zapcore.Level, msg string, fields map[string]interface{}) {
	core := l.core
	if core == nil {
		core = base()
	}
	if l.Name != "" {
		msg = l.Name + ": " + msg
	}
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	core.Check(level, msg).Write(zf...)
}

func fieldsToMap(kv []interface{}, out map[string]interface{}) {
	var key string
	for i, v := range kv {
		if i%2 == 0 {
			k, ok := v.(string)
			if !ok {
				out[fmt.Sprintf("field%d", i)] = v
				continue
			}
			key = k
			continue
		}
		out[key] = v
	}
}

var sharedCore *zap.Logger

func base() *zap.Logger {
	if sharedCore != nil {
		return sharedCore
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(cfg)
	sharedCore = zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.DebugLevel))
	return sharedCore
}

// SetOutput redirects the shared sink, e.g. for tests.
func SetOutput(w zapcore.WriteSyncer) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(cfg)
	sharedCore = zap.New(zapcore.NewCore(enc, w, zapcore.DebugLevel))
}

// Sanitize replaces newline, carriage return and tab in user-supplied
// strings with a space before they are logged, so a malicious client
// cannot forge extra log lines. Other control characters pass through.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
}
