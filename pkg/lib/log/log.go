// Package log connects application loggers to the rctl SDK.
//
// The SDK is silent by default. Pass [NewLogrus] to reuse a logrus setup, or
// [FromPrintf] to route SDK messages through any printf-style function:
//
//	client, err := lib.New(ctx, lib.Config{
//		ServerURL: "http://localhost:5000",
//		Logger:    log.FromPrintf(stdlog.Printf, false),
//	})
package log

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/slok/rctl/internal/log"
	loglogrus "github.com/slok/rctl/internal/log/logrus"
)

// Logger receives SDK log messages. Values attached with WithValues are the
// resource kind, id and run id the message refers to.
type Logger = log.Logger

// Kv holds structured key-value pairs.
type Kv = log.Kv

// Noop discards everything. It is used when [lib.Config] has no logger.
var Noop = log.Noop

// NewLogrus returns a Logger backed by a logrus entry.
func NewLogrus(e *logrus.Entry) Logger {
	if e == nil {
		return Noop
	}
	return loglogrus.NewLogrus(e)
}

// FromPrintf returns a Logger that formats every message as a single line and
// hands it to printf. Debug messages are dropped unless debug is set.
func FromPrintf(printf func(format string, args ...any), debug bool) Logger {
	if printf == nil {
		return Noop
	}
	return printfLogger{printf: printf, debug: debug}
}

type printfLogger struct {
	printf func(format string, args ...any)
	debug  bool
	kv     Kv
}

func (p printfLogger) Infof(format string, args ...any)    { p.emit("INFO", format, args) }
func (p printfLogger) Warningf(format string, args ...any) { p.emit("WARN", format, args) }
func (p printfLogger) Errorf(format string, args ...any)   { p.emit("ERROR", format, args) }
func (p printfLogger) Debugf(format string, args ...any) {
	if p.debug {
		p.emit("DEBUG", format, args)
	}
}

func (p printfLogger) WithValues(kv Kv) Logger {
	merged := make(Kv, len(p.kv)+len(kv))
	for k, v := range p.kv {
		merged[k] = v
	}
	for k, v := range kv {
		merged[k] = v
	}
	p.kv = merged
	return p
}

func (p printfLogger) WithCtxValues(ctx context.Context) Logger {
	return p.WithValues(log.ValuesFromCtx(ctx))
}

func (p printfLogger) SetValuesOnCtx(parent context.Context, values Kv) context.Context {
	return log.CtxWithValues(parent, values)
}

func (p printfLogger) emit(level, format string, args []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf(format, args...))

	keys := make([]string, 0, len(p.kv))
	for k := range p.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, p.kv[k])
	}

	p.printf("%s", b.String())
}
