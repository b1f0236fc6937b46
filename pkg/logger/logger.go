package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/evwarranty/warranty-backend/pkg/env"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
}

// Logger writes zerolog entries enriched with fields carried on the context.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

// Field names shared by every binary so dashboards can join on them.
const (
	FieldRequestID   = "request_id"
	FieldUserID      = "user_id"
	FieldActorRole   = "actor_role"
	FieldCaseLineID  = "case_line_id"
	FieldTransferID  = "transfer_id"
	FieldWarehouseID = "warehouse_id"
)

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if env.Choice("json", []string{"json", "console"}, "WARRANTY_LOG_FORMAT", "LOG_FORMAT") == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(out).Level(opts.Level).With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

// Nop returns a logger that discards everything. Used by tests and tools.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// ParseLevel maps a config string to a level, falling back to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) with(ctx context.Context, build func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := build(l.from(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &entry)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Interface(key, value)
	})
}

// WithFields attaches fields in key order so entries render the same way
// on every run.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return l.with(ctx, func(c zerolog.Context) zerolog.Context {
		for _, k := range keys {
			c = c.Interface(k, fields[k])
		}
		return c
	})
}

func (l *Logger) withID(ctx context.Context, key, id string) context.Context {
	switch {
	case id != "":
		return l.with(ctx, func(c zerolog.Context) zerolog.Context { return c.Str(key, id) })
	case ctx == nil:
		return context.Background()
	default:
		return ctx
	}
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.withID(ctx, FieldRequestID, id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.withID(ctx, FieldUserID, id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.withID(ctx, FieldActorRole, role)
}

func (l *Logger) WithCaseLineID(ctx context.Context, id string) context.Context {
	return l.withID(ctx, FieldCaseLineID, id)
}

func (l *Logger) WithTransferID(ctx context.Context, id string) context.Context {
	return l.withID(ctx, FieldTransferID, id)
}

func (l *Logger) WithWarehouseID(ctx context.Context, id string) context.Context {
	return l.withID(ctx, FieldWarehouseID, id)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack && event.Enabled() {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error always carries a stack.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := l.from(ctx).Error()
	if !event.Enabled() {
		return
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
