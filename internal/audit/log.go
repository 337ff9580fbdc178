package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"gatekeep.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit records for security-relevant operations.
type Logger struct {
	log *slog.Logger
}

// New returns an audit logger writing through l.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l.With(slog.String("type", "audit"))}
}

// LogEvent writes an audit entry enriched with request and principal context.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if l == nil {
		return nil
	}
	attrs := []slog.Attr{slog.String("event", event)}
	if rid := requestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if p := auth.PrincipalFromContext(ctx); p.Authenticated() {
		attrs = append(attrs, slog.String("user_id", p.User.ID))
		if p.SessionID != "" {
			attrs = append(attrs, slog.String("session_id", p.SessionID))
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))
	l.log.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
