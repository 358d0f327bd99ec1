package logger

import (
	"context"
	"strings"
	"unicode"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID       contextKey = "rid"
	ctxMessageID contextKey = "message_id"
	ctxJobID     contextKey = "job_id"
	ctxSessionID contextKey = "session_id"
	ctxWAID      contextKey = "wa_id"
	ctxHandler   contextKey = "handler"
)

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxRID)
}

// WithMessageMeta attaches inbound message identifiers to context.
func WithMessageMeta(ctx context.Context, messageID, waID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if messageID != "" {
		ctx = context.WithValue(ctx, ctxMessageID, messageID)
	}
	if waID != "" {
		ctx = context.WithValue(ctx, ctxWAID, MaskPhone(waID))
	}
	return ctx
}

// WithJobID stores the queue job identifier in context for downstream logs.
func WithJobID(ctx context.Context, jobID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxJobID, jobID)
}

// WithSessionID stores the session identifier in context for downstream logs.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxSessionID, sessionID)
}

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxHandler)
}

// MessageIDFrom extracts the inbound message id from context.
func MessageIDFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxMessageID)
}

// JobIDFrom extracts the queue job id from context.
func JobIDFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxJobID)
}

// SessionIDFrom extracts the session id from context.
func SessionIDFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxSessionID)
}

// WAIDFrom extracts the masked sender address from context.
func WAIDFrom(ctx context.Context) string {
	return stringFromContext(ctx, ctxWAID)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// MaskPhone keeps the first four digits of a phone-like address and masks the rest.
// Sender addresses are personal data and must never appear in logs verbatim.
func MaskPhone(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	r := []rune(addr)
	if len(r) <= 4 {
		return string(r) + "****"
	}
	return string(r[:4]) + "****"
}

// Sanitize trims non-printable runes from s to keep logs clean.
// It removes control characters (Unicode categories Cc, Cf) except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		if r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	cleaned := Sanitize(s)
	if len([]rune(cleaned)) <= max {
		return cleaned
	}
	r := []rune(cleaned)
	return string(r[:max])
}
