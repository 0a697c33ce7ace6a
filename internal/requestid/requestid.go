// Package requestid carries a per-request correlation ID through contexts
// and log lines.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

const maxLen = 128

type ctxKey struct{}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Ensure stores incoming in ctx if it is a usable ID and mints a UUID
// otherwise. It returns the enriched context and the ID in effect.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if !valid(incoming) {
		incoming = uuid.NewString()
	}
	return WithID(ctx, incoming), incoming
}

// Logger returns logger with a request_id field when ctx has one.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

// valid accepts printable ASCII without spaces so IDs are safe to echo in
// headers and log lines.
func valid(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
