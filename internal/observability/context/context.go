package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return stdcontext.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithIdentity records the payer identity a request acts on.
func WithIdentity(ctx stdcontext.Context, identityToken string) stdcontext.Context {
	return stdcontext.WithValue(ctx, identityKey, strings.TrimSpace(identityToken))
}

func IdentityFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(identityKey).(string)
	return value
}
