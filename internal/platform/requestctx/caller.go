// Package requestctx carries the authenticated caller through a request
// context.
package requestctx

import "context"

// Caller is the identity an upstream gateway vouched for.
type Caller struct {
	Subject string
	Role    string
	MatchID string
}

type callerContextKey struct{}

// WithCaller stores the caller in context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller stored in context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}
