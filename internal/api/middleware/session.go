package middleware

import "context"

type contextKey int

const sessionIDKey contextKey = iota

// WithSessionID attaches a Cauce session id to the request context. The
// transport handlers (WS upgrade, SSE, polling, webhook) set this once
// a hello handshake has resolved a session, so later middleware (notably
// logging) can correlate an HTTP request to the session driving it without
// every handler threading the id through by hand.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionID extracts the session id set by WithSessionID, or "" if none.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
