package httpserver

import "context"

type ctxKey string

const sessionKey ctxKey = "kc.session"

// Session is the authenticated caller of a request.
type Session struct {
	UserID string
	Token  string
}

// WithSession stores the authenticated session in context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx fetches the session stored by the auth gate.
func SessionFromCtx(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
