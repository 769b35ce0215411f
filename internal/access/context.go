package access

import (
	"context"

	"github.com/enlaces-epn/callcenter/internal/session"
)

type ctxKey string

const contextSessionKey ctxKey = "session"

func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(contextSessionKey).(*session.Session)
	return sess, ok && sess != nil
}

func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, contextSessionKey, sess)
}
