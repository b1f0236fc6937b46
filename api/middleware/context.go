package middleware

import (
	"context"

	"github.com/evwarranty/warranty-backend/pkg/auth"
)

type contextKey string

const ctxActor contextKey = "actor"

// WithActor injects the authenticated identity into the context.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext returns the identity seeded by Auth.
func ActorFromContext(ctx context.Context) (auth.Actor, bool) {
	if ctx == nil {
		return auth.Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(auth.Actor)
	return actor, ok
}

func UserIDFromContext(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.UserID.String()
	}
	return ""
}
