package auth

import (
	"context"
	"strings"
)

type contextKey string

const actorKey contextKey = "actor"

// AnonymousActor is recorded on writes when no actor was identified.
const AnonymousActor = "anonymous"

// ContextWithActor returns a new context that carries the acting user.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user from the context, falling back
// to AnonymousActor when none was set.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return AnonymousActor
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return AnonymousActor
	}
	actor, ok := value.(string)
	if !ok || actor == "" {
		return AnonymousActor
	}
	return actor
}
