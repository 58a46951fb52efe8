package types

import "context"

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeUser      ActorType = "user"
	ActorTypeAccessKey ActorType = "access_key"
	ActorTypeSystem    ActorType = "system"
)

// Actor represents the authenticated entity performing an operation.
// TenantID is the only value handlers use to scope data.
type Actor struct {
	ID       string
	Type     ActorType
	TenantID string
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// GetTenantID returns the tenant of the authenticated actor, or "" when the
// request is unauthenticated.
func GetTenantID(ctx context.Context) string {
	actor, ok := GetActor(ctx)
	if !ok {
		return ""
	}
	return actor.TenantID
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
