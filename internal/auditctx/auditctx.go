// Package auditctx carries request provenance from the HTTP layer down to
// the services that write audit records.
package auditctx

import "context"

// Actor captures who initiated a request: the authenticated user when there
// is one, the organization whose API key was presented, and the client.
type Actor struct {
	UserID         string
	Username       string
	OrganizationID string
	IPAddress      string
	UserAgent      string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
