package identity

import "context"

// Kind distinguishes anonymous visitors from signed-in users. The kind
// decides which prompt ceiling applies.
type Kind string

const (
	Anonymous     Kind = "anonymous"
	Authenticated Kind = "authenticated"
)

// AnonymousKey is the quota key shared by all anonymous visitors. It
// mirrors the users/anonymous record the web client wrote.
const AnonymousKey = "anonymous"

// Identity is the actor consuming quota: either the shared anonymous
// identity or a user with a stable external id.
type Identity struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// AnonymousIdentity returns the shared identity for unauthenticated
// requests.
func AnonymousIdentity() Identity {
	return Identity{Kind: Anonymous, ID: AnonymousKey}
}

// User returns an authenticated identity for the given external user id.
func User(id string) Identity {
	return Identity{Kind: Authenticated, ID: id}
}

// Key is the storage key for this identity's quota record.
func (i Identity) Key() string {
	return i.ID
}

// IsAuthenticated reports whether the identity belongs to a signed-in user.
func (i Identity) IsAuthenticated() bool {
	return i.Kind == Authenticated
}

type contextKey struct{}

// WithIdentity stores the identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity resolved for this request, falling
// back to the anonymous identity when middleware did not run.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return AnonymousIdentity()
}
