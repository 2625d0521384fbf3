/*Package access provides request identity for the webpods backend.

Identity is established by external authentication: either a JWT bearer
token issued by the auth subsystem, or a session cookie referencing a row
in the session relation. The core only consumes the resulting user id and
optional pod scope.
*/
package access

import (
	"context"

	"github.com/webpods-org/webpods/core"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyIdentity contextKey = "_identity_"

// Identity describes the authenticated caller.
type Identity struct {
	// UserID is the authenticated user, as assigned by the auth subsystem.
	UserID string `json:"user_id"`
	// Pod is the optional pod scope of the credential. A scoped credential
	// is only valid for requests against that pod.
	Pod string `json:"pod,omitempty"`
}

// ContextWithIdentity returns a new context with the identity added to it.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the identity from the context, or nil for
// anonymous requests.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, ok := ctx.Value(contextKeyIdentity).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// CheckPodScope verifies that the identity's credential is valid for the
// requested pod. Unscoped credentials are valid for every pod.
func CheckPodScope(identity *Identity, pod string) error {
	if identity == nil || identity.Pod == "" || identity.Pod == pod {
		return nil
	}
	return core.NewError(core.KindPodMismatch, "token is not scoped to pod "+pod)
}
