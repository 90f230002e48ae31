package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAuthorization contextKey = "_authorization_"

// Authorization is a context object describing who is making a
// request. It is added to the request context by the key middleware.
type Authorization struct {
	Role     Role                   `json:"role"`
	KeyID    string                 `json:"key_id,omitempty"`
	OwnerID  string                 `json:"owner_id,omitempty"`
	Identity map[string]interface{} `json:"identity,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// HasRole returns true if the authorization satisfies the required
// role. A nil authorization satisfies nothing.
func (a *Authorization) HasRole(required Role) bool {
	if a == nil {
		return false
	}
	return a.Role.CanAccess(required)
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}
