package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/logger"
)

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return ""
}

// NewKeyMiddleware returns a middleware handler that resolves bearer
// tokens into authorizations via the key client. It only authenticates;
// it never rejects a request. Role enforcement happens per route with
// RequireRole.
func NewKeyMiddleware(keys *KeyClient) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				h.ServeHTTP(w, r)
				return
			}
			auth, err := keys.VerifyKey(r.Context(), token)
			if err != nil {
				logger.FromContext(r.Context()).Errorln("key verification failed:", err)
				http.Error(w, "key verification failed", http.StatusServiceUnavailable)
				return
			}
			if auth != nil {
				r = r.WithContext(auth.ContextWithAuthorization(r.Context()))
			}
			h.ServeHTTP(w, r)
		})
	}
}

// BackdoorMiddlewareBuilder is a helper builder for the backdoor
// middleware used by tests and local development.
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddleware returns a middleware handler that authorizes
// well-known bearer tokens without asking the key service.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Role: RoleAdmin}
//
// then any request with an authorization bearer token consisting of the
// single magic word "please" will be authorized with the admin role.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token != "" && bmb.Backdoors != nil {
				if tryAuth, ok := bmb.Backdoors[token]; ok {
					r = r.WithContext(tryAuth.ContextWithAuthorization(r.Context()))
				}
			}
			h.ServeHTTP(w, r)
		})
	}
}

// RequireRole wraps a handler so that it only runs for requests whose
// authorization satisfies the required role. Requests without any
// authorization get http.StatusUnauthorized, authorized requests with
// an insufficient role get http.StatusForbidden.
func RequireRole(required Role, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			http.Error(w, "missing or invalid API key", http.StatusUnauthorized)
			return
		}
		if !auth.HasRole(required) {
			http.Error(w, "insufficient role", http.StatusForbidden)
			return
		}
		h(w, r)
	}
}
