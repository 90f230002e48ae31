package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func protectedRouter(backdoors map[string]Authorization, required Role) *mux.Router {
	router := mux.NewRouter()
	router.Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{Backdoors: backdoors}))
	router.HandleFunc("/protected", RequireRole(required, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods(http.MethodGet)
	return router
}

func get(router *mux.Router, token string) int {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec.Result().StatusCode
}

func TestRequireRole(t *testing.T) {
	router := protectedRouter(map[string]Authorization{
		"researcher-token":   {Role: RoleResearcher},
		"experimentee-token": {Role: RoleExperimentee},
	}, RoleResearcher)

	assert.Equal(t, http.StatusUnauthorized, get(router, ""), "no token")
	assert.Equal(t, http.StatusUnauthorized, get(router, "unknown-token"), "unknown token")
	assert.Equal(t, http.StatusForbidden, get(router, "experimentee-token"), "insufficient role")
	assert.Equal(t, http.StatusOK, get(router, "researcher-token"))
}

func TestRequireRoleHierarchy(t *testing.T) {
	router := protectedRouter(map[string]Authorization{
		"admin-token": {Role: RoleAdmin},
	}, RoleExperimentee)

	assert.Equal(t, http.StatusOK, get(router, "admin-token"), "higher roles pass lower requirements")
}
