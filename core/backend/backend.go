/*Package backend realizes the HTTP API: experiment type, experiment and
tag registries, the per-type dynamic data tables, and the search routes
on top of them.
*/
package backend

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/access"
	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/dyntable"
	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/search"
	"github.com/wave-research/wave/core/store"
)

// Backend is the experiments rest backend
type Backend struct {
	db       *csql.DB
	router   *mux.Router
	store    *store.Store
	tables   *dyntable.Manager
	search   *search.Service
	notifier events.Notifier

	authorizationEnabled bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a change notification for every successful
	// mutation. This is optional.
	Notifier events.Notifier
	// KeyClient verifies bearer tokens against the key service. When
	// nil, role enforcement is disabled entirely; this is meant for
	// tests and local development.
	KeyClient *access.KeyClient
	// Backdoors maps well-known bearer tokens to authorizations
	// without asking the key service. This is optional.
	Backdoors map[string]access.Authorization
	// EnableCORS adds permissive CORS headers and answers preflight
	// requests.
	EnableCORS bool
	// EnableCompression compresses responses when the client asks
	// for it.
	EnableCompression bool
}

// New realizes the actual backend. It creates the registry tables (if
// they do not exist) and adds all routes to the router.
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	notifier := bb.Notifier
	if notifier == nil {
		notifier = events.NullNotifier{}
	}

	tables := dyntable.New(bb.DB)
	st := store.New(bb.DB, tables)

	b := &Backend{
		db:                   bb.DB,
		router:               bb.Router,
		store:                st,
		tables:               tables,
		search:               search.New(st, tables),
		notifier:             notifier,
		authorizationEnabled: bb.KeyClient != nil || len(bb.Backdoors) > 0,
	}

	if bb.EnableCORS {
		b.handleCORS()
	}
	if bb.EnableCompression {
		b.handleCompression()
	}
	b.router.Use(versionMiddleware)
	if len(bb.Backdoors) > 0 {
		b.router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
			Backdoors: bb.Backdoors,
		}))
	}
	if bb.KeyClient != nil {
		b.router.Use(access.NewKeyMiddleware(bb.KeyClient))
	}

	b.handleRoutes(b.router)
	return b
}

// Store gives access to the underlying registry, mainly for tests.
func (b *Backend) Store() *store.Store {
	return b.store
}

func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: handle routes")

	b.handleServiceRoutes(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	b.handleTagRoutes(api)
	b.handleExperimentTypeRoutes(api)
	b.handleExperimentRoutes(api)
	b.handleExperimentDataRoutes(api)
	b.handleSearchRoutes(api)
}

// secured wraps a handler with a role requirement. With authorization
// disabled the handler runs as is.
func (b *Backend) secured(required access.Role, h http.HandlerFunc) http.HandlerFunc {
	if !b.authorizationEnabled {
		return h
	}
	return access.RequireRole(required, h)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// paginationParams reads skip and limit query parameters. Skip must be
// non-negative and limit between 1 and 1000; out of range values fail
// the request with http.StatusBadRequest.
func paginationParams(w http.ResponseWriter, r *http.Request) (skip, limit int, ok bool) {
	skip, limit = 0, 100

	params := r.URL.Query()
	if s := params.Get("skip"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("parameter skip out of range: %s", s), http.StatusBadRequest)
			return 0, 0, false
		}
		skip = n
	}
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, fmt.Sprintf("parameter limit out of range: %s", s), http.StatusBadRequest)
			return 0, 0, false
		}
		limit = n
	}
	return skip, limit, true
}

// clampPagination applies the query parameter rules to values from a
// request body.
func clampPagination(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	return skip, limit
}
