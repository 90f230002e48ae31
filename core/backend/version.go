package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wave-research/wave/core/logger"
	"github.com/wave-research/wave/core/version"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

const (
	clientVersionHeader = "X-WAVE-Client-Version"
	apiVersionHeader    = "X-WAVE-API-Version"
)

// versionMiddleware stamps every response with the API version and
// logs a warning for clients announcing an incompatible version.
// Incompatibility never blocks a request.
func versionMiddleware(h http.Handler) http.Handler {
	api, _ := version.Parse(version.APIVersion)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if clientVersion := r.Header.Get(clientVersionHeader); clientVersion != "" {
			rlog := logger.FromContext(r.Context())
			client, err := version.Parse(clientVersion)
			if err != nil {
				rlog.Warningf("cannot parse client version %q: %v", clientVersion, err)
			} else if warning := version.CompatibilityWarning(client, api); warning != "" {
				rlog.Warningln(warning)
			}
		}
		w.Header().Set(apiVersionHeader, version.APIVersion)
		w.Header().Add("Access-Control-Expose-Headers", apiVersionHeader)
		h.ServeHTTP(w, r)
	})
}

func (b *Backend) handleServiceRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle route: / GET")
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "experiments backend"})
	}).Methods(http.MethodOptions, http.MethodGet)

	logger.Default().Debugln("  handle route: /health GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := b.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodOptions, http.MethodGet)

	logger.Default().Debugln("  handle route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":     Version,
			"api_version": version.APIVersion,
		})
	}).Methods(http.MethodOptions, http.MethodGet)
}
