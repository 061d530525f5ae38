package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopnow/streamwh/internal/engine"
	"github.com/shopnow/streamwh/internal/observability"
	"github.com/shopnow/streamwh/internal/policy"
	"github.com/shopnow/streamwh/internal/quarantine"
	"github.com/shopnow/streamwh/internal/server"
	"github.com/shopnow/streamwh/internal/store"
)

// Deps are the components the API serves.
type Deps struct {
	Engine       *engine.Engine
	Store        store.Store
	Quarantine   *quarantine.Router
	Policy       *policy.Policy
	Stats        *observability.PipelineStats
	Logger       zerolog.Logger
	MaxBodyBytes int64
	// AdminToken, when set, must be presented as a bearer token by callers
	// without a vendor identity.
	AdminToken string
	// Shutdown, when set, rejects requests once shutdown begins and
	// reports unhealthy.
	Shutdown *server.ShutdownManager
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	ingest := NewIngestHandler(d.Engine, d.MaxBodyBytes)
	query := NewQueryHandler(d.Store, d.Quarantine, d.Policy, d.Stats)
	pol := NewPolicyHandler(d.Policy)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(d.Shutdown)).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/streams/{stream}/events", ingest.Event).Methods(http.MethodPost)
	api.HandleFunc("/streams/{stream}/batch", ingest.Batch).Methods(http.MethodPost)
	api.HandleFunc("/dimensions/{dimension}", query.Dimensions).Methods(http.MethodGet)
	api.HandleFunc("/dimensions/{dimension}/{id}/history", query.History).Methods(http.MethodGet)
	api.HandleFunc("/facts/{kind}", query.Facts).Methods(http.MethodGet)
	api.HandleFunc("/quarantine/{stream}", query.Quarantine).Methods(http.MethodGet)
	api.HandleFunc("/integrity", query.Integrity).Methods(http.MethodGet)
	api.HandleFunc("/stats", query.Stats).Methods(http.MethodGet)
	api.HandleFunc("/policy", pol.Get).Methods(http.MethodGet)
	api.HandleFunc("/policy", pol.Put).Methods(http.MethodPut)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", GetRequestID(r.Context()))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
	})

	var h http.Handler = ChainMiddleware(
		DefaultMiddleware(d.Logger),
		AdminAuthMiddleware(d.AdminToken),
	)(router)
	if d.Shutdown != nil {
		h = server.ShutdownMiddleware(d.Shutdown)(h)
	}
	return h
}

func healthHandler(sm *server.ShutdownManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sm != nil && sm.IsShuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
