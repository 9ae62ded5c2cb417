package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alignex/entitlements/pkg/licensing"
	"github.com/alignex/entitlements/pkg/observability"
)

// Server routes the entitlements API: access checks for any caller plus
// administrative license, module and rule management gated behind the
// manage permission.
type Server struct {
	router   *mux.Router
	handlers *licensing.Handlers
	gate     *licensing.Gate
	logger   *observability.Logger
}

// Middleware is applied to every route, outermost first.
type Middleware func(http.Handler) http.Handler

// NewServer creates the API server.
func NewServer(handlers *licensing.Handlers, gate *licensing.Gate, logger *observability.Logger, middleware ...Middleware) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		gate:     gate,
		logger:   logger,
	}

	for _, m := range middleware {
		s.router.Use(mux.MiddlewareFunc(m))
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Access checks, open to every authenticated caller
	v1.HandleFunc("/access/tier", s.handlers.GetTier).Methods("GET")
	v1.HandleFunc("/access/modules", s.handlers.GetAvailableModules).Methods("GET")
	v1.HandleFunc("/access/modules/{key}", s.handlers.CheckModule).Methods("GET")
	v1.HandleFunc("/access/check", s.handlers.CheckAction).Methods("POST")

	// Heat-map aggregation, visible to anyone who may view
	heatmap := v1.PathPrefix("/allocation").Subrouter()
	heatmap.Use(mux.MiddlewareFunc(s.gate.RequirePermission(licensing.ActionView, licensing.WithLockIndicator())))
	heatmap.HandleFunc("/heatmap", s.allocationHeatmap).Methods("POST")

	// Administration, gated behind the manage permission
	admin := v1.PathPrefix("/").Subrouter()
	admin.Use(mux.MiddlewareFunc(s.gate.RequirePermission(licensing.ActionManage, licensing.WithLockIndicator())))
	admin.HandleFunc("/licenses", s.handlers.AssignLicense).Methods("POST")
	admin.HandleFunc("/licenses", s.handlers.ListLicenses).Methods("GET")
	admin.HandleFunc("/licenses/{email}", s.handlers.GetLicense).Methods("GET")
	admin.HandleFunc("/licenses/{email}", s.handlers.UpdateLicense).Methods("PATCH")
	admin.HandleFunc("/orgs/{org}/modules", s.handlers.ListOrgModules).Methods("GET")
	admin.HandleFunc("/orgs/{org}/modules/{key}", s.handlers.UpsertOrgModule).Methods("PUT")
	admin.HandleFunc("/rules/{tier}/{action}", s.handlers.GetRule).Methods("GET")
	admin.HandleFunc("/rules/{tier}/{action}", s.handlers.UpsertRule).Methods("PUT")
	admin.HandleFunc("/rules/{tier}/{action}", s.handlers.DeleteRule).Methods("DELETE")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
