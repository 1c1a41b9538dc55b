package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/cohort/pkg/audit"
	"github.com/platinummonkey/cohort/pkg/httputil"
	"github.com/platinummonkey/cohort/pkg/mapping"
	"github.com/platinummonkey/cohort/pkg/middleware"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/realtime"
)

const maxBodyBytes = 1 << 20

// MappingAdmin is the mapping store surface the API needs
type MappingAdmin interface {
	FindByLocalAccount(ctx context.Context, accountID int64) (*mapping.IdentityMapping, error)
	List(ctx context.Context, limit, offset int) ([]*mapping.IdentityMapping, error)
	Deactivate(ctx context.Context, mappingID int64) error
}

// Dependencies wires the server
type Dependencies struct {
	Gate      *middleware.Gate
	Mappings  MappingAdmin
	Publisher realtime.Publisher
	// Realtime registers the websocket routes. Optional.
	Realtime RouteRegistrar
	// Audit receives staff actions and resolution events. Optional.
	Audit   audit.Logger
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server represents our API server
type Server struct {
	router      *mux.Router
	gate        *middleware.Gate
	mappings    MappingAdmin
	publisher   realtime.Publisher
	audit       audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
	corsOrigins []string
}

// NewServer creates a new API server
func NewServer(deps Dependencies, corsOrigins []string) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	s := &Server{
		router:      mux.NewRouter(),
		gate:        deps.Gate,
		mappings:    deps.Mappings,
		publisher:   deps.Publisher,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      deps.Logger.WithComponent("api"),
		corsOrigins: corsOrigins,
	}
	s.setupRoutes()
	if deps.Realtime != nil {
		s.RegisterRoutes(deps.Realtime)
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	s.router.Use(audit.Middleware(s.audit))

	required := s.gate.Required
	staff := func(h http.HandlerFunc) http.Handler {
		return s.gate.Required(middleware.RequireStaff(h))
	}

	// Identity routes
	s.router.Handle("/api/auth/me", required(http.HandlerFunc(s.me))).Methods("GET")
	s.router.Handle("/api/session", s.gate.Optional(http.HandlerFunc(s.session))).Methods("GET")

	// Staff routes
	s.router.Handle("/api/auth/mappings", staff(s.listMappings)).Methods("GET")
	s.router.Handle("/api/auth/mappings/{id}/deactivate", staff(s.deactivateMapping)).Methods("POST")
	s.router.Handle("/api/realtime/publish", staff(s.publish)).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in the request middleware and tracing
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.CORSMiddleware(s.corsOrigins),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return otelhttp.NewHandler(chain(s.router), "cohort-api")
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// recordAdminAction audits a staff action. Failures are logged only.
func (s *Server) recordAdminAction(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID, message string) {
	ctx := r.Context()
	var adminID *int64
	if account, ok := middleware.AccountFromContext(ctx); ok {
		adminID = &account.ID
	}
	if err := audit.FromContext(ctx).LogAdminAction(ctx, eventType, adminID, resourceType, resourceID, message); err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).Warn("failed to write audit event")
	}
}
