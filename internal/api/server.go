// Package api exposes the fleet tracking core over HTTP. Authentication is
// handled upstream; the identity middleware trusts the X-User-ID, X-Team-ID,
// and X-User-Role headers the auth proxy injects.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetaudit/fleetd/internal/fleet"
	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

// ReadyChecker reports whether the event publisher is connected. The nop
// publisher used in dev mode is always ready.
type ReadyChecker interface {
	IsConnected() bool
}

// Server wires the fleet services into a chi router.
type Server struct {
	r          *chi.Mux
	store      store.Store
	ingestor   *fleet.Ingestor
	registry   *fleet.Registry
	ledger     *fleet.Ledger
	hierarchy  *fleet.Hierarchy
	aggregator *fleet.Aggregator
	ready      ReadyChecker
	logger     *slog.Logger
}

// NewServer builds the HTTP server over the fleet services. ready may be
// nil when no external event transport is configured.
func NewServer(st store.Store, ingestor *fleet.Ingestor, registry *fleet.Registry, ledger *fleet.Ledger, hierarchy *fleet.Hierarchy, aggregator *fleet.Aggregator, ready ReadyChecker, logger *slog.Logger) *Server {
	s := &Server{
		r:          chi.NewRouter(),
		store:      st,
		ingestor:   ingestor,
		registry:   registry,
		ledger:     ledger,
		hierarchy:  hierarchy,
		aggregator: aggregator,
		ready:      ready,
		logger:     logger,
	}

	s.r.Use(middleware.Logger)
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", s.handleHealthz)
	s.r.Get("/readyz", s.handleReadyz)
	s.r.Handle("/metrics", promhttp.Handler())

	s.r.Route("/api/fleet", func(r chi.Router) {
		r.Use(s.identity)

		r.Post("/upload-report", s.handleUploadReport)
		r.Get("/hierarchy", s.handleHierarchy)
		r.Get("/stats", s.handleStats)

		r.Get("/machines", s.handleListMachines)
		r.Get("/machines/{id}", s.handleGetMachine)
		r.Delete("/machines/{id}", s.handleDeleteMachine)
		r.Put("/machines/{id}/assign", s.handleAssignMachine)

		r.Post("/organizations", s.handleCreateOrganization)
		r.Delete("/organizations/{id}", s.handleDeleteOrganization)
		r.Post("/sites", s.handleCreateSite)
		r.Delete("/sites/{id}", s.handleDeleteSite)
		r.Post("/groups", s.handleCreateGroup)
		r.Delete("/groups/{id}", s.handleDeleteGroup)

		r.Get("/reports/{id}/controls", s.handleReportControls)
		r.Post("/reports/{id}/corrections", s.handleCorrection)
	})
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.r }

// identity extracts the caller identity injected by the auth proxy. Requests
// without an identity are rejected; the core never does credential checks
// itself.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := model.Identity{
			UserID: r.Header.Get("X-User-ID"),
			TeamID: r.Header.Get("X-Team-ID"),
			Role:   model.Role(r.Header.Get("X-User-Role")),
		}
		if ident.UserID == "" || ident.TeamID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
			return
		}
		if ident.Role == "" {
			ident.Role = model.RoleMember
		}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerIdentity(r *http.Request) model.Identity {
	ident, _ := r.Context().Value(identityKey).(model.Identity)
	return ident
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "fleetd",
		"status":  "healthy",
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("Readiness check failed - store not accessible", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"service": "fleetd",
			"status":  "not ready",
			"error":   "store not accessible",
		})
		return
	}
	if s.ready != nil && !s.ready.IsConnected() {
		s.logger.Error("Readiness check failed - NATS not connected")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"service": "fleetd",
			"status":  "not ready",
			"error":   "NATS not connected",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "fleetd",
		"status":  "ready",
	})
}
