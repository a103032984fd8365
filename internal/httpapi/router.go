// Package httpapi exposes the Ingestion Engine, Sync Orchestrator, and
// search/analytics readers as a thin JSON HTTP surface. Route handlers
// decode the request, call into the engine, and encode the response — the
// engine itself has no HTTP dependency.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/nitinnat/gmail-parser/internal/ingest"
	"github.com/nitinnat/gmail-parser/internal/jsonstore"
	"github.com/nitinnat/gmail-parser/internal/orchestrator"
	"github.com/nitinnat/gmail-parser/internal/search"
	"github.com/nitinnat/gmail-parser/internal/store"
)

// Server wires the HTTP surface to the engine, orchestrator, search,
// analytics, and JSON config layers.
type Server struct {
	engine    *ingest.Engine
	orch      *orchestrator.Orchestrator
	searcher  *search.Searcher
	analytics *search.Analytics
	jsonStore *jsonstore.Store
	db        *store.Store

	sessions     *sessions.CookieStore
	authEnabled  bool
	allowedEmail string
}

// Config bundles the components a Server needs.
type Config struct {
	Engine       *ingest.Engine
	Orchestrator *orchestrator.Orchestrator
	Searcher     *search.Searcher
	Analytics    *search.Analytics
	JSONStore    *jsonstore.Store
	DB           *store.Store

	SessionSecret string
	AuthEnabled   bool
	AllowedEmail  string
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	return &Server{
		engine:       cfg.Engine,
		orch:         cfg.Orchestrator,
		searcher:     cfg.Searcher,
		analytics:    cfg.Analytics,
		jsonStore:    cfg.JSONStore,
		db:           cfg.DB,
		sessions:     sessions.NewCookieStore([]byte(cfg.SessionSecret)),
		authEnabled:  cfg.AuthEnabled,
		allowedEmail: cfg.AllowedEmail,
	}
}

// Router builds the full chi.Mux, mirroring hackclub-news's middleware
// stack: request id, recoverer, a heartbeat probe, and per-group IP rate
// limiting via go-chi/httprate.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Second))
		r.Use(s.requireAuth)
		r.Route("/sync", func(r chi.Router) {
			r.Post("/start", s.handleSyncStart)
			r.Post("/incremental", s.handleSyncIncremental)
			r.Get("/status", s.handleSyncStatus)
			r.Get("/progress", s.handleSyncStatus)
			r.Get("/events", s.handleSyncEvents)
			r.Get("/live-count", s.handleLiveCount)
			r.Post("/categorize", s.handleRecategorize)
			r.Post("/llm-process", s.handleLLMProcess)
			r.Get("/auto", s.handleGetAuto)
			r.Post("/auto", s.handleSetAuto)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(100, time.Second))
		r.Use(s.requireAuth)
		r.Route("/api", func(r chi.Router) {
			r.Get("/overview", s.handleOverview)
			r.Get("/categories", s.handleCategories)
			r.Get("/senders", s.handleSenders)
			r.Get("/alerts", s.handleAlerts)
			r.Get("/triage", s.handleTriage)
			r.Get("/eda", s.handleEDA)
			r.Get("/search", s.handleSearch)
			r.Get("/emails", s.handleFilterEmails)

			r.Get("/alerts/rules", s.handleGetAlertRules)
			r.Put("/alerts/rules", s.handleSetAlertRules)
			r.Delete("/categories/custom/{name}", s.handleDeleteCustomCategory)
		})
	})

	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	if !s.authEnabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.Get(r, "dashboard")
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		user, _ := session.Values["email"].(string)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if s.allowedEmail != "" && user != s.allowedEmail {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func backgroundContext() context.Context {
	return context.Background()
}
