package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/nitinnat/gmail-parser/internal/ingest"
	"github.com/nitinnat/gmail-parser/internal/jsonstore"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/search"
)

type syncStartRequest struct {
	MaxEmails int    `json:"max_emails"`
	DaysAgo   *int   `json:"days_ago"`
	Query     string `json:"query"`
}

// handleSyncStart runs POST /sync/start, spawning a full sync run in the
// background and returning the current status immediately.
func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	var req syncStartRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	params := ingest.FullSyncParams{
		MaxEmails: req.MaxEmails,
		Query:     req.Query,
		TimeQuery: ingest.TimeQuery{DaysAgo: req.DaysAgo},
	}
	go func() {
		if err := s.orch.StartFull(backgroundContext(), params); err != nil {
			log.Warn().Err(err).Msg("full sync run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, s.orch.Status())
}

// handleSyncIncremental runs POST /sync/incremental in the background.
func (s *Server) handleSyncIncremental(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.orch.StartIncremental(backgroundContext()); err != nil {
			log.Warn().Err(err).Msg("incremental sync run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, s.orch.Status())
}

// handleSyncStatus serves both GET /sync/status and GET /sync/progress —
// both mirror the same SyncRun snapshot.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleSyncEvents serves GET /sync/events?after=<iso>.
func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	writeJSON(w, http.StatusOK, map[string]any{"events": s.orch.Events(after)})
}

// handleLiveCount serves GET /sync/live-count, a lightweight poll of total
// stored email count that doesn't require the full overview aggregation.
func (s *Server) handleLiveCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.CountEmails(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleRecategorize serves POST /sync/categorize: re-evaluates every
// stored email's category against the current sender and subject overrides.
func (s *Server) handleRecategorize(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.jsonStore.SenderCategories()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	subjectOverrides, err := s.jsonStore.SubjectCategories()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n, err := s.engine.Recategorize(r.Context(), overrides, subjectOverrides)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recategorized": n})
}

type llmProcessRequest struct {
	Force bool `json:"force"`
}

// handleLLMProcess serves POST /sync/llm-process {force?}.
func (s *Server) handleLLMProcess(w http.ResponseWriter, r *http.Request) {
	var req llmProcessRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	n, err := s.engine.LLMProcess(r.Context(), req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

// handleGetAuto serves GET /sync/auto.
func (s *Server) handleGetAuto(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.AutoSync())
}

type setAutoRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetAuto serves POST /sync/auto {enabled}.
func (s *Server) handleSetAuto(w http.ResponseWriter, r *http.Request) {
	var req setAutoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.orch.SetAutoSync(req.Enabled)
	writeJSON(w, http.StatusOK, s.orch.AutoSync())
}

// handleOverview serves GET /api/overview.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.analytics.Overview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// handleCategories serves GET /api/categories.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.analytics.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

// handleSenders serves GET /api/senders?limit=N.
func (s *Server) handleSenders(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), 0)
	stats, err := s.analytics.SenderAnalytics(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"senders": stats})
}

// handleAlerts serves GET /api/alerts?limit=N using the pinned senders in
// alert_rules.json.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	rules, err := s.jsonStore.AlertRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	senders := make([]string, len(rules.Senders))
	for i, rule := range rules.Senders {
		senders[i] = rule.Sender
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	alerts, err := s.analytics.Alerts(r.Context(), senders, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// handleTriage serves GET /api/triage?days=N.
func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	days := atoiDefault(r.URL.Query().Get("days"), 14)
	triage, err := s.analytics.Triage(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, triage)
}

// handleEDA serves GET /api/eda.
func (s *Server) handleEDA(w http.ResponseWriter, r *http.Request) {
	eda, err := s.analytics.EDA(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eda)
}

// handleSearch serves GET /api/search?q=&mode=hybrid|semantic|fulltext&limit=N.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 20)

	var (
		results []search.Result
		err     error
	)
	switch r.URL.Query().Get("mode") {
	case "semantic":
		results, err = s.searcher.SemanticSearch(r.Context(), q, limit, 0)
	case "fulltext":
		results, err = s.searcher.FulltextSearch(r.Context(), q, limit)
	default:
		results, err = s.searcher.HybridSearch(r.Context(), q, limit)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleFilterEmails serves GET /api/emails?sender=&category=&limit=&offset=.
func (s *Server) handleFilterEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.SearchFilters{
		Sender:          q.Get("sender"),
		Category:        q.Get("category"),
		Label:           q.Get("label"),
		SubjectContains: q.Get("subject_contains"),
		DateFrom:        q.Get("date_from"),
		DateTo:          q.Get("date_to"),
	}
	limit := atoiDefault(q.Get("limit"), 50)
	offset := atoiDefault(q.Get("offset"), 0)

	emails, err := s.searcher.FilterEmails(r.Context(), filters, limit, offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

// handleGetAlertRules serves GET /api/alerts/rules.
func (s *Server) handleGetAlertRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.jsonStore.AlertRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// handleSetAlertRules serves PUT /api/alerts/rules and invalidates the
// alerts cache entry.
func (s *Server) handleSetAlertRules(w http.ResponseWriter, r *http.Request) {
	var rules jsonstore.AlertRules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := s.jsonStore.SetAlertRules(rules)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidate("alerts")
	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteCustomCategory serves DELETE /api/categories/custom/{name}.
func (s *Server) handleDeleteCustomCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n, err := s.jsonStore.DeleteCustomCategory(r.Context(), s.db, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.invalidate("overview", "categories")
	writeJSON(w, http.StatusOK, map[string]int{"reassigned": n})
}

func (s *Server) invalidate(keys ...string) {
	if s.analytics == nil {
		return
	}
	for _, k := range keys {
		s.analytics.InvalidateCache(k)
	}
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
