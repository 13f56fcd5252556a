// Package api implements the local HTTP and WebSocket API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Goifal/mindhome-assistant/internal/audit"
	"github.com/Goifal/mindhome-assistant/internal/autonomy"
	"github.com/Goifal/mindhome-assistant/internal/brain"
	"github.com/Goifal/mindhome-assistant/internal/episodic"
	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/facts"
	"github.com/Goifal/mindhome-assistant/internal/feedback"
	"github.com/Goifal/mindhome-assistant/internal/memory"
	"github.com/Goifal/mindhome-assistant/internal/planner"
	"github.com/Goifal/mindhome-assistant/internal/router"
	"github.com/Goifal/mindhome-assistant/internal/summarizer"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address    string
	port       int
	brain      *brain.Brain
	router     *router.Router
	planner    *planner.Planner
	facts      *facts.Store
	episodes   *episodic.Store
	working    *memory.Working
	feedback   *feedback.Tracker
	autonomy   *autonomy.Manager
	summarizer *summarizer.Summarizer
	auditLog   *audit.Log
	bus        *events.Bus
	limiter    *rateLimiter
	logger     *slog.Logger
	server     *http.Server
}

// Deps lists the components the server exposes over HTTP.
type Deps struct {
	Brain      *brain.Brain
	Router     *router.Router
	Planner    *planner.Planner
	Facts      *facts.Store
	Episodes   *episodic.Store
	Working    *memory.Working
	Feedback   *feedback.Tracker
	Autonomy   *autonomy.Manager
	Summarizer *summarizer.Summarizer
	Audit      *audit.Log
	Bus        *events.Bus
	Logger     *slog.Logger
}

// NewServer creates a new API server.
func NewServer(address string, port int, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:    address,
		port:       port,
		brain:      d.Brain,
		router:     d.Router,
		planner:    d.Planner,
		facts:      d.Facts,
		episodes:   d.Episodes,
		working:    d.Working,
		feedback:   d.Feedback,
		autonomy:   d.Autonomy,
		summarizer: d.Summarizer,
		auditLog:   d.Audit,
		bus:        d.Bus,
		limiter:    newRateLimiter(5, 10),
		logger:     logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/assistant/chat", s.handleChat)
	mux.HandleFunc("GET /api/assistant/context", s.handleContext)
	mux.HandleFunc("GET /api/assistant/health", s.handleHealth)
	mux.HandleFunc("GET /api/assistant/audit", s.handleAudit)

	mux.HandleFunc("GET /api/memory/search", s.handleMemorySearch)
	mux.HandleFunc("GET /api/facts", s.handleFactsList)
	mux.HandleFunc("GET /api/facts/search", s.handleFactsSearch)
	mux.HandleFunc("GET /api/facts/stats", s.handleFactsStats)
	mux.HandleFunc("DELETE /api/facts/{id}", s.handleFactDelete)

	mux.HandleFunc("GET /api/summaries", s.handleSummaryGet)
	mux.HandleFunc("GET /api/summaries/search", s.handleSummarySearch)

	mux.HandleFunc("GET /api/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /api/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /api/plan/last", s.handleLastPlan)
	mux.HandleFunc("GET /api/audit", s.handleAudit)

	mux.HandleFunc("GET /api/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /api/settings", s.handleSettingsPut)

	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/feedback/stats", s.handleFeedbackStats)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withRequestID(s.withLogging(s.withRateLimit(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // chat turns can take a while on local models
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			if u, err := uuid.NewV7(); err == nil {
				id = u.String()
			}
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			s.errorResponse(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":   "mindhome",
		"status": "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.brain.Health(r.Context())
	healthy := true
	for _, v := range status {
		if v != "ok" {
			healthy = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{
		"status":     statusWord(healthy),
		"components": status,
	}, s.logger)
}

func statusWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "degraded"
}

// ChatRequest is one spoken or typed utterance.
type ChatRequest struct {
	Text   string `json:"text"`
	Person string `json:"person"`
	Room   string `json:"room,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Person == "" {
		req.Person = "unbekannt"
	}
	if req.Room != "" {
		if err := s.working.SetContext(r.Context(), "room:"+req.Person, req.Room, time.Hour); err != nil {
			s.logger.Warn("set room context failed", "error", err)
		}
	}

	reply := s.brain.Chat(r.Context(), req.Person, req.Text)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, reply, s.logger)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	person := r.URL.Query().Get("person")
	if person == "" {
		s.errorResponse(w, http.StatusBadRequest, "person parameter is required")
		return
	}

	turns, err := s.working.RecentTurns(r.Context(), parseIntParam(r, "limit", 5))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "recent turns: "+err.Error())
		return
	}
	room, _ := s.working.GetContext(r.Context(), "room:"+person)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"person": person,
		"room":   room,
		"turns":  turns,
	}, s.logger)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	kind := episodic.Kind(r.URL.Query().Get("kind"))
	results, err := s.episodes.Search(r.Context(), query, kind, parseIntParam(r, "limit", 5))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "search: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"results": results,
		"count":   len(results),
		"query":   query,
	}, s.logger)
}

func (s *Server) handleFactsList(w http.ResponseWriter, r *http.Request) {
	person := r.URL.Query().Get("person")
	if person == "" {
		s.errorResponse(w, http.StatusBadRequest, "person parameter is required")
		return
	}

	minConfidence := 0.0
	if c := r.URL.Query().Get("min_confidence"); c != "" {
		if parsed, err := strconv.ParseFloat(c, 64); err == nil {
			minConfidence = parsed
		}
	}

	list, err := s.facts.ForPerson(r.Context(), person, minConfidence, parseIntParam(r, "limit", 50))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list facts: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"facts": list,
		"count": len(list),
	}, s.logger)
}

func (s *Server) handleFactsSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	results, err := s.facts.Search(r.Context(), query, r.URL.Query().Get("person"), parseIntParam(r, "limit", 5))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "search: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"results": results,
		"count":   len(results),
	}, s.logger)
}

func (s *Server) handleFactsStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.facts.Stats(r.Context()), s.logger)
}

func (s *Server) handleFactDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid fact id")
		return
	}

	if err := s.facts.Delete(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusNotFound, "fact not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummaryGet(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	date := r.URL.Query().Get("date")
	if period == "" || date == "" {
		s.errorResponse(w, http.StatusBadRequest, "period and date parameters are required")
		return
	}

	text, err := s.summarizer.Get(r.Context(), period, date)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "summary not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"period":  period,
		"date":    date,
		"summary": text,
	}, s.logger)
}

func (s *Server) handleSummarySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	results, err := s.summarizer.Search(r.Context(), query, parseIntParam(r, "limit", 5))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "search: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"results": results,
		"count":   len(results),
	}, s.logger)
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.router.Stats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	decisions := s.router.AuditLog()
	limit := parseIntParam(r, "limit", 20)
	if len(decisions) > limit {
		decisions = decisions[len(decisions)-limit:]
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleLastPlan(w http.ResponseWriter, r *http.Request) {
	plan := s.planner.LastPlan()
	if plan == nil {
		s.errorResponse(w, http.StatusNotFound, "no plan has run yet")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, plan, s.logger)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)

	var entries []audit.Entry
	if person := r.URL.Query().Get("person"); person != "" {
		entries = s.auditLog.ByPerson(person, limit)
	} else {
		entries = s.auditLog.Recent(limit)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, s.logger)
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.autonomy.Info(), s.logger)
}

func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutonomyLevel int `json:"autonomy_level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.autonomy.SetLevel(r.Context(), req.AutonomyLevel); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.autonomy.Info(), s.logger)
}

// FeedbackRequest reports the household's reaction to a notification.
type FeedbackRequest struct {
	NotificationID string `json:"notification_id"`
	Reaction       string `json:"reaction"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NotificationID == "" || req.Reaction == "" {
		s.errorResponse(w, http.StatusBadRequest, "notification_id and reaction are required")
		return
	}

	score, err := s.feedback.RecordByNotification(r.Context(), req.NotificationID, feedback.Reaction(req.Reaction))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status": "ok",
		"score":  score,
	}, s.logger)
}

func (s *Server) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	if eventType == "" {
		s.errorResponse(w, http.StatusBadRequest, "event_type parameter is required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.feedback.Stats(r.Context(), eventType), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
