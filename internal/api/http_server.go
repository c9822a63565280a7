package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gymkaana/internal/config"
	"gymkaana/internal/domain"
	"gymkaana/internal/events"
	"gymkaana/internal/metrics"
	"gymkaana/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxActivityLimit   = 50
	requestIDHeader    = "X-Request-ID"
	idempotencyHeader  = "Idempotency-Key"
	maxDecisionBodyLen = 4 << 10
)

// HTTPServer serves entry lookups, decisions and the activity log.
type HTTPServer struct {
	cfg      config.APIConfig
	repo     domain.EntryRepository
	attempts domain.AttemptRepository
	events   domain.EventPublisher
	logger   *zerolog.Logger

	auth    *HTTPAuth
	replays *replayCache
	router  *mux.Router
	server  *http.Server
}

func NewHTTPServer(
	cfg config.APIConfig,
	repo domain.EntryRepository,
	attempts domain.AttemptRepository,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:      cfg,
		repo:     repo,
		attempts: attempts,
		events:   publisher,
		logger:   logger,
		auth:     NewHTTPAuth(cfg),
		replays:  newReplayCache(time.Hour),
	}

	r := mux.NewRouter()
	r.Use(srv.loggingMiddleware, srv.auth.Middleware)
	r.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/entries/{token}", srv.handleLookup).Methods(http.MethodGet)
	v1.HandleFunc("/entries/{id}/decision", srv.handleDecision).Methods(http.MethodPost)
	v1.HandleFunc("/activity", srv.handleActivity).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	srv.router = r

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler exposes the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if s.attempts != nil && s.cfg.Lookup.Attempts > 0 {
		allowed, err := s.attempts.CheckRateLimit(r.Context(), clientName(r), s.cfg.Lookup.Attempts, s.cfg.Lookup.Window())
		if err != nil {
			s.logger.Warn().Err(err).Msg("lookup throttle unavailable")
		} else if !allowed {
			metrics.IncLookup("throttled")
			writeError(w, http.StatusTooManyRequests, domain.ErrThrottled.Error())
			return
		}
	}

	booking, err := s.repo.GetBookingByToken(r.Context(), token)
	if err != nil {
		metrics.IncLookup(errorResult(err))
		s.writeDomainError(w, r, err)
		return
	}
	metrics.IncLookup("ok")
	writeJSON(w, http.StatusOK, booking)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

func (s *HTTPServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(mux.Vars(r)["id"])

	var body decisionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDecisionBodyLen))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	decision, err := models.ParseDecision(body.Decision)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if decision == models.DecisionReject && reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required to reject entry")
		return
	}
	if decision == models.DecisionAccept {
		reason = ""
	}

	replayKey := ""
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		replayKey = clientName(r) + ":" + key
		if entry, ok := s.replays.get(replayKey); ok {
			writeJSON(w, http.StatusOK, entry)
			return
		}
	}

	entry, err := s.repo.RecordDecision(r.Context(), bookingID, decision, reason)
	if err != nil {
		metrics.IncDecision(string(decision), errorResult(err))
		s.writeDomainError(w, r, err)
		return
	}
	metrics.IncDecision(string(decision), "ok")
	if replayKey != "" {
		s.replays.put(replayKey, entry)
	}

	s.publishDecision(entry, decision)
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := models.DefaultActivityLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	entries, err := s.repo.ListRecentActivity(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) publishDecision(entry *models.AuditEntry, decision models.Decision) {
	if s.events == nil {
		return
	}
	eventType := events.EventEntryAccepted
	if decision == models.DecisionReject {
		eventType = events.EventEntryRejected
	}
	payload := events.DecisionEventPayload{
		BookingID:  entry.BookingID,
		MemberName: entry.MemberName,
		VenueID:    entry.VenueID,
		Decision:   string(decision),
		Reason:     entry.Reason,
		DecidedAt:  entry.CreatedAt,
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish decision")
	}
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusGone, domain.ErrExpired.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Str("remote", remoteHost(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
