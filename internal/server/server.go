// Package server exposes the HTTP API of the incident-response command
// center: admin auth, customer records, the breach lifecycle, the DSR
// pipeline and artifact downloads.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"dpdpshield/internal/artifact"
	"dpdpshield/internal/auth"
	"dpdpshield/internal/domain"
	"dpdpshield/internal/dsr"
	"dpdpshield/internal/incident"
	"dpdpshield/internal/ledger"
	"dpdpshield/internal/notify"
	"dpdpshield/internal/otp"
	"dpdpshield/internal/ratelimit"
	"dpdpshield/internal/settings"
	"dpdpshield/internal/tabstore"
	"dpdpshield/internal/util"
	"dpdpshield/internal/vector"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth     *auth.Authenticator
	Store    *tabstore.Store
	Ledger   *ledger.Ledger
	Renderer *artifact.Renderer
	Engine   *incident.Engine
	Pipeline *dsr.Pipeline
	Analyzer *vector.Analyzer
	Settings *settings.Store
	Notifier notify.Notifier

	LoginLimiter   *ratelimit.FixedWindowLimiter
	VerifyLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the command center.
type Server struct {
	auth     *auth.Authenticator
	store    *tabstore.Store
	ledger   *ledger.Ledger
	renderer *artifact.Renderer
	engine   *incident.Engine
	pipeline *dsr.Pipeline
	analyzer *vector.Analyzer
	settings *settings.Store
	notifier notify.Notifier

	loginLimiter  *ratelimit.FixedWindowLimiter
	verifyLimiter *ratelimit.FixedWindowLimiter
	trusted       *util.TrustedProxies

	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		auth:          cfg.Auth,
		store:         cfg.Store,
		ledger:        cfg.Ledger,
		renderer:      cfg.Renderer,
		engine:        cfg.Engine,
		pipeline:      cfg.Pipeline,
		analyzer:      cfg.Analyzer,
		settings:      cfg.Settings,
		notifier:      cfg.Notifier,
		loginLimiter:  cfg.LoginLimiter,
		verifyLimiter: cfg.VerifyLimiter,
		trusted:       cfg.TrustedProxies,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("shield", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.withAdmin(s.handleLogout))

	s.mux.Handle("/api/customers", s.withAdmin(s.handleCustomers))
	s.mux.Handle("/api/customers/", s.withAdmin(s.handleCustomerByID))

	s.mux.Handle("/api/breach/status", s.withAdmin(s.handleBreachStatus))
	s.mux.Handle("/api/breach/trigger", s.withAdmin(s.handleBreachTrigger))
	s.mux.Handle("/api/breach/contain", s.withAdmin(s.handleBreachContain))
	s.mux.Handle("/api/breach/dpb-notice", s.withAdmin(s.handleBreachDPBNotice))
	s.mux.Handle("/api/breach/notify-users", s.withAdmin(s.handleBreachNotifyUsers))
	s.mux.Handle("/api/breach/close", s.withAdmin(s.handleBreachClose))
	s.mux.Handle("/api/breach/reset", s.withAdmin(s.handleBreachReset))

	s.mux.Handle("/api/mail-replies", s.withAdmin(s.handleMailReplies))
	s.mux.Handle("/api/emails/process", s.withAdmin(s.handleProcessEmail))
	s.mux.Handle("/api/emails/verify-otp", s.withAdmin(s.handleVerifyOTP))
	s.mux.Handle("/api/emails/apply-correction", s.withAdmin(s.handleApplyCorrection))
	s.mux.Handle("/api/emails/connection-status", s.withAdmin(s.handleConnectionStatus))

	s.mux.Handle("/api/reports", s.withAdmin(s.handleReports))
	s.mux.Handle("/api/pdf/audit-report", s.withAdmin(s.handleAuditReport))
	s.mux.Handle("/api/pdf/", s.withAdmin(s.handleDownloadPDF))
	s.mux.Handle("/api/csv/", s.withAdmin(s.handleDownloadCSV))

	s.mux.Handle("/api/attack-vector", s.withAdmin(s.handleAttackVector))
	s.mux.Handle("/api/attack-vector/pdf", s.withAdmin(s.handleAttackVectorPDF))

	s.mux.Handle("/api/settings", s.withAdmin(s.handleSettings))
	s.mux.Handle("/api/dashboard/stats", s.withAdmin(s.handleDashboardStats))
	s.mux.Handle("/api/evidence/timeline", s.withAdmin(s.handleEvidenceTimeline))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type adminHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withAdmin(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			writeError(w, http.StatusInternalServerError, "auth not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		email, _, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, email)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ip := util.ClientIP(r, s.trusted)
	if s.loginLimiter != nil && !s.loginLimiter.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, sess, err := s.auth.Login(req.Email, req.Password, ip, r.UserAgent())
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"session": sess,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	_, sessionID, err := s.auth.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.auth.Logout(sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, otp.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid otp code")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
