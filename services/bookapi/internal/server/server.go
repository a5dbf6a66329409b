package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/pkg/domain"
	"bookshelf/services/bookapi/internal/app"
	"bookshelf/services/bookapi/internal/security"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// LoginLimiter throttles POST /login per client IP. Nil disables throttling.
	LoginLimiter   ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	// Alerts counts failed and denied security events. Nil disables alerting.
	Alerts AlertObserver
}

// AlertObserver records a security event and reports whether it crossed a threshold.
type AlertObserver interface {
	Observe(ctx context.Context, event, outcome, ip string) (security.AlertResult, error)
}

// Server exposes the book API over HTTP.
type Server struct {
	app          *app.App
	loginLimiter ratelimit.Limiter
	trusted      *util.TrustedProxies
	alerts       AlertObserver
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		loginLimiter: cfg.LoginLimiter,
		trusted:      cfg.TrustedProxies,
		alerts:       cfg.Alerts,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bookapi", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleUnknown)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.Handle("/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/me", s.authenticated(s.handleMe))

	// books
	s.mux.Handle("/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/books/", s.authenticated(s.handleBookByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnknown(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, codeNotFound, "not found", nil)
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated resolves the bearer token before next runs. The user passed on
// carries a role from the closed set.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "auth.authenticate", "fail", "reason", "missing_bearer")
			unauthorized(w)
			return
		}
		user, err := s.app.UserFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, app.ErrUnauthenticated) {
				s.audit(r, "auth.authenticate", "fail", "reason", "invalid_token")
				unauthorized(w)
				return
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body", nil)
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID, "role", string(user.Role))
	writeJSON(w, http.StatusOK, loginResponse{User: user, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "auth.logout", "fail", "user_id", user.ID)
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// /books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks(r.Context(), user.Role)
		if err != nil {
			s.bookError(w, r, user, "viewAny", err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	case http.MethodPost:
		var req bookRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body", nil)
			return
		}
		book, err := s.app.CreateBook(r.Context(), user.Role, req.Title, req.Author)
		if err != nil {
			s.bookError(w, r, user, "create", err)
			return
		}
		s.audit(r, "book.create", "success", "user_id", user.ID, "book_id", book.ID)
		w.Header().Set("Location", "/books/"+strconv.FormatInt(book.ID, 10))
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// /books/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/books/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, codeNotFound, "not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(r.Context(), user.Role, id)
		if err != nil {
			s.bookError(w, r, user, "view", err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut, http.MethodPatch:
		var req bookRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body", nil)
			return
		}
		book, err := s.app.UpdateBook(r.Context(), user.Role, id, req.Title, req.Author)
		if err != nil {
			s.bookError(w, r, user, "update", err)
			return
		}
		s.audit(r, "book.update", "success", "user_id", user.ID, "book_id", book.ID)
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), user.Role, id); err != nil {
			s.bookError(w, r, user, "delete", err)
			return
		}
		s.audit(r, "book.delete", "success", "user_id", user.ID, "book_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

// bookError audits policy denials before translating err.
func (s *Server) bookError(w http.ResponseWriter, r *http.Request, user domain.User, action string, err error) {
	if errors.Is(err, app.ErrForbidden) {
		s.audit(r, "book.authorize", "deny", "user_id", user.ID, "role", string(user.Role), "action", action)
	}
	s.writeAppError(w, r, err)
}

// writeAppError is the single translation point from app errors to HTTP.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, codeValidationFailed, "validation failed", verr.Fields)
	case errors.Is(err, app.ErrUnauthenticated):
		unauthorized(w)
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, app.ErrInvalidCredentials.Error(), nil)
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "forbidden", nil)
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, app.ErrNotFound.Error(), nil)
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	if s.alerts == nil {
		return
	}
	res, err := s.alerts.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert observe failed", "event", event, "err", err)
		return
	}
	// Fire once per window, at the crossing.
	if res.Triggered && res.Count == res.Threshold {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	d := limiter.Allow(r.Context(), key)
	if d.Allowed {
		return true
	}
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, msg, nil)
	return false
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Title and Author stay untyped so that wrong JSON types become field errors.
type bookRequest struct {
	Title  any `json:"title"`
	Author any `json:"author"`
}

// decodeBody reads a JSON object into dst. An empty body decodes as {}.
var errTrailingData = errors.New("unexpected data after JSON body")

// decodeBody reads exactly one JSON value. An empty body decodes as {}.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
