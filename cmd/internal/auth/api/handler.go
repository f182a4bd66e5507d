package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"crmauth/cmd/internal/auth/gateway"
	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
)

// Gateway is the auth service behind the handlers. *gateway.Gateway
// implements it.
type Gateway interface {
	Login(ctx context.Context, username, password string, c gateway.Client) (gateway.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, c gateway.Client) (gateway.RefreshResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string) (gateway.LogoutResult, error)
	Validate(ctx context.Context, accessToken, clientIP string) (*tokens.Claims, error)
	Authorize(ctx context.Context, accessToken, clientIP string, roles []string) (*tokens.Claims, error)
	RotateSecret(ctx context.Context, t tokens.Type, actor string) error
	InvalidatePermissions(role, actor string)
	ActiveSessions(ctx context.Context, f session.Filter) ([]session.Session, error)
}

// Presence records session heartbeats. *session.Tracker implements it.
type Presence interface {
	Heartbeat(ctx context.Context, sessionToken string, act session.Activity) (bool, error)
}

// Handler wires the auth endpoints to the gateway and presence tracker.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	gw       Gateway
	presence Presence
	audit    Auditor
	limiter  *ipLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default no-op auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.audit = a
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, gw Gateway, presence Presence, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if gw == nil || presence == nil {
		return nil, errors.New("authapi: nil gateway or presence tracker")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		gw:       gw,
		presence: presence,
		audit:    NopAuditor{},
		limiter:  newIPLimiter(cfg.LoginPerMinute, cfg.LoginBurst),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires the auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/refresh", h.handleRefresh)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.HandleFunc("/validate", h.handleValidate)
	mux.HandleFunc("/monitoring/heartbeat", h.handleHeartbeat)

	mux.HandleFunc("/monitoring/active", h.handleActiveSessions)
	mux.HandleFunc("/monitoring/live", h.handleLive)
	mux.HandleFunc("/admin/secrets/rotate", h.handleRotateSecret)
	mux.HandleFunc("/admin/permissions/invalidate", h.handleInvalidatePermissions)
}

func (h *Handler) client(r *http.Request) gateway.Client {
	return gateway.Client{
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !h.bindJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	c := h.client(r)
	username := strings.TrimSpace(req.Username)

	if ok, retryAfter := h.limiter.Allow(c.IP); !ok {
		h.audit.Record(ctx, AuditEvent{
			Action: "auth.login.rate_limited", IP: c.IP, UserAgent: c.UserAgent,
			Meta: map[string]any{"username": username, "retry_after_s": int64(retryAfter.Seconds())},
		})
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.gw.Login(ctx, username, req.Password, c)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrAuthenticationFailed):
			h.audit.Record(ctx, AuditEvent{
				Action: "auth.login.failed", IP: c.IP, UserAgent: c.UserAgent,
				Meta: map[string]any{"username": username},
			})
			writeError(w, http.StatusUnauthorized, "authentication_failed", "invalid username or password")
		case errors.Is(err, gateway.ErrForbiddenRole):
			h.audit.Record(ctx, AuditEvent{
				Action: "auth.login.forbidden", IP: c.IP, UserAgent: c.UserAgent,
				Meta: map[string]any{"username": username},
			})
			writeError(w, http.StatusForbidden, "forbidden_role", "this account may not sign in here")
		default:
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.audit.Record(ctx, AuditEvent{
		Action: "auth.login.success", UserID: res.User.ID, IP: c.IP, UserAgent: c.UserAgent,
		Meta: map[string]any{"session_id": res.SessionID},
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		TokenType:    tokenTypeBearer,
		User:         res.User,
		SessionToken: res.SessionToken,
		SessionID:    res.SessionID,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if !h.bindJSON(w, r, &req) {
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	ctx := r.Context()
	c := h.client(r)

	res, err := h.gw.Refresh(ctx, refreshToken, c)
	if err != nil {
		if code, reason, ok := tokenError(err); ok {
			h.audit.Record(ctx, AuditEvent{
				Action: "auth.refresh.rejected", IP: c.IP, UserAgent: c.UserAgent,
				Meta: map[string]any{"reason": reason},
			})
			writeTokenError(w, code, reason)
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit.Record(ctx, AuditEvent{Action: "auth.refresh.success", UserID: res.User.ID, IP: c.IP, UserAgent: c.UserAgent})
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		TokenType:   tokenTypeBearer,
		User:        res.User,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	accessToken := bearerToken(r)
	if accessToken == "" {
		writeError(w, http.StatusBadRequest, "no_token", "missing bearer token")
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if !h.bindJSON(w, r, &req) {
			return
		}
	}

	ctx := r.Context()
	c := h.client(r)

	res, err := h.gw.Logout(ctx, accessToken, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "no_token", "missing bearer token")
		default:
			h.log.Error("auth.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "blacklist_failed", "could not revoke token")
		}
		return
	}

	if res.UserID != "" {
		h.audit.Record(ctx, AuditEvent{
			Action: "auth.logout", UserID: res.UserID, IP: c.IP, UserAgent: c.UserAgent,
			Meta: map[string]any{"session_ended": res.SessionEnded},
		})
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "logged out"})
}

// handleValidate always answers 200; the verdict is in the body.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusOK, validateResponse{Success: true, Error: "invalid_json"})
			return
		}
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		raw = bearerToken(r)
	}
	if raw == "" {
		writeJSON(w, http.StatusOK, validateResponse{Success: true, Error: "no_token"})
		return
	}

	claims, err := h.gw.Validate(r.Context(), raw, clientIP(r, h.cfg.TrustProxy))
	if err != nil {
		code, _, ok := tokenError(err)
		if !ok {
			h.log.Error("auth.validate.fail", "err", err)
			code = "invalid_token"
		}
		writeJSON(w, http.StatusOK, validateResponse{Success: true, Error: code})
		return
	}

	exp := claims.ExpiresAt.Time.UTC()
	writeJSON(w, http.StatusOK, validateResponse{
		Success:   true,
		Valid:     true,
		User:      &claims.User,
		ExpiresAt: &exp,
	})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req heartbeatRequest
	if !h.bindJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionToken) == "" {
		writeError(w, http.StatusBadRequest, "missing_session_token", "session_token is required")
		return
	}

	ok, err := h.presence.Heartbeat(r.Context(), req.SessionToken, session.Activity{
		Module: req.Module,
		Page:   req.Page,
	})
	if err != nil {
		if errors.Is(err, session.ErrMissingToken) {
			writeError(w, http.StatusBadRequest, "missing_session_token", "session_token is required")
			return
		}
		h.log.Error("auth.heartbeat.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "update_failed", "could not record activity")
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Success: ok, Active: ok})
}
