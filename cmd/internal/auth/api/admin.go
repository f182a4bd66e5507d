package authapi

import (
	"errors"
	"net/http"
	"strings"

	"crmauth/cmd/internal/auth/gateway"
	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
)

// requireAdmin authorizes the request against cfg.AdminRoles and writes the
// error response itself when it returns false.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request, raw string) (*tokens.Claims, bool) {
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "no_token", "missing bearer token")
		return nil, false
	}

	claims, err := h.gw.Authorize(r.Context(), raw, clientIP(r, h.cfg.TrustProxy), h.cfg.AdminRoles)
	if err == nil {
		return claims, true
	}
	if code, reason, ok := tokenError(err); ok {
		writeTokenError(w, code, reason)
		return nil, false
	}
	if errors.Is(err, gateway.ErrForbiddenRole) {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return nil, false
	}
	h.log.Error("auth.admin.authorize.fail", "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	return nil, false
}

func (h *Handler) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAdmin(w, r, bearerToken(r)); !ok {
		return
	}

	list, err := h.gw.ActiveSessions(r.Context(), session.Filter{Module: r.URL.Query().Get("module")})
	if err != nil {
		h.log.Error("auth.monitoring.active.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	writeJSON(w, http.StatusOK, activeSessionsResponse{Sessions: list, Count: len(list)})
}

func (h *Handler) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAdmin(w, r, bearerToken(r))
	if !ok {
		return
	}

	var req rotateRequest
	if !h.bindJSON(w, r, &req) {
		return
	}
	typ := tokens.Type(strings.ToLower(strings.TrimSpace(req.Type)))

	ctx := r.Context()
	if err := h.gw.RotateSecret(ctx, typ, claims.Subject); err != nil {
		if errors.Is(err, gateway.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "invalid_type", "type must be access or refresh")
			return
		}
		h.log.Error("auth.admin.rotate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	c := h.client(r)
	h.audit.Record(ctx, AuditEvent{
		Action: "auth.secret.rotated", UserID: claims.Subject, IP: c.IP, UserAgent: c.UserAgent,
		Meta: map[string]any{"type": string(typ)},
	})
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "secret rotated"})
}

func (h *Handler) handleInvalidatePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAdmin(w, r, bearerToken(r))
	if !ok {
		return
	}

	var req invalidateRequest
	if r.ContentLength != 0 {
		if !h.bindJSON(w, r, &req) {
			return
		}
	}

	h.gw.InvalidatePermissions(strings.TrimSpace(req.Role), claims.Subject)
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "permissions invalidated"})
}
