package authapi

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"crmauth/cmd/internal/auth/gateway"
	"crmauth/cmd/internal/auth/tokens"
)

// tokenError maps a token rejection to its wire code. ok is false for
// errors that are not token rejections.
func tokenError(err error) (code, reason string, ok bool) {
	if errors.Is(err, gateway.ErrBlacklisted) {
		return "token_blacklisted", "blacklisted", true
	}
	var te *tokens.Error
	if !errors.As(err, &te) {
		return "", "", false
	}
	switch te.Kind {
	case tokens.KindExpired:
		return "token_expired", string(te.Kind), true
	case tokens.KindWrongType:
		return "wrong_type", string(te.Kind), true
	case tokens.KindWrongIssuer:
		return "invalid_issuer", string(te.Kind), true
	default:
		return "invalid_token", string(te.Kind), true
	}
}

var tokenMessages = map[string]string{
	"token_blacklisted": "token has been revoked",
	"token_expired":     "token has expired",
	"wrong_type":        "wrong token type",
	"invalid_issuer":    "token issuer not accepted",
	"invalid_token":     "invalid token",
}

func writeTokenError(w http.ResponseWriter, code, reason string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: apiError{
		Code:    code,
		Message: tokenMessages[code],
		Reason:  reason,
	}})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for p := range strings.SplitSeq(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
