package authapi

import (
	"time"

	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
)

const tokenTypeBearer = "Bearer"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type heartbeatRequest struct {
	SessionToken string `json:"session_token"`
	Module       string `json:"module"`
	Page         string `json:"page"`
}

type rotateRequest struct {
	Type string `json:"type"`
}

type invalidateRequest struct {
	Role string `json:"role"`
}

type loginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	TokenType    string      `json:"token_type"`
	User         tokens.User `json:"user"`
	SessionToken string      `json:"session_token"`
	SessionID    string      `json:"session_id"`
}

type refreshResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        tokens.User `json:"user"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type validateResponse struct {
	Success   bool         `json:"success"`
	Valid     bool         `json:"valid"`
	User      *tokens.User `json:"user,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type heartbeatResponse struct {
	Success bool `json:"success"`
	Active  bool `json:"active"`
}

type activeSessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
	Count    int               `json:"count"`
}

type presenceSnapshot struct {
	Type     string            `json:"type"`
	TS       time.Time         `json:"ts"`
	Sessions []session.Session `json:"sessions"`
}
