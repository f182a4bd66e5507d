package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// User is the user snapshot carried by tokens.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	DisplayName  string   `json:"display_name,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// LoginResult is the /login answer.
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
	SessionToken string `json:"session_token"`
	SessionID    string `json:"session_id"`
}

// ValidateResult is the /validate answer.
type ValidateResult struct {
	Valid     bool       `json:"valid"`
	User      *User      `json:"user,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func apiError(resp *Response) error {
	e := &APIError{Status: resp.StatusCode}
	var body errorBody
	if err := resp.Decode(&body); err == nil {
		e.Code, e.Message, e.Reason = body.Error.Code, body.Error.Message, body.Error.Reason
	}
	if e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	return e
}

func jsonRequest(method, path string, v any) (Request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: method, Path: path, Body: b}, nil
}

// Login signs in and stores the returned credentials.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	req, err := jsonRequest(http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, err
	}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return LoginResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return LoginResult{}, apiError(resp)
	}

	var out LoginResult
	if err := resp.Decode(&out); err != nil {
		return LoginResult{}, err
	}

	c.mu.Lock()
	c.access, c.refresh, c.sessionToken = out.AccessToken, out.RefreshToken, out.SessionToken
	c.gen++
	c.mu.Unlock()
	return out, nil
}

// Logout revokes the stored tokens on the server. Local credentials are
// dropped even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	access, refresh := c.Tokens()
	if access == "" {
		return ErrNotLoggedIn
	}
	defer c.clear()

	req, err := jsonRequest(http.MethodPost, "/logout", map[string]string{"refresh_token": refresh})
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, req, access)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Refresh exchanges the stored refresh token outside of Do. Most callers
// never need it. A refresh already in flight is joined rather than repeated.
// On failure the stored tokens are dropped and the error wraps
// ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.refresh == "":
		c.mu.Unlock()
		return ErrNotLoggedIn
	case c.refreshing:
		pc := &pendingCall{ctx: ctx, done: make(chan result, 1)}
		c.pending = append(c.pending, pc)
		c.mu.Unlock()
		_, err := c.wait(pc)
		return err
	}
	c.refreshing = true
	refreshToken := c.refresh
	c.mu.Unlock()

	access, queue, err := c.lead(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	c.release(queue, access)
	return nil
}

// Validate asks the server whether the stored access token is still good.
func (c *Client) Validate(ctx context.Context) (ValidateResult, error) {
	access, _ := c.Tokens()
	if access == "" {
		return ValidateResult{}, ErrNotLoggedIn
	}
	req, err := jsonRequest(http.MethodPost, "/validate", map[string]string{"token": access})
	if err != nil {
		return ValidateResult{}, err
	}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return ValidateResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ValidateResult{}, apiError(resp)
	}
	var out ValidateResult
	if err := resp.Decode(&out); err != nil {
		return ValidateResult{}, err
	}
	return out, nil
}

// Heartbeat reports activity on the presence session. It returns false once
// the server considers the session ended.
func (c *Client) Heartbeat(ctx context.Context, module, page string) (bool, error) {
	st := c.SessionToken()
	if st == "" {
		return false, ErrNotLoggedIn
	}
	req, err := jsonRequest(http.MethodPost, "/monitoring/heartbeat", map[string]string{
		"session_token": st,
		"module":        module,
		"page":          page,
	})
	if err != nil {
		return false, err
	}
	resp, err := c.send(ctx, req, "")
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, apiError(resp)
	}
	var out struct {
		Active bool `json:"active"`
	}
	if err := resp.Decode(&out); err != nil {
		return false, err
	}
	return out.Active, nil
}

// RunHeartbeats sends a heartbeat every interval until ctx ends or the
// session is no longer active. where reports the current module and page.
// Transient errors are logged and retried on the next tick.
func (c *Client) RunHeartbeats(ctx context.Context, interval time.Duration, where func() (module, page string)) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		var module, page string
		if where != nil {
			module, page = where()
		}
		active, err := c.Heartbeat(ctx, module, page)
		switch {
		case errors.Is(err, ErrNotLoggedIn):
			return err
		case err != nil:
			c.log.Warn("client.heartbeat.fail", "err", err)
		case !active:
			return ErrSessionExpired
		}
	}
}

// httpRefresher posts the refresh token to /refresh.
type httpRefresher struct{ c *Client }

func (r httpRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	req, err := jsonRequest(http.MethodPost, "/refresh", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}
	resp, err := r.c.send(ctx, req, "")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}
