// Package main is a CI-friendly smoke test for a running crmauth server.
//
// It validates:
//   - login through the client pipeline
//   - presence heartbeat
//   - the /monitoring/live snapshot stream (admin users only)
//   - an explicit refresh
//   - logout, after which the old access token no longer validates
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"crmauth/cmd/client"
)

const (
	presenceSubprotocol = "crm.presence.v1"
	maxReadBytes        = 1 << 20 // 1MiB
)

type snapshot struct {
	Type     string            `json:"type"`
	TS       time.Time         `json:"ts"`
	Sessions []json.RawMessage `json:"sessions"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "crmauth base URL")
		username = flag.String("user", os.Getenv("CRM_SMOKE_USER"), "Username (default $CRM_SMOKE_USER)")
		password = flag.String("password", os.Getenv("CRM_SMOKE_PASSWORD"), "Password (default $CRM_SMOKE_PASSWORD)")
		origin   = flag.String("origin", "", "Origin header for the WebSocket handshake")
		live     = flag.Bool("live", true, "Check /monitoring/live (requires an admin user)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *username == "" || *password == "" {
		fatalf("-user and -password are required")
	}

	c, err := client.New(client.DefaultConfig(*baseURL))
	if err != nil {
		fatalf("client: %v", err)
	}
	root := context.Background()

	res := mustStep(root, *timeout, "login", func(ctx context.Context) (client.LoginResult, error) {
		return c.Login(ctx, *username, *password)
	})
	if *verbose {
		fmt.Printf("logged in: user=%s role=%s session=%s\n", res.User.Username, res.User.Role, res.SessionID)
	}
	oldAccess, _ := c.Tokens()

	active := mustStep(root, *timeout, "heartbeat", func(ctx context.Context) (bool, error) {
		return c.Heartbeat(ctx, "smoke", "/smoke")
	})
	if !active {
		fatalf("heartbeat: session reported inactive right after login")
	}

	if *live {
		n := mustStep(root, *timeout, "live", func(ctx context.Context) (int, error) {
			return readSnapshot(ctx, *baseURL, oldAccess, *origin)
		})
		if n == 0 {
			fatalf("live: snapshot does not list our own session")
		}
		if *verbose {
			fmt.Printf("live snapshot: %d active sessions\n", n)
		}
	}

	mustStep(root, *timeout, "refresh", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Refresh(ctx)
	})
	mustStep(root, *timeout, "logout", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Logout(ctx)
	})

	// A second client carrying the revoked token must be told it is blacklisted.
	probe, err := client.New(client.DefaultConfig(*baseURL))
	if err != nil {
		fatalf("client: %v", err)
	}
	probe.SetTokens(oldAccess, "")
	v := mustStep(root, *timeout, "validate", func(ctx context.Context) (client.ValidateResult, error) {
		return probe.Validate(ctx)
	})
	if v.Valid || v.Error != "token_blacklisted" {
		fatalf("validate after logout: valid=%v error=%q", v.Valid, v.Error)
	}

	fmt.Printf("OK: user=%s session=%s\n", res.User.Username, res.SessionID)
}

func mustStep[T any](parent context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) T {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fatalf("%s: status=%d code=%s reason=%s", name, apiErr.Status, apiErr.Code, apiErr.Reason)
		}
		fatalf("%s: %v", name, err)
	}
	return v
}

func readSnapshot(ctx context.Context, baseURL, access, origin string) (int, error) {
	wsURL, err := liveURL(baseURL)
	if err != nil {
		return 0, err
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{presenceSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	if got := conn.Subprotocol(); got != presenceSubprotocol {
		return 0, fmt.Errorf("subprotocol mismatch: got=%q want=%q", got, presenceSubprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	_, b, err := conn.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Type != "presence.snapshot" {
		return 0, fmt.Errorf("unexpected message type %q", s.Type)
	}
	return len(s.Sessions), nil
}

func liveURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/monitoring/live"
	return u.String(), nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
