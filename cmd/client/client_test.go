package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAPI accepts exactly one access token at a time and hands out
// "access-N" on every successful refresh.
type fakeAPI struct {
	mu    sync.Mutex
	valid string
	n     int

	refreshCalls atomic.Int32
	rejected     atomic.Int32

	// refreshGate, when set, holds /refresh until closed.
	refreshGate   chan struct{}
	refreshStatus int
	alwaysReject  bool

	slowOnce    sync.Once
	slowArrived chan struct{}
	slowRelease chan struct{}
}

func (f *fakeAPI) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeAPI) setValid(tok string) {
	f.mu.Lock()
	f.valid = tok
	f.mu.Unlock()
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/refresh":
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			select {
			case <-f.refreshGate:
			case <-r.Context().Done():
				return
			}
		}
		if f.refreshStatus != 0 {
			w.WriteHeader(f.refreshStatus)
			_, _ = w.Write([]byte(`{"error":{"code":"token_expired","message":"token has expired"}}`))
			return
		}
		f.mu.Lock()
		f.n++
		f.valid = "access-" + strconv.Itoa(f.n)
		tok := f.valid
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "expires_in": 900, "token_type": "Bearer"})

	case "/api/slow":
		first := false
		f.slowOnce.Do(func() { first = true })
		if first {
			close(f.slowArrived)
			<-f.slowRelease
		}
		f.guarded(w, r)

	default:
		f.guarded(w, r)
	}
}

func (f *fakeAPI) guarded(w http.ResponseWriter, r *http.Request) {
	auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if f.alwaysReject || auth == "" || auth != f.current() {
		f.rejected.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"token_expired","message":"token has expired"}}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"token":"` + auth + `"}`))
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.RefreshTimeout = 2 * time.Second
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetTokens("access-stale", "refresh-1")
	return c
}

func (c *Client) pendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestDoPassesThrough(t *testing.T) {
	api := &fakeAPI{valid: "access-stale"}
	c := newTestClient(t, api)

	resp, err := c.Do(context.Background(), Request{Path: "/api/leads"})
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("Do: resp=%+v err=%v", resp, err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatalf("no refresh expected")
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	const n = 8
	api := &fakeAPI{refreshGate: make(chan struct{})}
	c := newTestClient(t, api)

	// Hold the refresh until every caller has been rejected once.
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for api.rejected.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(api.refreshGate)
	}()

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := c.Do(context.Background(), Request{Path: "/api/leads"})
			if err == nil && resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("status %d: %s", resp.StatusCode, resp.Body)
			}
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("caller failed: %v", err)
		}
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if access, _ := c.Tokens(); access != "access-1" {
		t.Fatalf("stored access=%q", access)
	}
	if c.pendingLen() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestRefreshFailureExpiresEveryone(t *testing.T) {
	const n = 6
	api := &fakeAPI{refreshGate: make(chan struct{}), refreshStatus: http.StatusUnauthorized}

	var expired atomic.Int32
	c := newTestClient(t, api, OnSessionExpired(func() { expired.Add(1) }))

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for api.rejected.Load() < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(api.refreshGate)
	}()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Do(context.Background(), Request{Path: "/api/leads"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := expired.Load(); got != 1 {
		t.Fatalf("expired hook ran %d times", got)
	}
	if access, refresh := c.Tokens(); access != "" || refresh != "" {
		t.Fatalf("tokens not cleared")
	}
}

func TestRetryRejectedIsSurfaced(t *testing.T) {
	api := &fakeAPI{alwaysReject: true}
	c := newTestClient(t, api)

	resp, err := c.Do(context.Background(), Request{Path: "/api/leads"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the 401 response, got %+v", resp)
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
}

func TestQueuedCallHonorsCancellation(t *testing.T) {
	api := &fakeAPI{refreshGate: make(chan struct{})}
	c := newTestClient(t, api)

	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), Request{Path: "/api/leads"})
		leaderDone <- err
	}()
	waitFor(t, "refresh to start", func() bool { return api.refreshCalls.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, Request{Path: "/api/leads"})
		waiterDone <- err
	}()
	waitFor(t, "call to queue", func() bool { return c.pendingLen() == 1 })

	cancel()
	if err := <-waiterDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.pendingLen() != 0 {
		t.Fatalf("cancelled call still queued")
	}

	close(api.refreshGate)
	if err := <-leaderDone; err != nil {
		t.Fatalf("leader: %v", err)
	}
}

func TestExplicitRefreshJoinsInFlightRefresh(t *testing.T) {
	api := &fakeAPI{refreshGate: make(chan struct{})}
	c := newTestClient(t, api)

	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), Request{Path: "/api/leads"})
		leaderDone <- err
	}()
	waitFor(t, "refresh to start", func() bool { return api.refreshCalls.Load() == 1 })

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- c.Refresh(context.Background()) }()
	waitFor(t, "refresh to queue", func() bool { return c.pendingLen() == 1 })

	close(api.refreshGate)
	if err := <-leaderDone; err != nil {
		t.Fatalf("leader: %v", err)
	}
	if err := <-refreshDone; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if access, _ := c.Tokens(); access != "access-1" {
		t.Fatalf("access token = %q, want access-1", access)
	}
}

func TestExplicitRefreshLeadsQueuedCalls(t *testing.T) {
	api := &fakeAPI{refreshGate: make(chan struct{})}
	c := newTestClient(t, api)

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- c.Refresh(context.Background()) }()
	waitFor(t, "refresh to start", func() bool { return api.refreshCalls.Load() == 1 })

	callDone := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), Request{Path: "/api/leads"})
		callDone <- err
	}()
	waitFor(t, "call to queue", func() bool { return c.pendingLen() == 1 })

	close(api.refreshGate)
	if err := <-refreshDone; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := <-callDone; err != nil {
		t.Fatalf("queued call: %v", err)
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
}

func TestExplicitRefreshFailureExpiresSession(t *testing.T) {
	api := &fakeAPI{refreshStatus: http.StatusUnauthorized}
	c := newTestClient(t, api)

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "token_expired" {
		t.Fatalf("expected wrapped token_expired APIError, got %v", err)
	}
	if access, refresh := c.Tokens(); access != "" || refresh != "" {
		t.Fatalf("tokens not dropped: %q %q", access, refresh)
	}
}

func TestRefreshTimeout(t *testing.T) {
	api := &fakeAPI{refreshGate: make(chan struct{})}

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(api.refreshGate) })
	cfg := DefaultConfig(srv.URL)
	cfg.RefreshTimeout = 50 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetTokens("access-stale", "refresh-1")

	if _, err := c.Do(context.Background(), Request{Path: "/api/leads"}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestStaleTokenReplayedWithoutRefresh(t *testing.T) {
	api := &fakeAPI{
		valid:       "access-old",
		slowArrived: make(chan struct{}),
		slowRelease: make(chan struct{}),
	}
	c := newTestClient(t, api)
	c.SetTokens("access-old", "refresh-1")

	done := make(chan error, 1)
	go func() {
		resp, err := c.Do(context.Background(), Request{Path: "/api/slow"})
		if err == nil && !strings.Contains(string(resp.Body), "access-new") {
			err = errors.New("replayed with wrong token: " + string(resp.Body))
		}
		done <- err
	}()

	<-api.slowArrived
	// Another caller refreshed while this call was in flight.
	api.setValid("access-new")
	c.SetTokens("access-new", "refresh-1")
	close(api.slowRelease)

	if err := <-done; err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := api.refreshCalls.Load(); got != 0 {
		t.Fatalf("expected no refresh, got %d", got)
	}
}

func TestNoRefreshTokenMeansExpired(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	c.SetTokens("", "")

	if _, err := c.Do(context.Background(), Request{Path: "/api/leads"}); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatalf("no refresh expected")
	}
}

func TestCustomRefresher(t *testing.T) {
	api := &fakeAPI{valid: "from-func"}
	var calls atomic.Int32
	c := newTestClient(t, api, WithRefresher(RefresherFunc(func(_ context.Context, rt string) (string, error) {
		calls.Add(1)
		if rt != "refresh-1" {
			return "", errors.New("unexpected refresh token")
		}
		return "from-func", nil
	})))

	if _, err := c.Do(context.Background(), Request{Path: "/api/leads"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 1 || api.refreshCalls.Load() != 0 {
		t.Fatalf("custom refresher not used")
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New(DefaultConfig("not a url")); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	cfg := DefaultConfig("http://localhost:8080")
	cfg.RefreshTimeout = 0
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
