package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
)

const maxResponseBytes = 4 << 20

// Request is one API call. Body is kept as bytes so the call can be replayed.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into dst.
func (r *Response) Decode(dst any) error {
	return json.Unmarshal(r.Body, dst)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return f(ctx, refreshToken)
}

type result struct {
	resp *Response
	err  error
}

// pendingCall is a call parked while a refresh is in flight. A nil req
// only waits for the refresh outcome.
type pendingCall struct {
	ctx  context.Context
	req  *Request
	done chan result
}

// Client calls the CRM API on behalf of one signed-in user.
type Client struct {
	cfg       Config
	http      *http.Client
	log       *slog.Logger
	refresher Refresher
	onExpired func()

	mu           sync.Mutex
	access       string
	refresh      string
	sessionToken string
	gen          uint64 // bumped whenever the access token changes
	refreshing   bool
	pending      []*pendingCall
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left
// as given.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRefresher replaces the default POST /refresh exchange.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		if r != nil {
			c.refresher = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// OnSessionExpired registers fn to run once each time a refresh fails, after
// the stored tokens were dropped. Typical use: send the user to the login page.
func OnSessionExpired(fn func()) Option {
	return func(c *Client) { c.onExpired = fn }
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.refresher == nil {
		c.refresher = httpRefresher{c: c}
	}
	return c, nil
}

// SetTokens stores a credential pair, e.g. from a previous login.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = access, refresh
	c.gen++
}

// Tokens returns the stored credential pair.
func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

// SessionToken returns the presence session token from the last login.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *Client) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh, c.sessionToken = "", "", ""
	c.gen++
}

// Do sends req with the current access token and recovers from a single 401
// by refreshing. See the package documentation for the exact protocol.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	access, gen := c.access, c.gen
	c.mu.Unlock()

	resp, err := c.send(ctx, req, access)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	return c.recover(ctx, req, gen)
}

func (c *Client) recover(ctx context.Context, req Request, sentGen uint64) (*Response, error) {
	c.mu.Lock()
	switch {
	case c.gen != sentGen && c.access != "":
		// The token was replaced after this call went out; replay with the
		// new one instead of refreshing again.
		access := c.access
		c.mu.Unlock()
		return c.retry(ctx, req, access)

	case c.refresh == "":
		c.mu.Unlock()
		return nil, ErrSessionExpired

	case c.refreshing:
		pc := &pendingCall{ctx: ctx, req: &req, done: make(chan result, 1)}
		c.pending = append(c.pending, pc)
		c.mu.Unlock()
		return c.wait(pc)
	}

	c.refreshing = true
	refreshToken := c.refresh
	c.mu.Unlock()

	access, queue, err := c.lead(ctx, refreshToken)
	if err != nil {
		return nil, ErrSessionExpired
	}

	resp, rerr := c.retry(ctx, req, access)
	c.release(queue, access)
	return resp, rerr
}

// lead runs the refresh for the caller that set c.refreshing and takes the
// queue that built up meanwhile. On failure the queue is settled with
// ErrSessionExpired; on success the caller must pass it to release.
func (c *Client) lead(ctx context.Context, refreshToken string) (string, []*pendingCall, error) {
	access, err := c.runRefresh(ctx, refreshToken)

	c.mu.Lock()
	queue := c.pending
	c.pending = nil
	c.refreshing = false
	c.gen++
	if err != nil {
		c.access, c.refresh, c.sessionToken = "", "", ""
	} else {
		c.access = access
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("client.refresh.fail", "err", err, "pending", len(queue))
		for _, pc := range queue {
			pc.done <- result{err: ErrSessionExpired}
		}
		if c.onExpired != nil {
			c.onExpired()
		}
		return "", nil, err
	}
	return access, queue, nil
}

func (c *Client) release(queue []*pendingCall, access string) {
	for _, pc := range queue {
		go c.replay(pc, access)
	}
}

// runRefresh is detached from the leader's cancellation: queued callers
// depend on it. RefreshTimeout still bounds it.
func (c *Client) runRefresh(ctx context.Context, refreshToken string) (string, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
	defer cancel()

	access, err := c.refresher.Refresh(rctx, refreshToken)
	if err != nil {
		return "", err
	}
	if access == "" {
		return "", fmt.Errorf("refresh returned no access token")
	}
	return access, nil
}

func (c *Client) wait(pc *pendingCall) (*Response, error) {
	select {
	case r := <-pc.done:
		return r.resp, r.err
	case <-pc.ctx.Done():
		c.mu.Lock()
		c.pending = slices.DeleteFunc(c.pending, func(p *pendingCall) bool { return p == pc })
		c.mu.Unlock()
		return nil, pc.ctx.Err()
	}
}

func (c *Client) replay(pc *pendingCall, access string) {
	if err := pc.ctx.Err(); err != nil {
		pc.done <- result{err: err}
		return
	}
	if pc.req == nil {
		pc.done <- result{}
		return
	}
	resp, err := c.retry(pc.ctx, *pc.req, access)
	pc.done <- result{resp: resp, err: err}
}

// retry sends a replayed call. A second 401 is surfaced, never refreshed.
func (c *Client) retry(ctx context.Context, req Request, access string) (*Response, error) {
	resp, err := c.send(ctx, req, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp, ErrUnauthorized
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, req Request, access string) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(ctx, method, c.url(req.Path), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if req.Body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		hreq.Header.Set("Authorization", "Bearer "+access)
	}
	if c.cfg.UserAgent != "" {
		hreq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = hresp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: b}, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
