package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestLivePresenceStream(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, "root")
	env.login(t, "maria")

	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitoring/live"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolPresence},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + admin.AccessToken}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap presenceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Type != "presence.snapshot" || len(snap.Sessions) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestLivePresenceRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	agent := env.login(t, "maria")

	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/monitoring/live?access_token=" + agent.AccessToken
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
