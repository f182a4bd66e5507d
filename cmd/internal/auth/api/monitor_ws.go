package authapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"crmauth/cmd/internal/auth/session"
)

const (
	wsSubprotocolPresence = "crm.presence.v1"
	wsReadLimit           = 4 << 10
)

// handleLive streams active-session snapshots to an admin over WebSocket.
// Browsers cannot set headers on the upgrade, so the access token may also
// be passed as the access_token query parameter.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := bearerToken(r)
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	claims, ok := h.requireAdmin(w, r, raw)
	if !ok {
		return
	}
	filter := session.Filter{Module: r.URL.Query().Get("module")}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolPresence},
		OriginPatterns: h.cfg.WSOriginPatterns,
	})
	if err != nil {
		h.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(wsReadLimit)

	// Admins only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.log.Info("ws.presence.open", "user_id", claims.Subject, "module", filter.Module)
	defer h.log.Info("ws.presence.close", "user_id", claims.Subject)

	t := time.NewTicker(h.cfg.PresencePushInterval)
	defer t.Stop()

	for {
		if err := h.pushPresence(ctx, conn, filter); err != nil {
			if ctx.Err() == nil {
				h.log.Info("ws.presence.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (h *Handler) pushPresence(ctx context.Context, conn *websocket.Conn, f session.Filter) error {
	list, err := h.gw.ActiveSessions(ctx, f)
	if err != nil {
		return err
	}
	if list == nil {
		list = []session.Session{}
	}
	b, err := json.Marshal(presenceSnapshot{Type: "presence.snapshot", TS: time.Now().UTC(), Sessions: list})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, h.cfg.WSWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
