package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const eventsPingInterval = 15 * time.Second

// HandleEvents upgrades to WebSocket and streams relay events as JSON text
// frames until the client goes away.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ch, cancel := h.Bus.Subscribe()
	defer cancel()

	var once sync.Once
	done := make(chan struct{})
	go func() {
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				once.Do(func() { close(done) })
				return
			}
		}
	}()

	slog.Info("event stream opened", "remote", r.RemoteAddr)
	defer slog.Info("event stream closed", "remote", r.RemoteAddr)

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("encode event", "err", err)
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-ping.C:
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
