package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/golden-h/novelrelay/internal/web"
)

func (h *Handlers) HandleShutdown(shutdownFn func()) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("shutdown requested via API", "remote", r.RemoteAddr)
		web.JSON(w, 200, map[string]any{"status": "shutting down"})

		// Let the response reach the client first.
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdownFn()
		}()
	}
}
