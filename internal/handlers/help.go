package handlers

import (
	"net/http"

	"github.com/golden-h/novelrelay/internal/web"
)

func (h *Handlers) HandleHelp(wr http.ResponseWriter, _ *http.Request) {
	web.JSON(wr, 200, map[string]any{
		"name": "novelrelay",
		"endpoints": map[string]any{
			"GET /health":     "health status",
			"GET /tabs":       "open tabs with their role and script",
			"GET /roles":      "role bindings",
			"GET /transfers":  "chunked translations in flight",
			"GET /scripts":    "scripts attached to tabs",
			"GET /metrics":    "runtime metrics",
			"GET /events":     "websocket stream of relay events",
			"POST /message":   "deliver one envelope (X-Relay-Sender: tab id)",
			"POST /translate": "send the reading tab's chapter for translation",
			"POST /post":      "post the reading tab's translation",
			"POST /autorun":   "translate, then post when the translation arrives",
			"POST /shutdown":  "stop the daemon",
		},
		"notes": []string{
			"Use Authorization: Bearer <token> when RELAY_TOKEN is set.",
			"Commands accept an optional tabId in the JSON body or query string.",
		},
	})
}
