package handlers

import (
	"net/http"

	"github.com/golden-h/novelrelay/internal/web"
)

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.Bridge.ListTabs(r.Context())
	if err != nil {
		web.JSON(w, 200, map[string]any{"status": "disconnected", "error": err.Error(), "cdp": h.Config.CdpURL})
		return
	}
	web.JSON(w, 200, map[string]any{
		"status":      "ok",
		"tabs":        len(tabs),
		"roles":       len(h.Relay.Roles()),
		"transfers":   len(h.Relay.Transfers()),
		"subscribers": h.Bus.Subscribers(),
		"cdp":         h.Config.CdpURL,
	})
}

// HandleTabs lists open tabs with the role and script each one carries.
func (h *Handlers) HandleTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.Bridge.ListTabs(r.Context())
	if err != nil {
		web.Error(w, 500, err)
		return
	}

	roles := make(map[string]string)
	for _, b := range h.Relay.Roles() {
		roles[b.TabID] = string(b.Role)
	}
	scripts := make(map[string]string)
	for _, s := range h.Relay.Scripts() {
		scripts[s.TabID] = s.Script
	}

	out := make([]map[string]any, 0, len(tabs))
	for _, t := range tabs {
		entry := map[string]any{
			"id":    t.ID,
			"url":   t.URL,
			"title": t.Title,
		}
		if role, ok := roles[t.ID]; ok {
			entry["role"] = role
		}
		if s, ok := scripts[t.ID]; ok {
			entry["script"] = s
		}
		out = append(out, entry)
	}
	web.JSON(w, 200, map[string]any{"tabs": out})
}

func (h *Handlers) HandleRoles(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{"roles": h.Relay.Roles()})
}

func (h *Handlers) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{"transfers": h.Relay.Transfers()})
}

func (h *Handlers) HandleScripts(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{"scripts": h.Relay.Scripts()})
}
