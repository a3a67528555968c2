// Package handlers provides the HTTP surface of the relay daemon.
package handlers

import (
	"context"
	"net/http"

	"github.com/golden-h/novelrelay/internal/bridge"
	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/config"
	"github.com/golden-h/novelrelay/internal/coordinator"
	"github.com/golden-h/novelrelay/internal/events"
	"github.com/golden-h/novelrelay/internal/registry"
)

const maxBodySize = 8 << 20

// Relay is the coordinator as seen by the handlers.
type Relay interface {
	channel.Handler
	Command(ctx context.Context, tabID, op string) (string, error)
	Roles() []registry.Binding
	Transfers() []coordinator.TransferInfo
	Scripts() []coordinator.ScriptInfo
}

var _ Relay = (*coordinator.Coordinator)(nil)

type Handlers struct {
	Bridge bridge.BridgeAPI
	Relay  Relay
	Bus    *events.Bus
	Config *config.RuntimeConfig
}

func New(b bridge.BridgeAPI, r Relay, bus *events.Bus, cfg *config.RuntimeConfig) *Handlers {
	return &Handlers{Bridge: b, Relay: r, Bus: bus, Config: cfg}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux, doShutdown func()) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /help", h.HandleHelp)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /tabs", h.HandleTabs)
	mux.HandleFunc("GET /roles", h.HandleRoles)
	mux.HandleFunc("GET /transfers", h.HandleTransfers)
	mux.HandleFunc("GET /scripts", h.HandleScripts)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("POST /message", h.HandleMessage)
	mux.HandleFunc("POST /translate", h.HandleCommand(coordinator.OpTranslate))
	mux.HandleFunc("POST /post", h.HandleCommand(coordinator.OpPost))
	mux.HandleFunc("POST /autorun", h.HandleCommand(coordinator.OpAutoRun))

	if doShutdown != nil {
		mux.HandleFunc("POST /shutdown", h.HandleShutdown(doShutdown))
	}
}
