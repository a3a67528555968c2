package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/config"
)

type TabEntry struct {
	Ctx    context.Context
	Cancel context.CancelFunc
}

// Bridge owns the browser connection and the tabs the relay works with.
type Bridge struct {
	AllocCtx      context.Context
	AllocCancel   context.CancelFunc
	BrowserCtx    context.Context
	BrowserCancel context.CancelFunc
	Config        *config.RuntimeConfig
	*TabManager

	events chan TabEvent

	watchMu  sync.Mutex
	watching bool
	urls     map[string]string
}

func New(allocCtx, browserCtx context.Context, cfg *config.RuntimeConfig) *Bridge {
	b := &Bridge{
		AllocCtx:   allocCtx,
		BrowserCtx: browserCtx,
		Config:     cfg,
		events:     make(chan TabEvent, eventBuffer),
		urls:       make(map[string]string),
	}
	if browserCtx != nil {
		b.TabManager = NewTabManager(browserCtx)
	}
	return b
}

// EnsureChrome starts or connects to Chrome unless a browser is already
// attached.
func (b *Bridge) EnsureChrome() error {
	if b.BrowserCtx != nil {
		return nil
	}
	allocCtx, allocCancel, browserCtx, browserCancel, err := InitChrome(b.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize chrome: %w", err)
	}
	b.AllocCtx = allocCtx
	b.AllocCancel = allocCancel
	b.BrowserCtx = browserCtx
	b.BrowserCancel = browserCancel
	b.TabManager = NewTabManager(browserCtx)
	return nil
}

// Page returns the DOM surface of tabID.
func (b *Bridge) Page(tabID string) automation.Page {
	timeout := 15 * time.Second
	if b.Config != nil && b.Config.ActionTimeout > 0 {
		timeout = b.Config.ActionTimeout
	}
	return &Page{tm: b.TabManager, id: tabID, timeout: timeout}
}

// Close tears the browser down. Chrome launched by the relay exits with it.
func (b *Bridge) Close() {
	if b.BrowserCancel != nil {
		b.BrowserCancel()
	}
	if b.AllocCancel != nil {
		b.AllocCancel()
	}
	if b.Config != nil && b.Config.CdpURL == "" && b.Config.ProfileDir != "" {
		MarkCleanExit(b.Config.ProfileDir)
	}
	slog.Info("browser closed")
}
