package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/golden-h/novelrelay/internal/registry"
)

type TabManager struct {
	browserCtx context.Context
	tabs       map[string]*TabEntry
	mu         sync.RWMutex
}

func NewTabManager(browserCtx context.Context) *TabManager {
	return &TabManager{
		browserCtx: browserCtx,
		tabs:       make(map[string]*TabEntry),
	}
}

// TabContext returns a chromedp context attached to tabID, attaching on
// first use.
func (tm *TabManager) TabContext(tabID string) (context.Context, error) {
	if tabID == "" {
		return nil, fmt.Errorf("tab id required")
	}

	tm.mu.RLock()
	if entry, ok := tm.tabs[tabID]; ok && entry.Ctx != nil {
		tm.mu.RUnlock()
		return entry.Ctx, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if entry, ok := tm.tabs[tabID]; ok && entry.Ctx != nil {
		return entry.Ctx, nil
	}
	if tm.browserCtx == nil {
		return nil, fmt.Errorf("no browser connection")
	}

	ctx, cancel := chromedp.NewContext(tm.browserCtx, chromedp.WithTargetID(target.ID(tabID)))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("tab %s not found: %w", tabID, err)
	}
	tm.tabs[tabID] = &TabEntry{Ctx: ctx, Cancel: cancel}
	return ctx, nil
}

// CreateTab opens url in a new tab and returns its id.
func (tm *TabManager) CreateTab(ctx context.Context, url string) (string, error) {
	if tm.browserCtx == nil {
		return "", fmt.Errorf("no browser context available")
	}
	navURL := "about:blank"
	if url != "" {
		navURL = url
	}

	var targetID target.ID
	createCtx, createCancel := context.WithTimeout(tm.browserCtx, 10*time.Second)
	defer createCancel()
	stop := context.AfterFunc(ctx, createCancel)
	defer stop()
	if err := chromedp.Run(createCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targetID, err = target.CreateTarget(navURL).Do(ctx)
			return err
		}),
	); err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(tm.browserCtx, chromedp.WithTargetID(targetID))
	id := string(targetID)
	tm.mu.Lock()
	tm.tabs[id] = &TabEntry{Ctx: tabCtx, Cancel: cancel}
	tm.mu.Unlock()

	slog.Info("tab opened", "tabId", id, "url", navURL)
	return id, nil
}

func (tm *TabManager) CloseTab(tabID string) error {
	tm.mu.Lock()
	entry, tracked := tm.tabs[tabID]
	delete(tm.tabs, tabID)
	tm.mu.Unlock()

	if tracked && entry.Cancel != nil {
		entry.Cancel()
	}
	if tm.browserCtx == nil {
		return fmt.Errorf("no browser connection")
	}

	closeCtx, closeCancel := context.WithTimeout(tm.browserCtx, 5*time.Second)
	defer closeCancel()

	if err := target.CloseTarget(target.ID(tabID)).Do(cdp.WithExecutor(closeCtx, chromedp.FromContext(closeCtx).Browser)); err != nil {
		if !tracked {
			return fmt.Errorf("tab %s not found", tabID)
		}
		slog.Debug("close target CDP", "tabId", tabID, "err", err)
	}
	return nil
}

// forget drops the attachment of a tab the browser already closed.
func (tm *TabManager) forget(tabID string) {
	tm.mu.Lock()
	entry, ok := tm.tabs[tabID]
	delete(tm.tabs, tabID)
	tm.mu.Unlock()
	if ok && entry.Cancel != nil {
		entry.Cancel()
	}
}

func (tm *TabManager) ListTargets() ([]*target.Info, error) {
	if tm.browserCtx == nil {
		return nil, fmt.Errorf("no browser connection")
	}
	var targets []*target.Info
	if err := chromedp.Run(tm.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targets, err = target.GetTargets().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}

	pages := make([]*target.Info, 0, len(targets))
	for _, t := range targets {
		if t.Type == TargetTypePage {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// ListTabs reports the open page tabs in browser order.
func (tm *TabManager) ListTabs(ctx context.Context) ([]registry.TabInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targets, err := tm.ListTargets()
	if err != nil {
		return nil, err
	}
	out := make([]registry.TabInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, registry.TabInfo{ID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return out, nil
}

// CleanStaleTabs periodically drops attachments to tabs that no longer
// exist, calling onGone for each.
func (tm *TabManager) CleanStaleTabs(ctx context.Context, interval time.Duration, onGone func(tabID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		targets, err := tm.ListTargets()
		if err != nil {
			continue
		}
		alive := make(map[string]bool, len(targets))
		for _, t := range targets {
			alive[string(t.TargetID)] = true
		}

		var gone []string
		tm.mu.Lock()
		for id, entry := range tm.tabs {
			if !alive[id] {
				if entry.Cancel != nil {
					entry.Cancel()
				}
				delete(tm.tabs, id)
				gone = append(gone, id)
			}
		}
		tm.mu.Unlock()

		for _, id := range gone {
			slog.Info("cleaned stale tab", "id", id)
			if onGone != nil {
				onGone(id)
			}
		}
	}
}
