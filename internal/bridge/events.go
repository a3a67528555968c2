package bridge

import (
	"context"
	"log/slog"

	cdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const eventBuffer = 64

type EventKind string

const (
	TabOpened    EventKind = "opened"
	TabNavigated EventKind = "navigated"
	TabClosed    EventKind = "closed"
)

// TabEvent is a lifecycle change of a page tab.
type TabEvent struct {
	Kind  EventKind `json:"kind"`
	TabID string    `json:"tabId"`
	URL   string    `json:"url,omitempty"`
	Title string    `json:"title,omitempty"`
}

// Events delivers tab lifecycle changes once Watch is running.
func (b *Bridge) Events() <-chan TabEvent {
	return b.events
}

// Watch subscribes to target discovery on the browser until ctx ends.
// Navigation events fire only when a tab's URL changes.
func (b *Bridge) Watch(ctx context.Context) error {
	b.watchMu.Lock()
	if b.watching {
		b.watchMu.Unlock()
		return nil
	}
	b.watching = true
	b.watchMu.Unlock()

	lctx, cancel := context.WithCancel(b.BrowserCtx)
	context.AfterFunc(ctx, cancel)

	chromedp.ListenBrowser(lctx, func(ev any) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			if e.TargetInfo.Type == TargetTypePage {
				b.observe(TabOpened, e.TargetInfo)
			}
		case *target.EventTargetInfoChanged:
			if e.TargetInfo.Type == TargetTypePage {
				b.observe(TabNavigated, e.TargetInfo)
			}
		case *target.EventTargetDestroyed:
			b.closed(string(e.TargetID))
		}
	})

	err := chromedp.Run(lctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	}))
	if err != nil {
		cancel()
		return err
	}
	slog.Info("watching browser tabs")
	return nil
}

func (b *Bridge) observe(kind EventKind, info *target.Info) {
	id := string(info.TargetID)
	b.watchMu.Lock()
	prev, known := b.urls[id]
	b.urls[id] = info.URL
	b.watchMu.Unlock()

	if kind == TabNavigated {
		if known && prev == info.URL {
			return
		}
		if !known {
			kind = TabOpened
		}
	}
	b.emit(TabEvent{Kind: kind, TabID: id, URL: info.URL, Title: info.Title})
}

func (b *Bridge) closed(id string) {
	b.watchMu.Lock()
	_, known := b.urls[id]
	delete(b.urls, id)
	b.watchMu.Unlock()
	if !known {
		return
	}
	if b.TabManager != nil {
		go b.forget(id)
	}
	b.emit(TabEvent{Kind: TabClosed, TabID: id})
}

// emit never blocks the browser's event loop.
func (b *Bridge) emit(ev TabEvent) {
	select {
	case b.events <- ev:
	default:
		slog.Warn("tab event dropped", "kind", ev.Kind, "tabId", ev.TabID)
	}
}
