package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/bridge"
	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/events"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/registry"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
)

func roleOf(k sites.Kind) registry.Role {
	switch k {
	case sites.KindAssistant:
		return registry.RoleAssistant
	case sites.KindPublisher:
		return registry.RolePublisher
	}
	return registry.RoleReading
}

// inject starts profile's script in tabID unless it is already running
// there.
func (c *Coordinator) inject(tabID string, profile sites.Profile) error {
	script, err := automation.New(automation.Deps{
		Page:      c.browser.Page(tabID),
		Transport: channel.Local{Handler: c, Sender: tabID},
		Store:     c.store,
		Profile:   profile,
		Settings:  c.cfg.Script,
		HTTP:      c.http,
	})
	if err != nil {
		return protocol.Wrap(protocol.CodeInjectionFailure, err)
	}

	sctx, cancel := context.WithCancel(c.base)
	if !c.scripts.Attach(tabID, profile.Name, script, cancel) {
		cancel()
		return nil
	}
	slog.Info("script injected", "tabId", tabID, "script", script.Name())
	c.bus.Publish(events.Event{Type: events.TypeTab, TabID: tabID, Action: "inject", Message: script.Name()})
	c.spawn("script", tabID, func() { script.Start(sctx) })
	return nil
}

func (c *Coordinator) readingProfile(url string) (sites.Profile, bool) {
	if p, ok := c.sites.ForURL(url); ok && p.Kind == sites.KindReading {
		return p, true
	}
	return c.sites.First(sites.KindReading)
}

// readingTab finds the tab translations go to: the bound reading tab, else
// the tab that asked for the translation if it is still open, else the best
// candidate among open tabs. The chosen tab is bound and scripted.
func (c *Coordinator) readingTab(ctx context.Context) (string, error) {
	if id, err := c.reg.Resolve(registry.RoleReading); err == nil {
		if _, ok := c.scripts.Get(id); ok {
			return id, nil
		}
	}

	tabs, err := c.browser.ListTabs(ctx)
	if err != nil {
		return "", fmt.Errorf("list tabs: %w", err)
	}

	var pick registry.TabInfo
	src, err := store.GetString(ctx, c.store, store.KeySourceTabID)
	if err != nil {
		slog.Warn("source tab lookup failed, using candidate tabs", "err", err)
	}
	if src != "" {
		for _, t := range tabs {
			if t.ID == src {
				pick = t
				break
			}
		}
	}
	if pick.ID == "" {
		profile, ok := c.sites.First(sites.KindReading)
		if !ok {
			return "", protocol.Errorf(protocol.CodeNoTargetTab, "no reading profile configured")
		}
		pick, err = registry.FindCandidate(ctx, staticTabs(tabs), registry.Query{URLPrefixes: profile.Candidates, Keywords: profile.Keywords})
		if err != nil {
			return "", err
		}
	}

	profile, ok := c.readingProfile(pick.URL)
	if !ok {
		return "", protocol.Errorf(protocol.CodeNoTargetTab, "no reading profile configured")
	}
	if err := c.inject(pick.ID, profile); err != nil {
		return "", err
	}
	c.reg.Bind(registry.RoleReading, pick.ID)
	return pick.ID, nil
}

type staticTabs []registry.TabInfo

func (s staticTabs) ListTabs(context.Context) ([]registry.TabInfo, error) { return s, nil }

// OnTabEvent keeps roles and scripts in step with the browser.
func (c *Coordinator) OnTabEvent(ctx context.Context, ev bridge.TabEvent) {
	switch ev.Kind {
	case bridge.TabClosed:
		c.forgetTab(ev.TabID)

	case bridge.TabOpened, bridge.TabNavigated:
		if ev.URL == "" {
			return
		}
		profile, ok := c.sites.ForURL(ev.URL)
		if !ok {
			if c.scripts.Profile(ev.TabID) != "" && c.reg.RoleOf(ev.TabID) != registry.RolePublisher {
				slog.Info("tab left automated site", "tabId", ev.TabID, "url", ev.URL)
				c.forgetTab(ev.TabID)
			}
			return
		}
		if c.scripts.Profile(ev.TabID) == profile.Name {
			return
		}
		c.spawn("attach", ev.TabID, func() { c.attach(ctx, ev.TabID, profile) })
	}
}

func (c *Coordinator) attach(ctx context.Context, tabID string, profile sites.Profile) {
	if err := c.browser.WaitLoaded(ctx, tabID, c.cfg.LoadTimeout); err != nil {
		slog.Warn("tab not ready for script", "tabId", tabID, "profile", profile.Name, "err", err)
		return
	}
	role := roleOf(profile.Kind)
	c.reg.Bind(role, tabID)
	c.bus.Publish(events.Event{Type: events.TypeRole, TabID: tabID, Role: string(role)})
	if err := c.inject(tabID, profile); err != nil {
		slog.Error("inject failed", "tabId", tabID, "profile", profile.Name, "err", err)
	}
}

func (c *Coordinator) forgetTab(tabID string) {
	role, unbound := c.reg.UnbindIfMatches(tabID)
	detached := c.scripts.Detach(tabID)
	dropped := c.transfers.Drop(tabID)
	if unbound || detached || dropped {
		slog.Info("tab released", "tabId", tabID, "role", role, "script", detached, "transfer", dropped)
		c.bus.Publish(events.Event{Type: events.TypeTab, TabID: tabID, Action: "closed", Role: string(role)})
	}
}

// Sweep drops transfers and role bindings idle for longer than StaleAfter.
func (c *Coordinator) Sweep(now time.Time) (transfers, bindings int) {
	transfers = c.transfers.Sweep(now, c.cfg.StaleAfter)
	bindings = c.reg.Sweep(now, c.cfg.StaleAfter)
	if transfers > 0 || bindings > 0 {
		slog.Info("swept stale state", "transfers", transfers, "bindings", bindings)
		c.bus.Publish(events.Event{Type: events.TypeSweep, Parts: transfers + bindings})
	}
	return transfers, bindings
}

// Run follows browser tab events and sweeps periodically until ctx ends.
// Scripts are stopped on return.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	defer c.scripts.DetachAll()

	evs := c.browser.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			c.OnTabEvent(ctx, ev)
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}
