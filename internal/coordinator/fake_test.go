package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
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

// page is a minimal automation.Page keyed by Locator.String().
type page struct {
	mu     sync.Mutex
	url    string
	els    map[string][]string
	values map[string]string
	clicks []string
	status []string
}

func newPage(url string, present ...sites.Locator) *page {
	p := &page{url: url, els: make(map[string][]string), values: make(map[string]string)}
	for _, l := range present {
		p.els[l.String()] = nil
	}
	return p
}

func (p *page) has(loc sites.Locator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.els[loc.String()]
	return ok
}

func (p *page) URL(context.Context) (string, error) { return p.url, nil }

func (p *page) Exists(_ context.Context, loc sites.Locator) (bool, error) { return p.has(loc), nil }

func (p *page) Enabled(_ context.Context, loc sites.Locator) (bool, error) { return p.has(loc), nil }

func (p *page) Text(_ context.Context, loc sites.Locator) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.els[loc.String()]; !ok {
		return "", false, nil
	}
	return p.values[loc.String()], true, nil
}

func (p *page) Texts(_ context.Context, loc sites.Locator, _ string) ([]string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.els[loc.String()]
	return t, ok, nil
}

func (p *page) SetValue(_ context.Context, loc sites.Locator, v string) error {
	if !p.has(loc) {
		return protocol.Errorf(protocol.CodeNotFound, "%s", loc)
	}
	p.mu.Lock()
	p.values[loc.String()] = v
	p.mu.Unlock()
	return nil
}

func (p *page) Click(_ context.Context, loc sites.Locator) error {
	if !p.has(loc) {
		return protocol.Errorf(protocol.CodeNotFound, "%s", loc)
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, loc.String())
	p.mu.Unlock()
	return nil
}

func (p *page) ShowStatus(_ context.Context, msg string, _ automation.Status) error {
	p.mu.Lock()
	p.status = append(p.status, msg)
	p.mu.Unlock()
	return nil
}

func (p *page) Close(context.Context) error { return nil }

func (p *page) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.status...)
}

func (p *page) value(loc sites.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[loc.String()]
}

func (p *page) clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// browser is a fake BridgeAPI.
type browser struct {
	mu      sync.Mutex
	tabs    []registry.TabInfo
	pages   map[string]*page
	created []string
	closed  []string
	next    int
	events  chan bridge.TabEvent
	// loadPanic makes WaitLoaded panic.
	loadPanic bool
}

func newBrowser() *browser {
	return &browser{pages: make(map[string]*page), events: make(chan bridge.TabEvent, 8)}
}

func (b *browser) addTab(id, title string, p *page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs = append(b.tabs, registry.TabInfo{ID: id, URL: p.url, Title: title})
	b.pages[id] = p
}

func (b *browser) ListTabs(context.Context) ([]registry.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]registry.TabInfo(nil), b.tabs...), nil
}

func (b *browser) CreateTab(_ context.Context, url string) (string, error) {
	b.mu.Lock()
	b.next++
	id := fmt.Sprintf("new%d", b.next)
	b.created = append(b.created, url)
	b.mu.Unlock()
	b.addTab(id, "", newPage(url))
	return id, nil
}

func (b *browser) CloseTab(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, id)
	return nil
}

func (b *browser) WaitLoaded(context.Context, string, time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadPanic {
		panic("page gone")
	}
	return nil
}

func (b *browser) Page(id string) automation.Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pages[id]; ok {
		return p
	}
	return newPage("")
}

func (b *browser) Events() <-chan bridge.TabEvent { return b.events }

func (b *browser) snapshot() (created, closed []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.created...), append([]string(nil), b.closed...)
}

// brokenStore fails reads of one key.
type brokenStore struct {
	store.Store
	key string
}

func (b brokenStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if key == b.key {
		return false, protocol.Errorf(protocol.CodeStorageUnavailable, "get %s: disk I/O error", key)
	}
	return b.Store.Get(ctx, key, dst)
}

const (
	readerURL    = "http://localhost:3000/chapter/42"
	assistantURL = "https://chatgpt.com/g/g-6749b358a57c8191a95344323c84c1e1"
	publishURL   = "https://truyencity.example/book/9"
)

func testSettings() Settings {
	send := channel.Options{MaxRetries: 2, Timeout: time.Second, RetryDelay: time.Millisecond}
	return Settings{
		Send:         send,
		PostTimeout:  time.Second,
		AssistantURL: assistantURL,
		PublisherURL: publishURL,
		Script: automation.Settings{
			ChunkSize:     50000,
			Send:          send,
			WaitTimeout:   300 * time.Millisecond,
			WaitInterval:  2 * time.Millisecond,
			ResultTimeout: 300 * time.Millisecond,
		},
	}
}

type fixture struct {
	c       *Coordinator
	browser *browser
	store   store.Store
	sites   *sites.Set
	reader  sites.Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	set, err := sites.Load("")
	if err != nil {
		t.Fatalf("load sites: %v", err)
	}
	reader, _ := set.First(sites.KindReading)
	b := newBrowser()
	st := store.NewMemory()
	c := New(b, set, st, events.New(), testSettings())
	t.Cleanup(c.scripts.DetachAll)
	return &fixture{c: c, browser: b, store: st, sites: set, reader: reader}
}

// readingPage opens a reader tab with the fields the reading script uses.
func (f *fixture) readingPage(id string) *page {
	p := newPage(readerURL, f.reader.TitleField, f.reader.ContentField, f.reader.MarkDone, f.reader.Source)
	f.browser.addTab(id, "Chapter 42", p)
	return p
}

// bindReading opens a reader tab and attaches its script.
func (f *fixture) bindReading(t *testing.T, id string) *page {
	t.Helper()
	p := f.readingPage(id)
	if err := f.c.inject(id, f.reader); err != nil {
		t.Fatalf("inject: %v", err)
	}
	f.c.reg.Bind(registry.RoleReading, id)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
