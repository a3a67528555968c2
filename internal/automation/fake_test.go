package automation

import (
	"context"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
)

type fakeEl struct {
	text        string
	texts       []string
	disabled    bool
	appearAfter int
}

// fakePage keys elements by Locator.String().
type fakePage struct {
	mu       sync.Mutex
	url      string
	els      map[string]*fakeEl
	probes   map[string]int
	values   map[string]string
	writes   map[string]int
	clicks   []string
	statuses []string
	closed   bool
}

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:    url,
		els:    make(map[string]*fakeEl),
		probes: make(map[string]int),
		values: make(map[string]string),
		writes: make(map[string]int),
	}
}

func (f *fakePage) add(loc sites.Locator, el *fakeEl) *fakePage {
	f.mu.Lock()
	f.els[loc.String()] = el
	f.mu.Unlock()
	return f
}

func (f *fakePage) get(loc sites.Locator) (*fakeEl, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := loc.String()
	f.probes[key]++
	e, ok := f.els[key]
	if !ok || f.probes[key] <= e.appearAfter {
		return nil, false
	}
	return e, true
}

func (f *fakePage) URL(ctx context.Context) (string, error) { return f.url, nil }

func (f *fakePage) Exists(ctx context.Context, loc sites.Locator) (bool, error) {
	_, ok := f.get(loc)
	return ok, nil
}

func (f *fakePage) Enabled(ctx context.Context, loc sites.Locator) (bool, error) {
	e, ok := f.get(loc)
	return ok && !e.disabled, nil
}

func (f *fakePage) Text(ctx context.Context, loc sites.Locator) (string, bool, error) {
	e, ok := f.get(loc)
	if !ok {
		return "", false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, set := f.values[loc.String()]; set {
		return v, true, nil
	}
	return e.text, true, nil
}

func (f *fakePage) Texts(ctx context.Context, loc sites.Locator, sub string) ([]string, bool, error) {
	e, ok := f.get(loc)
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), e.texts...), true, nil
}

func (f *fakePage) SetValue(ctx context.Context, loc sites.Locator, value string) error {
	if _, ok := f.get(loc); !ok {
		return protocol.Errorf(protocol.CodeNotFound, "%s", loc)
	}
	f.mu.Lock()
	f.values[loc.String()] = value
	f.writes[loc.String()]++
	f.mu.Unlock()
	return nil
}

func (f *fakePage) Click(ctx context.Context, loc sites.Locator) error {
	if _, ok := f.get(loc); !ok {
		return protocol.Errorf(protocol.CodeNotFound, "%s", loc)
	}
	f.mu.Lock()
	f.clicks = append(f.clicks, loc.String())
	f.mu.Unlock()
	return nil
}

func (f *fakePage) ShowStatus(ctx context.Context, msg string, kind Status) error {
	f.mu.Lock()
	f.statuses = append(f.statuses, string(kind)+": "+msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePage) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakePage) value(loc sites.Locator) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[loc.String()]
}

func (f *fakePage) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

// recorder is a transport that answers every envelope with reply.
type recorder struct {
	mu    sync.Mutex
	seen  []protocol.Envelope
	reply protocol.Response
}

func newRecorder() *recorder { return &recorder{reply: protocol.OK()} }

func (r *recorder) Dispatch(ctx context.Context, env protocol.Envelope) <-chan channel.Reply {
	r.mu.Lock()
	r.seen = append(r.seen, env)
	reply := r.reply
	r.mu.Unlock()
	ch := make(chan channel.Reply, 1)
	ch <- channel.Reply{Response: reply}
	return ch
}

func (r *recorder) envelopes() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.seen...)
}

func testSettings() Settings {
	return Settings{
		ChunkSize:     4000,
		Send:          channel.Options{MaxRetries: 2, Timeout: 200 * time.Millisecond, RetryDelay: time.Millisecond},
		WaitTimeout:   300 * time.Millisecond,
		WaitInterval:  2 * time.Millisecond,
		ResultTimeout: 300 * time.Millisecond,
	}
}

func testDeps(t interface{ Fatalf(string, ...any) }, page *fakePage, kind sites.Kind) (Deps, *recorder) {
	set, err := sites.Load("")
	if err != nil {
		t.Fatalf("load sites: %v", err)
	}
	profile, ok := set.First(kind)
	if !ok {
		t.Fatalf("no %s profile", kind)
	}
	rec := newRecorder()
	return Deps{
		Page:      page,
		Transport: rec,
		Store:     store.NewMemory(),
		Profile:   profile,
		Settings:  testSettings(),
	}, rec
}

func (f *fakePage) writeCount(loc sites.Locator) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[loc.String()]
}
