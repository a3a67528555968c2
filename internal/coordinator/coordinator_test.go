package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/bridge"
	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/events"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/registry"
	"github.com/golden-h/novelrelay/internal/store"
)

func part(index, total int, data string) protocol.Envelope {
	return protocol.New(protocol.ActionSendTranslation).Chunk(index, total, data)
}

func completion(total int) protocol.Envelope {
	return protocol.New(protocol.ActionSendTranslation).Completion(total)
}

func TestChunkedTranslationReachesReadingTab(t *testing.T) {
	f := newFixture(t)
	p := f.bindReading(t, "read")

	body := strings.Repeat("x", 120000) + "\nEND"
	payload := "Chương 7: Trở về\n" + body

	from := channel.Local{Handler: f.c, Sender: "asst"}
	env := protocol.New(protocol.ActionSendTranslation)
	var progress []int
	err := channel.SendChunked(context.Background(), from, env, payload, 50000, f.c.cfg.Send, func(sent, total int) {
		progress = append(progress, sent)
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	})
	if err != nil {
		t.Fatalf("SendChunked: %v", err)
	}
	if len(progress) != 3 {
		t.Fatalf("progress = %v", progress)
	}

	if got := p.value(f.reader.TitleField); got != "Trở về" {
		t.Errorf("title = %q", got)
	}
	if got := p.value(f.reader.ContentField); got != body {
		t.Errorf("content has %d chars, want %d", len(got), len(body))
	}
	if n := len(f.c.Transfers()); n != 0 {
		t.Errorf("%d transfers left after delivery", n)
	}
}

func TestSingleTranslationFindsCandidateTab(t *testing.T) {
	f := newFixture(t)
	p := f.readingPage("tab7")

	env := protocol.New(protocol.ActionSendTranslation)
	env.Translation = "Mở đầu\nNội dung"
	resp := f.c.Handle(context.Background(), "asst", env)
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if got := p.value(f.reader.ContentField); got != "Nội dung" {
		t.Errorf("content = %q", got)
	}
	if id, err := f.c.reg.Resolve(registry.RoleReading); err != nil || id != "tab7" {
		t.Errorf("reading bound to %q (%v)", id, err)
	}
}

func TestTranslationPrefersSourceTab(t *testing.T) {
	f := newFixture(t)
	f.readingPage("first")
	second := f.readingPage("second")
	if err := f.store.Set(context.Background(), store.KeySourceTabID, "second"); err != nil {
		t.Fatal(err)
	}

	env := protocol.New(protocol.ActionSendTranslation)
	env.Translation = "T\nC"
	if resp := f.c.Handle(context.Background(), "asst", env); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if got := second.value(f.reader.ContentField); got != "C" {
		t.Errorf("source tab content = %q", got)
	}
}

func TestTranslationWithoutReadingTab(t *testing.T) {
	f := newFixture(t)
	env := protocol.New(protocol.ActionSendTranslation)
	env.Translation = "T\nC"
	resp := f.c.Handle(context.Background(), "asst", env)
	if resp.Success || resp.Error != string(protocol.CodeNoTargetTab) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestTranslationErrorIsRelayed(t *testing.T) {
	f := newFixture(t)
	p := f.bindReading(t, "read")

	env := protocol.New(protocol.ActionTranslationError)
	env.Error = "Không tìm thấy ô nhập"
	if resp := f.c.Handle(context.Background(), "asst", env); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	got := p.statuses()
	if len(got) == 0 || !strings.Contains(got[len(got)-1], "Không tìm thấy ô nhập") {
		t.Errorf("statuses = %v", got)
	}

	// Without a reading tab the error is dropped, still answered with success.
	g := newFixture(t)
	if resp := g.c.Handle(context.Background(), "asst", env); !resp.Success {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCompletionErrors(t *testing.T) {
	f := newFixture(t)
	f.bindReading(t, "read")
	ctx := context.Background()

	done := completion(2)
	if resp := f.c.Handle(ctx, "asst", done); resp.Error != string(protocol.CodeInvalidChunkState) {
		t.Fatalf("completion without parts: %+v", resp)
	}

	if resp := f.c.Handle(ctx, "asst", part(0, 2, "ab")); !resp.Success {
		t.Fatalf("part: %+v", resp)
	}
	if resp := f.c.Handle(ctx, "asst", completion(3)); resp.Error != string(protocol.CodeInvalidChunkState) {
		t.Fatalf("total mismatch: %+v", resp)
	}
	if resp := f.c.Handle(ctx, "asst", done); resp.Error != string(protocol.CodeInvalidChunkState) {
		t.Fatalf("incomplete: %+v", resp)
	}
	if n := len(f.c.Transfers()); n != 1 {
		t.Fatalf("transfer dropped on failed completion: %d", n)
	}

	bad := protocol.New(protocol.ActionSendTranslation)
	bad.IsChunked = true
	if resp := f.c.Handle(ctx, "asst", bad); resp.Error != string(protocol.CodeInvalidChunkState) {
		t.Fatalf("part without index: %+v", resp)
	}
	if resp := f.c.Handle(ctx, "asst", part(5, 2, "x")); resp.Error != string(protocol.CodeOutOfRange) {
		t.Fatalf("out of range: %+v", resp)
	}
}

func TestOutOfOrderPartsAreDelivered(t *testing.T) {
	f := newFixture(t)
	p := f.bindReading(t, "read")
	ctx := context.Background()

	for _, env := range []protocol.Envelope{part(1, 2, "C"), part(0, 2, "T\n"), part(0, 2, "T\n"), completion(2)} {
		if resp := f.c.Handle(ctx, "asst", env); !resp.Success {
			t.Fatalf("resp = %+v", resp)
		}
	}
	if got := p.value(f.reader.ContentField); got != "C" {
		t.Errorf("content = %q", got)
	}
}

func TestDeliveryWaitsForReadingPage(t *testing.T) {
	f := newFixture(t)
	o := f.c.deliverOptions()
	want := f.c.cfg.Send.Timeout + f.c.cfg.Script.WaitTimeout + automation.StatusTimeout
	if o.Timeout < want {
		t.Errorf("delivery attempt timeout %v, want at least %v", o.Timeout, want)
	}

	f.c.cfg.Send.Timeout = 0
	if o := f.c.deliverOptions(); o.Timeout != channel.DefaultTimeout+f.c.cfg.Script.WaitTimeout+automation.StatusTimeout {
		t.Errorf("default timeout = %v", o.Timeout)
	}
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	resp := f.c.Handle(context.Background(), "x", protocol.New("frobnicate"))
	if resp.Success || resp.Error != string(protocol.CodeUnknown) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestOpenAssistant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := protocol.New(protocol.ActionOpenAssistant)
	env.Content = "chapter text"
	resp := f.c.Handle(ctx, "read", env)
	if !resp.Success || resp.TabID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	created, _ := f.browser.snapshot()
	if len(created) != 1 || created[0] != assistantURL {
		t.Fatalf("created = %v", created)
	}
	if got, _ := store.GetString(ctx, f.store, store.KeyTranslationContent); got != "chapter text" {
		t.Errorf("queued content = %q", got)
	}
	if got, _ := store.GetString(ctx, f.store, store.KeySourceTabID); got != "read" {
		t.Errorf("source tab = %q", got)
	}
	if id, _ := f.c.reg.Resolve(registry.RoleAssistant); id != resp.TabID {
		t.Errorf("assistant bound to %q, want %q", id, resp.TabID)
	}
	if id, _ := f.c.reg.Resolve(registry.RoleReading); id != "read" {
		t.Errorf("reading bound to %q", id)
	}

	empty := protocol.New(protocol.ActionOpenAssistant)
	if resp := f.c.Handle(ctx, "read", empty); resp.Error != string(protocol.CodeEmptyOrInvalidPayload) {
		t.Errorf("empty content: %+v", resp)
	}
}

func TestRelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inner := protocol.New("")
	inner.Type = protocol.TypeTranslationError
	inner.Error = "boom"
	env := protocol.New(protocol.ActionRelay)
	env.Role = "assistant"
	env.Inner = &inner
	if resp := f.c.Handle(ctx, "x", env); resp.Error != string(protocol.CodeNoTargetTab) {
		t.Fatalf("unbound role: %+v", resp)
	}

	f.bindReading(t, "read")
	env.Role = "reading"
	resp := f.c.Handle(ctx, "x", env)
	if !resp.Success || resp.TabID != "read" {
		t.Fatalf("relay to reading: %+v", resp)
	}

	env.Role = "printer"
	if resp := f.c.Handle(ctx, "x", env); resp.Error != string(protocol.CodeEmptyOrInvalidPayload) {
		t.Fatalf("bad role: %+v", resp)
	}
}

func TestPostCompleteMarksDoneAndClosesSender(t *testing.T) {
	f := newFixture(t)
	p := f.bindReading(t, "read")

	env := protocol.New(protocol.ActionPostComplete)
	ok := true
	env.Success = &ok
	if resp := f.c.Handle(context.Background(), "pub", env); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if clicks := p.clicked(); len(clicks) != 1 || clicks[0] != f.reader.MarkDone.String() {
		t.Errorf("clicks = %v", clicks)
	}
	waitFor(t, "sender tab closed", func() bool {
		_, closed := f.browser.snapshot()
		return len(closed) == 1 && closed[0] == "pub"
	})
}

func TestPostToPublisher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := protocol.New(protocol.ActionPostToTruyencity)
	env.Data = &protocol.PostData{Title: "T"}
	if resp := f.c.Handle(ctx, "read", env); resp.Error != string(protocol.CodeEmptyOrInvalidPayload) {
		t.Fatalf("missing content: %+v", resp)
	}

	env.Data.Content = "C"
	resp := f.c.Handle(ctx, "read", env)
	// The fake publisher page has none of the step elements.
	if resp.Success || resp.Error != string(protocol.CodeNotFound) || resp.TabID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	created, _ := f.browser.snapshot()
	if len(created) != 1 || created[0] != publishURL {
		t.Fatalf("created = %v", created)
	}
	if id, _ := f.c.reg.Resolve(registry.RolePublisher); id != resp.TabID {
		t.Errorf("publisher bound to %q", id)
	}
}

func TestOpenPublisherUsesSavedURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.Set(ctx, store.KeyTruyencityURL, "https://saved.example/book/1"); err != nil {
		t.Fatal(err)
	}
	resp := f.c.Handle(ctx, "read", protocol.New(protocol.ActionOpenTruyencityTab))
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	created, _ := f.browser.snapshot()
	if len(created) != 1 || created[0] != "https://saved.example/book/1" {
		t.Fatalf("created = %v", created)
	}
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.c.Seed(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetString(ctx, f.store, store.KeyTruyencityURL); got != publishURL {
		t.Fatalf("seeded %q", got)
	}
	_ = f.store.Set(ctx, store.KeyTruyencityURL, "https://mine.example")
	_ = f.c.Seed(ctx)
	if got, _ := store.GetString(ctx, f.store, store.KeyTruyencityURL); got != "https://mine.example" {
		t.Fatalf("seed overwrote saved url: %q", got)
	}
}

func TestTabClosedReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.bindReading(t, "read")
	if resp := f.c.Handle(context.Background(), "read", part(0, 3, "a")); !resp.Success {
		t.Fatalf("part: %+v", resp)
	}

	f.c.OnTabEvent(context.Background(), bridge.TabEvent{Kind: bridge.TabClosed, TabID: "read"})

	if _, err := f.c.reg.Resolve(registry.RoleReading); !errors.Is(err, protocol.ErrNoTargetTab) {
		t.Errorf("reading still bound: %v", err)
	}
	if _, ok := f.c.scripts.Get("read"); ok {
		t.Error("script still attached")
	}
	if n := len(f.c.Transfers()); n != 0 {
		t.Errorf("%d transfers left", n)
	}
}

func TestTabEventsAttachScripts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.browser.addTab("chat", "ChatGPT", newPage(assistantURL))

	f.c.OnTabEvent(ctx, bridge.TabEvent{Kind: bridge.TabOpened, TabID: "chat", URL: assistantURL})
	waitFor(t, "assistant script", func() bool {
		_, ok := f.c.scripts.Get("chat")
		return ok
	})
	if id, _ := f.c.reg.Resolve(registry.RoleAssistant); id != "chat" {
		t.Errorf("assistant bound to %q", id)
	}

	f.c.OnTabEvent(ctx, bridge.TabEvent{Kind: bridge.TabNavigated, TabID: "chat", URL: "https://example.com/"})
	if _, ok := f.c.scripts.Get("chat"); ok {
		t.Error("script kept after leaving the site")
	}
	if _, err := f.c.reg.Resolve(registry.RoleAssistant); err == nil {
		t.Error("role kept after leaving the site")
	}

	f.c.OnTabEvent(ctx, bridge.TabEvent{Kind: bridge.TabOpened, TabID: "other", URL: "https://example.com/"})
	if _, ok := f.c.scripts.Get("other"); ok {
		t.Error("script attached to an unmatched page")
	}
}

// panicEvent waits for an error event reporting a panic in task.
func panicEvent(t *testing.T, ch <-chan events.Event, task string) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeError && ev.Action == task {
				return ev
			}
		case <-timeout:
			t.Fatalf("no panic reported for %s", task)
			return events.Event{}
		}
	}
}

func TestAttachPanicIsContained(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.c.bus.Subscribe()
	defer cancel()
	f.browser.addTab("chat", "ChatGPT", newPage(assistantURL))
	f.browser.mu.Lock()
	f.browser.loadPanic = true
	f.browser.mu.Unlock()

	f.c.OnTabEvent(context.Background(), bridge.TabEvent{Kind: bridge.TabOpened, TabID: "chat", URL: assistantURL})
	ev := panicEvent(t, ch, "attach")
	if ev.TabID != "chat" || !strings.Contains(ev.Message, "page gone") {
		t.Errorf("event = %+v", ev)
	}
	if _, ok := f.c.scripts.Get("chat"); ok {
		t.Error("script attached after a failed load")
	}
}

func TestSpawnRecoversScriptPanic(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.c.bus.Subscribe()
	defer cancel()

	f.c.spawn("script", "t1", func() { panic("boom") })
	if ev := panicEvent(t, ch, "script"); ev.TabID != "t1" || ev.Message != "boom" {
		t.Errorf("event = %+v", ev)
	}

	// The coordinator keeps working afterwards.
	f.bindReading(t, "reader")
	env := protocol.New(protocol.ActionSendTranslation)
	env.Translation = "T\nC"
	if resp := f.c.Handle(context.Background(), "asst", env); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSourceTabLookupFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.c.store = brokenStore{Store: f.store, key: store.KeySourceTabID}
	p := f.readingPage("cand")

	env := protocol.New(protocol.ActionSendTranslation)
	env.Translation = "T\nC"
	if resp := f.c.Handle(context.Background(), "asst", env); !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if got := p.value(f.reader.ContentField); got != "C" {
		t.Errorf("candidate tab content = %q", got)
	}
	if id, _ := f.c.reg.Resolve(registry.RoleReading); id != "cand" {
		t.Errorf("reading role bound to %q", id)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.c.reg.Bind(registry.RoleReading, "read")
	if _, err := f.c.transfers.Part("asst", 0, 2, "a"); err != nil {
		t.Fatal(err)
	}

	if tr, b := f.c.Sweep(time.Now()); tr != 0 || b != 0 {
		t.Fatalf("fresh state swept: %d transfers, %d bindings", tr, b)
	}
	tr, b := f.c.Sweep(time.Now().Add(time.Hour))
	if tr != 1 || b != 1 {
		t.Fatalf("swept %d transfers, %d bindings", tr, b)
	}
}

func TestRunStopsScripts(t *testing.T) {
	f := newFixture(t)
	f.bindReading(t, "read")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.c.Run(ctx)
		close(done)
	}()
	f.browser.events <- bridge.TabEvent{Kind: bridge.TabClosed, TabID: "read"}
	waitFor(t, "closed tab handled", func() bool {
		_, ok := f.c.scripts.Get("read")
		return !ok
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.c.Command(ctx, "ghost", OpTranslate); !errors.Is(err, protocol.ErrNoTargetTab) {
		t.Fatalf("no script: %v", err)
	}

	p := f.bindReading(t, "read")
	p.els[f.reader.Source.String()] = []string{"Dòng một", "Dòng hai"}

	id, err := f.c.Command(ctx, "", OpTranslate)
	if err != nil || id != "read" {
		t.Fatalf("translate: %q %v", id, err)
	}
	if got, _ := store.GetString(ctx, f.store, store.KeyTranslationContent); got != "Dòng một\nDòng hai" {
		t.Errorf("queued = %q", got)
	}
	if created, _ := f.browser.snapshot(); len(created) != 1 || created[0] != assistantURL {
		t.Errorf("created = %v", created)
	}

	if _, err := f.c.Command(ctx, "read", "dance"); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestCommandOnNonReadingTab(t *testing.T) {
	f := newFixture(t)
	f.browser.addTab("chat", "", newPage(assistantURL))
	profile, _ := f.sites.ForURL(assistantURL)
	if err := f.c.inject("chat", profile); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Command(context.Background(), "chat", OpPost); !errors.Is(err, protocol.ErrNoTargetTab) {
		t.Fatalf("err = %v", err)
	}
}

func TestScriptsAttach(t *testing.T) {
	s := NewScripts()
	cancelled := 0
	cancel := func() { cancelled++ }
	first := &nopScript{name: "a"}
	if !s.Attach("t1", "p1", first, cancel) {
		t.Fatal("first attach refused")
	}
	if s.Attach("t1", "p1", &nopScript{name: "dup"}, cancel) {
		t.Fatal("same profile attached twice")
	}
	if !s.Attach("t1", "p2", &nopScript{name: "b"}, cancel) {
		t.Fatal("new profile refused")
	}
	if cancelled != 1 {
		t.Fatalf("replaced script cancelled %d times", cancelled)
	}
	if got := s.List(); len(got) != 1 || got[0].Script != "b" || got[0].Profile != "p2" {
		t.Fatalf("list = %+v", got)
	}
	s.DetachAll()
	if cancelled != 2 || len(s.List()) != 0 {
		t.Fatalf("detach all: cancelled=%d list=%v", cancelled, s.List())
	}
}

type nopScript struct{ name string }

func (n *nopScript) Name() string            { return n.name }
func (n *nopScript) Start(ctx context.Context) {}
func (n *nopScript) Receive(ctx context.Context, env protocol.Envelope) protocol.Response {
	return protocol.OK()
}

func feed(t *testing.T, tr *Transfers, total int, order []int, parts map[int]string) {
	t.Helper()
	for _, i := range order {
		if _, err := tr.Part("s", i, total, parts[i]); err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
	}
}

func TestTransfersToleratePartOrder(t *testing.T) {
	parts := map[int]string{0: "a", 1: "b", 2: "c"}
	for _, order := range [][]int{{1, 0, 2}, {2, 1, 0}, {0, 1, 0, 2}, {0, 1, 2, 1}} {
		tr := NewTransfers()
		feed(t, tr, 3, order, parts)
		got, err := tr.Assemble("s", 3)
		if err != nil || got != "abc" {
			t.Errorf("order %v: assemble = %q, %v", order, got, err)
		}
	}
}

func TestTransfersRedeliveryKeepsOtherParts(t *testing.T) {
	tr := NewTransfers()
	feed(t, tr, 3, []int{0, 1, 0}, map[int]string{0: "a", 1: "b"})
	info := tr.Snapshot()[0]
	if info.Received != 2 || info.Deliveries != 3 {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Missing) != 1 || info.Missing[0] != 2 {
		t.Errorf("missing = %v", info.Missing)
	}
}

func TestTransfersNewTotalStartsFresh(t *testing.T) {
	tr := NewTransfers()
	feed(t, tr, 3, []int{0, 1}, map[int]string{0: "a", 1: "b"})
	feed(t, tr, 2, []int{1, 0}, map[int]string{0: "x", 1: "y"})
	got, err := tr.Assemble("s", 2)
	if err != nil || got != "xy" {
		t.Fatalf("assemble = %q, %v", got, err)
	}
}

func TestTransfersRejectBadPartsWithoutLosingState(t *testing.T) {
	tr := NewTransfers()
	feed(t, tr, 2, []int{0}, map[int]string{0: "a"})

	if _, err := tr.Part("s", 5, 2, "x"); !errors.Is(err, protocol.ErrOutOfRange) {
		t.Errorf("index 5: %v", err)
	}
	if _, err := tr.Part("s", 9, 9, "x"); !errors.Is(err, protocol.ErrOutOfRange) {
		t.Errorf("index 9 with a new total: %v", err)
	}
	if _, err := tr.Part("s", -1, 2, "x"); !errors.Is(err, protocol.ErrOutOfRange) {
		t.Errorf("index -1: %v", err)
	}
	if _, err := tr.Part("s", 0, 0, "x"); !errors.Is(err, protocol.ErrInvalidChunkState) {
		t.Errorf("zero total: %v", err)
	}

	feed(t, tr, 2, []int{1}, map[int]string{1: "b"})
	got, err := tr.Assemble("s", 2)
	if err != nil || got != "ab" {
		t.Fatalf("assemble = %q, %v", got, err)
	}
}
