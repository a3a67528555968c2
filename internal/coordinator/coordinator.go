// Package coordinator is the relay's central router: it tracks which tab
// serves which role, reassembles chunked translations, injects page scripts
// and forwards envelopes between tabs.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/bridge"
	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/config"
	"github.com/golden-h/novelrelay/internal/events"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/registry"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
)

// Settings tune the coordinator.
type Settings struct {
	Send          channel.Options
	PostTimeout   time.Duration
	LoadTimeout   time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
	AssistantURL  string
	PublisherURL  string
	Script        automation.Settings
}

// SettingsFrom maps the runtime configuration onto coordinator settings.
func SettingsFrom(cfg *config.RuntimeConfig) Settings {
	send := channel.Options{MaxRetries: cfg.SendRetries, Timeout: cfg.SendTimeout, RetryDelay: cfg.RetryDelay}
	return Settings{
		Send:          send,
		PostTimeout:   cfg.ResultTimeout,
		LoadTimeout:   cfg.NavigateTimeout,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
		AssistantURL:  cfg.AssistantURL,
		PublisherURL:  cfg.PublisherURL,
		Script: automation.Settings{
			ChunkSize:     cfg.ChunkSize,
			Send:          send,
			WaitTimeout:   cfg.WaitTimeout,
			WaitInterval:  cfg.WaitInterval,
			ResultTimeout: cfg.ResultTimeout,
			SettleDelay:   cfg.SettleDelay,
			ReaderAPI:     cfg.ReaderAPI,
			ReaderPrefix:  cfg.ReaderPrefix,
			PublisherURL:  cfg.PublisherURL,
		},
	}
}

func (s Settings) normalized() Settings {
	if s.PostTimeout <= 0 {
		s.PostTimeout = 2 * time.Minute
	}
	if s.LoadTimeout <= 0 {
		s.LoadTimeout = 30 * time.Second
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 5 * time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	return s
}

type Coordinator struct {
	browser bridge.BridgeAPI
	sites   *sites.Set
	store   store.Store
	bus     *events.Bus
	cfg     Settings
	http    *http.Client

	reg       *registry.Registry
	transfers *Transfers
	scripts   *Scripts
	base      context.Context
}

var _ channel.Handler = (*Coordinator)(nil)

func New(browser bridge.BridgeAPI, set *sites.Set, st store.Store, bus *events.Bus, cfg Settings) *Coordinator {
	return &Coordinator{
		browser:   browser,
		sites:     set,
		store:     st,
		bus:       bus,
		cfg:       cfg.normalized(),
		http:      &http.Client{Timeout: 10 * time.Second},
		reg:       registry.New(),
		transfers: NewTransfers(),
		scripts:   NewScripts(),
		base:      context.Background(),
	}
}

func (c *Coordinator) Roles() []registry.Binding { return c.reg.Snapshot() }
func (c *Coordinator) Transfers() []TransferInfo  { return c.transfers.Snapshot() }
func (c *Coordinator) Scripts() []ScriptInfo      { return c.scripts.List() }

// Seed copies configured defaults into the store without overwriting
// values saved earlier.
func (c *Coordinator) Seed(ctx context.Context) error {
	if c.cfg.PublisherURL == "" {
		return nil
	}
	cur, err := store.GetString(ctx, c.store, store.KeyTruyencityURL)
	if err != nil {
		return err
	}
	if cur != "" {
		return nil
	}
	return c.store.Set(ctx, store.KeyTruyencityURL, c.cfg.PublisherURL)
}

// Handle answers one envelope from sender. It never panics; failures come
// back as coded failure responses.
func (c *Coordinator) Handle(ctx context.Context, sender string, env protocol.Envelope) (resp protocol.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "action", env.Kind(), "sender", sender, "panic", r, "stack", string(debug.Stack()))
			resp = protocol.Fail(fmt.Errorf("internal error: %v", r))
		}
		if !resp.Success {
			slog.Warn("envelope failed", "action", env.Kind(), "sender", sender, "error", resp.Error, "detail", resp.Detail)
			c.bus.Publish(events.Event{Type: events.TypeError, TabID: sender, Action: env.Kind(), Message: resp.Detail})
		} else {
			slog.Debug("envelope handled", "action", env.Kind(), "sender", sender, "ms", time.Since(start).Milliseconds())
		}
	}()
	return c.route(ctx, sender, env)
}

// spawn runs fn on its own goroutine. A panic is logged and reported on the
// bus instead of taking the daemon down.
func (c *Coordinator) spawn(task, tabID string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("goroutine panic", "task", task, "tabId", tabID, "panic", r, "stack", string(debug.Stack()))
				c.bus.Publish(events.Event{Type: events.TypeError, TabID: tabID, Action: task, Message: fmt.Sprint(r)})
			}
		}()
		fn()
	}()
}

func (c *Coordinator) route(ctx context.Context, sender string, env protocol.Envelope) protocol.Response {
	switch env.Kind() {
	case protocol.ActionSendTranslation:
		return c.receiveTranslation(ctx, sender, env)
	case protocol.ActionTranslationError:
		c.relayError(ctx, env.Error)
		return protocol.OK()
	case protocol.ActionOpenAssistant:
		return c.openAssistant(ctx, sender, env.Content)
	case protocol.ActionOpenTruyencityTab:
		id, err := c.openPublisher(ctx, env.URL)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.Response{Success: true, TabID: id}
	case protocol.ActionPostToTruyencity:
		return c.postToPublisher(ctx, env)
	case protocol.ActionOpenTruyencityAndPost:
		return c.openAndPost(ctx, env)
	case protocol.ActionPostComplete:
		return c.postComplete(ctx, sender, env)
	case protocol.ActionRelay:
		return c.relay(ctx, env)
	}
	return protocol.Response{Success: false, Error: string(protocol.CodeUnknown), Detail: "unknown action " + env.Kind()}
}

func (c *Coordinator) receiveTranslation(ctx context.Context, sender string, env protocol.Envelope) protocol.Response {
	if !env.IsChunked {
		if strings.TrimSpace(env.Translation) == "" {
			return protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "empty translation"))
		}
		return c.deliver(ctx, env.Translation)
	}

	if env.IsComplete {
		total := 0
		if env.TotalChunks != nil {
			total = *env.TotalChunks
		}
		text, err := c.transfers.Assemble(sender, total)
		if err != nil {
			return protocol.Fail(err)
		}
		resp := c.deliver(ctx, text)
		if resp.Success {
			c.transfers.Drop(sender)
		}
		return resp
	}

	if env.ChunkIndex == nil || env.TotalChunks == nil {
		return protocol.Fail(protocol.Errorf(protocol.CodeInvalidChunkState, "part without index or total"))
	}
	ti, err := c.transfers.Part(sender, *env.ChunkIndex, *env.TotalChunks, env.Translation)
	if err != nil {
		return protocol.Fail(err)
	}
	slog.Debug("part received", "sender", sender, "index", *env.ChunkIndex, "received", ti.Received, "total", ti.Total)
	c.bus.Publish(events.Event{Type: events.TypeTransfer, TabID: sender, Parts: ti.Received, Total: ti.Total})
	return protocol.OK()
}

// deliver hands a complete translation to the reading tab.
func (c *Coordinator) deliver(ctx context.Context, translation string) protocol.Response {
	tabID, err := c.readingTab(ctx)
	if err != nil {
		return protocol.Fail(err)
	}
	env := protocol.New("")
	env.Type = protocol.TypeTranslationComplete
	env.Translation = translation
	if _, err := c.sendToTab(ctx, tabID, env, c.deliverOptions()); err != nil {
		return protocol.Fail(fmt.Errorf("deliver to %s: %w", tabID, err))
	}
	slog.Info("translation delivered", "tabId", tabID, "chars", len([]rune(translation)))
	c.bus.Publish(events.Event{Type: events.TypeDelivery, TabID: tabID, Action: protocol.TypeTranslationComplete})
	return protocol.OK()
}

func (c *Coordinator) relayError(ctx context.Context, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	tabID, err := c.readingTab(ctx)
	if err != nil {
		slog.Warn("translation error not relayed", "error", msg, "err", err)
		return
	}
	env := protocol.New("")
	env.Type = protocol.TypeTranslationError
	env.Error = msg
	if _, err := c.sendToTab(ctx, tabID, env, c.cfg.Send); err != nil {
		slog.Warn("translation error not relayed", "tabId", tabID, "err", err)
	}
}

func (c *Coordinator) openAssistant(ctx context.Context, sender, content string) protocol.Response {
	if strings.TrimSpace(content) == "" {
		return protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "no chapter content"))
	}
	if err := c.store.Set(ctx, store.KeyTranslationContent, content); err != nil {
		return protocol.Fail(err)
	}
	if sender != "" {
		if err := c.store.Set(ctx, store.KeySourceTabID, sender); err != nil {
			return protocol.Fail(err)
		}
		c.reg.Bind(registry.RoleReading, sender)
	}
	id, err := c.browser.CreateTab(ctx, c.cfg.AssistantURL)
	if err != nil {
		return protocol.Fail(protocol.Wrap(protocol.CodeInjectionFailure, err))
	}
	c.reg.Bind(registry.RoleAssistant, id)
	c.bus.Publish(events.Event{Type: events.TypeRole, TabID: id, Role: string(registry.RoleAssistant)})
	return protocol.Response{Success: true, TabID: id}
}

// publisherURL picks the explicit URL, then the saved one, then the
// configured default.
func (c *Coordinator) publisherURL(ctx context.Context, url string) (string, error) {
	if url != "" {
		return url, nil
	}
	saved, err := store.GetString(ctx, c.store, store.KeyTruyencityURL)
	if err != nil {
		return "", err
	}
	if saved != "" {
		return saved, nil
	}
	if c.cfg.PublisherURL != "" {
		return c.cfg.PublisherURL, nil
	}
	return "", protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "truyencity URL not configured")
}

// openPublisher opens the publishing page and injects its script once the
// page has loaded.
func (c *Coordinator) openPublisher(ctx context.Context, url string) (string, error) {
	url, err := c.publisherURL(ctx, url)
	if err != nil {
		return "", err
	}
	profile, ok := c.sites.First(sites.KindPublisher)
	if !ok {
		return "", protocol.Errorf(protocol.CodeInjectionFailure, "no publisher profile configured")
	}
	id, err := c.browser.CreateTab(ctx, url)
	if err != nil {
		return "", protocol.Wrap(protocol.CodeInjectionFailure, err)
	}
	if err := c.browser.WaitLoaded(ctx, id, c.cfg.LoadTimeout); err != nil {
		return id, protocol.Errorf(protocol.CodeTimeout, "publisher tab did not load: %w", err)
	}
	c.reg.Bind(registry.RolePublisher, id)
	if err := c.inject(id, profile); err != nil {
		return id, err
	}
	return id, nil
}

func postEnvelope(env protocol.Envelope) (protocol.Envelope, error) {
	title, content := env.Title, env.Content
	if env.Data != nil {
		title, content = env.Data.Title, env.Data.Content
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return protocol.Envelope{}, protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "missing title or content")
	}
	post := protocol.New(protocol.ActionPostChapter)
	post.Data = &protocol.PostData{Title: title, Content: content}
	return post, nil
}

// deliverOptions give each attempt time for the reading page to show its
// fields and for the chapter status update.
func (c *Coordinator) deliverOptions() channel.Options {
	o := c.cfg.Send
	if o.Timeout <= 0 {
		o.Timeout = channel.DefaultTimeout
	}
	o.Timeout += c.cfg.Script.WaitTimeout + automation.StatusTimeout
	return o
}

// postOptions allow a single long attempt: posting is not idempotent.
func (c *Coordinator) postOptions() channel.Options {
	return channel.Options{MaxRetries: 1, Timeout: c.cfg.PostTimeout}
}

func (c *Coordinator) postToPublisher(ctx context.Context, env protocol.Envelope) protocol.Response {
	post, err := postEnvelope(env)
	if err != nil {
		return protocol.Fail(err)
	}
	id, err := c.openPublisher(ctx, env.URL)
	if err != nil {
		return protocol.Fail(err)
	}
	resp, err := c.sendToTab(ctx, id, post, c.postOptions())
	if err != nil {
		resp = protocol.Fail(err)
	}
	resp.TabID = id
	return resp
}

func (c *Coordinator) openAndPost(ctx context.Context, env protocol.Envelope) protocol.Response {
	post, err := postEnvelope(env)
	if err != nil {
		return protocol.Fail(err)
	}
	id, err := c.openPublisher(ctx, env.URL)
	if err != nil {
		return protocol.Fail(err)
	}
	c.spawn("post", id, func() {
		pctx := context.WithoutCancel(ctx)
		if _, err := c.sendToTab(pctx, id, post, c.postOptions()); err != nil {
			slog.Error("post chapter failed", "tabId", id, "err", err)
		}
	})
	return protocol.Response{Success: true, TabID: id}
}

func (c *Coordinator) postComplete(ctx context.Context, sender string, env protocol.Envelope) protocol.Response {
	done := protocol.New(protocol.ActionPostCompleted)
	ok := env.Success == nil || *env.Success
	done.Success = &ok
	if tabID, err := c.readingTab(ctx); err != nil {
		slog.Warn("post completion not relayed", "err", err)
	} else if _, err := c.sendToTab(ctx, tabID, done, c.cfg.Send); err != nil {
		slog.Warn("post completion not relayed", "tabId", tabID, "err", err)
	}

	if sender != "" {
		c.spawn("close", sender, func() {
			if err := c.browser.CloseTab(sender); err != nil {
				slog.Warn("close publisher tab", "tabId", sender, "err", err)
			}
		})
	}
	c.bus.Publish(events.Event{Type: events.TypeDelivery, TabID: sender, Action: protocol.ActionPostComplete})
	return protocol.OK()
}

func (c *Coordinator) relay(ctx context.Context, env protocol.Envelope) protocol.Response {
	if env.Inner == nil {
		return protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "relay without inner envelope"))
	}
	role, err := registry.ParseRole(env.Role)
	if err != nil {
		return protocol.Fail(protocol.Wrap(protocol.CodeEmptyOrInvalidPayload, err))
	}
	tabID, err := c.reg.Resolve(role)
	if err != nil {
		return protocol.Fail(err)
	}
	resp, err := c.sendToTab(ctx, tabID, *env.Inner, c.cfg.Send)
	if err != nil {
		resp = protocol.Fail(err)
	}
	resp.TabID = tabID
	return resp
}

// sendToTab delivers env to the script bound to tabID.
func (c *Coordinator) sendToTab(ctx context.Context, tabID string, env protocol.Envelope, opts channel.Options) (protocol.Response, error) {
	script, ok := c.scripts.Get(tabID)
	if !ok {
		return protocol.Response{}, protocol.Errorf(protocol.CodeNoTargetTab, "no script running in tab %s", tabID)
	}
	t := channel.Local{
		Sender: tabID,
		Handler: channel.HandlerFunc(func(ctx context.Context, _ string, env protocol.Envelope) protocol.Response {
			return script.Receive(ctx, env)
		}),
	}
	return channel.Send(ctx, t, env, opts)
}
