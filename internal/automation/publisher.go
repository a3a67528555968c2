package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
	"github.com/golden-h/novelrelay/internal/waiter"
)

// PublisherScript replays the profile's steps to publish one chapter.
type PublisherScript struct {
	Deps
	log *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewPublisher(d Deps) *PublisherScript {
	return &PublisherScript{Deps: d, log: slog.With("script", "publisher", "site", d.Profile.Name)}
}

func (p *PublisherScript) Name() string { return "publisher:" + p.Profile.Name }

func (p *PublisherScript) Start(ctx context.Context) {}

func (p *PublisherScript) Receive(ctx context.Context, env protocol.Envelope) protocol.Response {
	if env.Action != protocol.ActionPostChapter {
		return unknown(env)
	}
	title, content := env.Title, env.Content
	if env.Data != nil {
		title, content = env.Data.Title, env.Data.Content
	}
	if title == "" || content == "" {
		return protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "missing title or content"))
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return protocol.Fail(fmt.Errorf("a chapter is already being posted"))
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if err := p.Publish(ctx, title, content); err != nil {
		p.log.Error("post failed", "title", title, "err", err)
		p.status(ctx, "Lỗi đăng chương: "+Localize(err), StatusError)
		return protocol.Fail(err)
	}
	return protocol.OK()
}

// Publish runs every step, then reports completion to the coordinator.
func (p *PublisherScript) Publish(ctx context.Context, title, content string) error {
	p.log.Info("posting chapter", "title", title, "steps", len(p.Profile.Steps))
	for i, s := range p.Profile.Steps {
		if err := p.step(ctx, s, title, content); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.Label(), err)
		}
	}

	if err := p.Store.Delete(ctx, store.KeyPendingPost); err != nil {
		p.log.Warn("clear pending post", "err", err)
	}
	p.status(ctx, "Đăng chương thành công", StatusSuccess)

	done := protocol.New(protocol.ActionPostComplete)
	ok := true
	done.Success = &ok
	channel.Notify(ctx, p.Transport, done, p.Settings.Send.Timeout)
	return nil
}

func (p *PublisherScript) step(ctx context.Context, s sites.Step, title, content string) error {
	switch s.Action() {
	case "sleep":
		return sleep(ctx, time.Duration(s.Sleep))
	case "wait":
		_, err := p.await(ctx, *s.Wait)
		return err
	case "click":
		if _, err := p.await(ctx, *s.Click); err != nil {
			return err
		}
		return p.Page.Click(ctx, *s.Click)
	case "fill":
		if _, err := p.await(ctx, *s.Fill); err != nil {
			return err
		}
		return p.Page.SetValue(ctx, *s.Fill, s.Render(title, content))
	}
	return fmt.Errorf("unsupported step")
}

func (p *PublisherScript) await(ctx context.Context, loc sites.Locator) (waiter.Match, error) {
	return waiter.Await(ctx, locate([]sites.Locator{loc}, p.Page.Exists), p.Settings.WaitTimeout, p.Settings.WaitInterval)
}
