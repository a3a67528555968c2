package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/store"
	"github.com/golden-h/novelrelay/internal/waiter"
)

// ReadingScript runs on the local reading page: it sends chapters out for
// translation, fills in the result and hands finished chapters to the
// publisher.
type ReadingScript struct {
	Deps
	log *slog.Logger

	mu        sync.Mutex // serializes deliveries
	delivered string     // message id of the last applied translation
}

func NewReading(d Deps) *ReadingScript {
	return &ReadingScript{Deps: d, log: slog.With("script", "reading", "site", d.Profile.Name)}
}

func (r *ReadingScript) Name() string { return "reading:" + r.Profile.Name }

func (r *ReadingScript) Start(ctx context.Context) {}

// Source reads the original chapter text, one line per child node.
func (r *ReadingScript) Source(ctx context.Context) (string, error) {
	parts, ok, err := r.Page.Texts(ctx, r.Profile.Source, "")
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	if !ok {
		return "", protocol.Errorf(protocol.CodeContentNotFound, "no %s on page", r.Profile.Source)
	}
	lines := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	if len(lines) == 0 {
		return "", protocol.Errorf(protocol.CodeContentNotFound, "%s is empty", r.Profile.Source)
	}
	return strings.Join(lines, "\n"), nil
}

// Translate queues the chapter and asks the coordinator to open the
// assistant.
func (r *ReadingScript) Translate(ctx context.Context) error {
	text, err := r.Source(ctx)
	if err != nil {
		r.status(ctx, Localize(err), StatusError)
		return err
	}
	env := protocol.New(protocol.ActionOpenAssistant)
	env.Content = text
	if _, err := channel.Send(ctx, r.Transport, env, r.Settings.Send); err != nil {
		r.status(ctx, "Lỗi: "+Localize(err), StatusError)
		return fmt.Errorf("open assistant: %w", err)
	}
	r.status(ctx, "Đã gửi chương đi dịch", StatusInfo)
	r.log.Info("chapter queued for translation", "chars", len([]rune(text)))
	return nil
}

// AutoRun translates and posts as soon as the translation arrives.
func (r *ReadingScript) AutoRun(ctx context.Context) error {
	if err := r.Store.Set(ctx, store.KeyAutoRun, true); err != nil {
		return err
	}
	if err := r.Translate(ctx); err != nil {
		_ = r.Store.Delete(ctx, store.KeyAutoRun)
		return err
	}
	return nil
}

// Post hands the filled-in chapter to the publishing site.
func (r *ReadingScript) Post(ctx context.Context) error {
	title, _, err := r.Page.Text(ctx, r.Profile.TitleField)
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	content, ok, err := r.Page.Text(ctx, r.Profile.ContentField)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if !ok || content == "" {
		err := protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "no translation content, translate the chapter first")
		r.status(ctx, "Chưa có bản dịch, hãy dịch chương trước", StatusError)
		return err
	}

	target, err := store.GetString(ctx, r.Store, store.KeyTruyencityURL)
	if err != nil {
		return err
	}
	if target == "" {
		target = r.Settings.PublisherURL
	}
	if target == "" {
		r.status(ctx, "Chưa cấu hình địa chỉ Truyencity", StatusError)
		return protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "truyencity URL not configured")
	}

	if err := r.Store.Set(ctx, store.KeyPendingPost, store.NewPendingPost(title, content)); err != nil {
		return err
	}

	env := protocol.New(protocol.ActionOpenTruyencityAndPost)
	env.URL = target
	env.Data = &protocol.PostData{Title: title, Content: content}
	if _, err := channel.Send(ctx, r.Transport, env, r.Settings.Send); err != nil {
		r.status(ctx, "Lỗi đăng chương: "+Localize(err), StatusError)
		return fmt.Errorf("open publisher: %w", err)
	}
	r.status(ctx, "Đang đăng chương...", StatusInfo)
	r.log.Info("chapter sent to publisher", "title", title, "url", target)
	return nil
}

func (r *ReadingScript) Receive(ctx context.Context, env protocol.Envelope) protocol.Response {
	switch {
	case env.Type == protocol.TypeTranslationComplete:
		return r.receiveTranslation(ctx, env)

	case env.Type == protocol.TypeTranslationError:
		r.log.Warn("translation error reported", "error", env.Error)
		r.status(ctx, "Lỗi dịch: "+env.Error, StatusError)
		return protocol.OK()

	case env.Action == protocol.ActionPostCompleted:
		if env.Success != nil && *env.Success {
			r.markDone(ctx)
		}
		return protocol.OK()
	}
	return unknown(env)
}

// receiveTranslation applies a delivery once per message id. A resent
// envelope that arrives while the first is still being applied waits for
// it and is then acknowledged without touching the page again.
func (r *ReadingScript) receiveTranslation(ctx context.Context, env protocol.Envelope) protocol.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.ID != "" && env.ID == r.delivered {
		r.log.Debug("duplicate delivery ignored", "messageId", env.ID)
		return protocol.OK()
	}
	if err := r.inject(ctx, env.Translation); err != nil {
		r.log.Error("inject translation", "err", err)
		return protocol.Fail(err)
	}
	r.delivered = env.ID
	r.maybeAutoPost(ctx)
	return protocol.OK()
}

func (r *ReadingScript) inject(ctx context.Context, translation string) error {
	if strings.TrimSpace(translation) == "" {
		return protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "empty translation")
	}
	title, content := ParseChapter(translation)

	probe := waiter.ProbeFunc{
		Desc: "content field " + r.Profile.ContentField.String(),
		Fn: func(ctx context.Context) (waiter.Match, bool, error) {
			ok, err := r.Page.Exists(ctx, r.Profile.ContentField)
			return waiter.Match{Pattern: r.Profile.ContentField.String()}, ok, err
		},
	}
	if _, err := waiter.Await(ctx, probe, r.Settings.WaitTimeout, r.Settings.WaitInterval); err != nil {
		return err
	}

	if err := r.Page.SetValue(ctx, r.Profile.TitleField, title); err != nil && !errors.Is(err, protocol.ErrNotFound) {
		return protocol.Errorf(protocol.CodeInjectionFailure, "fill title: %w", err)
	}
	if err := r.Page.SetValue(ctx, r.Profile.ContentField, NormalizeContent(content)); err != nil {
		return protocol.Errorf(protocol.CodeInjectionFailure, "fill content: %w", err)
	}
	r.status(ctx, "Đã nhận bản dịch", StatusSuccess)
	r.log.Info("translation injected", "title", title)

	r.updateStatus(ctx)
	return nil
}

func (r *ReadingScript) updateStatus(ctx context.Context) {
	if r.Settings.ReaderAPI == "" {
		return
	}
	pageURL, err := r.Page.URL(ctx)
	if err != nil {
		r.log.Warn("chapter status: page url", "err", err)
		return
	}
	endpoint, err := ChapterStatusURL(pageURL, r.Settings.ReaderPrefix, r.Settings.ReaderAPI)
	if err != nil {
		r.log.Warn("chapter status skipped", "err", err)
		return
	}
	if err := UpdateChapterStatus(ctx, r.HTTP, endpoint); err != nil {
		r.log.Warn("chapter status", "err", err)
		return
	}
	r.log.Info("chapter marked translated", "endpoint", endpoint)
}

func (r *ReadingScript) maybeAutoPost(ctx context.Context) {
	var auto bool
	ok, err := r.Store.Take(ctx, store.KeyAutoRun, &auto)
	if err != nil {
		r.log.Warn("autorun flag", "err", err)
		return
	}
	if !ok || !auto {
		return
	}

	// The coordinator is still waiting on this delivery; posting opens a
	// new tab and must not hold it up.
	go func() {
		pctx := context.WithoutCancel(ctx)
		if err := r.Post(pctx); err != nil {
			r.log.Error("auto post failed", "err", err)
		}
	}()
}

func (r *ReadingScript) markDone(ctx context.Context) {
	if r.Profile.MarkDone.IsZero() {
		return
	}
	if err := r.Page.Click(ctx, r.Profile.MarkDone); err != nil {
		r.log.Warn("mark done", "err", err)
		return
	}
	r.status(ctx, "Đã đăng chương", StatusSuccess)
	r.log.Info("chapter marked done")
}
