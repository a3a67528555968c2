package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/store"
)

// AssistantScript feeds the stored chapter to the assistant and ships the
// answer back to the reading page.
type AssistantScript struct {
	Deps
	Target Target
	log    *slog.Logger
}

func NewAssistant(d Deps) *AssistantScript {
	return &AssistantScript{
		Deps: d,
		Target: &SiteTarget{
			Page:       d.Page,
			Profile:    d.Profile,
			Wait:       d.Settings.WaitTimeout,
			ResultWait: d.Settings.ResultTimeout,
			Interval:   d.Settings.WaitInterval,
			Settle:     d.Settings.SettleDelay,
		},
		log: slog.With("script", "assistant", "site", d.Profile.Name),
	}
}

func (a *AssistantScript) Name() string { return "assistant:" + a.Profile.Name }

// Start runs the pipeline once. Pages outside the profile and an empty
// queue are no-ops.
func (a *AssistantScript) Start(ctx context.Context) {
	url, err := a.Page.URL(ctx)
	if err != nil {
		a.log.Warn("read page url", "err", err)
		return
	}
	if !a.Profile.Matches(url) {
		a.log.Debug("not an assistant page", "url", url)
		return
	}

	err = a.run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	a.log.Error("translation failed", "err", err)
	a.status(ctx, "Lỗi: "+Localize(err), StatusError)

	env := protocol.New(protocol.ActionTranslationError)
	env.Error = Localize(err)
	channel.Notify(ctx, a.Transport, env, a.Settings.Send.Timeout)
}

func (a *AssistantScript) run(ctx context.Context) error {
	var content string
	ok, err := a.Store.Get(ctx, store.KeyTranslationContent, &content)
	if err != nil {
		return err
	}
	if !ok || content == "" {
		a.log.Info("nothing queued for translation")
		return nil
	}
	a.log.Info("translating", "chars", len([]rune(content)))

	a.status(ctx, "Bắt đầu dịch...", StatusInfo)
	if err := a.Target.Submit(ctx, content); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	a.status(ctx, "Đang đợi ChatGPT trả lời...", StatusInfo)
	result, err := a.Target.AwaitResult(ctx)
	if err != nil {
		return fmt.Errorf("await result: %w", err)
	}
	a.status(ctx, "Đã nhận được bản dịch", StatusInfo)

	env := protocol.New(protocol.ActionSendTranslation)
	err = channel.SendChunked(ctx, a.Transport, env, result, a.Settings.ChunkSize, a.Settings.Send, func(sent, total int) {
		a.status(ctx, fmt.Sprintf("Đang gửi bản dịch (%d/%d phần)", sent, total), StatusInfo)
	})
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	if err := a.Store.Delete(ctx, store.KeyTranslationContent); err != nil {
		a.log.Warn("clear queued content", "err", err)
	}
	a.status(ctx, "Hoàn thành!", StatusSuccess)
	a.log.Info("translation delivered", "chars", len([]rune(result)))

	if err := a.Page.Close(ctx); err != nil {
		a.log.Warn("close assistant tab", "err", err)
	}
	return nil
}

func (a *AssistantScript) Receive(ctx context.Context, env protocol.Envelope) protocol.Response {
	return unknown(env)
}
