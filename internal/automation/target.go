package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/waiter"
)

// Target is an automated assistant: it takes a prompt and produces one
// answer.
type Target interface {
	Ready(ctx context.Context) (bool, error)
	Submit(ctx context.Context, text string) error
	AwaitResult(ctx context.Context) (string, error)
}

// SiteTarget drives an assistant site described by a profile.
type SiteTarget struct {
	Page    Page
	Profile sites.Profile

	Wait       time.Duration
	ResultWait time.Duration
	Interval   time.Duration
	Settle     time.Duration
}

// Ready reports whether a finished answer is on the page.
func (t *SiteTarget) Ready(ctx context.Context) (bool, error) {
	for _, l := range t.Profile.Ready {
		ok, err := t.Page.Exists(ctx, l)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Submit types text into the first input found and presses the first
// enabled submit control.
func (t *SiteTarget) Submit(ctx context.Context, text string) error {
	if err := t.settle(ctx); err != nil {
		return err
	}
	input, err := waiter.Await(ctx, locate(t.Profile.Input, t.Page.Exists), t.Wait, t.Interval)
	if err != nil {
		return fmt.Errorf("find input: %w", err)
	}
	in := pick(t.Profile.Input, input)
	slog.Debug("input found", "site", t.Profile.Name, "locator", in.String())

	if err := t.settle(ctx); err != nil {
		return err
	}
	if err := t.Page.SetValue(ctx, in, text); err != nil {
		return protocol.Errorf(protocol.CodeInjectionFailure, "fill input: %w", err)
	}

	if err := t.settle(ctx); err != nil {
		return err
	}
	btn, err := waiter.Await(ctx, locate(t.Profile.Submit, t.Page.Enabled), t.Wait, t.Interval)
	if err != nil {
		return fmt.Errorf("find send button: %w", err)
	}
	if err := t.settle(ctx); err != nil {
		return err
	}
	if err := t.Page.Click(ctx, pick(t.Profile.Submit, btn)); err != nil {
		return protocol.Errorf(protocol.CodeInjectionFailure, "click send: %w", err)
	}
	return nil
}

// AwaitResult waits for the answer to finish and returns its paragraphs,
// minus empty and footer ones, joined by blank lines.
func (t *SiteTarget) AwaitResult(ctx context.Context) (string, error) {
	wait := t.ResultWait
	if wait <= 0 {
		wait = t.Wait
	}
	if _, err := waiter.Await(ctx, locate(t.Profile.Ready, t.Page.Exists), wait, t.Interval); err != nil {
		return "", fmt.Errorf("wait for response: %w", err)
	}

	paras, ok, err := t.Page.Texts(ctx, t.Profile.Result, t.Profile.Paragraphs)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if !ok {
		return "", protocol.Errorf(protocol.CodeNotFound, "response content %s", t.Profile.Result)
	}

	kept := make([]string, 0, len(paras))
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" || t.Profile.IsFooter(p) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "", protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "no translation received")
	}
	return strings.Join(kept, "\n\n"), nil
}

func (t *SiteTarget) settle(ctx context.Context) error {
	return sleep(ctx, t.Settle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// locate probes alternative locators in order with check.
func locate(locs []sites.Locator, check func(context.Context, sites.Locator) (bool, error)) waiter.Probe {
	byName := make(map[string]sites.Locator, len(locs))
	names := make([]string, 0, len(locs))
	for _, l := range locs {
		n := l.String()
		if _, dup := byName[n]; dup {
			continue
		}
		byName[n] = l
		names = append(names, n)
	}
	return waiter.AnyOf(func(ctx context.Context, pattern string) (string, bool, error) {
		ok, err := check(ctx, byName[pattern])
		return pattern, ok, err
	}, names...)
}

func pick(locs []sites.Locator, m waiter.Match) sites.Locator {
	for _, l := range locs {
		if l.String() == m.Pattern {
			return l
		}
	}
	return locs[0]
}
