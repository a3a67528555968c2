package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/golden-h/novelrelay/internal/assets"
	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/sites"
)

// Page runs DOM operations in one tab through the embedded helper script.
type Page struct {
	tm      *TabManager
	id      string
	timeout time.Duration
}

var _ automation.Page = (*Page)(nil)

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := p.tm.TabContext(p.id)
	if err != nil {
		return protocol.Wrap(protocol.CodeInjectionFailure, err)
	}
	rctx, cancel := context.WithTimeout(tabCtx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(rctx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return protocol.Errorf(protocol.CodeInjectionFailure, "tab %s: %w", p.id, err)
	}
	return nil
}

func (p *Page) dom(ctx context.Context, op string, loc sites.Locator, arg any, out any) error {
	a, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("(%s)(%q, %s, %s)", assets.DomJS, op, loc.JSON(), a)
	return p.run(ctx, chromedp.Evaluate(expr, out))
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *Page) Exists(ctx context.Context, loc sites.Locator) (bool, error) {
	var ok bool
	err := p.dom(ctx, "exists", loc, nil, &ok)
	return ok, err
}

func (p *Page) Enabled(ctx context.Context, loc sites.Locator) (bool, error) {
	var ok bool
	err := p.dom(ctx, "enabled", loc, nil, &ok)
	return ok, err
}

func (p *Page) Text(ctx context.Context, loc sites.Locator) (string, bool, error) {
	var s *string
	if err := p.dom(ctx, "text", loc, nil, &s); err != nil {
		return "", false, err
	}
	if s == nil {
		return "", false, nil
	}
	return *s, true, nil
}

func (p *Page) Texts(ctx context.Context, loc sites.Locator, sub string) ([]string, bool, error) {
	var out *[]string
	if err := p.dom(ctx, "texts", loc, sub, &out); err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return *out, true, nil
}

func (p *Page) SetValue(ctx context.Context, loc sites.Locator, value string) error {
	return p.act(ctx, "setValue", loc, value)
}

func (p *Page) Click(ctx context.Context, loc sites.Locator) error {
	return p.act(ctx, "click", loc, nil)
}

func (p *Page) act(ctx context.Context, op string, loc sites.Locator, arg any) error {
	var done bool
	if err := p.dom(ctx, op, loc, arg, &done); err != nil {
		return err
	}
	if !done {
		return protocol.Errorf(protocol.CodeNotFound, "%s: no element %s", op, loc)
	}
	return nil
}

func (p *Page) ShowStatus(ctx context.Context, msg string, kind automation.Status) error {
	m, _ := json.Marshal(msg)
	k, _ := json.Marshal(string(kind))
	var ok bool
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("(%s)(%s, %s)", assets.StatusJS, m, k), &ok))
}

func (p *Page) Close(ctx context.Context) error {
	return p.tm.CloseTab(p.id)
}
