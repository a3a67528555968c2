package bridge

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/golden-h/novelrelay/internal/waiter"
)

const TargetTypePage = "page"

const loadPollInterval = 200 * time.Millisecond

// WaitLoaded polls document.readyState in tabID until the page has
// finished loading.
func (tm *TabManager) WaitLoaded(ctx context.Context, tabID string, timeout time.Duration) error {
	tabCtx, err := tm.TabContext(tabID)
	if err != nil {
		return err
	}
	probe := waiter.ProbeFunc{
		Desc: "tab " + tabID + " loaded",
		Fn: func(ctx context.Context) (waiter.Match, bool, error) {
			var state string
			rctx, cancel := context.WithTimeout(tabCtx, 2*time.Second)
			defer cancel()
			stop := context.AfterFunc(ctx, cancel)
			defer stop()
			if err := chromedp.Run(rctx, chromedp.Evaluate("document.readyState", &state)); err != nil {
				return waiter.Match{}, false, err
			}
			return waiter.Match{Pattern: "readyState", Value: state}, state == "complete", nil
		},
	}
	_, err = waiter.Await(ctx, probe, timeout, loadPollInterval)
	return err
}
