package bridge

import (
	"context"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/registry"
)

// BridgeAPI abstracts the browser for the coordinator and the handlers.
type BridgeAPI interface {
	ListTabs(ctx context.Context) ([]registry.TabInfo, error)
	CreateTab(ctx context.Context, url string) (tabID string, err error)
	CloseTab(tabID string) error
	WaitLoaded(ctx context.Context, tabID string, timeout time.Duration) error
	Page(tabID string) automation.Page
	Events() <-chan TabEvent
}

var _ BridgeAPI = (*Bridge)(nil)
