package coordinator

import (
	"context"
	"fmt"

	"github.com/golden-h/novelrelay/internal/automation"
	"github.com/golden-h/novelrelay/internal/protocol"
)

// Operations a user can trigger on the reading page.
const (
	OpTranslate = "translate"
	OpPost      = "post"
	OpAutoRun   = "autorun"
)

// Command runs op on the reading script of tabID, or of the current
// reading tab when tabID is empty. It returns the tab used.
func (c *Coordinator) Command(ctx context.Context, tabID, op string) (string, error) {
	if tabID == "" {
		id, err := c.readingTab(ctx)
		if err != nil {
			return "", err
		}
		tabID = id
	}
	script, ok := c.scripts.Get(tabID)
	if !ok {
		return tabID, protocol.Errorf(protocol.CodeNoTargetTab, "no script running in tab %s", tabID)
	}
	cmds, ok := script.(automation.Commands)
	if !ok {
		return tabID, protocol.Errorf(protocol.CodeNoTargetTab, "tab %s is not a reading page (%s)", tabID, script.Name())
	}

	switch op {
	case OpTranslate:
		return tabID, cmds.Translate(ctx)
	case OpPost:
		return tabID, cmds.Post(ctx)
	case OpAutoRun:
		return tabID, cmds.AutoRun(ctx)
	}
	return tabID, fmt.Errorf("unknown command %q", op)
}
