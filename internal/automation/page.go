// Package automation holds the scripts that run against one browser tab:
// the assistant pipeline, the reading page commands and the publishing
// steps. Scripts reach the coordinator only through envelopes.
package automation

import (
	"context"

	"github.com/golden-h/novelrelay/internal/sites"
)

// Status is the colour of the in-page status badge.
type Status string

const (
	StatusInfo    Status = "info"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Page is the DOM surface of one tab. Element operations that need an
// element return a protocol NotFound error when the locator matches
// nothing; Text and Texts report absence through their bool.
type Page interface {
	URL(ctx context.Context) (string, error)
	Exists(ctx context.Context, loc sites.Locator) (bool, error)
	Enabled(ctx context.Context, loc sites.Locator) (bool, error)
	Text(ctx context.Context, loc sites.Locator) (string, bool, error)
	Texts(ctx context.Context, loc sites.Locator, sub string) ([]string, bool, error)
	SetValue(ctx context.Context, loc sites.Locator, value string) error
	Click(ctx context.Context, loc sites.Locator) error
	ShowStatus(ctx context.Context, msg string, kind Status) error
	Close(ctx context.Context) error
}
