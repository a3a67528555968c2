package automation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/sites"
	"github.com/golden-h/novelrelay/internal/store"
)

// Script is the automation bound to one tab. Start runs the script's own
// work, if any, and returns when it is done; Receive answers envelopes the
// coordinator sends to the tab.
type Script interface {
	Name() string
	Start(ctx context.Context)
	Receive(ctx context.Context, env protocol.Envelope) protocol.Response
}

// Commands are the user-triggered operations of the reading page.
type Commands interface {
	Translate(ctx context.Context) error
	Post(ctx context.Context) error
	AutoRun(ctx context.Context) error
}

// Settings tune the scripts.
type Settings struct {
	ChunkSize     int
	Send          channel.Options
	WaitTimeout   time.Duration
	WaitInterval  time.Duration
	ResultTimeout time.Duration
	SettleDelay   time.Duration
	ReaderAPI     string
	ReaderPrefix  string
	PublisherURL  string
}

// Deps is everything a script talks to. Transport is bound to the tab so
// the coordinator sees the tab as sender.
type Deps struct {
	Page      Page
	Transport channel.Transport
	Store     store.Store
	Profile   sites.Profile
	Settings  Settings
	HTTP      *http.Client
}

// StatusTimeout bounds the reader API call made after a translation is
// filled in.
const StatusTimeout = 10 * time.Second

// New builds the script for the profile's kind.
func New(d Deps) (Script, error) {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: StatusTimeout}
	}
	switch d.Profile.Kind {
	case sites.KindAssistant:
		return NewAssistant(d), nil
	case sites.KindReading:
		return NewReading(d), nil
	case sites.KindPublisher:
		return NewPublisher(d), nil
	}
	return nil, fmt.Errorf("no script for kind %q", d.Profile.Kind)
}

func unknown(env protocol.Envelope) protocol.Response {
	return protocol.Response{Success: false, Error: string(protocol.CodeUnknown), Detail: "unknown action " + env.Kind()}
}

func (d Deps) status(ctx context.Context, msg string, kind Status) {
	if err := d.Page.ShowStatus(ctx, msg, kind); err != nil {
		slog.Debug("status badge failed", "site", d.Profile.Name, "err", err)
	}
}
