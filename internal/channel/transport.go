package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
)

// SenderHeader carries the sending tab id on HTTP envelopes.
const SenderHeader = "X-Relay-Sender"

// Handler receives envelopes on the coordinator side.
type Handler interface {
	Handle(ctx context.Context, sender string, env protocol.Envelope) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sender string, env protocol.Envelope) protocol.Response

func (f HandlerFunc) Handle(ctx context.Context, sender string, env protocol.Envelope) protocol.Response {
	return f(ctx, sender, env)
}

// Local delivers envelopes to an in-process handler on behalf of one tab.
// The handler runs to completion even if the caller stops waiting.
type Local struct {
	Handler Handler
	Sender  string
}

func (l Local) Dispatch(ctx context.Context, env protocol.Envelope) <-chan Reply {
	ch := make(chan Reply, 1)
	hctx := context.WithoutCancel(ctx)
	go func() {
		ch <- Reply{Response: l.Handler.Handle(hctx, l.Sender, env)}
	}()
	return ch
}

// HTTP posts envelopes to a running daemon's /message endpoint.
type HTTP struct {
	BaseURL string
	Token   string
	Sender  string
	Client  *http.Client
}

func (h HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return &http.Client{Timeout: 2 * DefaultTimeout}
}

func (h HTTP) Dispatch(ctx context.Context, env protocol.Envelope) <-chan Reply {
	ch := make(chan Reply, 1)
	go func() {
		resp, err := h.post(ctx, env)
		ch <- Reply{Response: resp, Err: err}
	}()
	return ch
}

func (h HTTP) post(ctx context.Context, env protocol.Envelope) (protocol.Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("marshal envelope: %w", err)
	}
	url := strings.TrimRight(h.BaseURL, "/") + "/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return protocol.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Sender != "" {
		req.Header.Set(SenderHeader, h.Sender)
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	start := time.Now()
	res, err := h.client().Do(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	var out protocol.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return protocol.Response{}, fmt.Errorf("status %d after %v: %w", res.StatusCode, time.Since(start).Round(time.Millisecond), err)
	}
	return out, nil
}
