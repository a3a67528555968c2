package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
)

// silentTransport never replies.
type silentTransport struct{ calls int32 }

func (s *silentTransport) Dispatch(ctx context.Context, env protocol.Envelope) <-chan Reply {
	atomic.AddInt32(&s.calls, 1)
	return make(chan Reply)
}

// scriptedTransport answers from a fixed list, one entry per attempt.
type scriptedTransport struct {
	mu      sync.Mutex
	replies []Reply
	seen    []protocol.Envelope
}

func (s *scriptedTransport) Dispatch(ctx context.Context, env protocol.Envelope) <-chan Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Reply, 1)
	s.seen = append(s.seen, env)
	if len(s.replies) == 0 {
		ch <- Reply{Response: protocol.OK()}
		return ch
	}
	ch <- s.replies[0]
	s.replies = s.replies[1:]
	return ch
}

func fastOpts() Options {
	return Options{MaxRetries: 3, Timeout: 20 * time.Millisecond, RetryDelay: 5 * time.Millisecond}
}

func TestSendRetryBound(t *testing.T) {
	tr := &silentTransport{}
	_, err := Send(context.Background(), tr, protocol.New(protocol.ActionSendTranslation), fastOpts())
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if got := atomic.LoadInt32(&tr.calls); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
}

func TestSendRecoversAfterFailure(t *testing.T) {
	tr := &scriptedTransport{replies: []Reply{
		{Err: errors.New("receiving end does not exist")},
		{Response: protocol.Fail(protocol.Errorf(protocol.CodeStorageUnavailable, "locked"))},
		{Response: protocol.Response{Success: true, TabID: "t9"}},
	}}
	resp, err := Send(context.Background(), tr, protocol.New(protocol.ActionOpenTruyencityTab), fastOpts())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.TabID != "t9" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(tr.seen) != 3 {
		t.Errorf("expected 3 dispatches, got %d", len(tr.seen))
	}
}

func TestSendReturnsLastError(t *testing.T) {
	tr := &scriptedTransport{replies: []Reply{
		{Err: errors.New("first")},
		{Err: errors.New("second")},
		{Response: protocol.Fail(protocol.Errorf(protocol.CodeNoTargetTab, "no reading tab"))},
	}}
	_, err := Send(context.Background(), tr, protocol.New(protocol.ActionSendTranslation), fastOpts())
	if !errors.Is(err, protocol.ErrNoTargetTab) {
		t.Errorf("expected last error NoTargetTab, got %v", err)
	}
}

func TestSendChunkedSequence(t *testing.T) {
	tr := &scriptedTransport{}
	payload := strings.Repeat("a", 10) + strings.Repeat("b", 10) + "c"
	var progress []int
	err := SendChunked(context.Background(), tr, protocol.New(protocol.ActionSendTranslation), payload, 10, fastOpts(),
		func(sent, total int) { progress = append(progress, sent) })
	if err != nil {
		t.Fatalf("SendChunked: %v", err)
	}
	if len(tr.seen) != 4 {
		t.Fatalf("expected 3 parts + completion, got %d envelopes", len(tr.seen))
	}
	for i := 0; i < 3; i++ {
		e := tr.seen[i]
		if !e.IsChunked || e.IsComplete || *e.ChunkIndex != i || *e.TotalChunks != 3 {
			t.Errorf("part %d malformed: %+v", i, e)
		}
	}
	last := tr.seen[3]
	if !last.IsComplete || *last.TotalChunks != 3 {
		t.Errorf("completion malformed: %+v", last)
	}
	if len(progress) != 3 {
		t.Errorf("progress calls = %v", progress)
	}
}

func TestSendChunkedSmallPayload(t *testing.T) {
	tr := &scriptedTransport{}
	if err := SendChunked(context.Background(), tr, protocol.New(protocol.ActionSendTranslation), "short", 10, fastOpts(), nil); err != nil {
		t.Fatalf("SendChunked: %v", err)
	}
	if len(tr.seen) != 1 || tr.seen[0].IsChunked || tr.seen[0].Translation != "short" {
		t.Errorf("expected one plain envelope, got %+v", tr.seen)
	}
}

func TestLocalTransport(t *testing.T) {
	var gotSender string
	h := HandlerFunc(func(ctx context.Context, sender string, env protocol.Envelope) protocol.Response {
		gotSender = sender
		return protocol.Response{Success: true, TabID: env.URL}
	})
	resp, err := Send(context.Background(), Local{Handler: h, Sender: "tab-1"}, protocol.Envelope{Action: "x", URL: "u"}, fastOpts())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotSender != "tab-1" || resp.TabID != "u" {
		t.Errorf("sender=%q resp=%+v", gotSender, resp)
	}
}

func TestHTTPTransportRejectsImplicitSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get(SenderHeader) != "cli" {
			t.Errorf("sender header = %q", r.Header.Get(SenderHeader))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := HTTP{BaseURL: srv.URL, Token: "tok", Sender: "cli"}
	_, err := Send(context.Background(), tr, protocol.New(protocol.ActionSendTranslation), Options{MaxRetries: 2, Timeout: time.Second})
	if !errors.Is(err, protocol.ErrMalformedResponse) {
		t.Fatalf("expected MalformedResponse, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("expected 2 attempts, got %d", hits)
	}
}

func TestHTTPTransportSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if _, err := Send(context.Background(), HTTP{BaseURL: srv.URL + "/"}, protocol.New("x"), Options{Timeout: 2 * time.Second}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
