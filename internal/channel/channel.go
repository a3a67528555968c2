// Package channel turns the one-shot, at-most-once message transport between
// contexts into a call with a timeout, bounded retries and chunked payloads.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golden-h/novelrelay/internal/chunk"
	"github.com/golden-h/novelrelay/internal/protocol"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = time.Second
)

// Reply is the outcome of one dispatch.
type Reply struct {
	Response protocol.Response
	Err      error
}

// Transport delivers one envelope and reports at most one reply. The
// returned channel may never fire.
type Transport interface {
	Dispatch(ctx context.Context, env protocol.Envelope) <-chan Reply
}

// Options bound a Send.
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	RetryDelay time.Duration
}

// DefaultOptions mirror the page scripts' observed behaviour: three attempts,
// ten seconds each, one second apart.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, Timeout: DefaultTimeout, RetryDelay: DefaultRetryDelay}
}

func (o Options) normalized() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Send dispatches env until a success response arrives or MaxRetries
// attempts have failed, waiting RetryDelay between attempts. The last
// attempt's error is returned.
func Send(ctx context.Context, t Transport, env protocol.Envelope, opts Options) (protocol.Response, error) {
	opts = opts.normalized()
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		resp, err := attemptOnce(ctx, t, env, opts.Timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		slog.Warn("send attempt failed", "action", env.Kind(), "attempt", attempt, "of", opts.MaxRetries, "err", err)

		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		if attempt < opts.MaxRetries && opts.RetryDelay > 0 {
			timer := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return protocol.Response{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return protocol.Response{}, lastErr
}

func attemptOnce(ctx context.Context, t Transport, env protocol.Envelope, timeout time.Duration) (protocol.Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case r, ok := <-t.Dispatch(actx, env):
		if !ok {
			return protocol.Response{}, protocol.Errorf(protocol.CodeTimeout, "%s: channel closed without reply", env.Kind())
		}
		if r.Err != nil {
			return protocol.Response{}, fmt.Errorf("%s: %w", env.Kind(), r.Err)
		}
		if err := r.Response.Err(); err != nil {
			return r.Response, err
		}
		return r.Response, nil
	case <-actx.Done():
		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		return protocol.Response{}, protocol.Errorf(protocol.CodeTimeout, "%s: message response timeout after %v", env.Kind(), timeout)
	}
}

// Notify dispatches env once without waiting for the outcome beyond
// timeout. Failures are logged and swallowed.
func Notify(ctx context.Context, t Transport, env protocol.Envelope, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, err := attemptOnce(ctx, t, env, timeout); err != nil {
		slog.Warn("notify failed", "action", env.Kind(), "err", err)
	}
}

// SendChunked ships payload in env.Translation. Payloads longer than size
// go out as numbered parts followed by a completion envelope; progress, if
// set, is called before each part.
func SendChunked(ctx context.Context, t Transport, env protocol.Envelope, payload string, size int, opts Options, progress func(sent, total int)) error {
	if chunk.Count(payload, size) <= 1 {
		env.Translation = payload
		env.IsChunked = false
		if _, err := Send(ctx, t, env, opts); err != nil {
			return err
		}
		return nil
	}

	parts := chunk.Split(payload, size)
	total := len(parts)
	slog.Info("sending in parts", "action", env.Kind(), "parts", total, "size", size)
	for i, p := range parts {
		if progress != nil {
			progress(i+1, total)
		}
		if _, err := Send(ctx, t, env.Chunk(i, total, p), opts); err != nil {
			return fmt.Errorf("part %d/%d: %w", i+1, total, err)
		}
	}
	if _, err := Send(ctx, t, env.Completion(total), opts); err != nil {
		return fmt.Errorf("completion: %w", err)
	}
	return nil
}
