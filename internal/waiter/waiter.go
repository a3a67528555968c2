// Package waiter polls a condition on a page the process does not control
// until it holds or a deadline passes.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = time.Second
)

// ErrInapplicable is returned by a probe when the page is not the one the
// probe was written for. Await returns a neutral result instead of polling.
var ErrInapplicable = errors.New("page context not applicable")

// Match is what a probe found. The zero Match is the neutral result.
type Match struct {
	Pattern string
	Index   int
	Value   string
}

// Empty reports whether m is the neutral result.
func (m Match) Empty() bool { return m.Pattern == "" && m.Value == "" }

// Probe is one read-only check against the page.
type Probe interface {
	Probe(ctx context.Context) (Match, bool, error)
	String() string
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc struct {
	Desc string
	Fn   func(ctx context.Context) (Match, bool, error)
}

func (p ProbeFunc) Probe(ctx context.Context) (Match, bool, error) { return p.Fn(ctx) }
func (p ProbeFunc) String() string                                 { return p.Desc }

// NotFoundError reports a probe that never matched before the deadline.
type NotFoundError struct {
	Desc    string
	Timeout time.Duration
	Last    error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found within %v", e.Desc, e.Timeout)
	if e.Last != nil {
		msg += " (last error: " + e.Last.Error() + ")"
	}
	return msg
}

// Unwrap exposes the NotFound code and the last probe error.
func (e *NotFoundError) Unwrap() []error {
	if e.Last == nil {
		return []error{protocol.ErrNotFound}
	}
	return []error{protocol.ErrNotFound, e.Last}
}

// Await evaluates p immediately and then every interval until it matches or
// timeout elapses. Probe errors other than ErrInapplicable count as "not yet".
func Await(ctx context.Context, p Probe, timeout, interval time.Duration) (Match, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for {
		m, ok, err := p.Probe(ctx)
		switch {
		case errors.Is(err, ErrInapplicable):
			slog.Debug("waiter: probe not applicable", "probe", p.String())
			return Match{}, nil
		case err != nil:
			last = err
		case ok:
			return m, nil
		}

		select {
		case <-ctx.Done():
			return Match{}, ctx.Err()
		case <-deadline.C:
			return Match{}, &NotFoundError{Desc: p.String(), Timeout: timeout, Last: last}
		case <-ticker.C:
		}
	}
}

// Lookup checks a single pattern against the page.
type Lookup func(ctx context.Context, pattern string) (value string, found bool, err error)

// AnyOf builds a probe over ordered alternative patterns: the first pattern
// that matches wins.
func AnyOf(lookup Lookup, patterns ...string) Probe {
	return ProbeFunc{
		Desc: "elements " + strings.Join(patterns, ", "),
		Fn: func(ctx context.Context) (Match, bool, error) {
			var firstErr error
			for i, pat := range patterns {
				v, ok, err := lookup(ctx, pat)
				if err != nil {
					if errors.Is(err, ErrInapplicable) {
						return Match{}, false, err
					}
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if ok {
					return Match{Pattern: pat, Index: i, Value: v}, true, nil
				}
			}
			return Match{}, false, firstErr
		},
	}
}

// Guard wraps p so that it reports ErrInapplicable whenever applies is false.
func Guard(p Probe, applies func(ctx context.Context) bool) Probe {
	return ProbeFunc{
		Desc: p.String(),
		Fn: func(ctx context.Context) (Match, bool, error) {
			if !applies(ctx) {
				return Match{}, false, ErrInapplicable
			}
			return p.Probe(ctx)
		},
	}
}
