// Package registry maps logical tab roles to the live tab currently
// serving them.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
)

// Role is the purpose a tab currently serves.
type Role string

const (
	RoleReading   Role = "reading"
	RoleAssistant Role = "assistant"
	RolePublisher Role = "publisher"
)

// ParseRole accepts the role names used on the wire.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleReading:
		return RoleReading, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RolePublisher:
		return RolePublisher, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Binding is one role -> tab association.
type Binding struct {
	Role    Role      `json:"role"`
	TabID   string    `json:"tabId"`
	BoundAt time.Time `json:"boundAt"`
}

// Registry holds at most one tab per role. Later binds win.
type Registry struct {
	mu       sync.RWMutex
	bindings map[Role]Binding
	now      func() time.Time
}

func New() *Registry {
	return &Registry{
		bindings: make(map[Role]Binding),
		now:      time.Now,
	}
}

// Bind associates role with tabID, replacing any previous tab.
func (r *Registry) Bind(role Role, tabID string) {
	r.mu.Lock()
	prev, had := r.bindings[role]
	r.bindings[role] = Binding{Role: role, TabID: tabID, BoundAt: r.now()}
	r.mu.Unlock()

	if had && prev.TabID != tabID {
		slog.Info("role rebound", "role", role, "from", prev.TabID, "to", tabID)
	} else if !had {
		slog.Info("role bound", "role", role, "tabId", tabID)
	}
}

// Resolve returns the tab bound to role.
func (r *Registry) Resolve(role Role) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[role]
	if !ok {
		return "", protocol.Errorf(protocol.CodeNoTargetTab, "no tab bound to role %s", role)
	}
	return b.TabID, nil
}

// RoleOf returns the role tabID holds, or "".
func (r *Registry) RoleOf(tabID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for role, b := range r.bindings {
		if b.TabID == tabID {
			return role
		}
	}
	return ""
}

// UnbindIfMatches clears the role held by tabID, if any.
func (r *Registry) UnbindIfMatches(tabID string) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, b := range r.bindings {
		if b.TabID == tabID {
			delete(r.bindings, role)
			slog.Info("role unbound", "role", role, "tabId", tabID)
			return role, true
		}
	}
	return "", false
}

// Sweep drops bindings older than maxAge and returns how many it removed.
func (r *Registry) Sweep(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for role, b := range r.bindings {
		if now.Sub(b.BoundAt) > maxAge {
			delete(r.bindings, role)
			n++
		}
	}
	return n
}

// Snapshot lists current bindings ordered by role.
func (r *Registry) Snapshot() []Binding {
	r.mu.RLock()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// TabInfo is the part of a live tab the registry looks at.
type TabInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// TabLister lists live tabs.
type TabLister interface {
	ListTabs(ctx context.Context) ([]TabInfo, error)
}

// Query narrows a candidate search: tabs must start with one of URLPrefixes
// (any tab when empty) and are preferred when URL or title contains one of
// Keywords.
type Query struct {
	URLPrefixes []string
	Keywords    []string
}

// FindCandidate picks a tab for a role that has no binding. When no tab
// matches a keyword the first tab passing the URL filter is returned; that
// fallback is a heuristic and is logged.
func FindCandidate(ctx context.Context, lister TabLister, q Query) (TabInfo, error) {
	tabs, err := lister.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, fmt.Errorf("list tabs: %w", err)
	}

	var pool []TabInfo
	for _, t := range tabs {
		if t.ID == "" || t.URL == "" {
			continue
		}
		if len(q.URLPrefixes) == 0 || hasAnyPrefix(t.URL, q.URLPrefixes) {
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		return TabInfo{}, protocol.Errorf(protocol.CodeNoTargetTab, "no tab found, make sure the novel page is open")
	}

	for _, t := range pool {
		url := strings.ToLower(t.URL)
		title := strings.ToLower(t.Title)
		for _, kw := range q.Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(url, kw) || strings.Contains(title, kw) {
				return t, nil
			}
		}
	}

	slog.Warn("no keyword match, using first tab", "tabId", pool[0].ID, "url", pool[0].URL, "candidates", len(pool))
	return pool[0], nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
