package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/automation"
)

type scriptEntry struct {
	profile string
	script  automation.Script
	cancel  context.CancelFunc
	since   time.Time
}

// ScriptInfo describes the script bound to a tab.
type ScriptInfo struct {
	TabID   string    `json:"tabId"`
	Profile string    `json:"profile"`
	Script  string    `json:"script"`
	Since   time.Time `json:"since"`
}

// Scripts holds at most one script per tab, owned by the profile that
// injected it.
type Scripts struct {
	mu      sync.Mutex
	entries map[string]scriptEntry
}

func NewScripts() *Scripts {
	return &Scripts{entries: make(map[string]scriptEntry)}
}

// Attach binds s to tabID unless the same profile already owns the tab. A
// different profile replaces the previous script, whose context is
// cancelled. It reports whether s was attached.
func (m *Scripts) Attach(tabID, profile string, s automation.Script, cancel context.CancelFunc) bool {
	m.mu.Lock()
	prev, ok := m.entries[tabID]
	if ok && prev.profile == profile {
		m.mu.Unlock()
		return false
	}
	m.entries[tabID] = scriptEntry{profile: profile, script: s, cancel: cancel, since: time.Now()}
	m.mu.Unlock()

	if ok && prev.cancel != nil {
		prev.cancel()
	}
	return true
}

func (m *Scripts) Get(tabID string) (automation.Script, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tabID]
	return e.script, ok
}

// Profile returns the name of the profile owning tabID.
func (m *Scripts) Profile(tabID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[tabID].profile
}

func (m *Scripts) Detach(tabID string) bool {
	m.mu.Lock()
	e, ok := m.entries[tabID]
	delete(m.entries, tabID)
	m.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
	return ok
}

func (m *Scripts) DetachAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]scriptEntry)
	m.mu.Unlock()
	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

func (m *Scripts) List() []ScriptInfo {
	m.mu.Lock()
	out := make([]ScriptInfo, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, ScriptInfo{TabID: id, Profile: e.profile, Script: e.script.Name(), Since: e.since})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
