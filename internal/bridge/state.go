package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var crashedPrefsReplacer = strings.NewReplacer(
	`"exit_type":"Crashed"`, `"exit_type":"Normal"`,
	`"exit_type": "Crashed"`, `"exit_type": "Normal"`,
	`"exited_cleanly":false`, `"exited_cleanly":true`,
	`"exited_cleanly": false`, `"exited_cleanly": true`,
)

type TabState struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SessionState is the set of tabs reopened on the next start.
type SessionState struct {
	Tabs    []TabState `json:"tabs"`
	SavedAt string     `json:"savedAt"`
}

func MarkCleanExit(profileDir string) {
	prefsPath := filepath.Join(profileDir, "Default", "Preferences")
	data, err := os.ReadFile(prefsPath)
	if err != nil {
		return
	}
	patched := crashedPrefsReplacer.Replace(string(data))
	if patched != string(data) {
		if err := os.WriteFile(prefsPath, []byte(patched), 0644); err != nil {
			slog.Error("patch prefs", "err", err)
		}
	}
}

func WasUncleanExit(profileDir string) bool {
	data, err := os.ReadFile(filepath.Join(profileDir, "Default", "Preferences"))
	if err != nil {
		return false
	}
	prefs := string(data)
	return strings.Contains(prefs, `"exit_type":"Crashed"`) || strings.Contains(prefs, `"exit_type": "Crashed"`)
}

// ClearChromeSessions removes session restore data so a crashed profile
// does not reopen old tabs.
func ClearChromeSessions(profileDir string) {
	sessionsDir := filepath.Join(profileDir, "Default", "Sessions")
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		if err = os.RemoveAll(sessionsDir); err == nil {
			slog.Info("cleared Chrome sessions dir")
			return
		}
	}
	slog.Warn("failed to clear Chrome sessions dir", "err", err)
}

// RemoveStaleLocks deletes singleton files left by a Chrome that died
// while holding the profile.
func RemoveStaleLocks(profileDir string) {
	for _, name := range []string{"SingletonLock", "SingletonSocket", "SingletonCookie"} {
		if err := os.Remove(filepath.Join(profileDir, name)); err == nil {
			slog.Warn("removed stale lock", "file", name)
		}
	}
}

// SaveTabs records the open tabs accepted by keep, one per URL.
func (b *Bridge) SaveTabs(ctx context.Context, path string, keep func(url string) bool) error {
	tabs, err := b.ListTabs(ctx)
	if err != nil {
		return err
	}
	state := SessionState{SavedAt: time.Now().UTC().Format(time.RFC3339)}
	seen := make(map[string]bool, len(tabs))
	for _, t := range tabs {
		if t.URL == "" || seen[t.URL] || !keep(t.URL) {
			continue
		}
		seen[t.URL] = true
		state.Tabs = append(state.Tabs, TabState{URL: t.URL, Title: t.Title})
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	slog.Info("saved tabs", "count", len(state.Tabs), "path", path)
	return nil
}

// LoadSession reads a saved tab list. A missing file is an empty session.
func LoadSession(path string) (SessionState, error) {
	var state SessionState
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(data, &state)
	return state, err
}

// RestoreTabs reopens saved tabs that are not already open.
func (b *Bridge) RestoreTabs(ctx context.Context, path string) (int, error) {
	state, err := LoadSession(path)
	if err != nil || len(state.Tabs) == 0 {
		return 0, err
	}
	open, err := b.ListTabs(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(open))
	for _, t := range open {
		have[t.URL] = true
	}

	restored := 0
	for _, t := range state.Tabs {
		if have[t.URL] {
			continue
		}
		if _, err := b.CreateTab(ctx, t.URL); err != nil {
			slog.Warn("restore tab failed", "url", t.URL, "err", err)
			continue
		}
		have[t.URL] = true
		restored++
	}
	if restored > 0 {
		slog.Info("restored tabs", "count", restored)
	}
	return restored, nil
}
