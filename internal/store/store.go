// Package store persists the small pieces of relay state that must survive
// a tab closing: the pending translation input, the source tab, and the
// chapter waiting to be published.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/protocol"
)

// Keys used by the relay.
const (
	KeyTranslationContent = "translationContent"
	KeySourceTabID        = "sourceTabId"
	KeyPendingPost        = "pendingPost"
	KeyPendingContent     = "pendingContent"
	KeyTruyencityURL      = "truyencityUrl"
	KeyAutoRun            = "autoRun"
)

// PendingPost is the chapter saved just before the publishing tab opens.
type PendingPost struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewPendingPost stamps a chapter with the current time in milliseconds.
func NewPendingPost(title, content string) PendingPost {
	return PendingPost{Title: title, Content: content, Timestamp: time.Now().UnixMilli()}
}

// Store is a JSON key-value store. Get reports whether key was present.
// Take reads and deletes key in one step; of concurrent Takes only one
// sees the value. Every failure carries protocol.CodeStorageUnavailable.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Take(ctx context.Context, key string, dst any) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// GetString reads a string value, returning "" when absent.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	var v string
	if _, err := s.Get(ctx, key, &v); err != nil {
		return "", err
	}
	return v, nil
}

// Memory is an in-process Store, used when no database path is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, protocol.Errorf(protocol.CodeStorageUnavailable, "decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return protocol.Errorf(protocol.CodeStorageUnavailable, "encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Take(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, protocol.Errorf(protocol.CodeStorageUnavailable, "decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Open returns a SQLite store at path, or a Memory store when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	s, err := NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}
