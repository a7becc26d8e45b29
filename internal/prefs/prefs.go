// Package prefs stores small user preferences that must survive data store
// rebuilds: the mirroring toggle, the active workspace and one-shot
// migration flags.
package prefs

import (
	"strconv"
	"sync"
)

// Well-known keys.
const (
	KeyMirroringEnabled  = "sync.mirroring_enabled"
	KeyActiveWorkspaceID = "workspace.active_id"
	KeyIdentityMigrated  = "sync.deterministic_ids.v1"

	// KeyBudgetPeriod is the device-local budget period recorded before
	// workspaces carried their own.
	KeyBudgetPeriod = "settings.budget_period"
)

// Store is a string/bool key-value preference store.
//
// Reads never fail: a missing or unreadable key yields the zero value.
type Store interface {
	Bool(key string) bool
	SetBool(key string, v bool) error
	String(key string) string
	SetString(key string, v string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Bool(key string) bool {
	return parseBool(m.String(key))
}

func (m *Memory) SetBool(key string, v bool) error {
	return m.SetString(key, strconv.FormatBool(v))
}

func (m *Memory) String(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

func (m *Memory) SetString(key string, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
