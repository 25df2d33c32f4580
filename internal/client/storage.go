package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionRecord is the scoped session handle: which session this workspace
// currently owns, and which document it came from. It is deliberately kept
// separate from preferences so that clearing a session never touches them.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	FileName  string    `json:"file_name"`
	Timestamp time.Time `json:"timestamp"`
}

// TabStore persists the active SessionRecord for one workspace. Each
// workspace (state directory) gets its own record, so two concurrent
// workspaces never observe each other's session.
type TabStore struct {
	path string
}

func NewTabStore(stateDir string) (*TabStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir failed: %w", err)
	}
	return &TabStore{path: filepath.Join(stateDir, "session.json")}, nil
}

// Load returns the stored record, or (nil, nil) when none exists.
func (s *TabStore) Load() (*SessionRecord, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session record failed: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session record failed: %w", err)
	}
	if rec.SessionID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *TabStore) Save(rec SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write session record failed: %w", err)
	}
	return nil
}

// Clear removes the record. Missing file is not an error.
func (s *TabStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session record failed: %w", err)
	}
	return nil
}

// Preferences are durable user settings that outlive any session.
type Preferences struct {
	Theme string `json:"theme"`
}

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// PrefStore persists Preferences independently of the session record.
type PrefStore struct {
	path string
}

func NewPrefStore(stateDir string) (*PrefStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir failed: %w", err)
	}
	return &PrefStore{path: filepath.Join(stateDir, "preferences.json")}, nil
}

// Load returns stored preferences, falling back to the light theme default.
func (s *PrefStore) Load() (Preferences, error) {
	prefs := Preferences{Theme: ThemeLight}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("read preferences failed: %w", err)
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return Preferences{Theme: ThemeLight}, fmt.Errorf("decode preferences failed: %w", err)
	}
	if prefs.Theme != ThemeDark {
		prefs.Theme = ThemeLight
	}
	return prefs, nil
}

func (s *PrefStore) Save(prefs Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write preferences failed: %w", err)
	}
	return nil
}
