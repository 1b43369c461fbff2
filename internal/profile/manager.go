// Package profile manages the browser profile directories the agent uses
// for authenticated sessions.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the named profile does not exist.
	ErrNotFound = errors.New("profile not found")

	// ErrExists is returned when creating a profile that already exists.
	ErrExists = errors.New("profile already exists")

	// ErrInvalidName is returned when a profile name sanitizes to nothing.
	ErrInvalidName = errors.New("invalid profile name")
)

// Manager owns the profiles root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates the manager, ensuring the root directory exists.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles root: %w", err)
	}
	return &Manager{root: root, logger: logger}, nil
}

// Sanitize reduces a requested profile name to alphanumerics, dashes and
// underscores.
func Sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// List returns the existing profile names, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Create makes a new empty profile directory from the sanitized name and
// returns the name actually used.
func (m *Manager) Create(name string) (string, error) {
	safe := Sanitize(name)
	if safe == "" {
		return "", ErrInvalidName
	}

	target := filepath.Join(m.root, safe)
	if _, err := os.Stat(target); err == nil {
		return "", ErrExists
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile: %w", err)
	}

	m.logger.Info("Profile created", slog.String("profile", safe))
	return safe, nil
}

// Delete removes the named profile directory.
func (m *Manager) Delete(name string) error {
	safe := Sanitize(name)
	if safe == "" {
		return ErrInvalidName
	}

	target := filepath.Join(m.root, safe)
	if _, err := os.Stat(target); err != nil {
		return ErrNotFound
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	m.logger.Info("Profile deleted", slog.String("profile", safe))
	return nil
}

// Exists reports whether the named profile directory is present.
func (m *Manager) Exists(name string) bool {
	safe := Sanitize(name)
	if safe == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(m.root, safe))
	return err == nil && info.IsDir()
}
