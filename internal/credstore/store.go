// File: internal/credstore/store.go

// Package credstore persists browser session credentials (cookies) across
// runs. A store resolves credentials from up to three locations in priority
// order: the task-local file, the shared global file, and a backup file.
// Fallback hits are synced back to the task-local path so the next run finds
// them in first position.
package credstore

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bundle is a saved credential set, cookie name to value.
type Bundle map[string]string

// Store reads and writes credential bundles on disk.
type Store struct {
	taskPath   string
	globalPath string
	backupPath string
	logger     *zap.Logger
}

// New builds a store over the three candidate paths. Empty paths disable
// their tier. Leading `~` is expanded; a path that cannot be expanded is
// kept verbatim so the failure surfaces on first use rather than silently
// dropping a tier.
func New(taskPath, globalPath, backupPath string, logger *zap.Logger) *Store {
	return &Store{
		taskPath:   expandPath(taskPath),
		globalPath: expandPath(globalPath),
		backupPath: expandPath(backupPath),
		logger:     logger.Named("credstore"),
	}
}

func expandPath(p string) string {
	if p == "" {
		return ""
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}

// Load resolves the first non-empty bundle in priority order. A hit on a
// fallback tier is written back to the task-local path. A fully exhausted
// search returns (nil, nil): absence of credentials is an expected state,
// not a fault.
func (s *Store) Load() (Bundle, error) {
	type tier struct {
		name string
		path string
	}
	tiers := []tier{
		{"task", s.taskPath},
		{"global", s.globalPath},
		{"backup", s.backupPath},
	}

	for i, t := range tiers {
		if t.path == "" {
			continue
		}
		bundle, err := readBundle(t.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn("Credential file unreadable, trying next tier.",
				zap.String("tier", t.name), zap.String("path", t.path), zap.Error(err))
			continue
		}
		if len(bundle) == 0 {
			continue
		}

		s.logger.Debug("Loaded credentials.",
			zap.String("tier", t.name), zap.Int("cookies", len(bundle)))

		// Sync a fallback hit into first position for the next run.
		if i > 0 && s.taskPath != "" {
			if err := writeBundle(s.taskPath, bundle); err != nil {
				s.logger.Warn("Failed to sync credentials to task-local path.",
					zap.String("path", s.taskPath), zap.Error(err))
			}
		}
		return bundle, nil
	}
	return nil, nil
}

// Save persists the bundle to the task-local path atomically, then
// best-effort mirrors it to the global path. Saving an empty bundle is a
// no-op: an empty set would clobber a previously valid record.
func (s *Store) Save(bundle Bundle) error {
	if len(bundle) == 0 {
		s.logger.Debug("Skipping save of empty credential bundle.")
		return nil
	}
	if s.taskPath == "" {
		return fmt.Errorf("no task-local credential path configured")
	}
	if err := writeBundle(s.taskPath, bundle); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	if s.globalPath != "" && s.globalPath != s.taskPath {
		if err := writeBundle(s.globalPath, bundle); err != nil {
			s.logger.Warn("Failed to mirror credentials to global path.",
				zap.String("path", s.globalPath), zap.Error(err))
		}
	}
	s.logger.Debug("Saved credentials.", zap.Int("cookies", len(bundle)))
	return nil
}

func readBundle(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("malformed credential file %s: %w", path, err)
	}
	return bundle, nil
}

// writeBundle writes atomically via a temp file in the destination directory
// followed by a rename, so a crash mid-write never leaves a truncated record.
func writeBundle(path string, bundle Bundle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
