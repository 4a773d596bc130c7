// Package state persists the orchestrator's session (tasks, workers,
// metadata) to a single JSON snapshot file, with best-effort autosave and
// named point-in-time copies.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/common/logger"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Store owns the in-memory session and its on-disk snapshot file.
type Store struct {
	mu      sync.RWMutex
	path    string
	dataDir string
	session v1.Session
	dirty   bool

	autosave time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *logger.Logger
}

// Open creates the data directory if needed and loads an existing snapshot
// at {dataDir}/state.json, or starts a fresh empty session if none exists.
// A version mismatch fails with apperrors.KindUnsupportedVersion rather than
// silently migrating.
func Open(dataDir string, autosave time.Duration, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create data dir %q: %w", dataDir, err)
	}

	s := &Store{
		path:     filepath.Join(dataDir, "state.json"),
		dataDir:  dataDir,
		autosave: autosave,
		logger:   log.WithFields(zap.String("component", "state.store")),
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	} else {
		now := time.Now()
		s.session = v1.Session{ID: fmt.Sprintf("session-%d", now.UnixNano()), StartTime: now, LastUpdate: now, Metadata: v1.SessionMetadata{}}
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("state: read snapshot: %w", err)
	}
	var snap v1.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("state: decode snapshot: %w", err)
	}
	if snap.Version != v1.SnapshotVersion {
		return apperrors.Newf(apperrors.KindUnsupportedVersion, "Open", "snapshot version %q, expected %q", snap.Version, v1.SnapshotVersion)
	}
	s.session = snap.Session
	return nil
}

// Session returns a copy of the current in-memory session.
func (s *Store) Session() v1.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Mutate runs fn against the live session under write lock, marking the
// store dirty so the next autosave tick (or a forced Save) persists it.
func (s *Store) Mutate(fn func(*v1.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.session)
	s.session.LastUpdate = time.Now()
	s.dirty = true
}

// Save writes the current session to disk if dirty, atomically: it
// serializes to {path}.tmp then renames over {path}.
func (s *Store) Save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := v1.Snapshot{Version: v1.SnapshotVersion, Timestamp: time.Now(), Session: s.session}
	s.mu.Unlock()

	if err := writeAtomic(s.path, snap); err != nil {
		return apperrors.New(apperrors.KindStateWriteFailed, "Save", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// ForceSave persists regardless of the dirty flag, used for terminal task
// transitions and final shutdown flush.
func (s *Store) ForceSave() error {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return s.Save()
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	return nil
}

// StartAutosave launches the autosave timer; call StopAutosave (or let
// context cancellation observed by the caller trigger a final ForceSave)
// to stop it cleanly.
func (s *Store) StartAutosave() {
	if s.autosave <= 0 {
		s.autosave = 30 * time.Second
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.autosave)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.Save(); err != nil {
					s.logger.Error("autosave failed", zap.Error(err))
				}
			}
		}
	}()
}

// StopAutosave halts the autosave timer and waits for it to exit.
func (s *Store) StopAutosave() {
	if s.stop != nil {
		close(s.stop)
	}
	s.wg.Wait()
}

// Shutdown stops autosave and does one final flush.
func (s *Store) Shutdown() error {
	s.StopAutosave()
	return s.ForceSave()
}

// CreateSnapshot writes a copy of the current session to
// {dataDir}/snapshots/{name}.json, defaulting name to a timestamp, and
// returns the path written.
func (s *Store) CreateSnapshot(name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("snapshot-%d", time.Now().UnixNano())
	}
	dir := filepath.Join(s.dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("state: create snapshots dir: %w", err)
	}
	path := filepath.Join(dir, name+".json")

	s.mu.RLock()
	snap := v1.Snapshot{Version: v1.SnapshotVersion, Timestamp: time.Now(), Session: s.session}
	s.mu.RUnlock()

	if err := writeAtomic(path, snap); err != nil {
		return "", apperrors.New(apperrors.KindStateWriteFailed, "CreateSnapshot", err)
	}
	return path, nil
}

// RestoreSnapshot first snapshots the current session as "before_restore",
// then loads path and marks the store dirty.
func (s *Store) RestoreSnapshot(path string) error {
	if _, err := s.CreateSnapshot("before_restore"); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("state: read snapshot %q: %w", path, err)
	}
	var snap v1.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("state: decode snapshot %q: %w", path, err)
	}
	if snap.Version != v1.SnapshotVersion {
		return apperrors.Newf(apperrors.KindUnsupportedVersion, "RestoreSnapshot", "snapshot version %q, expected %q", snap.Version, v1.SnapshotVersion)
	}

	s.mu.Lock()
	s.session = snap.Session
	s.dirty = true
	s.mu.Unlock()
	return nil
}
