// Package migration keeps the on-disk history of completed deployments for
// one environment and the in-progress marker that guards against overlapping
// or half-finished runs.
//
// Layout under the migrations directory:
//
//	<dir>/<env>/current.json              marker of the run in progress
//	<dir>/<env>/2006-01-02-150405.json    one snapshot per completed run
//
// The latest snapshot is the one with the greatest file name.
package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/artpar/celldeploy/internal/core/domain"
	"github.com/artpar/celldeploy/internal/core/snapshot"
)

// MarkerName is the file name of the in-progress marker.
const MarkerName = "current.json"

// snapshotLayout names completed snapshots. Names sort chronologically.
const snapshotLayout = "2006-01-02-150405"

// maxNameAttempts bounds the search for a free snapshot name when two runs
// complete within the same second.
const maxNameAttempts = 60

var (
	// ErrSnapshotNotFound is returned when a named snapshot does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNameTaken is returned when no free snapshot name is left.
	ErrNameTaken = errors.New("snapshot name already taken")
)

// =============================================================================
// Store
// =============================================================================

// Store manages the snapshots of one environment.
type Store struct {
	dir    string
	env    string
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a store for env under root. Nothing is created on disk
// until Ensure is called.
func NewStore(root, env string, logger *slog.Logger) (*Store, error) {
	if err := domain.ValidateEnvName(env); err != nil {
		return nil, domain.NewConfigError("migration_store", env, err.Error())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    filepath.Join(root, env),
		env:    env,
		now:    time.Now,
		logger: logger.With("component", "migration_store", "env", env),
	}, nil
}

// Dir returns the environment directory.
func (s *Store) Dir() string {
	return s.dir
}

// Env returns the environment name.
func (s *Store) Env() string {
	return s.env
}

// MarkerPath returns the path of the in-progress marker.
func (s *Store) MarkerPath() string {
	return filepath.Join(s.dir, MarkerName)
}

// Ensure creates the environment directory if it is missing.
func (s *Store) Ensure() error {
	if _, err := os.Stat(s.dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}
	s.logger.Info("created migrations directory", "path", s.dir)
	return nil
}

// CheckNoIncomplete fails with a recovery error when the in-progress marker
// exists. It only touches the filesystem.
func (s *Store) CheckNoIncomplete() error {
	_, err := os.Stat(s.MarkerPath())
	switch {
	case err == nil:
		return domain.NewRecoveryError(s.MarkerPath())
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("check in-progress marker: %w", err)
	}
}

// HasIncomplete reports whether the in-progress marker exists.
func (s *Store) HasIncomplete() (bool, error) {
	err := s.CheckNoIncomplete()
	if errors.Is(err, domain.ErrRecovery) {
		return true, nil
	}
	return false, err
}

// =============================================================================
// Reading
// =============================================================================

// List returns the names of the completed snapshots, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == MarkerName || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and decodes the snapshot called name.
func (s *Store) Load(name string) (snapshot.Document, error) {
	if name != filepath.Base(name) {
		return snapshot.Document{}, fmt.Errorf("load snapshot %q: %w", name, ErrSnapshotNotFound)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot.Document{}, fmt.Errorf("load snapshot %q: %w", name, ErrSnapshotNotFound)
	}
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	doc, err := snapshot.Decode(data)
	if err != nil {
		return snapshot.Document{}, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	return doc, nil
}

// LoadLatest returns the most recent completed snapshot and its name. The
// name is empty and the recipe is empty when nothing was deployed yet.
func (s *Store) LoadLatest() (snapshot.Document, string, error) {
	names, err := s.List()
	if err != nil {
		return snapshot.Document{}, "", err
	}
	if len(names) == 0 {
		return snapshot.Document{Version: snapshot.CurrentVersion, Env: s.env}, "", nil
	}
	latest := names[len(names)-1]
	doc, err := s.Load(latest)
	if err != nil {
		return snapshot.Document{}, "", err
	}
	s.logger.Debug("loaded latest snapshot", "name", latest,
		"cells", len(doc.Recipe.CellRecords), "dep_groups", len(doc.Recipe.DepGroupRecords))
	return doc, latest, nil
}

// =============================================================================
// Writing
// =============================================================================

// Token identifies a snapshot written by BeginSnapshot.
type Token struct {
	Path  string
	RunID string
}

// BeginSnapshot writes doc to the in-progress marker. It fails when the
// marker already exists, so at most one run per environment can be in
// progress.
func (s *Store) BeginSnapshot(doc snapshot.Document) (Token, error) {
	if doc.Env == "" {
		doc.Env = s.env
	}
	data, err := snapshot.Encode(doc)
	if err != nil {
		return Token{}, fmt.Errorf("encode snapshot: %w", err)
	}

	path := s.MarkerPath()
	if err := writeNew(path, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Token{}, domain.NewRecoveryError(path)
		}
		return Token{}, fmt.Errorf("write in-progress marker: %w", err)
	}
	s.logger.Debug("in-progress marker written", "path", path, "run_id", doc.RunID)
	return Token{Path: path, RunID: doc.RunID}, nil
}

// CompleteSnapshot copies the marker of token into a timestamped snapshot
// and then removes the marker. It returns the new snapshot's name.
func (s *Store) CompleteSnapshot(token Token) (string, error) {
	data, err := os.ReadFile(token.Path)
	if err != nil {
		return "", fmt.Errorf("read in-progress marker: %w", err)
	}

	at := s.now().UTC()
	var name string
	for attempt := 0; ; attempt++ {
		if attempt == maxNameAttempts {
			return "", fmt.Errorf("complete snapshot: %w", ErrNameTaken)
		}
		name = at.Add(time.Duration(attempt)*time.Second).Format(snapshotLayout) + ".json"
		err = writeNew(filepath.Join(s.dir, name), data)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("write snapshot %q: %w", name, err)
		}
	}

	if err := os.Remove(token.Path); err != nil {
		return "", fmt.Errorf("remove in-progress marker: %w", err)
	}
	s.logger.Info("snapshot completed", "name", name, "run_id", token.RunID)
	return name, nil
}

// writeNew creates path with data, failing if it exists. A partial file is
// removed on write failure.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// SnapshotTime returns the UTC completion time encoded in a snapshot name.
func SnapshotTime(name string) (time.Time, bool) {
	t, err := time.Parse(snapshotLayout, strings.TrimSuffix(name, ".json"))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
