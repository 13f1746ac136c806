// ABOUTME: Atomic read-modify-write over JSON documents in the shared state directory.
// ABOUTME: Every cross-process record (breaker, heartbeats, tasks, stats) builds on this.

package statefile

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Store provides atomic JSON document persistence rooted at a state directory.
// Writes go through a temporary file followed by a rename, so a concurrent
// reader never observes a partially written document. There is no
// inter-process locking: two concurrent writers race and the last writer
// wins. Collisions are rare and self-correcting on the next cycle, so the
// counters kept here are best-effort, not exact.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "statefile"),
	}, nil
}

// Dir returns the state directory this store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of a named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Read decodes the named document into a fresh copy of def.
// A missing or unreadable document yields def unchanged.
func Read[T any](s *Store, name string, def T) T {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("state read failed", "file", name, "error", err)
		}
		return def
	}

	out := def
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("state parse failed", "file", name, "error", err)
		return def
	}
	return out
}

// Update applies fn to the current document and writes the result back
// atomically. A missing file starts from def; a present but unparseable
// file is left alone and Update reports failure. Returns false on any I/O,
// parse, or encode error. Callers treat a failed update as a no-op and
// proceed with stale state.
func Update[T any](s *Store, name string, def T, fn func(doc *T)) bool {
	path := s.Path(name)

	doc := def
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("state parse failed, refusing to overwrite", "file", name, "error", err)
			return false
		}
	case errors.Is(err, fs.ErrNotExist):
		// Absent file starts from the documented empty default.
	default:
		s.logger.Warn("state read failed", "file", name, "error", err)
		return false
	}

	fn(&doc)

	return s.writeAtomic(name, doc)
}

// UpdateIf is Update with an abort path: fn returns false to leave the
// document untouched on disk. Returns true only when fn committed and the
// write succeeded.
func UpdateIf[T any](s *Store, name string, def T, fn func(doc *T) bool) bool {
	path := s.Path(name)

	doc := def
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("state parse failed, refusing to overwrite", "file", name, "error", err)
			return false
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		s.logger.Warn("state read failed", "file", name, "error", err)
		return false
	}

	if !fn(&doc) {
		return false
	}

	return s.writeAtomic(name, doc)
}

// Write replaces the named document outright via the same atomic path.
func Write[T any](s *Store, name string, doc T) bool {
	return s.writeAtomic(name, doc)
}

// writeAtomic encodes doc and installs it via temp-file-then-rename.
func (s *Store) writeAtomic(name string, doc any) bool {
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.logger.Warn("state encode failed", "file", name, "error", err)
		return false
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		s.logger.Warn("state temp create failed", "file", name, "error", err)
		return false
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.logger.Warn("state write failed", "file", name, "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("state close failed", "file", name, "error", err)
		return false
	}
	// Temp files are created 0600; the documents are read by sibling
	// processes and external monitors.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("state chmod failed", "file", name, "error", err)
		return false
	}

	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		os.Remove(tmpName)
		s.logger.Warn("state rename failed", "file", name, "error", err)
		return false
	}
	return true
}
