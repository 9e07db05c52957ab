// Package workdir manages the persistent working directory: the extracted
// registry tables, one clone directory per crate, and an advisory lock so
// two runs cannot interleave clones.
package workdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Workdir is the on-disk layout of a run's cache directory.
type Workdir struct {
	Base        string
	CratesCSV   string
	VersionsCSV string

	lock *flock.Flock
}

func New(base string) *Workdir {
	return &Workdir{
		Base:        base,
		CratesCSV:   filepath.Join(base, "crates.csv"),
		VersionsCSV: filepath.Join(base, "versions.csv"),
		lock:        flock.New(filepath.Join(base, ".fmtdrift.lock")),
	}
}

// Ensure creates the base directory if it does not exist.
func (w *Workdir) Ensure() error {
	if _, err := os.Stat(w.Base); err == nil {
		slog.Debug("found existing workdir", "path", w.Base)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking workdir at %s: %w", w.Base, err)
	}
	if err := os.MkdirAll(w.Base, 0o755); err != nil {
		return fmt.Errorf("creating workdir at %s: %w", w.Base, err)
	}
	slog.Debug("created workdir", "path", w.Base)
	return nil
}

// Lock takes the advisory run lock. It fails fast rather than queueing
// behind another run.
func (w *Workdir) Lock() error {
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking workdir at %s: %w", w.Base, err)
	}
	if !ok {
		return fmt.Errorf("workdir at %s is locked by another run", w.Base)
	}
	return nil
}

// Unlock releases the run lock.
func (w *Workdir) Unlock() {
	if err := w.lock.Unlock(); err != nil {
		slog.Warn("failed to release workdir lock", "err", err)
	}
}

// CloneDir returns the clone directory for a validated repo dir name.
func (w *Workdir) CloneDir(repoDirName string) string {
	return filepath.Join(w.Base, repoDirName)
}

// NeedsRefetch reports whether either extracted table is missing or older
// than maxAgeDays.
func (w *Workdir) NeedsRefetch(maxAgeDays int) (bool, error) {
	for _, path := range []string{w.CratesCSV, w.VersionsCSV} {
		stale, err := isStale(path, maxAgeDays)
		if err != nil {
			return false, err
		}
		if stale {
			return true, nil
		}
	}
	return false, nil
}

func isStale(path string, maxAgeDays int) (bool, error) {
	md, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	age := time.Since(md.ModTime())
	if age > time.Duration(maxAgeDays)*24*time.Hour {
		slog.Info("registry table is stale", "path", path, "age", age.Round(time.Second))
		return true, nil
	}
	slog.Debug("registry table does not need a refetch", "path", path, "age", age.Round(time.Second))
	return false, nil
}
