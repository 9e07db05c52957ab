package acquire

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fmtdrift/internal/manifest"
	"fmtdrift/internal/registry"
)

// RepoScanner reads git origin details from an existing checkout.
type RepoScanner interface {
	OriginURL(ctx context.Context, path string) (string, error)
	DefaultBranch(ctx context.Context, path string) (string, error)
}

// LocalSource emits work items from crate checkouts already on disk instead
// of the registry. Each immediate subdirectory of Dir that carries a
// manifest becomes a candidate; nothing is fetched, but when a directory is
// a git checkout its origin URL and head branch are picked up for filtering
// and the report.
type LocalSource struct {
	Dir  string
	Opts registry.SelectOpts

	Inspect func(root string) (manifest.Info, error)

	// Scanner reads origin details from checkouts; nil disables the scan.
	Scanner RepoScanner
}

// Run scans Dir and pushes work items onto out, closing it when done. Name
// and repository exclusions and the candidate cap from Opts apply (the
// repository one only when an origin was found); the size filter does not,
// since local directories have no packaged size.
func (s *LocalSource) Run(ctx context.Context, out chan<- WorkItem) error {
	defer close(out)
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return err
	}

	emitted := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if s.excluded(name) {
			slog.Debug("skipping excluded local crate", "name", name)
			continue
		}
		if s.Opts.MaxCandidates > 0 && emitted >= s.Opts.MaxCandidates {
			slog.Debug("local candidate cap reached", "max", s.Opts.MaxCandidates)
			return nil
		}

		dir := filepath.Join(s.Dir, name)
		info, err := s.Inspect(dir)
		if err != nil {
			slog.Error("failed to inspect local crate", "dir", dir, "err", err)
			continue
		}
		if !info.HasManifest {
			continue
		}
		if info.PinnedToolchain {
			slog.Debug("skipping local crate with pinned toolchain", "name", name)
			continue
		}

		repoURL, branch := s.scanOrigin(ctx, dir)
		if repoURL != "" && s.excludedRepo(repoURL) {
			slog.Debug("skipping local crate with excluded repository", "name", name, "repo", repoURL)
			continue
		}

		cand := registry.Candidate{Name: name, RepoDirName: name, RepoURL: repoURL}
		for _, root := range info.MemberRoots {
			select {
			case out <- WorkItem{RepoRoot: dir, WorkspaceRoot: root, HeadBranch: branch, Candidate: cand}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emitted++
	}
	slog.Debug("local scan finished", "dir", s.Dir, "crates", emitted)
	return nil
}

// scanOrigin is best-effort: a plain directory without git state stays
// anonymous in the report.
func (s *LocalSource) scanOrigin(ctx context.Context, dir string) (string, string) {
	if s.Scanner == nil {
		return "", ""
	}
	url, err := s.Scanner.OriginURL(ctx, dir)
	if err != nil {
		slog.Debug("no git origin for local crate", "dir", dir, "err", err)
		return "", ""
	}
	branch, err := s.Scanner.DefaultBranch(ctx, dir)
	if err != nil {
		slog.Debug("no head branch for local crate", "dir", dir, "err", err)
		return url, ""
	}
	return url, branch
}

func (s *LocalSource) excluded(name string) bool {
	for _, needle := range s.Opts.ExcludeNameContains {
		if strings.Contains(name, needle) {
			return true
		}
	}
	return false
}

func (s *LocalSource) excludedRepo(url string) bool {
	for _, needle := range s.Opts.ExcludeRepoContains {
		if strings.Contains(url, needle) {
			return true
		}
	}
	return false
}
