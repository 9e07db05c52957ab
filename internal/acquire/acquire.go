// Package acquire turns selected candidates into units of analysis work:
// it makes sure each crate's source exists locally, discovers its default
// branch and workspace layout, and emits one work item per workspace
// member.
package acquire

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"fmtdrift/internal/logging"
	"fmtdrift/internal/manifest"
	"fmtdrift/internal/registry"
	"fmtdrift/internal/workdir"
)

// WorkItem is one workspace member ready for analysis.
type WorkItem struct {
	// RepoRoot is the clone directory of the whole repository.
	RepoRoot string

	// WorkspaceRoot is the member directory to format; equals RepoRoot for
	// single-crate repositories.
	WorkspaceRoot string

	// HeadBranch is the remote default branch, when discovered.
	HeadBranch string

	// Candidate is the selection record this item originated from.
	Candidate registry.Candidate
}

// VCS is the version-control collaborator.
type VCS interface {
	EnsurePresent(ctx context.Context, path, repoURL string) error
	DefaultBranch(ctx context.Context, path string) (string, error)
	HardResetTo(ctx context.Context, path, branch string) error
}

// Stage acquires candidates one at a time; the bounded output channel
// provides the downstream concurrency control.
type Stage struct {
	Workdir *workdir.Workdir
	VCS     VCS

	// Inspect is the manifest collaborator; swapped in tests.
	Inspect func(root string) (manifest.Info, error)

	// Resync forces existing checkouts back to the remote default branch
	// before emitting.
	Resync bool
}

// Run processes candidates in order and pushes work items onto out, which
// is closed when the stage finishes. A failure on one candidate skips that
// candidate and never aborts the stage; only context cancellation (the stop
// checkpoint at the top of the loop) or a vanished consumer ends the run
// early.
func (s *Stage) Run(ctx context.Context, candidates []registry.Candidate, out chan<- WorkItem) error {
	defer close(out)
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		items, ok := s.acquireOne(ctx, cand)
		if !ok {
			continue
		}
		for _, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	slog.Debug("acquisition finished", "candidates", len(candidates))
	return nil
}

// acquireOne runs one candidate's sub-steps. In-flight sub-steps are never
// interrupted by a stop request; cancellation is only observed between
// candidates, so the sub-steps run detached from the caller's cancellation.
func (s *Stage) acquireOne(ctx context.Context, cand registry.Candidate) ([]WorkItem, bool) {
	ctx = context.WithoutCancel(ctx)
	dir := s.Workdir.CloneDir(cand.RepoDirName)
	logging.Trace("ensuring crate exists", "crate", cand.Name, "dir", dir, "url", cand.RepoURL)
	if err := s.VCS.EnsurePresent(ctx, dir, cand.RepoURL); err != nil {
		slog.Error("failed to ensure crate checkout", "crate", cand.Name, "dir", dir, "err", err)
		return nil, false
	}

	// Branch discovery and manifest inspection are independent reads.
	var (
		branch    string
		branchErr error
		info      manifest.Info
		infoErr   error
	)
	p := pool.New()
	p.Go(func() { branch, branchErr = s.VCS.DefaultBranch(ctx, dir) })
	p.Go(func() { info, infoErr = s.Inspect(dir) })
	p.Wait()

	if branchErr != nil {
		slog.Error("failed to find remote head branch", "crate", cand.Name, "dir", dir, "err", branchErr)
		return nil, false
	}
	if infoErr != nil {
		slog.Error("failed to inspect manifest", "crate", cand.Name, "dir", dir, "err", infoErr)
		return nil, false
	}
	if !info.HasManifest {
		logging.Trace("skipping crate without top-level manifest", "crate", cand.Name)
		return nil, false
	}
	if info.PinnedToolchain {
		slog.Debug("skipping crate with pinned toolchain", "crate", cand.Name)
		return nil, false
	}

	if s.Resync {
		if err := s.VCS.HardResetTo(ctx, dir, branch); err != nil {
			slog.Error("failed to resync crate", "crate", cand.Name, "dir", dir, "err", err)
		}
	}

	items := make([]WorkItem, 0, len(info.MemberRoots))
	for _, root := range info.MemberRoots {
		items = append(items, WorkItem{
			RepoRoot:      dir,
			WorkspaceRoot: root,
			HeadBranch:    branch,
			Candidate:     cand,
		})
	}
	return items, true
}

// OutChannelSize is the bound for the stage's output channel: enough to
// keep the analysis pool fed without unbounded buffering.
func OutChannelSize(analysisConcurrency int) int {
	if analysisConcurrency < 1 {
		return 2
	}
	return analysisConcurrency * 2
}
