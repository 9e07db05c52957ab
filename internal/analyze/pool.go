package analyze

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"fmtdrift/internal/acquire"
	"fmtdrift/internal/fmtbuild"
	"fmtdrift/internal/logging"
)

// Result pairs one work item with both formatter outcomes and their
// classification.
type Result struct {
	Item       acquire.WorkItem
	Reference  Outcome
	Candidate  Outcome
	Divergence Divergence

	// SimilarErrors is set when both runs failed with messages that look
	// like the same underlying problem.
	SimilarErrors bool
}

// CheckFunc runs one formatter over one directory.
type CheckFunc func(ctx context.Context, dir string) Outcome

// Pool fans work items out to a bounded set of analysis workers.
type Pool struct {
	// ReferenceCheck and CandidateCheck run the two builds under
	// comparison.
	ReferenceCheck CheckFunc
	CandidateCheck CheckFunc

	// Concurrency caps in-flight analyses.
	Concurrency int

	seen seenSet
}

// NewPool wires a pool to two real rustfmt builds.
func NewPool(candidate, reference fmtbuild.Outputs, config string, timeout time.Duration, concurrency int) *Pool {
	return &Pool{
		ReferenceCheck: (&Invoker{Build: reference, Config: config, Timeout: timeout}).Check,
		CandidateCheck: (&Invoker{Build: candidate, Config: config, Timeout: timeout}).Check,
		Concurrency:    concurrency,
	}
}

// Run consumes work items until in closes or ctx is cancelled, pushing one
// result per analyzed member onto out, which is closed when the pool
// drains. Duplicate workspaces and members without a src directory are
// dropped without a result.
func (p *Pool) Run(ctx context.Context, in <-chan acquire.WorkItem, out chan<- Result) error {
	defer close(out)
	workers := pool.New().WithMaxGoroutines(p.Concurrency)
	for item := range in {
		if ctx.Err() != nil {
			break
		}
		workers.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("analysis worker panicked",
						"crate", item.Candidate.Name, "root", item.WorkspaceRoot, "panic", r)
				}
			}()
			res, ok := p.analyzeOne(ctx, item)
			if !ok {
				return
			}
			select {
			case out <- res:
			case <-ctx.Done():
			}
		})
	}
	workers.Wait()
	return ctx.Err()
}

func (p *Pool) analyzeOne(ctx context.Context, item acquire.WorkItem) (Result, bool) {
	key := item.Candidate.RepoURL + "|" + item.WorkspaceRoot
	if !p.seen.add(key) {
		logging.Trace("skipping seen workspace", "root", item.WorkspaceRoot, "repo", item.Candidate.RepoURL)
		return Result{}, false
	}
	if _, err := os.Stat(filepath.Join(item.WorkspaceRoot, "src")); err != nil {
		logging.Trace("skipping workspace without src directory", "root", item.WorkspaceRoot)
		return Result{}, false
	}

	logging.Trace("analyzing", "crate", item.Candidate.Name, "root", item.WorkspaceRoot)
	// A stop only prevents new items from starting; an invocation already in
	// flight runs to completion (or its own timeout), so the checks are
	// detached from the stage's cancellation.
	invCtx := context.WithoutCancel(ctx)
	// Reference first: when it diffs and the candidate agrees with it, the
	// logs read in cause-then-effect order.
	reference := p.ReferenceCheck(invCtx, item.WorkspaceRoot)
	candidate := p.CandidateCheck(invCtx, item.WorkspaceRoot)

	res := Result{
		Item:       item,
		Reference:  reference,
		Candidate:  candidate,
		Divergence: Classify(candidate, reference),
	}
	if reference.Kind == OutcomeError && candidate.Kind == OutcomeError {
		res.SimilarErrors = similarErrors(reference.Message, candidate.Message)
	}
	if res.Divergence.Diverged() {
		slog.Info("formatting diverged",
			"crate", item.Candidate.Name, "root", item.WorkspaceRoot, "class", res.Divergence.String())
	} else {
		slog.Debug("formatting agreed", "crate", item.Candidate.Name, "root", item.WorkspaceRoot)
	}
	return res, true
}

// seenSet is an insert-if-absent set shared by all workers.
type seenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// add returns true when key was not yet present.
func (s *seenSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}
	if _, dup := s.keys[key]; dup {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}
