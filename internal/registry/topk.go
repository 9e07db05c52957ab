package registry

import (
	"container/heap"
	"log/slog"
	"strings"

	"fmtdrift/internal/logging"
)

// Consumer receives versions rows in dump order. Returning false ends the
// scan early.
type Consumer interface {
	Consume(name string, entry VersionsEntry) (bool, error)
}

// SelectOpts configures the bounded top-K selection.
type SelectOpts struct {
	// MaxCandidates is K, the number of crates to retain.
	MaxCandidates int

	// MinSize drops crates below this packaged size in bytes.
	MinSize uint64

	// ExcludeNameContains drops crates whose name contains any entry.
	ExcludeNameContains []string

	// ExcludeRepoContains drops crates whose repository URL contains any
	// entry.
	ExcludeRepoContains []string
}

// DefaultSelectOpts mirrors the CLI defaults: top 100 crates, minimum 20kB
// packaged size (the registry-wide average is a good deal higher).
func DefaultSelectOpts() SelectOpts {
	return SelectOpts{MaxCandidates: 100, MinSize: 20_000}
}

// TopKConsumer keeps the K most-downloaded eligible crates from an
// unbounded stream using a bounded min-heap, with O(1) duplicate-id
// rejection through a parallel set of accepted crate ids.
type TopKConsumer struct {
	opts     SelectOpts
	heap     candidateHeap
	accepted map[uint64]bool
}

func NewTopKConsumer(opts SelectOpts) *TopKConsumer {
	return &TopKConsumer{
		opts:     opts,
		accepted: make(map[uint64]bool, opts.MaxCandidates),
	}
}

// Consume applies the exclusion filters and the heap bound to one row.
// It never ends the scan early: later rows can always evict earlier ones.
func (c *TopKConsumer) Consume(name string, entry VersionsEntry) (bool, error) {
	if entry.CrateSize < c.opts.MinSize {
		return true, nil
	}
	for _, excl := range c.opts.ExcludeNameContains {
		if strings.Contains(name, excl) {
			return true, nil
		}
	}
	for _, excl := range c.opts.ExcludeRepoContains {
		if strings.Contains(entry.Repository, excl) {
			return true, nil
		}
	}
	repoURL, dirName, err := ValidateRepo(entry.Repository)
	if err != nil {
		logging.Trace("rejected repository", "repository", entry.Repository, "err", err)
		return true, nil
	}
	if c.accepted[entry.CrateID] {
		return true, nil
	}
	if err := ValidatePathComponent(name); err != nil {
		logging.Trace("rejected crate name for path validity", "crate", name, "err", err)
		return true, nil
	}

	cand := Candidate{
		Name:        name,
		CrateID:     entry.CrateID,
		RepoURL:     repoURL,
		RepoDirName: dirName,
		Downloads:   entry.Downloads,
	}
	if c.heap.Len() < c.opts.MaxCandidates {
		heap.Push(&c.heap, cand)
		c.accepted[entry.CrateID] = true
		return true, nil
	}
	// Full: evict the current minimum only when strictly beaten; ties keep
	// the incumbent.
	if entry.Downloads > c.heap[0].Downloads {
		evicted := heap.Pop(&c.heap).(Candidate)
		delete(c.accepted, evicted.CrateID)
		heap.Push(&c.heap, cand)
		c.accepted[entry.CrateID] = true
		slog.Debug("evicted candidate", "evicted", evicted.Name, "for", cand.Name)
	}
	return true, nil
}

// Candidates drains the heap. Order is unspecified; callers must not assume
// popularity order.
func (c *TopKConsumer) Candidates() []Candidate {
	out := make([]Candidate, len(c.heap))
	copy(out, c.heap)
	c.heap = nil
	c.accepted = nil
	return out
}

type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].Downloads < h[j].Downloads }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
