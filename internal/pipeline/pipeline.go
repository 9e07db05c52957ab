// Package pipeline wires the run end to end: workdir setup, formatter
// builds alongside candidate selection, the acquisition stage feeding a
// bounded analysis pool, and a single-goroutine aggregation loop, all under
// the acknowledged stop protocol.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"fmtdrift/internal/acquire"
	"fmtdrift/internal/analyze"
	"fmtdrift/internal/fmtbuild"
	"fmtdrift/internal/manifest"
	"fmtdrift/internal/registry"
	"fmtdrift/internal/report"
	"fmtdrift/internal/stopsig"
	"fmtdrift/internal/vcs"
	"fmtdrift/internal/workdir"
)

// resultChannelSize bounds the analysis output channel; the aggregator is
// fast, so a modest buffer smooths bursts without hiding backpressure.
const resultChannelSize = 32

// Collaborator seams, swapped in tests.
var (
	buildSequential = fmtbuild.BuildSequential
	newVCS          = func() acquire.VCS { return vcs.New() }
	newScanner      = func() acquire.RepoScanner { return vcs.New() }
	newPool         = analyze.NewPool
)

// Config is the fully-resolved run configuration.
type Config struct {
	Workdir string

	// CandidateRepo and ReferenceRepo are rustfmt source checkouts; the
	// candidate is the build under test, the reference the baseline.
	CandidateRepo string
	ReferenceRepo string

	// LocalCrateDir switches the run to analyzing already-checked-out
	// crates under this directory instead of fetching the registry.
	LocalCrateDir string

	IndexMaxAgeDays int
	Resync          bool
	Select          registry.SelectOpts

	RustfmtConfig string
	Timeout       time.Duration
	Concurrency   int

	Report report.Options
}

// Run executes one full differential-formatting run. The stop receiver is
// observed at stage boundaries: a stop finishes the report from whatever
// results arrived and returns nil.
func Run(ctx context.Context, cfg Config, stop *stopsig.Receiver) error {
	defer stop.Finish()

	wd := workdir.New(cfg.Workdir)
	if err := wd.Ensure(); err != nil {
		return err
	}
	if err := wd.Lock(); err != nil {
		return err
	}
	defer wd.Unlock()

	// Builds run sequentially against each other but in parallel with the
	// registry fetch and selection.
	var (
		candidate, reference fmtbuild.Outputs
		candidates           []registry.Candidate
	)
	stopped, err := stop.WithStop(ctx, func(ctx context.Context) error {
		prep := pool.New().WithErrors().WithContext(ctx)
		prep.Go(func(ctx context.Context) error {
			var err error
			candidate, reference, err = buildSequential(ctx, cfg.CandidateRepo, cfg.ReferenceRepo)
			return err
		})
		if cfg.LocalCrateDir == "" {
			prep.Go(func(ctx context.Context) error {
				var err error
				candidates, err = selectCandidates(ctx, wd, cfg)
				return err
			})
		}
		return prep.Wait()
	})
	if stopped {
		slog.Info("stopped before starting analysis, exiting")
		return nil
	}
	if err != nil {
		return err
	}

	items := make(chan acquire.WorkItem, acquire.OutChannelSize(cfg.Concurrency))
	acqStop, acqRecv := stopsig.Pair()
	go func() {
		defer acqRecv.Finish()
		stopped, err := acqRecv.WithStop(ctx, func(ctx context.Context) error {
			return runSource(ctx, cfg, wd, candidates, items)
		})
		switch {
		case stopped:
			slog.Info("acquisition stopped before finishing")
		case err != nil && ctx.Err() == nil:
			slog.Error("acquisition failed", "err", err)
		}
	}()

	results := make(chan analyze.Result, resultChannelSize)
	anaStop, anaRecv := stopsig.Pair()
	analysisPool := newPool(candidate, reference, cfg.RustfmtConfig, cfg.Timeout, cfg.Concurrency)
	go func() {
		defer anaRecv.Finish()
		stopped, _ := anaRecv.WithStop(ctx, func(ctx context.Context) error {
			return analysisPool.Run(ctx, items, results)
		})
		if stopped {
			slog.Info("analysis stopped before finishing")
		} else {
			slog.Debug("analysis finished")
		}
	}()

	builder, err := report.NewBuilder(cfg.Report)
	if err != nil {
		return err
	}

	// The builder is only ever touched from the drain op; waiting on
	// drained before Finish keeps it single-owner even when the drain is
	// stopped mid-loop.
	drained := make(chan struct{})
	stopped, err = stop.WithStop(ctx, func(ctx context.Context) error {
		defer close(drained)
		for {
			select {
			case res, ok := <-results:
				if !ok {
					return nil
				}
				builder.Add(res)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	<-drained
	if stopped {
		slog.Info("stopped while draining analyses, finishing report early")
	} else if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if _, err := builder.Finish(); err != nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	acqStop.Stop(stopCtx)
	anaStop.Stop(stopCtx)
	return nil
}

// runSource feeds items from whichever crate source the run uses.
func runSource(ctx context.Context, cfg Config, wd *workdir.Workdir, candidates []registry.Candidate, items chan<- acquire.WorkItem) error {
	if cfg.LocalCrateDir != "" {
		src := &acquire.LocalSource{Dir: cfg.LocalCrateDir, Opts: cfg.Select, Inspect: manifest.Inspect, Scanner: newScanner()}
		return src.Run(ctx, items)
	}
	stage := &acquire.Stage{
		Workdir: wd,
		VCS:     newVCS(),
		Inspect: manifest.Inspect,
		Resync:  cfg.Resync,
	}
	return stage.Run(ctx, candidates, items)
}

// selectCandidates refreshes the registry tables when stale and runs the
// top-K selection over the versions stream.
func selectCandidates(ctx context.Context, wd *workdir.Workdir, cfg Config) ([]registry.Candidate, error) {
	refetch, err := wd.NeedsRefetch(cfg.IndexMaxAgeDays)
	if err != nil {
		return nil, err
	}
	if refetch {
		if err := registry.UpdateIndex(ctx, wd.Base); err != nil {
			return nil, fmt.Errorf("updating registry index: %w", err)
		}
	}

	names, err := registry.ParseIDNameMapping(wd.CratesCSV)
	if err != nil {
		return nil, err
	}
	consumer := registry.NewTopKConsumer(cfg.Select)
	if err := registry.ConsumeVersions(wd.VersionsCSV, names, consumer); err != nil {
		return nil, err
	}
	selected := consumer.Candidates()
	slog.Info("selected candidates", "count", len(selected))
	return selected, nil
}
