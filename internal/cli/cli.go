// Package cli parses and validates the command line into a fully-resolved
// pipeline configuration.
package cli

import (
	"fmt"
	"runtime"
	"time"

	"github.com/jessevdk/go-flags"

	"fmtdrift/internal/pipeline"
	"fmtdrift/internal/registry"
	"fmtdrift/internal/report"
)

const (
	ExitSuccess           = 0
	ExitRunFailure        = 1
	ExitInvalidInvocation = 2
)

// Options is the raw flag surface.
type Options struct {
	Workdir string `short:"w" long:"workdir" required:"true" description:"Working directory: crates index cache and one clone per crate"`

	OutputDir string `short:"o" long:"output-dir" description:"Where diff files, error outputs and the run report are stored; a temporary directory when unset"`

	CandidateRepo string `long:"rustfmt-local-repo" required:"true" description:"Path to the modified rustfmt repository under test"`

	ReferenceRepo string `long:"rustfmt-upstream-repo" required:"true" description:"Path to the unmodified rustfmt repository used as the baseline"`

	IndexMaxAgeDays int `short:"c" long:"crates-index-max-age" default:"7" description:"Days before the cached crates index is refetched"`

	GitResyncBefore bool `short:"g" long:"git-resync-before" description:"Hard-reset previously cloned crates to the remote default branch before analysis"`

	MaxCrates int `long:"max-crates" default:"100" description:"Maximum number of crates to pull"`

	MinSize uint64 `long:"min-size" default:"20000" description:"Minimum crate size in bytes to be pulled"`

	ExcludeCrateNameContains []string `long:"exclude-crate-name-contains" description:"Skip crates whose name contains this string (repeatable)"`

	ExcludeRepositoryContains []string `long:"exclude-repository-contains" description:"Skip crates whose repository URL contains this string (repeatable)"`

	NoOutputFiles bool `long:"no-output-files" description:"Do not write diff or error files, only the report"`

	DiffTool string `long:"diff-tool" description:"External tool run over the two diff files when the builds produce different diffs; its output is stored as an extra artifact"`

	ReportDest string `long:"report-dest" description:"Where to write the JSON report (defaults to output-dir/report.json)"`

	ReportNonDiverging bool `long:"report-non-diverging" description:"Include non-diverging crate details in the report; totals are included either way"`

	AnalysisMaxConcurrent int `long:"analysis-max-concurrent" description:"Maximum crates to analyze concurrently; defaults to available parallelism"`

	AnalysisTimeoutSeconds int `long:"analysis-task-timeout-seconds" default:"30" description:"How long to wait for a started rustfmt process before killing it"`

	Config string `long:"config" description:"Extra config variables passed directly to rustfmt"`

	LocalCrateDir string `long:"local-crate-dir" description:"Analyze already-checked-out crates under this directory instead of fetching the registry"`

	Verbosity int `short:"v" long:"verbosity" default:"2" description:"0 errors only, 1 info, 2 debug, 3 trace"`
}

// Parse parses args (excluding argv[0]) and validates the result.
func Parse(args []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "fmtdrift"
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (o *Options) validate() error {
	if o.Verbosity < 0 || o.Verbosity > 3 {
		return fmt.Errorf("unrecognized verbosity level: %d", o.Verbosity)
	}
	if o.AnalysisTimeoutSeconds <= 0 {
		return fmt.Errorf("analysis task timeout must be positive, got %d", o.AnalysisTimeoutSeconds)
	}
	if o.MaxCrates <= 0 {
		return fmt.Errorf("max-crates must be positive, got %d", o.MaxCrates)
	}
	if o.IndexMaxAgeDays < 0 {
		return fmt.Errorf("crates-index-max-age must not be negative, got %d", o.IndexMaxAgeDays)
	}
	if o.AnalysisMaxConcurrent < 0 {
		return fmt.Errorf("analysis-max-concurrent must not be negative, got %d", o.AnalysisMaxConcurrent)
	}
	return nil
}

// Concurrency resolves the analysis pool size, falling back to available
// parallelism.
func (o *Options) Concurrency() int {
	if o.AnalysisMaxConcurrent > 0 {
		return o.AnalysisMaxConcurrent
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 2
}

// PipelineConfig converts the parsed flags into the run configuration.
func (o *Options) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Workdir:         o.Workdir,
		CandidateRepo:   o.CandidateRepo,
		ReferenceRepo:   o.ReferenceRepo,
		LocalCrateDir:   o.LocalCrateDir,
		IndexMaxAgeDays: o.IndexMaxAgeDays,
		Resync:          o.GitResyncBefore,
		Select: registry.SelectOpts{
			MaxCandidates:       o.MaxCrates,
			MinSize:             o.MinSize,
			ExcludeNameContains: o.ExcludeCrateNameContains,
			ExcludeRepoContains: o.ExcludeRepositoryContains,
		},
		RustfmtConfig: o.Config,
		Timeout:       time.Duration(o.AnalysisTimeoutSeconds) * time.Second,
		Concurrency:   o.Concurrency(),
		Report: report.Options{
			OutputDir:           o.OutputDir,
			ReportDest:          o.ReportDest,
			WriteOutputs:        !o.NoOutputFiles,
			IncludeNonDiverging: o.ReportNonDiverging,
			DiffTool:            o.DiffTool,
		},
	}
}
