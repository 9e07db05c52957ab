// Package report aggregates analysis results into per-run totals, on-disk
// diff and error artifacts, and JSON plus HTML summaries.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"fmtdrift/internal/analyze"
)

// Tally counts one build's outcomes across the run.
type Tally struct {
	Successes int `json:"successes"`
	Diffs     int `json:"diffs"`
	Failures  int `json:"failures"`
}

// FmtOutput records where one build's artifacts for a crate landed.
type FmtOutput struct {
	DiffFile  string `json:"diff_output_file,omitempty"`
	ErrorFile string `json:"error_output_file,omitempty"`
	Elapsed   string `json:"elapsed"`
}

// CrateReport is one retained analysis in the final report.
type CrateReport struct {
	CrateName     string    `json:"crate_name"`
	LocalRoot     string    `json:"local_root"`
	RepoURL       string    `json:"repo_url,omitempty"`
	HeadBranch    string    `json:"head_branch,omitempty"`
	Diverged      bool      `json:"diverged"`
	Class         string    `json:"class"`
	SimilarErrors bool      `json:"similar_errors"`
	Candidate     FmtOutput `json:"candidate_rustfmt_output"`
	Reference     FmtOutput `json:"reference_rustfmt_output"`

	// MetaDiffFile is the diff between the two builds' diffs, present only
	// when each build produced a different diff and a diff tool ran.
	MetaDiffFile string `json:"meta_diff_file,omitempty"`
}

// Options configures aggregation.
type Options struct {
	// OutputDir is where artifacts and the reports land; empty picks a
	// fresh temp directory.
	OutputDir string

	// ReportDest overrides where report.json is written.
	ReportDest string

	// WriteOutputs enables writing diff and error files.
	WriteOutputs bool

	// IncludeNonDiverging retains crate reports even when the builds
	// agreed cleanly.
	IncludeNonDiverging bool

	// DiffTool, when set, is run over the two builds' diff files whenever
	// each produced a different diff; its output becomes a third artifact.
	DiffTool string
}

// Builder accumulates results. It is owned by a single aggregation
// goroutine and is not safe for concurrent use.
type Builder struct {
	opts Options

	base        string
	diverged    string
	nondiverged string
	errors      string

	DivergingDiffs int
	CandidateT     Tally
	ReferenceT     Tally

	crates []CrateReport
}

// NewBuilder creates the output directory layout.
func NewBuilder(opts Options) (*Builder, error) {
	base := opts.OutputDir
	if base == "" {
		var err error
		base, err = os.MkdirTemp("", "fmtdrift-")
		if err != nil {
			return nil, fmt.Errorf("creating temp output dir: %w", err)
		}
	}
	b := &Builder{
		opts:        opts,
		base:        base,
		diverged:    filepath.Join(base, "diverged"),
		nondiverged: filepath.Join(base, "nondiverged"),
		errors:      filepath.Join(base, "errors"),
	}
	for _, dir := range []string{b.diverged, b.nondiverged, b.errors} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output dir %s: %w", dir, err)
		}
	}
	slog.Info("using output dir", "path", base)
	return b, nil
}

// OutputDir returns the base directory artifacts are written under.
func (b *Builder) OutputDir() string { return b.base }

// Add folds one result into the totals and decides whether its crate
// report is retained: diverged results always are, agreements only when
// configured, and any result that added a failure is kept so the error is
// findable.
func (b *Builder) Add(res analyze.Result) {
	preFailures := b.CandidateT.Failures + b.ReferenceT.Failures
	diverged := res.Divergence.Diverged()
	if diverged {
		b.DivergingDiffs++
	}

	referenceOut := b.recordOutcome("reference", res, res.Reference, &b.ReferenceT)
	candidateOut := b.recordOutcome("candidate", res, res.Candidate, &b.CandidateT)

	var metaDiff string
	if res.Divergence == analyze.DivergenceDiffersBetween {
		metaDiff = b.writeMetaDiff(res.Item.Candidate.Name, referenceOut.DiffFile, candidateOut.DiffFile)
	}

	if diverged || b.opts.IncludeNonDiverging || preFailures < b.CandidateT.Failures+b.ReferenceT.Failures {
		b.crates = append(b.crates, CrateReport{
			CrateName:     res.Item.Candidate.Name,
			LocalRoot:     res.Item.WorkspaceRoot,
			RepoURL:       res.Item.Candidate.RepoURL,
			HeadBranch:    res.Item.HeadBranch,
			Diverged:      diverged,
			Class:         res.Divergence.String(),
			SimilarErrors: res.SimilarErrors,
			Candidate:     candidateOut,
			Reference:     referenceOut,
			MetaDiffFile:  metaDiff,
		})
	}
}

// writeMetaDiff runs the diff tool over the two builds' diff files and
// stores the output next to them. Best-effort like the other artifacts: a
// missing tool is skipped quietly, any other failure is logged and the
// report entry just lacks the file.
func (b *Builder) writeMetaDiff(crate, referenceFile, candidateFile string) string {
	if b.opts.DiffTool == "" || referenceFile == "" || candidateFile == "" {
		return ""
	}
	out, err := runDiffTool(b.opts.DiffTool, referenceFile, candidateFile)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			slog.Debug("diff tool not found, skipping meta diff", "tool", b.opts.DiffTool)
		} else {
			slog.Error("diff tool failed", "tool", b.opts.DiffTool, "err", err)
		}
		return ""
	}
	path := filepath.Join(b.diverged, artifactName(crate, "meta", "diff"))
	if err := appendFile(path, out); err != nil {
		slog.Error("failed to write meta diff", "path", path, "err", err)
		return ""
	}
	return path
}

// runDiffTool captures the tool's stdout, tolerating exit status 1: the
// conventional differences-found code for diff-like tools.
func runDiffTool(tool, a, b string) (string, error) {
	cmd := exec.Command(tool, a, b)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == 1) {
		return "", err
	}
	return buf.String(), nil
}

// recordOutcome updates one build's tally and writes its artifact files
// when enabled. Artifact writes are best-effort: a failed write is logged
// and the report entry just lacks the file.
func (b *Builder) recordOutcome(label string, res analyze.Result, out analyze.Outcome, tally *Tally) FmtOutput {
	fo := FmtOutput{Elapsed: fmt.Sprintf("%.2fs", out.Elapsed.Seconds())}
	switch out.Kind {
	case analyze.OutcomeNoDiff:
		tally.Successes++
	case analyze.OutcomeDiff:
		tally.Diffs++
		if b.opts.WriteOutputs {
			dir := b.nondiverged
			if res.Divergence.Diverged() {
				dir = b.diverged
			}
			path := filepath.Join(dir, artifactName(res.Item.Candidate.Name, label, "diff"))
			if err := appendFile(path, out.Diff); err != nil {
				slog.Error("failed to write diff output", "path", path, "err", err)
			} else {
				fo.DiffFile = path
			}
		}
	case analyze.OutcomeError:
		tally.Failures++
		if b.opts.WriteOutputs {
			path := filepath.Join(b.errors, artifactName(res.Item.Candidate.Name, label, "error.txt"))
			if err := appendFile(path, out.Message); err != nil {
				slog.Error("failed to write error output", "path", path, "err", err)
			} else {
				fo.ErrorFile = path
			}
		}
	}
	return fo
}

// Finish sorts retained reports by crate name and writes report.json and
// report.html. It returns the JSON report path.
func (b *Builder) Finish() (string, error) {
	sort.Slice(b.crates, func(i, j int) bool {
		return b.crates[i].CrateName < b.crates[j].CrateName
	})

	path := b.opts.ReportDest
	if path == "" {
		path = filepath.Join(b.base, "report.json")
	}
	payload := struct {
		NumDivergingDiffs   int           `json:"num_diverging_diffs"`
		NumCandidateSucc    int           `json:"num_candidate_successes"`
		NumCandidateDiffs   int           `json:"num_candidate_diffs"`
		NumCandidateFails   int           `json:"num_candidate_failures"`
		NumReferenceSucc    int           `json:"num_reference_successes"`
		NumReferenceDiffs   int           `json:"num_reference_diffs"`
		NumReferenceFails   int           `json:"num_reference_failures"`
		CrateReports        []CrateReport `json:"crate_reports"`
	}{
		NumDivergingDiffs: b.DivergingDiffs,
		NumCandidateSucc:  b.CandidateT.Successes,
		NumCandidateDiffs: b.CandidateT.Diffs,
		NumCandidateFails: b.CandidateT.Failures,
		NumReferenceSucc:  b.ReferenceT.Successes,
		NumReferenceDiffs: b.ReferenceT.Diffs,
		NumReferenceFails: b.ReferenceT.Failures,
		CrateReports:      b.crates,
	}
	if payload.CrateReports == nil {
		payload.CrateReports = []CrateReport{}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report to %s: %w", path, err)
	}
	if b.DivergingDiffs > 0 {
		slog.Info("found diverging diffs", "count", b.DivergingDiffs)
	} else {
		slog.Info("found no diverging diffs")
	}
	slog.Info("wrote report", "path", path)

	if err := b.writeHTML(filepath.Join(b.base, "report.html")); err != nil {
		return "", err
	}
	return path, nil
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// artifactName builds a filesystem-safe file name from the crate name; the
// name was already validated as path-safe during selection, but local
// sources bypass that, so unsafe characters are replaced here.
func artifactName(crate, label, ext string) string {
	safe := make([]rune, 0, len(crate))
	for _, r := range crate {
		switch r {
		case '/', '\\', ':':
			safe = append(safe, '_')
		default:
			safe = append(safe, r)
		}
	}
	return fmt.Sprintf("%s-%s.%s", string(safe), label, ext)
}
