package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmtdrift/internal/acquire"
	"fmtdrift/internal/analyze"
	"fmtdrift/internal/registry"
)

func result(name string, candidate, reference analyze.Outcome) analyze.Result {
	return analyze.Result{
		Item: acquire.WorkItem{
			WorkspaceRoot: "/tmp/" + name,
			HeadBranch:    "main",
			Candidate:     registry.Candidate{Name: name, RepoURL: "https://github.com/o/" + name},
		},
		Candidate:  candidate,
		Reference:  reference,
		Divergence: analyze.Classify(candidate, reference),
	}
}

func clean() analyze.Outcome { return analyze.Outcome{Kind: analyze.OutcomeNoDiff, Elapsed: time.Second} }

func withDiff(d string) analyze.Outcome {
	return analyze.Outcome{Kind: analyze.OutcomeDiff, Diff: d, Elapsed: time.Second}
}

func withError(msg string) analyze.Outcome {
	return analyze.Outcome{Kind: analyze.OutcomeError, Message: msg, Elapsed: time.Second}
}

func TestBuilder_CreatesLayout(t *testing.T) {
	base := t.TempDir()
	_, err := NewBuilder(Options{OutputDir: base})
	require.NoError(t, err)
	for _, sub := range []string{"diverged", "nondiverged", "errors"} {
		info, err := os.Stat(filepath.Join(base, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBuilder_TalliesBothSides(t *testing.T) {
	b, err := NewBuilder(Options{OutputDir: t.TempDir()})
	require.NoError(t, err)

	b.Add(result("a", clean(), clean()))
	b.Add(result("b", withDiff("+x"), clean()))
	b.Add(result("c", withError("boom"), withDiff("+y")))

	assert.Equal(t, Tally{Successes: 1, Diffs: 1, Failures: 1}, b.CandidateT)
	assert.Equal(t, Tally{Successes: 2, Diffs: 1, Failures: 0}, b.ReferenceT)
	assert.Equal(t, 1, b.DivergingDiffs)
}

func TestBuilder_RetentionRules(t *testing.T) {
	t.Run("agreement dropped by default", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir()})
		require.NoError(t, err)
		b.Add(result("quiet", clean(), clean()))
		assert.Empty(t, b.crates)
	})

	t.Run("agreement kept when configured", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir(), IncludeNonDiverging: true})
		require.NoError(t, err)
		b.Add(result("quiet", clean(), clean()))
		assert.Len(t, b.crates, 1)
	})

	t.Run("divergence always kept", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir()})
		require.NoError(t, err)
		b.Add(result("loud", withDiff("+x"), clean()))
		require.Len(t, b.crates, 1)
		assert.True(t, b.crates[0].Diverged)
		assert.Equal(t, "candidate-only", b.crates[0].Class)
	})

	t.Run("new failure kept even without divergence", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir()})
		require.NoError(t, err)
		b.Add(result("broken", withError("x"), clean()))
		assert.Len(t, b.crates, 1)
	})
}

func TestBuilder_WritesArtifacts(t *testing.T) {
	base := t.TempDir()
	b, err := NewBuilder(Options{OutputDir: base, WriteOutputs: true})
	require.NoError(t, err)

	b.Add(result("div", withDiff("+diverging"), clean()))
	b.Add(result("agree", withDiff("+same"), withDiff("+same")))
	b.Add(result("bad", withError("exploded"), clean()))

	divFile := filepath.Join(base, "diverged", "div-candidate.diff")
	content, err := os.ReadFile(divFile)
	require.NoError(t, err)
	assert.Equal(t, "+diverging", string(content))

	agreeCand := filepath.Join(base, "nondiverged", "agree-candidate.diff")
	assert.FileExists(t, agreeCand)
	assert.FileExists(t, filepath.Join(base, "nondiverged", "agree-reference.diff"))

	errContent, err := os.ReadFile(filepath.Join(base, "errors", "bad-candidate.error.txt"))
	require.NoError(t, err)
	assert.Equal(t, "exploded", string(errContent))
}

// diffScript writes an executable stand-in for a diff tool that echoes its
// arguments and exits 1, the differences-found convention.
func diffScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakediff")
	script := "#!/bin/sh\necho \"meta $1 $2\"\nexit 1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestBuilder_MetaDiffWrittenWhenDiffsDisagree(t *testing.T) {
	base := t.TempDir()
	b, err := NewBuilder(Options{OutputDir: base, WriteOutputs: true, DiffTool: diffScript(t)})
	require.NoError(t, err)

	b.Add(result("ws", withDiff("+cand"), withDiff("+ref")))

	require.Len(t, b.crates, 1)
	meta := b.crates[0].MetaDiffFile
	require.Equal(t, filepath.Join(base, "diverged", "ws-meta.diff"), meta)
	content, err := os.ReadFile(meta)
	require.NoError(t, err)
	refFile := filepath.Join(base, "diverged", "ws-reference.diff")
	candFile := filepath.Join(base, "diverged", "ws-candidate.diff")
	assert.Equal(t, "meta "+refFile+" "+candFile+"\n", string(content))
}

func TestBuilder_MetaDiffSkipped(t *testing.T) {
	t.Run("no tool configured", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir(), WriteOutputs: true})
		require.NoError(t, err)
		b.Add(result("ws", withDiff("+cand"), withDiff("+ref")))
		require.Len(t, b.crates, 1)
		assert.Empty(t, b.crates[0].MetaDiffFile)
	})

	t.Run("tool not found", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir(), WriteOutputs: true, DiffTool: "no-such-diff-tool-on-path"})
		require.NoError(t, err)
		b.Add(result("ws", withDiff("+cand"), withDiff("+ref")))
		require.Len(t, b.crates, 1)
		assert.Empty(t, b.crates[0].MetaDiffFile)
	})

	t.Run("one-sided divergence has nothing to compare", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir(), WriteOutputs: true, DiffTool: diffScript(t)})
		require.NoError(t, err)
		b.Add(result("ws", withDiff("+cand"), clean()))
		require.Len(t, b.crates, 1)
		assert.Empty(t, b.crates[0].MetaDiffFile)
	})

	t.Run("suppressed outputs leave no diff files to compare", func(t *testing.T) {
		b, err := NewBuilder(Options{OutputDir: t.TempDir(), DiffTool: diffScript(t)})
		require.NoError(t, err)
		b.Add(result("ws", withDiff("+cand"), withDiff("+ref")))
		require.Len(t, b.crates, 1)
		assert.Empty(t, b.crates[0].MetaDiffFile)
	})
}

func TestBuilder_SuppressedArtifacts(t *testing.T) {
	base := t.TempDir()
	b, err := NewBuilder(Options{OutputDir: base})
	require.NoError(t, err)

	b.Add(result("div", withDiff("+x"), clean()))

	entries, err := os.ReadDir(filepath.Join(base, "diverged"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, b.crates, 1)
	assert.Empty(t, b.crates[0].Candidate.DiffFile)
}

func TestBuilder_MultiMemberDiffsAppend(t *testing.T) {
	base := t.TempDir()
	b, err := NewBuilder(Options{OutputDir: base, WriteOutputs: true})
	require.NoError(t, err)

	first := result("ws", withDiff("+member-a\n"), clean())
	second := result("ws", withDiff("+member-b\n"), clean())
	b.Add(first)
	b.Add(second)

	content, err := os.ReadFile(filepath.Join(base, "diverged", "ws-candidate.diff"))
	require.NoError(t, err)
	assert.Equal(t, "+member-a\n+member-b\n", string(content))
}

func TestBuilder_FinishWritesSortedJSONAndHTML(t *testing.T) {
	base := t.TempDir()
	b, err := NewBuilder(Options{OutputDir: base, IncludeNonDiverging: true})
	require.NoError(t, err)

	b.Add(result("zeta", withDiff("+z"), clean()))
	b.Add(result("alpha", clean(), clean()))

	path, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "report.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded struct {
		NumDivergingDiffs int `json:"num_diverging_diffs"`
		CrateReports      []struct {
			CrateName string `json:"crate_name"`
		} `json:"crate_reports"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded.NumDivergingDiffs)
	require.Len(t, decoded.CrateReports, 2)
	assert.Equal(t, "alpha", decoded.CrateReports[0].CrateName)
	assert.Equal(t, "zeta", decoded.CrateReports[1].CrateName)

	html, err := os.ReadFile(filepath.Join(base, "report.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "zeta")
	assert.Contains(t, string(html), "candidate-only")
}

func TestBuilder_ReportDestOverride(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "custom.json")
	b, err := NewBuilder(Options{OutputDir: t.TempDir(), ReportDest: dest})
	require.NoError(t, err)

	path, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.FileExists(t, dest)
}

func TestArtifactName_SanitizesSeparators(t *testing.T) {
	assert.Equal(t, "a_b-candidate.diff", artifactName("a/b", "candidate", "diff"))
}
