package analyze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"fmtdrift/internal/fmtbuild"
)

// Invoker runs `cargo fmt --all --check` against one rustfmt build.
type Invoker struct {
	// Build selects the rustfmt binary and its toolchain lib directory.
	Build fmtbuild.Outputs

	// Config is an optional rustfmt config override, passed through as
	// `-- --config <value>`.
	Config string

	// Timeout bounds a single invocation; the process is killed when it
	// elapses.
	Timeout time.Duration
}

// Check formats the crate at dir in check mode and classifies the result.
// Exit 0 is agreement; exit 1 with output on stdout is a diff; everything
// else, including exit 1 with an empty stdout, is a failed run.
func (iv *Invoker) Check(ctx context.Context, dir string) Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, iv.Timeout)
	defer cancel()

	args := []string{"fmt", "--all", "--check"}
	if iv.Config != "" {
		args = append(args, "--", "--config", iv.Config)
	}
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = dir
	// The inherited RUSTUP_TOOLCHAIN would override the RUSTFMT selection,
	// so the environment is scrubbed the same way the build step scrubs it.
	cmd.Env = append(fmtbuild.EnvWithoutRustupToolchain(),
		"RUSTFMT="+iv.Build.BinaryPath,
		"LD_LIBRARY_PATH="+iv.Build.ToolchainLibPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		return Outcome{Kind: OutcomeNoDiff, Elapsed: elapsed}
	}
	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{
			Kind:    OutcomeError,
			Message: fmt.Sprintf("cargo fmt timed out after %s in %s", iv.Timeout, dir),
			Elapsed: elapsed,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stdout.Len() > 0 {
		return Outcome{Kind: OutcomeDiff, Diff: stdout.String(), Elapsed: elapsed}
	}
	return Outcome{
		Kind: OutcomeError,
		Message: fmt.Sprintf("cargo fmt failed in %s: %v\nstdout: %q\nstderr: %q",
			dir, err, stdout.String(), stderr.String()),
		Elapsed: elapsed,
	}
}
