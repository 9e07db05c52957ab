// Package fmtbuild builds the two rustfmt binaries under comparison and
// locates the toolchain library path each needs at runtime.
package fmtbuild

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Outputs locates one usable rustfmt build.
type Outputs struct {
	// BinaryPath is the release rustfmt binary.
	BinaryPath string

	// ToolchainLibPath is the toolchain lib directory the binary needs on
	// LD_LIBRARY_PATH.
	ToolchainLibPath string
}

// BuildSequential builds the candidate and reference repos one after the
// other. Building them in parallel races concurrent toolchain downloads
// inside cargo, so the order is deliberate.
func BuildSequential(ctx context.Context, candidateRepo, referenceRepo string) (candidate, reference Outputs, err error) {
	candidate, err = Build(ctx, candidateRepo)
	if err != nil {
		return Outputs{}, Outputs{}, fmt.Errorf("building candidate rustfmt: %w", err)
	}
	reference, err = Build(ctx, referenceRepo)
	if err != nil {
		return Outputs{}, Outputs{}, fmt.Errorf("building reference rustfmt: %w", err)
	}
	return candidate, reference, nil
}

// Build compiles rustfmt from a source checkout and resolves its runtime
// library directory.
func Build(ctx context.Context, repo string) (Outputs, error) {
	if _, err := runCargo(ctx, repo, "build", "--release", "--bin", "rustfmt"); err != nil {
		return Outputs{}, fmt.Errorf("building rustfmt in %s: %w", repo, err)
	}

	binary := filepath.Join(repo, "target", "release", "rustfmt")
	if _, err := os.Stat(binary); err != nil {
		return Outputs{}, fmt.Errorf("expected rustfmt binary at %s: %w", binary, err)
	}

	libPath, err := locateToolchainLib(ctx, repo)
	if err != nil {
		return Outputs{}, fmt.Errorf("locating toolchain lib path: %w", err)
	}
	slog.Info("built rustfmt", "binary", binary, "toolchain_lib", libPath)
	return Outputs{BinaryPath: binary, ToolchainLibPath: libPath}, nil
}

// locateToolchainLib asks rustup for the repo's active toolchain and finds
// its lib directory, first under $HOME/.rustup, then under the system
// location the official docker images use.
func locateToolchainLib(ctx context.Context, repo string) (string, error) {
	out, err := runRustup(ctx, repo, "show", "active-toolchain")
	if err != nil {
		return "", err
	}
	toolchain, _, _ := strings.Cut(strings.TrimSpace(out), " ")
	if toolchain == "" {
		return "", fmt.Errorf("no toolchain in rustup output %q", out)
	}

	var tried []string
	if home, err := os.UserHomeDir(); err == nil {
		libDir := filepath.Join(home, ".rustup", "toolchains", toolchain, "lib")
		tried = append(tried, libDir)
		if _, err := os.Stat(libDir); err == nil {
			return libDir, nil
		}
		slog.Debug("toolchain lib not under home", "toolchain", toolchain, "path", libDir)
	}
	libDir := filepath.Join("/usr", "local", "rustup", "toolchains", toolchain, "lib")
	tried = append(tried, libDir)
	if _, err := os.Stat(libDir); err == nil {
		return libDir, nil
	}
	return "", fmt.Errorf("toolchain %s lib dir not found, tried %s", toolchain, strings.Join(tried, ", "))
}

func runCargo(ctx context.Context, dir string, args ...string) (string, error) {
	return runTool(ctx, dir, "cargo", args...)
}

func runRustup(ctx context.Context, dir string, args ...string) (string, error) {
	return runTool(ctx, dir, "rustup", args...)
}

// runTool executes a toolchain command with RUSTUP_TOOLCHAIN scrubbed: an
// inherited override would defeat the per-repo toolchain selection.
func runTool(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = EnvWithoutRustupToolchain()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w\nstdout: %q\nstderr: %q",
			name, strings.Join(args, " "), err, stdout.String(), stderr.String())
	}
	return stdout.String(), nil
}

// EnvWithoutRustupToolchain returns the process environment minus any
// RUSTUP_TOOLCHAIN override. Shared with the invocation path so both sides
// scrub identically.
func EnvWithoutRustupToolchain() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "RUSTUP_TOOLCHAIN=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
