// Package vcs shells out to git for clone, branch discovery and resync.
// All invocations run with remote-interaction prompts disabled so a missing
// credential fails instead of hanging the pipeline.
package vcs

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

// Git runs git against one configured remote name.
type Git struct {
	Remote string
}

func New() *Git {
	return &Git{Remote: "origin"}
}

// EnsurePresent makes sure a checkout exists at path, shallow-cloning when
// the directory is missing. An existing directory is assumed to be a prior
// run's clone and is not re-validated against repoURL.
func (g *Git) EnsurePresent(ctx context.Context, path, repoURL string) error {
	if _, err := os.Stat(path); err == nil {
		slog.Debug("found existing directory, skipping clone", "path", path)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking if %s exists: %w", path, err)
	}
	slog.Debug("cloning", "url", repoURL, "path", path)
	if _, err := runGit(ctx, "", "clone", "--depth", "1", repoURL, path); err != nil {
		return fmt.Errorf("cloning %s to %s: %w", repoURL, path, err)
	}
	return nil
}

// DefaultBranch asks the remote which branch HEAD points at.
func (g *Git) DefaultBranch(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "remote", "show", g.Remote)
	if err != nil {
		return "", fmt.Errorf("querying remote head branch in %s: %w", path, err)
	}
	branch, err := parseHeadBranch(out)
	if err != nil {
		return "", fmt.Errorf("querying remote head branch in %s: %w", path, err)
	}
	return branch, nil
}

// OriginURL reads the checkout's configured remote URL.
func (g *Git) OriginURL(ctx context.Context, path string) (string, error) {
	out, err := runGit(ctx, path, "remote", "get-url", g.Remote)
	if err != nil {
		return "", fmt.Errorf("querying remote url in %s: %w", path, err)
	}
	return strings.TrimSpace(out), nil
}

// HardResetTo fetches the remote and forces the checkout to match the given
// branch exactly.
func (g *Git) HardResetTo(ctx context.Context, path, branch string) error {
	gitDir := filepath.Join(path, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return fmt.Errorf("refusing to reset non-git directory %s: %w", path, err)
	}
	if _, err := runGit(ctx, path, "fetch", g.Remote); err != nil {
		return fmt.Errorf("fetching %s in %s: %w", g.Remote, path, err)
	}
	ref := fmt.Sprintf("%s/%s", g.Remote, branch)
	if _, err := runGit(ctx, path, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("resetting %s to %s: %w", path, ref, err)
	}
	slog.Debug("synced checkout", "path", path, "ref", ref)
	return nil
}

func parseHeadBranch(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if _, after, found := strings.Cut(line, "HEAD branch:"); found {
			return strings.TrimSpace(after), nil
		}
	}
	return "", fmt.Errorf("no HEAD branch line in remote show output: %q", output)
}

// runGit executes git with prompts disabled, returning stdout. A non-zero
// exit is an error carrying both output streams for the log.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w\nstdout: %q\nstderr: %q",
			strings.Join(args, " "), err, stdout.String(), stderr.String())
	}
	return stdout.String(), nil
}
