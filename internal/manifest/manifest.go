// Package manifest inspects a crate workspace: does it have a top-level
// Cargo.toml, which member directories make up the workspace, and is it
// pinned to a specific toolchain.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"fmtdrift/internal/logging"
)

// Info is the result of inspecting one repository root.
type Info struct {
	// HasManifest is false when there is no top-level Cargo.toml; such
	// repositories are not analyzable.
	HasManifest bool

	// MemberRoots are the absolute workspace member directories, one
	// analysis unit each. A manifest without workspace members yields the
	// repository root itself.
	MemberRoots []string

	// PinnedToolchain is true when a rust-toolchain file is present; pinned
	// repositories build against arbitrary toolchains and are excluded.
	PinnedToolchain bool
}

type cargoManifest struct {
	Workspace *workspaceSection `toml:"workspace"`
}

type workspaceSection struct {
	Members        []string `toml:"members"`
	DefaultMembers []string `toml:"default-members"`
}

// Inspect reads the manifest at root and resolves workspace members,
// expanding glob members by listing matching subdirectories at call time.
func Inspect(root string) (Info, error) {
	raw, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if os.IsNotExist(err) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("reading Cargo.toml in %s: %w", root, err)
	}

	var m cargoManifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return Info{}, fmt.Errorf("parsing Cargo.toml in %s: %w", root, err)
	}

	info := Info{
		HasManifest:     true,
		PinnedToolchain: hasPinnedToolchain(root),
	}
	members := memberPatterns(m)
	if len(members) == 0 {
		info.MemberRoots = []string{root}
		return info, nil
	}
	for _, member := range members {
		roots, err := expandMember(root, member)
		if err != nil {
			return Info{}, err
		}
		info.MemberRoots = append(info.MemberRoots, roots...)
	}
	return info, nil
}

// memberPatterns applies cargo's precedence: default-members, when present,
// narrow the workspace.
func memberPatterns(m cargoManifest) []string {
	if m.Workspace == nil {
		return nil
	}
	if len(m.Workspace.DefaultMembers) > 0 {
		return m.Workspace.DefaultMembers
	}
	return m.Workspace.Members
}

func expandMember(root, member string) ([]string, error) {
	if !strings.ContainsAny(member, "*?[{") {
		return []string{filepath.Join(root, member)}, nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(member))
	if err != nil {
		return nil, fmt.Errorf("expanding workspace member glob %q in %s: %w", member, root, err)
	}
	var roots []string
	for _, match := range matches {
		full := filepath.Join(root, filepath.FromSlash(match))
		st, err := os.Stat(full)
		if err != nil {
			return nil, fmt.Errorf("inspecting glob member %s: %w", full, err)
		}
		if !st.IsDir() {
			logging.Trace("skipping non-directory workspace member match", "path", full)
			continue
		}
		roots = append(roots, full)
	}
	return roots, nil
}

func hasPinnedToolchain(root string) bool {
	for _, name := range []string{"rust-toolchain", "rust-toolchain.toml"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return true
		}
	}
	return false
}
