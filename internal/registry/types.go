// Package registry streams the crates.io database dump and selects the
// most popular crates eligible for analysis.
package registry

// VersionsEntry is one row of the dump's versions table. It is transient:
// entries are inspected during selection and never retained.
type VersionsEntry struct {
	CrateID    uint64
	CrateSize  uint64
	Downloads  uint64
	Version    string
	Repository string
	Yanked     bool
}

// Candidate is a crate that survived filtering and made the top-K cut.
// Immutable after selection; consumed exactly once by the acquisition stage.
type Candidate struct {
	// Name is the crate name, validated as a single path component.
	Name string

	// CrateID is the registry's numeric crate identifier, used to reject
	// duplicate rows for the same crate.
	CrateID uint64

	// RepoURL is the validated https repository URL.
	RepoURL string

	// RepoDirName is the filesystem-safe clone directory name derived from
	// the repository URL's final path segment.
	RepoDirName string

	// Downloads is the ranking key.
	Downloads uint64
}
