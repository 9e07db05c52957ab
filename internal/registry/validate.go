package registry

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Repository metadata in the dump is unvalidated user input; anything that
// ends up in a filesystem path goes through these checks first.

var allowedHosts = map[string]bool{
	"github.com": true,
}

// ValidateRepo checks that raw parses as an https URL on an allow-listed
// host with an owner/repo path, and returns the canonical URL plus the
// validated repo path component used as the clone directory name.
func ValidateRepo(raw string) (repoURL, dirName string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing repository url: %w", err)
	}
	if u.Scheme != "https" {
		return "", "", fmt.Errorf("repository url must be https, got %q", u.Scheme)
	}
	if !allowedHosts[u.Host] {
		return "", "", fmt.Errorf("not a recognized forge: %q", u.Host)
	}
	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("repository url path must be exactly owner/repo, got %q", u.Path)
	}
	if err := ValidatePathComponent(segments[1]); err != nil {
		return "", "", fmt.Errorf("validating repository path: %w", err)
	}
	return u.String(), segments[1], nil
}

// ValidatePathComponent rejects anything that is not a single, local,
// normal path component.
func ValidatePathComponent(s string) error {
	if s == "" {
		return fmt.Errorf("empty path component")
	}
	if strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("path component %q contains a separator", s)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("path component %q is relative", s)
	}
	if !filepath.IsLocal(s) {
		return fmt.Errorf("path component %q is not local", s)
	}
	return nil
}
