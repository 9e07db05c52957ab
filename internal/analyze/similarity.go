package analyze

import "github.com/agext/levenshtein"

// similarErrors reports whether two failure messages look like the same
// underlying problem. Normalized levenshtein above 0.9 gets pretty good
// results in practice.
func similarErrors(a, b string) bool {
	return levenshtein.Similarity(a, b, nil) > 0.9
}
