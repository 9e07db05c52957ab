package registry

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id, downloads uint64) VersionsEntry {
	return VersionsEntry{
		CrateID:    id,
		CrateSize:  50_000,
		Downloads:  downloads,
		Repository: fmt.Sprintf("https://github.com/owner/repo-%d", id),
	}
}

func TestTopK_KeepsHighestDownloads(t *testing.T) {
	c := NewTopKConsumer(SelectOpts{MaxCandidates: 2, MinSize: 1})

	for i, dl := range []uint64{10, 50, 30} {
		keep, err := c.Consume(fmt.Sprintf("crate-%d", i), entry(uint64(i+1), dl))
		require.NoError(t, err)
		require.True(t, keep)
	}

	got := c.Candidates()
	require.Len(t, got, 2)
	downloads := []uint64{got[0].Downloads, got[1].Downloads}
	sort.Slice(downloads, func(i, j int) bool { return downloads[i] < downloads[j] })
	assert.Equal(t, []uint64{30, 50}, downloads)
}

func TestTopK_FewerEligibleThanK(t *testing.T) {
	c := NewTopKConsumer(SelectOpts{MaxCandidates: 10, MinSize: 1})
	_, err := c.Consume("only", entry(1, 5))
	require.NoError(t, err)
	assert.Len(t, c.Candidates(), 1)
}

func TestTopK_DuplicateIDsNeverBothSurvive(t *testing.T) {
	c := NewTopKConsumer(SelectOpts{MaxCandidates: 5, MinSize: 1})

	_, err := c.Consume("dup", entry(7, 100))
	require.NoError(t, err)
	// Same crate id again, e.g. another published version.
	_, err = c.Consume("dup", entry(7, 200))
	require.NoError(t, err)

	got := c.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(100), got[0].Downloads, "first accepted row wins while its id is present")
}

func TestTopK_EvictionFreesID(t *testing.T) {
	c := NewTopKConsumer(SelectOpts{MaxCandidates: 1, MinSize: 1})

	_, err := c.Consume("small", entry(1, 10))
	require.NoError(t, err)
	_, err = c.Consume("big", entry(2, 20))
	require.NoError(t, err)
	// id 1 was evicted, so it may be accepted again.
	_, err = c.Consume("small-again", entry(1, 30))
	require.NoError(t, err)

	got := c.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, "small-again", got[0].Name)
}

func TestTopK_TieKeepsIncumbent(t *testing.T) {
	c := NewTopKConsumer(SelectOpts{MaxCandidates: 1, MinSize: 1})

	_, err := c.Consume("first", entry(1, 10))
	require.NoError(t, err)
	_, err = c.Consume("second", entry(2, 10))
	require.NoError(t, err)

	got := c.Candidates()
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Name)
}

func TestTopK_Filters(t *testing.T) {
	tests := []struct {
		name     string
		opts     SelectOpts
		crate    string
		entry    VersionsEntry
		accepted bool
	}{
		{
			name:     "below min size",
			opts:     SelectOpts{MaxCandidates: 5, MinSize: 100_000},
			crate:    "tiny",
			entry:    entry(1, 10),
			accepted: false,
		},
		{
			name:     "excluded crate name",
			opts:     SelectOpts{MaxCandidates: 5, MinSize: 1, ExcludeNameContains: []string{"sys"}},
			crate:    "libfoo-sys",
			entry:    entry(1, 10),
			accepted: false,
		},
		{
			name:     "excluded repository",
			opts:     SelectOpts{MaxCandidates: 5, MinSize: 1, ExcludeRepoContains: []string{"owner/repo-1"}},
			crate:    "foo",
			entry:    entry(1, 10),
			accepted: false,
		},
		{
			name:  "invalid repository url",
			opts:  SelectOpts{MaxCandidates: 5, MinSize: 1},
			crate: "foo",
			entry: VersionsEntry{CrateID: 1, CrateSize: 50_000, Downloads: 10, Repository: "git://github.com/a/b"},

			accepted: false,
		},
		{
			name:     "path-unsafe crate name",
			opts:     SelectOpts{MaxCandidates: 5, MinSize: 1},
			crate:    "../escape",
			entry:    entry(1, 10),
			accepted: false,
		},
		{
			name:     "eligible",
			opts:     SelectOpts{MaxCandidates: 5, MinSize: 1},
			crate:    "serde",
			entry:    entry(1, 10),
			accepted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewTopKConsumer(tt.opts)
			keep, err := c.Consume(tt.crate, tt.entry)
			require.NoError(t, err)
			assert.True(t, keep, "filtering never ends the scan")
			assert.Equal(t, tt.accepted, len(c.Candidates()) == 1)
		})
	}
}

func TestValidateRepo(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
		dir     string
	}{
		{raw: "https://github.com/serde-rs/serde", dir: "serde"},
		{raw: "http://github.com/serde-rs/serde", wantErr: true},
		{raw: "https://example.com/serde-rs/serde", wantErr: true},
		{raw: "https://github.com/serde-rs", wantErr: true},
		{raw: "https://github.com/serde-rs/serde/tree/main", wantErr: true},
		{raw: "https://github.com//serde", wantErr: true},
		{raw: "not a url at all ::", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, dir, err := ValidateRepo(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dir, dir)
		})
	}
}

func TestValidatePathComponent(t *testing.T) {
	assert.NoError(t, ValidatePathComponent("serde"))
	assert.NoError(t, ValidatePathComponent("tokio-util"))
	assert.Error(t, ValidatePathComponent(""))
	assert.Error(t, ValidatePathComponent("a/b"))
	assert.Error(t, ValidatePathComponent(`a\b`))
	assert.Error(t, ValidatePathComponent(".."))
	assert.Error(t, ValidatePathComponent("."))
}
