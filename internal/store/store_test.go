package store_test

import (
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInitializesEmptyState(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	assert.Empty(t, s.Registry())
	assert.Empty(t, s.LevelNumbers())
}

func TestSetLevelPersistsAndReopens(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	level := model.Level{Visited: []string{"https://example.com/a"}}
	require.NoError(t, s.SetLevel(1, level))

	reopened, err := store.Open(root, "example.com")
	require.NoError(t, err)
	assert.Equal(t, level, reopened.Level(1))
}

func TestPutHashRecordAndLookup(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	rec := model.HashRecord{SHA256: "abc", SavedTo: "downloads/example.com/f.pdf"}
	require.NoError(t, s.PutHashRecord(rec))

	got, ok := s.HashRecord("abc")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestAppendManifestSkipsDuplicateEntry(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	entry := model.ManifestEntry{SHA256: "abc", SavedTo: "downloads/example.com/f.pdf"}
	added, err := s.AppendManifest(1, entry)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AppendManifest(1, entry)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, s.Manifest(1), 1)
}

func TestManifestLevelNumbersReflectsRecordedLevels(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	_, err = s.AppendManifest(1, model.ManifestEntry{SHA256: "abc", SavedTo: "downloads/example.com/f.pdf"})
	require.NoError(t, err)
	_, err = s.AppendManifest(3, model.ManifestEntry{SHA256: "def", SavedTo: "downloads/example.com/g.pdf"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 3}, s.ManifestLevelNumbers())
}

func TestPutProbePersists(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	entry := model.ProbeEntry{LastSeenTS: "t1", Signature: model.Signature{ETag: "x"}}
	require.NoError(t, s.PutProbe("https://example.com/a", entry))

	reopened, err := store.Open(root, "example.com")
	require.NoError(t, err)
	got, ok := reopened.Probe("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestPutTermAndResetTerms(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	order := model.TermOrder{OfficialOrder: map[string]string{"1": "Alpha"}}
	require.NoError(t, s.PutTerm("term1", order))
	assert.Equal(t, order, s.Terms()["term1"])

	require.NoError(t, s.ResetTerms())
	assert.Empty(t, s.Terms())
}

func TestReplaceStateOverwritesLevels(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	s, err := store.Open(root, "example.com")
	require.NoError(t, err)

	require.NoError(t, s.SetLevel(1, model.Level{Visited: []string{"a"}}))
	require.NoError(t, s.ReplaceState(map[int]model.Level{2: {Visited: []string{"b"}}}))

	assert.Empty(t, s.Level(1).Visited)
	assert.Equal(t, []string{"b"}, s.Level(2).Visited)
}
