package frontier_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/frontier"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*frontier.Engine, *store.Store) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(root, "example.com")
	require.NoError(t, err)
	return frontier.New(st, 0, true), st
}

func readRows(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	return rows
}

func rowURLs(rows []map[string]any) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if u, ok := r["url"].(string); ok {
			out = append(out, u)
		}
	}
	return out
}

// TestMergeDedupesAcrossLevels mirrors the worked example in spec §4.3 and
// its usage example: a prior level-1 visiting "root" and discovering "a",
// then a level-2 dedupe call discovering "a" (already seen) and "b" (new),
// plus a new file. Only "b" should survive into the next frontier.
func TestMergeDedupesAcrossLevels(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{
		Level:           1,
		Visited:         []string{"https://h/root"},
		DiscoveredPages: []string{"https://h/a"},
	})
	require.NoError(t, err)

	result, err := eng.Merge(frontier.Request{
		Level:           2,
		Visited:         []string{"https://h/a"},
		DiscoveredPages: []string{"https://h/b", "https://h/a"},
		DiscoveredFiles: []model.FileCandidate{{URL: "https://h/f.pdf", Ext: "pdf", SourcePageURL: "https://h/a"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://h/b"}, result.NextFrontier)
	require.Len(t, result.NewFiles, 1)
	assert.Equal(t, "https://h/f.pdf", result.NewFiles[0].URL)

	tree := st.Tree()
	urlRows := readRows(t, filepath.Join(tree.ArtifactsDir, "urls-level-3.json"))
	assert.Equal(t, []string{"https://h/b"}, rowURLs(urlRows))

	fileRows := readRows(t, filepath.Join(tree.ArtifactsDir, "files-level-2.json"))
	require.Len(t, fileRows, 1)
	assert.Equal(t, "https://h/f.pdf", fileRows[0]["url"])
}

func TestMergeNonReplaceUnionsWithExistingLevel(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{Level: 1, DiscoveredPages: []string{"https://h/a"}})
	require.NoError(t, err)
	_, err = eng.Merge(frontier.Request{Level: 1, DiscoveredPages: []string{"https://h/b"}})
	require.NoError(t, err)

	lvl := st.Level(1)
	assert.ElementsMatch(t, []string{"https://h/a", "https://h/b"}, lvl.DiscoveredPages)
}

func TestMergeReplaceOverwritesLevel(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{Level: 1, DiscoveredPages: []string{"https://h/a"}})
	require.NoError(t, err)
	_, err = eng.Merge(frontier.Request{
		Level:           1,
		DiscoveredPages: []string{"https://h/b"},
		Options:         frontier.Options{Replace: true},
	})
	require.NoError(t, err)

	lvl := st.Level(1)
	assert.Equal(t, []string{"https://h/b"}, lvl.DiscoveredPages)
}

func TestMergeFileCandidatesPreferMoreSpecificFields(t *testing.T) {
	t.Parallel()
	eng, _ := newEngine(t)

	result, err := eng.Merge(frontier.Request{
		Level: 1,
		DiscoveredFiles: []model.FileCandidate{
			{URL: "https://h/f.pdf", Ext: "bin"},
			{URL: "https://h/f.pdf", Ext: "pdf", SourcePageURL: "https://h/page"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Level.DiscoveredFiles, 1)
	assert.Equal(t, "pdf", result.Level.DiscoveredFiles[0].Ext)
	assert.Equal(t, "https://h/page", result.Level.DiscoveredFiles[0].SourcePageURL)
}

func TestMergeUpdateModeEmitsDiffAndRemoved(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{
		Level:           1,
		DiscoveredPages: []string{"https://h/a", "https://h/b"},
		Options:         frontier.Options{Replace: true, UpdateMode: true},
	})
	require.NoError(t, err)

	_, err = eng.Merge(frontier.Request{
		Level:           1,
		DiscoveredPages: []string{"https://h/b", "https://h/c"},
		Options:         frontier.Options{Replace: true, UpdateMode: true},
	})
	require.NoError(t, err)

	tree := st.Tree()
	added := readRows(t, filepath.Join(tree.ArtifactsDir, "urls-diff-level-2.json"))
	assert.Equal(t, []string{"https://h/c"}, rowURLs(added))

	removed := readRows(t, filepath.Join(tree.ArtifactsDir, "urls-removed-level-2.json"))
	assert.Equal(t, []string{"https://h/a"}, rowURLs(removed))
}

func TestMergePruneDropsUnconfirmedEntries(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{Level: 1, Visited: []string{"https://h/a"}, DiscoveredPages: []string{"https://h/b"}})
	require.NoError(t, err)

	_, err = eng.Merge(frontier.Request{
		Level:           1,
		Visited:         []string{"https://h/a"},
		DiscoveredPages: []string{"https://h/c"},
		Options:         frontier.Options{Prune: true},
	})
	require.NoError(t, err)

	lvl := st.Level(1)
	assert.ElementsMatch(t, []string{"https://h/c"}, lvl.DiscoveredPages)
	assert.ElementsMatch(t, []string{"https://h/a"}, lvl.Visited)
}

func TestMergeEmptyNextFrontierRemovesArtifactFile(t *testing.T) {
	t.Parallel()
	eng, st := newEngine(t)

	_, err := eng.Merge(frontier.Request{Level: 1, Visited: []string{"https://h/a"}, DiscoveredPages: []string{"https://h/a"}})
	require.NoError(t, err)

	tree := st.Tree()
	_, statErr := os.Stat(filepath.Join(tree.ArtifactsDir, "urls-level-2.json"))
	assert.True(t, os.IsNotExist(statErr))
}
