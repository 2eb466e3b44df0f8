package probe_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/probe"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*probe.Service, *store.Store) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(root, "example.com")
	require.NoError(t, err)
	return &probe.Service{Store: st, Clock: clock.System{}, MetaFirstRow: true}, st
}

func level(l int) *int { return &l }

func TestIngestFirstProbeIsAlwaysChanged(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)

	result, err := svc.Ingest(probe.Request{
		URL:  "https://h/f.pdf",
		Head: model.Signature{ETag: "v1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "v1", result.Signature.ETag)

	entry, ok := st.Probe("https://h/f.pdf")
	require.True(t, ok)
	assert.Equal(t, "v1", entry.Signature.ETag)
	assert.True(t, entry.Head)
}

func TestIngestPrefersHeadOverGetRange(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	result, err := svc.Ingest(probe.Request{
		URL:      "https://h/f.pdf",
		Head:     model.Signature{ETag: "from-head"},
		GetRange: model.Signature{ETag: "from-range"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-head", result.Signature.ETag)
}

func TestIngestFallsBackToGetRangeWhenHeadEmpty(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	result, err := svc.Ingest(probe.Request{
		URL:      "https://h/f.pdf",
		GetRange: model.Signature{ETag: "from-range"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-range", result.Signature.ETag)
}

func TestIngestUnchangedSignatureReportsNoChange(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t)

	req := probe.Request{URL: "https://h/f.pdf", Head: model.Signature{ETag: "v1", ContentLength: 10}}
	_, err := svc.Ingest(req)
	require.NoError(t, err)

	result, err := svc.Ingest(req)
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestIngestChangedSignatureEmitsDiffArtifacts(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	tree := st.Tree()

	filesLevelPath := artifact.BasePath(tree.ArtifactsDir, "files-level-2") + ".json"
	require.NoError(t, artifact.Write(filesLevelPath, artifact.Meta{Level: 2, Kind: "files"},
		[]artifact.Row{{"url": "https://h/f.pdf", "ext": "pdf", "source_page_url": "https://h/a"}}, true))

	_, err := svc.Ingest(probe.Request{URL: "https://h/f.pdf", Level: level(2), Head: model.Signature{ETag: "v1"}})
	require.NoError(t, err)

	result, err := svc.Ingest(probe.Request{URL: "https://h/f.pdf", Level: level(2), Head: model.Signature{ETag: "v2"}})
	require.NoError(t, err)
	assert.True(t, result.Changed)

	metaDiffRows := readRows(t, artifact.BasePath(tree.ArtifactsDir, "files-meta-diff-level-2")+".json")
	require.Len(t, metaDiffRows, 1)
	assert.Equal(t, "https://h/f.pdf", metaDiffRows[0]["url"])
	assert.Equal(t, "modified", metaDiffRows[0]["status"])

	diffRows := readRows(t, artifact.BasePath(tree.ArtifactsDir, "files-diff-level-2")+".json")
	require.Len(t, diffRows, 1)
	assert.Equal(t, "https://h/f.pdf", diffRows[0]["url"])
	assert.Equal(t, "pdf", diffRows[0]["ext"])
	assert.Equal(t, "https://h/a", diffRows[0]["source_page_url"])
}

func TestIngestWithoutLevelSkipsDiffArtifacts(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	tree := st.Tree()

	_, err := svc.Ingest(probe.Request{URL: "https://h/f.pdf", Head: model.Signature{ETag: "v1"}})
	require.NoError(t, err)
	_, err = svc.Ingest(probe.Request{URL: "https://h/f.pdf", Head: model.Signature{ETag: "v2"}})
	require.NoError(t, err)

	_, statErr := os.Stat(artifact.BasePath(tree.ArtifactsDir, "files-meta-diff-level-0") + ".json")
	assert.True(t, os.IsNotExist(statErr))
}

func TestIngestAppendsRawLogLine(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)

	_, err := svc.Ingest(probe.Request{URL: "https://h/f.pdf", Head: model.Signature{ETag: "v1"}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(st.Tree().MetaDir, "meta_probes.jsonl"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &rec))
	assert.Equal(t, "https://h/f.pdf", rec["url"])
}

func readRows(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	return rows
}
