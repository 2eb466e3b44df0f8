package artifact_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMetaFirstRowMergesIntoFirstRowOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "urls-level-3.json")

	rows := []artifact.Row{
		{"url": "https://h/a"},
		{"url": "https://h/b"},
	}
	require.NoError(t, artifact.Write(path, artifact.Meta{Level: 3, Kind: "urls"}, rows, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	decoded, meta, err := artifact.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.Level)
	assert.Equal(t, "urls", meta.Kind)
	require.Len(t, decoded, 2)
	assert.Equal(t, "https://h/a", decoded[0]["url"])
	assert.Equal(t, "https://h/b", decoded[1]["url"])
}

func TestWriteLegacyRepeatsMetaOnEveryRow(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "urls-level-3.json")

	rows := []artifact.Row{{"url": "https://h/a"}, {"url": "https://h/b"}}
	require.NoError(t, artifact.Write(path, artifact.Meta{Level: 3, Kind: "urls"}, rows, false))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	for _, row := range parsed {
		assert.Equal(t, float64(3), row["level"])
		assert.Equal(t, "urls", row["kind"])
	}
}

func TestWriteEmptyRemovesExistingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "urls-level-3.json")

	require.NoError(t, artifact.Write(path, artifact.Meta{Level: 3, Kind: "urls"}, []artifact.Row{{"url": "a"}}, true))
	require.FileExists(t, path)

	require.NoError(t, artifact.Write(path, artifact.Meta{Level: 3, Kind: "urls"}, nil, true))
	assert.NoFileExists(t, path)
}

func TestMetaFirstAndLegacyAreIsomorphic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rows := []artifact.Row{{"url": "https://h/a"}, {"url": "https://h/b"}, {"url": "https://h/c"}}
	meta := artifact.Meta{Level: 2, Kind: "urls"}

	metaPath := filepath.Join(dir, "meta.json")
	legacyPath := filepath.Join(dir, "legacy.json")
	require.NoError(t, artifact.Write(metaPath, meta, rows, true))
	require.NoError(t, artifact.Write(legacyPath, meta, rows, false))

	metaData, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	legacyData, err := os.ReadFile(legacyPath)
	require.NoError(t, err)

	decodedMeta, m1, err := artifact.Decode(metaData)
	require.NoError(t, err)
	decodedLegacy, m2, err := artifact.Decode(legacyData)
	require.NoError(t, err)

	assert.Equal(t, m1, m2)
	assert.Equal(t, decodedMeta, decodedLegacy)
}

func TestWriteChunkedSplitsAndWritesManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := filepath.Join(dir, "files-level-1")

	rows := make([]artifact.Row, 5)
	for i := range rows {
		rows[i] = artifact.Row{"url": i}
	}

	manifest, err := artifact.WriteChunked(base, artifact.Meta{Level: 1, Kind: "files"}, rows, 2, true)
	require.NoError(t, err)

	assert.Equal(t, 5, manifest.Total)
	assert.Equal(t, 2, manifest.ChunkSize)
	require.Len(t, manifest.Parts, 3)
	assert.Equal(t, 2, manifest.Parts[0].Count)
	assert.Equal(t, 2, manifest.Parts[1].Count)
	assert.Equal(t, 1, manifest.Parts[2].Count)

	for _, p := range manifest.Parts {
		require.FileExists(t, p.Path)
	}
	require.FileExists(t, base+".parts.json")
}

func TestWriteChunkedSumEqualsUnchunked(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := filepath.Join(dir, "files-level-1")

	rows := make([]artifact.Row, 7)
	for i := range rows {
		rows[i] = artifact.Row{"url": i}
	}

	manifest, err := artifact.WriteChunked(base, artifact.Meta{Level: 1, Kind: "files"}, rows, 3, false)
	require.NoError(t, err)

	sum := 0
	for _, p := range manifest.Parts {
		sum += p.Count
	}
	assert.Equal(t, len(rows), sum)
}

func TestWriteChunkedEmptyRemovesPriorParts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	base := filepath.Join(dir, "files-level-1")

	rows := []artifact.Row{{"url": "a"}, {"url": "b"}, {"url": "c"}}
	manifest, err := artifact.WriteChunked(base, artifact.Meta{Level: 1, Kind: "files"}, rows, 1, true)
	require.NoError(t, err)
	require.Len(t, manifest.Parts, 3)
	for _, p := range manifest.Parts {
		require.FileExists(t, p.Path)
	}

	_, err = artifact.WriteChunked(base, artifact.Meta{Level: 1, Kind: "files"}, nil, 1, true)
	require.NoError(t, err)

	for _, p := range manifest.Parts {
		assert.NoFileExists(t, p.Path)
	}
	assert.NoFileExists(t, base+".parts.json")
}
