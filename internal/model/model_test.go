package model_test

import (
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestMergePreferringPrefersNonNullSourcePage(t *testing.T) {
	t.Parallel()
	existing := model.FileCandidate{URL: "https://h/f.pdf", Ext: "pdf"}
	incoming := model.FileCandidate{URL: "https://h/f.pdf", Ext: "pdf", SourcePageURL: "https://h/a"}

	got := model.MergePreferring(existing, incoming)
	assert.Equal(t, "https://h/a", got.SourcePageURL)
}

func TestMergePreferringPrefersNonBinExt(t *testing.T) {
	t.Parallel()
	existing := model.FileCandidate{URL: "https://h/f", Ext: "bin"}
	incoming := model.FileCandidate{URL: "https://h/f", Ext: "pdf"}

	got := model.MergePreferring(existing, incoming)
	assert.Equal(t, "pdf", got.Ext)
}

func TestMergePreferringKeepsExistingWhenIncomingWorse(t *testing.T) {
	t.Parallel()
	existing := model.FileCandidate{URL: "https://h/f", Ext: "pdf", SourcePageURL: "https://h/a"}
	incoming := model.FileCandidate{URL: "https://h/f", Ext: "bin"}

	got := model.MergePreferring(existing, incoming)
	assert.Equal(t, "pdf", got.Ext)
	assert.Equal(t, "https://h/a", got.SourcePageURL)
}

func TestHashRecordAddSourceDedupesByIdentity(t *testing.T) {
	t.Parallel()
	var r model.HashRecord

	added := r.AddSource(model.SourceObservation{URL: "https://h/a", Level: 1, TS: "t1"})
	assert.True(t, added)

	added = r.AddSource(model.SourceObservation{URL: "https://h/a", Level: 1, TS: "t2"})
	assert.False(t, added, "same (url, source_page_url, level) triple must be idempotent")
	assert.Len(t, r.Sources, 1)

	added = r.AddSource(model.SourceObservation{URL: "https://h/a", Level: 2, TS: "t3"})
	assert.True(t, added)
	assert.Len(t, r.Sources, 2)
}

func TestHashRecordBestSourcePrefersMostRecentTS(t *testing.T) {
	t.Parallel()
	r := model.HashRecord{Sources: []model.SourceObservation{
		{URL: "a", TS: "2024-01-01T00:00:00Z"},
		{URL: "b", TS: "2024-03-01T00:00:00Z"},
		{URL: "c", TS: "2024-02-01T00:00:00Z"},
	}}

	best, ok := r.BestSource()
	assert.True(t, ok)
	assert.Equal(t, "b", best.URL)
}

func TestHashRecordBestSourceEmptyReturnsFalse(t *testing.T) {
	t.Parallel()
	var r model.HashRecord
	_, ok := r.BestSource()
	assert.False(t, ok)
}

func TestSignatureChanged(t *testing.T) {
	t.Parallel()
	a := model.Signature{ETag: "abc", ContentLength: 10}
	b := model.Signature{ETag: "abc", ContentLength: 10}
	assert.False(t, a.Changed(b))

	b.ContentLength = 11
	assert.True(t, a.Changed(b))
}

func TestSignatureHasAny(t *testing.T) {
	t.Parallel()
	assert.False(t, model.Signature{}.HasAny())
	assert.True(t, model.Signature{ETag: "x"}.HasAny())
	assert.True(t, model.Signature{ContentLength: 1}.HasAny())
}

func TestLevelFileManifestContains(t *testing.T) {
	t.Parallel()
	m := model.LevelFileManifest{{SHA256: "abc", SavedTo: "downloads/x/f.pdf"}}
	assert.True(t, m.Contains(model.ManifestEntry{SHA256: "abc", SavedTo: "downloads/x/f.pdf"}))
	assert.False(t, m.Contains(model.ManifestEntry{SHA256: "abc", SavedTo: "downloads/x/g.pdf"}))
}
