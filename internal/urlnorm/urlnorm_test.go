package urlnorm_test

import (
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/urlnorm"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()
	cases := []string{
		"https://example.com/a/b/index.html",
		"https://example.com//a//b///c",
		"https://example.com/page?x=1&amp;y=2&x=1",
		"https://example.com/page#frag",
		"https://example.com/a%26amp%3Bb?x=1",
		"not a url at all",
	}
	for _, c := range cases {
		once := urlnorm.Normalize(c)
		twice := urlnorm.Normalize(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", c)
	}
}

func TestNormalizeStripsIndexHTML(t *testing.T) {
	t.Parallel()
	got := urlnorm.Normalize("https://example.com/dir/index.html")
	assert.Equal(t, "https://example.com/dir/", got)
}

func TestNormalizeClearsFragment(t *testing.T) {
	t.Parallel()
	got := urlnorm.Normalize("https://example.com/a#section")
	assert.Equal(t, "https://example.com/a", got)
}

func TestNormalizeCollapsesSlashes(t *testing.T) {
	t.Parallel()
	got := urlnorm.Normalize("https://example.com//a//b")
	assert.Equal(t, "https://example.com/a/b", got)
}

func TestNormalizeDedupesQueryKeepingFirstOccurrenceAndOrder(t *testing.T) {
	t.Parallel()
	got := urlnorm.Normalize("https://example.com/p?b=2&a=1&b=2&c=3&a=1")
	assert.Equal(t, "https://example.com/p?b=2&a=1&c=3", got)
}

func TestNormalizeFixesEntityLeakage(t *testing.T) {
	t.Parallel()
	got := urlnorm.Normalize("https://example.com/p?x=1&amp;y=2")
	assert.Equal(t, "https://example.com/p?x=1&y=2", got)
}

func TestNormalizeStableAcrossDuplicateNoise(t *testing.T) {
	t.Parallel()
	a := urlnorm.Normalize("https://example.com/p?x=1&x=1")
	b := urlnorm.Normalize("https://example.com/p?x=1")
	assert.Equal(t, a, b)
}

func TestExtensionDefaultsToBin(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "bin", urlnorm.Extension("https://example.com/noext"))
}

func TestExtensionCaseInsensitive(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pdf", urlnorm.Extension("https://example.com/file.PDF"))
}

func TestExtensionIgnoresQueryAndFragment(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "csv", urlnorm.Extension("https://example.com/file.csv?x=1#y"))
}
