package routing_test

import (
	"strings"
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"

	"github.com/stretchr/testify/assert"
)

func TestFilenamePrefersExplicitOverride(t *testing.T) {
	t.Parallel()
	got := routing.Filename("https://h/a/b.pdf", "custom.pdf")
	assert.Equal(t, "custom.pdf", got)
}

func TestFilenameDerivesFromURLBasename(t *testing.T) {
	t.Parallel()
	got := routing.Filename("https://h/a/results.pdf?x=1", "")
	assert.Equal(t, "results.pdf", got)
}

func TestFilenameFallsBackToDownloadBin(t *testing.T) {
	t.Parallel()
	got := routing.Filename("https://h/", "")
	assert.Equal(t, "download.bin", got)
}

func TestFilenameDecodesDoubleEncodedNames(t *testing.T) {
	t.Parallel()
	// "result%20a.pdf" double-encoded: "%2520" decodes once to "%20", twice to " ".
	got := routing.Filename("https://h/result%2520a.pdf", "")
	assert.Equal(t, "result a.pdf", got)
}

func TestFilenameSanitizesPathSeparators(t *testing.T) {
	t.Parallel()
	got := routing.Filename("https://h/x", "a/b\\c.pdf")
	assert.Equal(t, "a_b_c.pdf", got)
}

func TestFilenameCapsLength(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 500) + ".pdf"
	got := routing.Filename("https://h/x", long)
	assert.LessOrEqual(t, len(got), 500)
}

func TestJoinPathWithSubBucket(t *testing.T) {
	t.Parallel()
	got := routing.JoinPath("/root/downloads/h", routing.Result{Bucket: "results", SubBucket: "term-2020", Filename: "f.pdf"})
	assert.Equal(t, "/root/downloads/h/results/term-2020/f.pdf", got)
}

func TestJoinPathUnresolvedBucketGoesToDomainRoot(t *testing.T) {
	t.Parallel()
	got := routing.JoinPath("/root/downloads/h", routing.Result{Bucket: routing.UnresolvedBucket, Filename: "f.pdf"})
	assert.Equal(t, "/root/downloads/h/f.pdf", got)
}

func TestQuarantinePathBuildsBadSubtree(t *testing.T) {
	t.Parallel()
	got := routing.QuarantinePath("/root/downloads/h", "results", "file.pdf", "bad_pdf_got_html")
	assert.Equal(t, "/root/downloads/h/results/_bad/file__bad_pdf_got_html.html", got)
}

func TestElectoralRouteIsPure(t *testing.T) {
	t.Parallel()
	e := routing.Electoral{}
	in := routing.Input{FileURL: "https://h/2020/results.pdf", Ext: "pdf"}

	a := e.Route(in)
	b := e.Route(in)
	assert.Equal(t, a, b)
}

func TestElectoralRouteClassifiesByElection(t *testing.T) {
	t.Parallel()
	e := routing.Electoral{}
	got := e.Route(routing.Input{FileURL: "https://h/2021/by-election/results.pdf", Ext: "pdf"})
	assert.Equal(t, "by-elections", got.Bucket)
}

func TestElectoralRouteFallsBackToTermLevelWhenElectorateUnknown(t *testing.T) {
	t.Parallel()
	e := routing.Electoral{}
	got := e.Route(routing.Input{FileURL: "https://h/2020/results.pdf", Ext: "pdf"})
	assert.Equal(t, got.TermKey, got.SubBucket)
}

func TestElectoralRouteUnresolvedWithoutYear(t *testing.T) {
	t.Parallel()
	e := routing.Electoral{}
	got := e.Route(routing.Input{FileURL: "https://h/results.pdf", Ext: "pdf"})
	assert.True(t, got.Unresolved)
	assert.Equal(t, routing.UnresolvedBucket, got.Bucket)
}

func TestRebuildAlphabeticalOrderSortsNames(t *testing.T) {
	t.Parallel()
	got := routing.RebuildAlphabeticalOrder(map[string]string{"1": "Zed", "2": "Alpha"})
	assert.Equal(t, 0, got["Alpha"])
	assert.Equal(t, 1, got["Zed"])
}
