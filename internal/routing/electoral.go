package routing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/urlnorm"
)

// Electoral is the one concrete routing policy shipped with this sink: it
// places election-result downloads under a term/electorate hierarchy. Spec
// §4.4 asks implementers to treat this as *a* policy among many possible
// ones — other domains substitute a different Policy with the same
// interface.
type Electoral struct {
	// BaseTermYear and CadenceYears parameterize inferTermKeyFromEventYear
	// for years absent from Metadata.Terms.
	BaseTermYear  int
	CadenceYears  int
}

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

const (
	bucketResults    = "results"
	bucketByElection = "by-elections"
	bucketReferendum = "referenda"
)

// Route implements Policy for the electoral domain.
func (e Electoral) Route(in Input) Result {
	ext := in.Ext
	if ext == "" {
		ext = urlnorm.Extension(in.FileURL)
	}

	bucket := classifyBucket(in.FileURL, in.SourcePageURL)

	termKey := e.resolveTermKey(in)

	subBucket := electorateSubBucket(in.FileURL, in.Metadata, termKey)
	if subBucket == "" {
		subBucket = termKey
	}

	unresolved := termKey == "" && subBucket == ""
	if unresolved {
		bucket = UnresolvedBucket
	}

	return Result{
		Bucket:     bucket,
		SubBucket:  subBucket,
		Filename:   Filename(in.FileURL, in.FilenameOverride),
		Ext:        ext,
		TermKey:    termKey,
		Unresolved: unresolved,
	}
}

func classifyBucket(fileURL, sourcePageURL string) string {
	haystack := strings.ToLower(fileURL + " " + sourcePageURL)
	switch {
	case strings.Contains(haystack, "by-election") || strings.Contains(haystack, "byelection"):
		return bucketByElection
	case strings.Contains(haystack, "referendum") || strings.Contains(haystack, "referenda"):
		return bucketReferendum
	default:
		return bucketResults
	}
}

func (e Electoral) resolveTermKey(in Input) string {
	year := extractYear(in.FileURL)
	if year == 0 {
		year = extractYear(in.SourcePageURL)
	}
	if year == 0 {
		return ""
	}

	candidate := "term-" + strconv.Itoa(year)
	if _, ok := in.Metadata.Terms[candidate]; ok {
		return candidate
	}

	baseYear := e.BaseTermYear
	if baseYear == 0 {
		baseYear = year
	}
	inferred := inferTermKeyFromEventYear(year, baseYear, e.CadenceYears)
	if _, ok := in.Metadata.Terms[inferred]; ok {
		return inferred
	}
	return inferred
}

func extractYear(raw string) int {
	m := yearPattern.FindString(raw)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}

// electorateSubBucket matches a known electorate name (from the term's
// official or alphabetical order) against the URL's path segments. Returns
// "" when no known electorate appears, signaling the caller to fall back
// to term-level placement per spec §4.4.
func electorateSubBucket(fileURL string, meta Metadata, termKey string) string {
	order, ok := meta.Terms[termKey]
	if !ok {
		return ""
	}

	haystack := strings.ToLower(fileURL)
	for _, name := range order.OfficialOrder {
		slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		if slug != "" && strings.Contains(haystack, slug) {
			return slug
		}
	}
	for name := range order.AlphabeticalOrder {
		slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
		if slug != "" && strings.Contains(haystack, slug) {
			return slug
		}
	}
	return ""
}

// RebuildAlphabeticalOrder derives a name -> rank map from official order's
// names, sorted lexicographically, used by the /meta/electorates upsert
// handler (spec §6: "rebuilds alphabetical order from names").
func RebuildAlphabeticalOrder(officialOrder map[string]string) map[string]int {
	names := make([]string, 0, len(officialOrder))
	for _, name := range officialOrder {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]int, len(names))
	for i, name := range names {
		out[name] = i
	}
	return out
}
