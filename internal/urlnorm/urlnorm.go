// Package urlnorm implements the URL normalization and extension extraction
// rules from spec §4.1. The routing policy uses Extension. Normalize has no
// caller outside this package's tests: the API handlers and the frontier,
// upload and probe packages store URL fields as received.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

const maxEntityFixupIterations = 8

// entityReplacements fixes HTML-entity leakage in query strings, e.g. a
// literal "&amp;" that should have been a "&". Applied to a fixed point
// (capped) because sources sometimes double- or triple-encode the entity.
var entityReplacements = []struct {
	from string
	to   string
}{
	{"&amp;", "&"},
	{"%26amp%3B", "&"},
	{"amp%3B", "&"},
	{"amp;", "&"},
}

var extensionPattern = regexp.MustCompile(`(?i)\.([a-z0-9]+)(?:[?#]|$)`)

// Normalize canonicalizes a URL per spec §4.1:
//  1. fix entity leakage to a fixed point (capped iterations)
//  2. parse (falling back to the cleaned string on failure)
//  3. clear the fragment
//  4. strip a trailing /index.html
//  5. collapse repeated slashes in the path
//  6. dedupe query pairs, keeping first occurrence and original order
//  7. re-serialize
//
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	cleaned := fixEntities(strings.TrimSpace(raw))

	u, err := url.Parse(cleaned)
	if err != nil {
		return cleaned
	}

	u.Fragment = ""
	u.Path = collapseSlashes(stripIndexHTML(u.Path))
	u.RawQuery = dedupeQuery(u.RawQuery)

	return u.String()
}

// Extension extracts the lowercase file extension from a URL's path,
// ignoring query/fragment, defaulting to "bin" when none is found.
func Extension(raw string) string {
	m := extensionPattern.FindStringSubmatch(raw)
	if m == nil {
		return "bin"
	}
	return strings.ToLower(m[1])
}

func fixEntities(s string) string {
	for i := 0; i < maxEntityFixupIterations; i++ {
		next := s
		for _, rep := range entityReplacements {
			next = strings.ReplaceAll(next, rep.from, rep.to)
		}
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// stripIndexHTML replaces a trailing "/index.html" with "/" per spec §4.1
// step 4 (e.g. "/dir/index.html" -> "/dir/", "/index.html" -> "/").
func stripIndexHTML(path string) string {
	const suffix = "/index.html"
	if strings.HasSuffix(path, suffix) {
		return path[:len(path)-len(suffix)] + "/"
	}
	return path
}

func collapseSlashes(path string) string {
	if path == "" {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dedupeQuery rebuilds a raw query string, preserving the first occurrence
// of each (key, value) pair in original order and dropping exact duplicates.
func dedupeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	seen := make(map[string]struct{})
	var pairs []string
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		pairs = append(pairs, part)
	}
	return strings.Join(pairs, "&")
}
