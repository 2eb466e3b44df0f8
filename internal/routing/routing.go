// Package routing implements the placement engine contract from spec §4.4:
// a pure function mapping (file URL, source page URL, extension, filename
// override, policy metadata) to a directory placement under
// downloads/<domain>/. Policy is the core's narrow contract; Electoral is
// the one concrete, domain-specific policy the spec asks implementers to
// treat as a single interchangeable example (spec §4.4, "Implementers
// should treat the specific electoral routing logic in the source as one
// policy").
//
// Grounded on the teacher's single-interface-single-concrete-implementation
// shape in internal/storage/provider.go, generalized from a storage backend
// switch to a placement policy.
package routing

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
)

// UnresolvedBucket is the distinguished sentinel meaning "cannot infer a
// bucket"; the router places the file directly under downloads/<domain>/
// when Bucket equals this value (spec §4.4).
const UnresolvedBucket = ""

const maxFilenameUTF16Units = 240

const fallbackFilename = "download.bin"

// Input is everything a Policy needs to decide placement. Metadata is
// policy-owned and read-only to the core.
type Input struct {
	FileURL          string
	SourcePageURL    string
	Ext              string
	FilenameOverride string
	Metadata         Metadata
}

// Metadata is the policy-specific context consulted read-only by a Policy
// implementation (spec §4.4: "term/electorate mapping, date parsing for
// pre/post-event disambiguation").
type Metadata struct {
	Terms model.TermMap
}

// Result is a routing decision. It carries no path: callers compute the
// full out path with JoinPath, or the downloads-root-relative path with
// RelPath, once Bucket/SubBucket/Filename are known.
type Result struct {
	Bucket     string
	SubBucket  string
	Filename   string
	Ext        string
	TermKey    string
	Unresolved bool
}

// Policy is the pluggable placement interface from spec §4.4. Implementations
// must be pure: the same Input always yields the same Result.
type Policy interface {
	Route(in Input) Result
}

// JoinPath computes out_path = downloads_root/domain/bucket/[sub_bucket/]filename.
func JoinPath(downloadsDir string, r Result) string {
	parts := []string{downloadsDir}
	if r.Bucket != UnresolvedBucket {
		parts = append(parts, r.Bucket)
	}
	if r.SubBucket != "" {
		parts = append(parts, r.SubBucket)
	}
	parts = append(parts, r.Filename)
	return path.Join(parts...)
}

// RelPath computes a Result's placement relative to the domain's downloads
// root, suitable for a blobstore.Store rooted at that directory:
// bucket/[sub_bucket/]filename.
func RelPath(r Result) string {
	parts := []string{}
	if r.Bucket != UnresolvedBucket {
		parts = append(parts, r.Bucket)
	}
	if r.SubBucket != "" {
		parts = append(parts, r.SubBucket)
	}
	parts = append(parts, r.Filename)
	return path.Join(parts...)
}

// Filename derives the saved filename per spec §4.4's precedence: explicit
// override; else the URL path basename (URL-decoded, possibly twice, to
// recover double-encoded names); else the fallback "download.bin". The
// result is sanitized: path separators become "_", control characters are
// stripped, and length is capped at maxFilenameUTF16Units UTF-16 code units.
func Filename(fileURL, override string) string {
	if override != "" {
		return sanitizeFilename(override)
	}

	name := basenameFromURL(fileURL)
	if name == "" {
		name = fallbackFilename
	}
	return sanitizeFilename(name)
}

func basenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}

	decoded := decodeOnce(base)
	twiceDecoded := decodeOnce(decoded)
	if twiceDecoded != decoded {
		return twiceDecoded
	}
	return decoded
}

func decodeOnce(s string) string {
	d, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return d
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()
	if name == "" {
		name = fallbackFilename
	}
	return capUTF16Units(name, maxFilenameUTF16Units)
}

func capUTF16Units(s string, max int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= max {
		return s
	}
	return string(utf16.Decode(units[:max]))
}

// QuarantinePath builds the quarantine placement for a PDF-sniff failure
// (spec §4.5 step 3): downloads/<domain>/<bucket>/_bad/<base>__<reason>.html.
func QuarantinePath(downloadsDir, bucket, filename, reason string) string {
	return path.Join(downloadsDir, RelQuarantinePath(bucket, filename, reason))
}

// RelQuarantinePath is QuarantinePath's downloads-root-relative form:
// <bucket>/_bad/<base>__<reason>.html.
func RelQuarantinePath(bucket, filename, reason string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	quarantineName := base + "__" + reason + ".html"
	if bucket == UnresolvedBucket {
		return path.Join("_bad", quarantineName)
	}
	return path.Join(bucket, "_bad", quarantineName)
}

// inferTermKeyFromEventYear infers a term by a fixed 3-year electoral cadence
// when the term metadata map doesn't already cover the year extracted from
// a URL or filename. This is a domain-specific heuristic the spec calls out
// explicitly (§9, "implementers for other domains should omit it rather
// than inherit it") — kept here only inside the Electoral policy, never in
// the core Policy interface.
func inferTermKeyFromEventYear(year int, baseYear, cadenceYears int) string {
	if cadenceYears <= 0 {
		cadenceYears = 3
	}
	termIndex := (year - baseYear) / cadenceYears
	return "term-" + strconv.Itoa(baseYear+termIndex*cadenceYears)
}
