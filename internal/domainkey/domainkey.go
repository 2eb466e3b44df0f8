// Package domainkey derives the filesystem-safe per-domain namespace used to
// scope every entity in the state store (spec §3: "all entities scoped by
// domain_key unless noted") and materializes that domain's directory tree on
// demand. Adapted from the teacher's path-join discipline in
// internal/storage/local/blob_store.go.
package domainkey

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Default is the sentinel domain key used when no host can be resolved.
const Default = "default"

var unsafeChars = regexp.MustCompile(`[^a-z0-9.-]`)

// FromHost derives a DomainKey from a bare or URL-embedded host: lowercase,
// leading "www." stripped, any character outside [a-z0-9.-] replaced with
// "_", leading/trailing underscores trimmed. An empty result falls back to
// Default.
func FromHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimPrefix(h, "www.")
	h = unsafeChars.ReplaceAllString(h, "_")
	h = strings.Trim(h, "_")
	if h == "" {
		return Default
	}
	return h
}

// FromURL extracts the host from a URL string and derives its DomainKey. An
// unparsable or hostless URL yields Default.
func FromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return Default
	}
	return FromHost(u.Hostname())
}

// Resolve implements the precedence chain from spec §6 ("Domain key
// resolution precedence per request"): explicit domain/domain_key; else a
// crawl-root-like URL's host; else a generic url's host; else the first URL
// found among a set of candidate slices; else Default.
//
// explicitDomain is used verbatim (still passed through FromHost, since
// callers may supply a raw host rather than an already-normalized key).
// rootLikeURLs and urlFields are tried in order; candidateSets are scanned
// left to right, each for its first non-empty element.
func Resolve(explicitDomain string, rootLikeURLs []string, urlFields []string, candidateSets ...[]string) string {
	if explicitDomain != "" {
		return FromHost(explicitDomain)
	}
	for _, u := range rootLikeURLs {
		if u == "" {
			continue
		}
		return FromURL(u)
	}
	for _, u := range urlFields {
		if u == "" {
			continue
		}
		return FromURL(u)
	}
	for _, set := range candidateSets {
		for _, u := range set {
			if u == "" {
				continue
			}
			return FromURL(u)
		}
	}
	return Default
}

// Tree is the materialized on-disk layout for one domain, all paths absolute.
type Tree struct {
	Domain          string
	MetaDir         string
	ArtifactsDir    string
	LevelFilesDir   string
	RunsDir         string
	DownloadsDir    string
	StateFile       string
	HashIndexFile   string
	ProbeIndexFile  string
	ElectoratesFile string
}

// Materialize computes the Tree for domain rooted at projectRoot and creates
// every directory in it (downloads directory included), per spec §6's
// persistent layout:
//
//	BFS_crawl/_meta/<domain>/{artifacts,}
//	BFS_crawl/_meta/<domain>/level_files/
//	BFS_crawl/runs/<domain>/
//	downloads/<domain>/
func Materialize(projectRoot, domain string) (Tree, error) {
	domain = FromHost(domain)
	metaDir := filepath.Join(projectRoot, "BFS_crawl", "_meta", domain)
	t := Tree{
		Domain:          domain,
		MetaDir:         metaDir,
		ArtifactsDir:    filepath.Join(metaDir, "artifacts"),
		LevelFilesDir:   filepath.Join(metaDir, "level_files"),
		RunsDir:         filepath.Join(projectRoot, "BFS_crawl", "runs", domain),
		DownloadsDir:    filepath.Join(projectRoot, "downloads", domain),
		StateFile:       filepath.Join(metaDir, "state.json"),
		HashIndexFile:   filepath.Join(metaDir, "downloaded_hash_index.json"),
		ProbeIndexFile:  filepath.Join(metaDir, "probe_meta_index.json"),
		ElectoratesFile: filepath.Join(metaDir, "electorates_by_term.json"),
	}

	for _, dir := range []string{t.ArtifactsDir, t.LevelFilesDir, t.RunsDir, t.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Tree{}, err
		}
	}
	return t, nil
}
