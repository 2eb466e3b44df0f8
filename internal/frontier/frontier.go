// Package frontier implements the BFS frontier/dedupe engine from spec §4.3:
// merge one level's incoming discoveries into per-domain state, compute the
// next level's frontier by subtracting everything already seen at a lower
// level, and emit the level's artifacts (plus diff/removed siblings on a
// recrawl). Grounded on the set-merge bookkeeping shape of the teacher's
// internal/progress/hub.go batching loop, generalized from event batching to
// BFS level math; persistence goes through internal/store and
// internal/artifact rather than a sink interface.
package frontier

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

// Options are the per-call merge flags from spec §4.3's input contract.
type Options struct {
	// UpdateMode requests diff/removed artifact siblings against whatever
	// is already on disk for this level (a recrawl).
	UpdateMode bool
	// Patch keeps a partial part-run from clobbering a more complete prior
	// artifact: the written artifact always reflects the full post-merge
	// state (see Engine.Merge doc), so Patch changes nothing about what is
	// computed here, only that callers intending a destructive full rewrite
	// should set Replace instead.
	Patch bool
	// Prune drops any previously recorded entry this call does not
	// reconfirm, instead of only ever adding (see DESIGN.md Open Question
	// decisions for the "prune" interpretation).
	Prune bool
	// Replace overwrites level L's state outright instead of merging with
	// whatever is already recorded.
	Replace bool
}

// Request is one frontier merge call: a level's incoming discoveries plus
// the options controlling how they combine with existing state.
type Request struct {
	Level           int
	Visited         []string
	DiscoveredPages []string
	DiscoveredFiles []model.FileCandidate
	Options         Options
}

// Result is what a merge call hands back for the caller to act on (e.g. feed
// NextFrontier into a download-page queue, NewFiles into a download queue).
type Result struct {
	NextFrontier []string
	NewFiles     []model.FileCandidate
	Level        model.Level
}

// Engine runs frontier merges for one domain's Store.
type Engine struct {
	Store        *store.Store
	ChunkSize    int
	MetaFirstRow bool
}

// New constructs an Engine. Callers invoke Merge under the coordinator's
// mutation lock (spec §5).
func New(s *store.Store, chunkSize int, metaFirstRow bool) *Engine {
	return &Engine{Store: s, ChunkSize: chunkSize, MetaFirstRow: metaFirstRow}
}

// Merge implements spec §4.3's algorithm end to end: steps 1-5 update
// in-memory/persisted state, steps 6-8 write the level's artifacts (and, in
// update mode, diff/removed siblings against whatever was previously on
// disk).
func (e *Engine) Merge(req Request) (Result, error) {
	seen := e.seenPrior(req.Level)

	mergedIncoming := mergeFilesByURL(req.DiscoveredFiles)
	visitedSet := toSet(req.Visited)

	nextFrontier := stableSubtract(req.DiscoveredPages, unionSets(seen, visitedSet))
	newFiles := subtractFilesByURL(mergedIncoming, seen)

	existing := e.Store.Level(req.Level)
	var finalLevel model.Level
	if req.Options.Replace {
		finalLevel = model.Level{
			Visited:         stableUniq(req.Visited),
			DiscoveredPages: stableUniq(req.DiscoveredPages),
			DiscoveredFiles: mergedIncoming,
		}
	} else {
		finalLevel = mergeLevel(existing, req.Visited, req.DiscoveredPages, mergedIncoming)
		if req.Options.Prune {
			finalLevel = pruneLevel(finalLevel, req.Visited, req.DiscoveredPages, mergedIncoming)
		}
	}

	if err := e.writeArtifacts(req.Level, nextFrontier, finalLevel.DiscoveredFiles, req.Options); err != nil {
		return Result{}, err
	}

	if err := e.Store.SetLevel(req.Level, finalLevel); err != nil {
		return Result{}, err
	}

	return Result{NextFrontier: nextFrontier, NewFiles: newFiles, Level: finalLevel}, nil
}

// seenPrior computes seen_pages_prior == seen_files_prior from spec §4.3
// step 1: the union of visited, discovered pages, and discovered-file URLs
// over every stored level strictly below L.
func (e *Engine) seenPrior(level int) map[string]struct{} {
	seen := map[string]struct{}{}
	for _, l := range e.Store.LevelNumbers() {
		if l >= level {
			continue
		}
		lvl := e.Store.Level(l)
		for _, u := range lvl.Visited {
			seen[u] = struct{}{}
		}
		for _, u := range lvl.DiscoveredPages {
			seen[u] = struct{}{}
		}
		for _, f := range lvl.DiscoveredFiles {
			seen[f.URL] = struct{}{}
		}
	}
	return seen
}

// mergeFilesByURL merges a slice of file candidates by URL using
// model.MergePreferring, preserving first-occurrence order (spec §4.3 step 2
// and the "stableUniq keeps first occurrence" tie-break rule).
func mergeFilesByURL(files []model.FileCandidate) []model.FileCandidate {
	order := make([]string, 0, len(files))
	byURL := make(map[string]model.FileCandidate, len(files))
	for _, f := range files {
		if existing, ok := byURL[f.URL]; ok {
			byURL[f.URL] = model.MergePreferring(existing, f)
			continue
		}
		byURL[f.URL] = f
		order = append(order, f.URL)
	}
	out := make([]model.FileCandidate, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}

// subtractFilesByURL keeps files whose URL is absent from seen, preserving
// order (spec §4.3 step 4: new_files = merged_files \ seen_files_prior).
func subtractFilesByURL(files []model.FileCandidate, seen map[string]struct{}) []model.FileCandidate {
	out := make([]model.FileCandidate, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.URL]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// mergeLevel implements spec §4.3 step 5's non-replace case: union for sets,
// merge-by-URL for files, against whatever is already recorded for L.
func mergeLevel(existing model.Level, visited, pages []string, incomingFiles []model.FileCandidate) model.Level {
	return model.Level{
		Visited:         stableUniq(append(append([]string{}, existing.Visited...), visited...)),
		DiscoveredPages: stableUniq(append(append([]string{}, existing.DiscoveredPages...), pages...)),
		DiscoveredFiles: mergeFilesByURL(append(append([]model.FileCandidate{}, existing.DiscoveredFiles...), incomingFiles...)),
	}
}

// pruneLevel drops any entry in merged that this call did not reconfirm
// (see DESIGN.md's Open Question decision on the "prune" option).
func pruneLevel(merged model.Level, reqVisited, reqPages []string, reqFiles []model.FileCandidate) model.Level {
	visitedOK := toSet(reqVisited)
	pagesOK := toSet(reqPages)
	filesOK := map[string]struct{}{}
	for _, f := range reqFiles {
		filesOK[f.URL] = struct{}{}
	}
	return model.Level{
		Visited:         filterStrings(merged.Visited, visitedOK),
		DiscoveredPages: filterStrings(merged.DiscoveredPages, pagesOK),
		DiscoveredFiles: filterFiles(merged.DiscoveredFiles, filesOK),
	}
}

func filterStrings(in []string, keep map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := keep[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func filterFiles(in []model.FileCandidate, keep map[string]struct{}) []model.FileCandidate {
	out := make([]model.FileCandidate, 0, len(in))
	for _, f := range in {
		if _, ok := keep[f.URL]; ok {
			out = append(out, f)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func unionSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// stableUniq keeps the first occurrence of each element, dropping later
// duplicates, preserving input order.
func stableUniq(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// stableSubtract returns stableUniq(items) with any element present in
// exclude removed, preserving order.
func stableSubtract(items []string, exclude map[string]struct{}) []string {
	out := make([]string, 0, len(items))
	for _, s := range stableUniq(items) {
		if _, ok := exclude[s]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// writeArtifacts implements spec §4.3 steps 6-8: write the level's main
// artifacts, diff/removed siblings in update mode, and chunked variants.
func (e *Engine) writeArtifacts(level int, nextFrontier []string, files []model.FileCandidate, opts Options) error {
	tree := e.Store.Tree()
	urlsBase := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("urls-level-%d", level+1))
	filesBase := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("files-level-%d", level))

	if opts.UpdateMode {
		if err := e.writeURLDiff(urlsBase, level, nextFrontier); err != nil {
			return err
		}
		if err := e.writeFileDiff(filesBase, level, files); err != nil {
			return err
		}
	}

	urlsMeta := artifact.Meta{Level: level + 1, Kind: "urls"}
	if err := artifact.Write(urlsBase+".json", urlsMeta, urlRows(nextFrontier), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write urls artifact: %w", err)
	}
	if _, err := artifact.WriteChunked(urlsBase, urlsMeta, urlRows(nextFrontier), e.ChunkSize, e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: chunk urls artifact: %w", err)
	}

	filesMeta := artifact.Meta{Level: level, Kind: "files"}
	if err := artifact.Write(filesBase+".json", filesMeta, fileRows(files), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write files artifact: %w", err)
	}
	if _, err := artifact.WriteChunked(filesBase, filesMeta, fileRows(files), e.ChunkSize, e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: chunk files artifact: %w", err)
	}

	return nil
}

func (e *Engine) writeURLDiff(urlsBase string, level int, nextFrontier []string) error {
	prevRows, err := readPreviousRows(urlsBase + ".json")
	if err != nil {
		return err
	}
	prevURLs := make([]string, 0, len(prevRows))
	prevSet := map[string]struct{}{}
	for _, r := range prevRows {
		u, _ := r["url"].(string)
		if u == "" {
			continue
		}
		prevURLs = append(prevURLs, u)
		prevSet[u] = struct{}{}
	}

	nextSet := toSet(nextFrontier)
	added := stableSubtract(nextFrontier, prevSet)
	removed := stableSubtract(prevURLs, nextSet)

	meta := artifact.Meta{Level: level + 1, Kind: "urls"}
	diffPath := artifact.BasePath(filepath.Dir(urlsBase), "urls-diff-level-"+strconv.Itoa(level+1)) + ".json"
	removedPath := artifact.BasePath(filepath.Dir(urlsBase), "urls-removed-level-"+strconv.Itoa(level+1)) + ".json"
	if err := artifact.Write(diffPath, meta, urlRows(added), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write urls diff: %w", err)
	}
	if err := artifact.Write(removedPath, meta, urlRows(removed), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write urls removed: %w", err)
	}
	return nil
}

func (e *Engine) writeFileDiff(filesBase string, level int, files []model.FileCandidate) error {
	prevRows, err := readPreviousRows(filesBase + ".json")
	if err != nil {
		return err
	}
	prevFiles := make([]model.FileCandidate, 0, len(prevRows))
	prevSet := map[string]struct{}{}
	for _, r := range prevRows {
		u, _ := r["url"].(string)
		if u == "" {
			continue
		}
		ext, _ := r["ext"].(string)
		src, _ := r["source_page_url"].(string)
		prevFiles = append(prevFiles, model.FileCandidate{URL: u, Ext: ext, SourcePageURL: src})
		prevSet[u] = struct{}{}
	}

	curSet := map[string]struct{}{}
	for _, f := range files {
		curSet[f.URL] = struct{}{}
	}

	added := subtractFilesByURL(files, prevSet)
	removed := subtractFilesByURL(prevFiles, curSet)

	meta := artifact.Meta{Level: level, Kind: "files"}
	diffPath := artifact.BasePath(filepath.Dir(filesBase), "files-diff-level-"+strconv.Itoa(level)) + ".json"
	removedPath := artifact.BasePath(filepath.Dir(filesBase), "files-removed-level-"+strconv.Itoa(level)) + ".json"
	if err := artifact.Write(diffPath, meta, fileRows(added), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write files diff: %w", err)
	}
	if err := artifact.Write(removedPath, meta, fileRows(removed), e.MetaFirstRow); err != nil {
		return fmt.Errorf("frontier: write files removed: %w", err)
	}
	return nil
}

func readPreviousRows(path string) ([]artifact.Row, error) {
	if !atomicfile.Exists(path) {
		return nil, nil
	}
	var raw json.RawMessage
	if err := atomicfile.ReadJSON(path, &raw, json.RawMessage(nil)); err != nil {
		return nil, fmt.Errorf("frontier: read previous artifact: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	rows, _, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("frontier: decode previous artifact: %w", err)
	}
	return rows, nil
}

func urlRows(urls []string) []artifact.Row {
	rows := make([]artifact.Row, len(urls))
	for i, u := range urls {
		rows[i] = artifact.Row{"url": u}
	}
	return rows
}

func fileRows(files []model.FileCandidate) []artifact.Row {
	rows := make([]artifact.Row, len(files))
	for i, f := range files {
		row := artifact.Row{"url": f.URL, "ext": f.Ext}
		if f.SourcePageURL != "" {
			row["source_page_url"] = f.SourcePageURL
		}
		rows[i] = row
	}
	return rows
}
