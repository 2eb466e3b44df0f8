package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/blobstore"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/frontier"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/sinkerr"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

type dedupeLevelRequest struct {
	Domain  string                 `json:"domain"`
	Level   int                    `json:"level"`
	Visited []string               `json:"visited"`
	Pages   []string               `json:"pages"`
	Files   []model.FileCandidate  `json:"files"`
	Update  bool                   `json:"update"`
	Full    bool                   `json:"full"`
	Prune   bool                   `json:"prune"`
	Replace bool                   `json:"replace"`
}

// dedupeLevel implements spec §6's POST /dedupe/level: a non-streaming
// batch frontier merge. The wire field "full" is the logical negation of
// frontier.Options.Patch — spec §4.3 names the partial-merge behavior
// "patch" in its algorithm section but the HTTP table names the opposite,
// full-overwrite behavior "full"; they are the same boolean, inverted.
func (s *Server) dedupeLevel(w http.ResponseWriter, r *http.Request) {
	var req dedupeLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Level < 1 {
		writeError(w, http.StatusBadRequest, "level must be >= 1")
		return
	}

	domain := resolveDomain(req.Domain, nil, nil)

	var result frontier.Result
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		eng := frontier.New(st, s.cfg.Artifacts.DefaultChunkSize, s.cfg.Artifacts.Encoding == "meta_first_row")
		result, err = eng.Merge(frontier.Request{
			Level:           req.Level,
			Visited:         req.Visited,
			DiscoveredPages: req.Pages,
			DiscoveredFiles: req.Files,
			Options: frontier.Options{
				UpdateMode: req.Update,
				Patch:      !req.Full,
				Prune:      req.Prune,
				Replace:    req.Replace,
			},
		})
		return err
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"next_frontier": result.NextFrontier,
		"new_files":     result.NewFiles,
		"level":         result.Level,
	})
}

type chunkURLsRequest struct {
	Domain    string `json:"domain"`
	Level     int    `json:"level"`
	ChunkSize int    `json:"chunk_size"`
}

// chunkURLs implements spec §6's POST /runs/chunk/urls: re-chunk the
// existing urls-level-<L>.json artifact at a new chunk size, without
// touching the underlying state.
func (s *Server) chunkURLs(w http.ResponseWriter, r *http.Request) {
	var req chunkURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.Artifacts.DefaultChunkSize
	}

	var manifest artifact.ChunkManifest
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		base := artifact.BasePath(st.Tree().ArtifactsDir, fmt.Sprintf("urls-level-%d", req.Level))
		rows, meta, err := readArtifactRows(base + ".json")
		if err != nil {
			return err
		}
		meta.Level = req.Level
		meta.Kind = "urls"
		manifest, err = artifact.WriteChunked(base, meta, rows, chunkSize, s.cfg.Artifacts.Encoding == "meta_first_row")
		return err
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"manifest": manifest})
}

type chunkFilesRequest struct {
	Domain    string `json:"domain"`
	Level     int    `json:"level"`
	ChunkSize int    `json:"chunk_size"`
}

// chunkFiles implements spec §6's POST /runs/chunk/files: reconcile a
// level's expected downloads (files-level-<L>.json) against what the
// registry records as actually downloaded at that level, emitting the
// remaining set plus its chunked variants.
func (s *Server) chunkFiles(w http.ResponseWriter, r *http.Request) {
	var req chunkFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.Artifacts.DefaultChunkSize
	}

	var summary fileReconcileSummary
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		summary, err = reconcileLevelFiles(st, req.Level, chunkSize, s.cfg.Artifacts.Encoding == "meta_first_row")
		return err
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": req.Level, "summary": summary})
}

type chunkFilesIncompleteRequest struct {
	Domain    string `json:"domain"`
	ChunkSize int    `json:"chunk_size"`
}

// chunkFilesIncomplete implements spec §6's POST
// /runs/chunk/files/incomplete: sweep every recorded level for one domain,
// reconciling only the ones with a non-empty remaining set.
func (s *Server) chunkFilesIncomplete(w http.ResponseWriter, r *http.Request) {
	var req chunkFilesIncompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.Artifacts.DefaultChunkSize
	}

	results := map[int]fileReconcileSummary{}
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		for _, level := range st.LevelNumbers() {
			summary, err := reconcileLevelFiles(st, level, chunkSize, s.cfg.Artifacts.Encoding == "meta_first_row")
			if err != nil {
				return err
			}
			if summary.Remaining > 0 {
				results[level] = summary
			}
		}
		return nil
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": results})
}

// fileReconcileSummary is written to level_files/<L>.json and returned to
// the caller by chunkFiles/chunkFilesIncomplete.
type fileReconcileSummary struct {
	Expected   int `json:"expected"`
	Downloaded int `json:"downloaded"`
	Remaining  int `json:"remaining"`
}

// reconcileLevelFiles computes expected \ downloaded for one level:
// expected is the level's discovered files, downloaded is every file URL
// the registry records a source observation for at that level. The
// remaining set (files expected but not yet downloaded at this level) is
// written as files-level-<L>.remaining.json plus its chunked variants, and
// a summary is written to level_files/<L>.json.
func reconcileLevelFiles(st *store.Store, level, chunkSize int, metaFirstRow bool) (fileReconcileSummary, error) {
	lvl := st.Level(level)
	downloadedURLs := downloadedURLsAtLevel(st, level)

	remaining := make([]model.FileCandidate, 0, len(lvl.DiscoveredFiles))
	for _, f := range lvl.DiscoveredFiles {
		if _, ok := downloadedURLs[f.URL]; ok {
			continue
		}
		remaining = append(remaining, f)
	}

	tree := st.Tree()
	base := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("files-level-%d.remaining", level))
	meta := artifact.Meta{Level: level, Kind: "files_remaining"}
	rows := fileRows(remaining)
	if err := artifact.Write(base+".json", meta, rows, metaFirstRow); err != nil {
		return fileReconcileSummary{}, fmt.Errorf("api: write files remaining: %w", err)
	}
	if _, err := artifact.WriteChunked(base, meta, rows, chunkSize, metaFirstRow); err != nil {
		return fileReconcileSummary{}, fmt.Errorf("api: chunk files remaining: %w", err)
	}

	summary := fileReconcileSummary{
		Expected:   len(lvl.DiscoveredFiles),
		Downloaded: len(downloadedURLs),
		Remaining:  len(remaining),
	}
	levelFilesPath := fmt.Sprintf("%s/%d.json", tree.LevelFilesDir, level)
	if err := atomicfile.WriteJSON(levelFilesPath, summary); err != nil {
		return fileReconcileSummary{}, fmt.Errorf("api: write level_files summary: %w", err)
	}
	return summary, nil
}

// downloadedURLsAtLevel collects every URL the hash registry records a
// source observation for at exactly this level.
func downloadedURLsAtLevel(st *store.Store, level int) map[string]struct{} {
	out := map[string]struct{}{}
	for _, rec := range st.Registry() {
		for _, src := range rec.Sources {
			if src.Level == level {
				out[src.URL] = struct{}{}
			}
		}
	}
	return out
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

type startFilesRequest struct {
	Domain string `json:"domain"`
	Level  int    `json:"level"`
}

type levelResetRecord struct {
	TS           string `json:"ts"`
	Level        int    `json:"level"`
	FilesDeleted int    `json:"files_deleted"`
	FilesKept    int    `json:"files_kept"`
	RecordsDropped int  `json:"records_dropped"`
}

// startFiles implements spec §6's POST /runs/start/files: hard reset a
// file-download level, preserving any file whose registry record also
// cites a strictly earlier level (that file's identity predates this
// level and would still be valid after a re-crawl of it); deletes files
// used only at this level or later, drops registry sources recorded for
// this level, drops registry records left with no remaining sources.
func (s *Server) startFiles(w http.ResponseWriter, r *http.Request) {
	var req startFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := resolveDomain(req.Domain, nil, nil)

	var record levelResetRecord
	err := s.withLock(func() error {
		st, err := s.stores.Get(domain)
		if err != nil {
			return err
		}
		record, err = resetFileLevel(st, req.Level, s.clock.Now().Format(rfc3339Nano))
		return err
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": record})
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

func resetFileLevel(st *store.Store, level int, ts string) (levelResetRecord, error) {
	tree := st.Tree()
	blob, err := blobstore.New(tree.DownloadsDir)
	if err != nil {
		return levelResetRecord{}, fmt.Errorf("api: open blob store for reset: %w", err)
	}

	manifest := st.Manifest(level)
	rec := levelResetRecord{TS: ts, Level: level}

	for _, entry := range manifest {
		hr, ok := st.HashRecord(entry.SHA256)
		if !ok {
			continue
		}

		hasEarlier := false
		remaining := hr.Sources[:0:0]
		for _, src := range hr.Sources {
			if src.Level == level {
				continue
			}
			if src.Level < level {
				hasEarlier = true
			}
			remaining = append(remaining, src)
		}
		hr.Sources = remaining

		if len(remaining) == 0 {
			rec.RecordsDropped++
			rec.FilesDeleted++
			if hr.SavedTo != "" {
				if err := blob.Remove(relToDownloadsDir(tree, hr.SavedTo)); err != nil {
					return levelResetRecord{}, fmt.Errorf("api: reset level %d: %w", level, err)
				}
			}
			if err := st.DeleteHashRecord(hr.SHA256); err != nil {
				return levelResetRecord{}, fmt.Errorf("api: reset level %d: %w", level, err)
			}
			continue
		}
		if !hasEarlier {
			rec.FilesDeleted++
			if hr.SavedTo != "" {
				if err := blob.Remove(relToDownloadsDir(tree, hr.SavedTo)); err != nil {
					return levelResetRecord{}, fmt.Errorf("api: reset level %d: %w", level, err)
				}
			}
			hr.SavedTo = ""
		} else {
			rec.FilesKept++
		}
		if err := st.PutHashRecord(hr); err != nil {
			return levelResetRecord{}, fmt.Errorf("api: reset level %d: %w", level, err)
		}
	}

	if err := st.ReplaceManifest(level, nil); err != nil {
		return levelResetRecord{}, fmt.Errorf("api: clear manifest for level %d: %w", level, err)
	}

	if err := atomicfile.AppendJSONLine(levelResetsLogPath(st), rec); err != nil {
		return levelResetRecord{}, fmt.Errorf("api: append level_resets log: %w", err)
	}
	return rec, nil
}

func levelResetsLogPath(st *store.Store) string {
	return st.Tree().MetaDir + "/level_resets.jsonl"
}

// relToDownloadsDir strips a domain's downloads-root prefix from a
// project-root-relative saved_to path, yielding the path blobstore.Store
// (rooted at that domain's downloads directory) expects.
func relToDownloadsDir(tree domainkey.Tree, savedTo string) string {
	downloadsRoot := filepath.Join("downloads", tree.Domain)
	rel, err := filepath.Rel(downloadsRoot, savedTo)
	if err != nil {
		return savedTo
	}
	return rel
}

// readArtifactRows reads and decodes an artifact file, tolerating a
// missing file (empty rows, zero Meta).
func readArtifactRows(path string) ([]artifact.Row, artifact.Meta, error) {
	if !atomicfile.Exists(path) {
		return nil, artifact.Meta{}, nil
	}
	var raw json.RawMessage
	if err := atomicfile.ReadJSON(path, &raw, json.RawMessage(nil)); err != nil {
		return nil, artifact.Meta{}, fmt.Errorf("%w: read artifact %s: %v", sinkerr.Internal, path, err)
	}
	if len(raw) == 0 {
		return nil, artifact.Meta{}, nil
	}
	rows, meta, err := artifact.Decode(raw)
	if err != nil {
		return nil, artifact.Meta{}, fmt.Errorf("%w: decode artifact %s: %v", sinkerr.Internal, path, err)
	}
	return rows, meta, nil
}
