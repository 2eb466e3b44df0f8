// Package probe implements the probe & diff operation from spec §4.8:
// record a lightweight signature (etag/last-modified/content-length/
// content-type) for a URL the caller has already HEAD- or ranged-GET-probed,
// compare it to whatever was recorded before, and — when it changed and the
// level is known — surface the URL into the level's diff artifacts so a
// recrawl knows what to re-download. The sink never issues outbound HTTP
// (spec §1's non-goal), so the HEAD/ranged-GET results arrive as inputs
// rather than being fetched here. Grounded on the teacher's
// internal/progress/hub.go batch-then-diff shape, generalized from one
// event stream to one URL's signature history.
package probe

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

// Request is one ingest_probe call (spec §6 POST /probe/meta). Head and
// GetRange are the caller-supplied signatures already observed out of band;
// a zero Signature means that probe kind wasn't attempted.
type Request struct {
	URL      string
	Level    *int
	Head     model.Signature
	GetRange model.Signature
}

// Result reports the signature actually recorded and whether it differs
// from whatever was on file for this URL before.
type Result struct {
	Signature model.Signature
	Changed   bool
}

// Service ingests probes for one domain's Store.
type Service struct {
	Store        *store.Store
	Clock        clock.Clock
	MetaFirstRow bool
}

// rawRecord is one JSONL line appended to meta_probes.jsonl.
type rawRecord struct {
	TS        string          `json:"ts"`
	URL       string          `json:"url"`
	Level     *int            `json:"level,omitempty"`
	Head      model.Signature `json:"head"`
	GetRange  model.Signature `json:"get_range"`
	Signature model.Signature `json:"signature"`
	Changed   bool            `json:"changed"`
}

// Ingest implements spec §4.8 steps 1-4. Callers already hold the
// coordinator's mutation lock.
func (s *Service) Ingest(req Request) (Result, error) {
	sig := buildSignature(req.Head, req.GetRange)

	prevEntry, hadPrev := s.Store.Probe(req.URL)
	changed := !hadPrev || prevEntry.Signature.Changed(sig)

	ts := s.Clock.Now().Format(time.RFC3339Nano)
	entry := model.ProbeEntry{
		LastSeenTS: ts,
		Level:      req.Level,
		Signature:  sig,
		Head:       req.Head.HasAny(),
		GetRange:   req.GetRange.HasAny(),
	}
	if err := s.Store.PutProbe(req.URL, entry); err != nil {
		return Result{}, err
	}

	if err := s.appendLog(req, sig, changed, ts); err != nil {
		return Result{}, err
	}

	if changed && req.Level != nil {
		if err := s.emitDiffs(req.URL, *req.Level); err != nil {
			return Result{}, err
		}
	}

	return Result{Signature: sig, Changed: changed}, nil
}

// buildSignature implements spec §4.8 step 1: prefer HEAD when it carries
// any of {etag, last_modified, content_length}; else the ranged-GET signature.
func buildSignature(head, getRange model.Signature) model.Signature {
	if head.HasAny() {
		return head
	}
	return getRange
}

func (s *Service) appendLog(req Request, sig model.Signature, changed bool, ts string) error {
	path := filepath.Join(s.Store.Tree().MetaDir, "meta_probes.jsonl")
	return atomicfile.AppendJSONLine(path, rawRecord{
		TS:        ts,
		URL:       req.URL,
		Level:     req.Level,
		Head:      req.Head,
		GetRange:  req.GetRange,
		Signature: sig,
		Changed:   changed,
	})
}

// emitDiffs implements spec §4.8 step 4: mark the URL "modified" in
// files-meta-diff-level-L.json, and upsert it into files-diff-level-L.json
// with ext/source_page_url resolved from the level's files-level-L.json.
func (s *Service) emitDiffs(url string, level int) error {
	tree := s.Store.Tree()

	metaDiffPath := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("files-meta-diff-level-%d", level)) + ".json"
	metaRows, err := readRows(metaDiffPath)
	if err != nil {
		return err
	}
	if !containsURL(metaRows, url) {
		metaRows = append(metaRows, artifact.Row{"url": url, "status": "modified"})
	}
	metaMeta := artifact.Meta{Level: level, Kind: "files_meta_diff"}
	if err := artifact.Write(metaDiffPath, metaMeta, metaRows, s.MetaFirstRow); err != nil {
		return fmt.Errorf("probe: write files-meta-diff: %w", err)
	}

	filesLevelPath := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("files-level-%d", level)) + ".json"
	filesRows, err := readRows(filesLevelPath)
	if err != nil {
		return err
	}
	ext, sourcePageURL := "bin", ""
	for _, r := range filesRows {
		if u, _ := r["url"].(string); u == url {
			if e, ok := r["ext"].(string); ok && e != "" {
				ext = e
			}
			if sp, ok := r["source_page_url"].(string); ok {
				sourcePageURL = sp
			}
			break
		}
	}

	diffPath := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("files-diff-level-%d", level)) + ".json"
	diffRows, err := readRows(diffPath)
	if err != nil {
		return err
	}
	row := artifact.Row{"url": url, "ext": ext}
	if sourcePageURL != "" {
		row["source_page_url"] = sourcePageURL
	}
	diffRows = upsertByURL(diffRows, url, row)

	diffMeta := artifact.Meta{Level: level, Kind: "files"}
	if err := artifact.Write(diffPath, diffMeta, diffRows, s.MetaFirstRow); err != nil {
		return fmt.Errorf("probe: write files-diff: %w", err)
	}
	return nil
}

func containsURL(rows []artifact.Row, url string) bool {
	for _, r := range rows {
		if u, _ := r["url"].(string); u == url {
			return true
		}
	}
	return false
}

func upsertByURL(rows []artifact.Row, url string, row artifact.Row) []artifact.Row {
	for i, r := range rows {
		if u, _ := r["url"].(string); u == url {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

func readRows(path string) ([]artifact.Row, error) {
	if !atomicfile.Exists(path) {
		return nil, nil
	}
	var raw json.RawMessage
	if err := atomicfile.ReadJSON(path, &raw, json.RawMessage(nil)); err != nil {
		return nil, fmt.Errorf("probe: read artifact: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	rows, _, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("probe: decode artifact: %w", err)
	}
	return rows, nil
}
