// Package upload implements the upload and content-hash registry operation
// from spec §4.5: hash incoming bytes, route them, sniff expected-PDF
// payloads, and either skip a duplicate, relocate an existing record, or
// persist a brand-new file, always updating the registry and per-level
// manifest. Grounded on the teacher's internal/crawler/sink_fs.go
// (FileSystemSink.SaveHTML/SaveMeta), generalized from two fixed artifact
// kinds to routed, content-addressed, arbitrary file bytes.
package upload

import (
	"bytes"
	"fmt"
	"path/filepath"
	"time"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/blobstore"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/hash"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
)

const pdfMagic = "%PDF-"

// Request is one /upload/file call (spec §6).
type Request struct {
	URL              string
	Content          []byte
	Ext              string
	FilenameOverride string
	SourcePageURL    string
	Level            int
}

// Receipt is the response shape for a successful upload.
type Receipt struct {
	SHA256  string `json:"sha256"`
	SavedTo string `json:"saved_to"`
	Skipped bool   `json:"skipped"`
	Note    string `json:"note,omitempty"`
}

// saveRecord is one line of the file-save audit log
// (runs/<domain>/file_saves.jsonl).
type saveRecord struct {
	TS      string `json:"ts"`
	SHA256  string `json:"sha256"`
	SavedTo string `json:"saved_to"`
	URL     string `json:"url"`
	Level   int    `json:"level"`
	Action  string `json:"action"`
	Note    string `json:"note,omitempty"`
}

// Service performs uploads for one domain. Callers must invoke Upload
// inside the coordinator's mutation lock (spec §5).
type Service struct {
	Tree   domainkey.Tree
	Store  *store.Store
	Blob   *blobstore.Store
	Policy routing.Policy
	Clock  clock.Clock
	Terms  model.TermMap
}

// Upload implements spec §4.5's algorithm. Callers already hold the
// coordinator's mutation lock.
func (s *Service) Upload(req Request) (Receipt, error) {
	now := s.Clock.Now()
	ts := now.Format(time.RFC3339Nano)

	sha := hash.Bytes(req.Content)

	routed := s.Policy.Route(routing.Input{
		FileURL:          req.URL,
		SourcePageURL:    req.SourcePageURL,
		Ext:              req.Ext,
		FilenameOverride: req.FilenameOverride,
		Metadata:         routing.Metadata{Terms: s.Terms},
	})

	if expectsPDF(routed) && !looksLikePDF(req.Content) {
		return s.quarantine(req, sha, routed, ts)
	}

	existing, ok := s.Store.HashRecord(sha)
	switch {
	case ok && s.Blob.Exists(s.relPathOf(existing.SavedTo)):
		return s.handleDuplicate(req, existing, routed, ts)
	case ok:
		return s.handleMissingOnDisk(req, existing, routed, ts)
	default:
		return s.handleNew(req, sha, routed, ts)
	}
}

func expectsPDF(r routing.Result) bool {
	return r.Ext == "pdf"
}

func looksLikePDF(content []byte) bool {
	return bytes.HasPrefix(content, []byte(pdfMagic))
}

func (s *Service) quarantine(req Request, sha string, routed routing.Result, ts string) (Receipt, error) {
	reason := "bad_pdf_not_pdf"
	if looksLikeHTML(req.Content) {
		reason = "bad_pdf_got_html"
	}

	relPath := routing.RelQuarantinePath(routed.Bucket, routed.Filename, reason)
	if _, err := s.Blob.Put(relPath, req.Content); err != nil {
		return Receipt{}, fmt.Errorf("upload: quarantine write: %w", err)
	}

	rec := model.HashRecord{
		SHA256:      sha,
		SavedTo:     s.projectRelative(relPath),
		Bytes:       int64(len(req.Content)),
		Ext:         routed.Ext,
		TermKey:     "unknown",
		FirstSeenTS: ts,
		LastSeenTS:  ts,
		Note:        reason,
	}
	rec.AddSource(model.SourceObservation{URL: req.URL, SourcePageURL: req.SourcePageURL, Level: req.Level, TS: ts})
	if err := s.Store.PutHashRecord(rec); err != nil {
		return Receipt{}, err
	}
	if _, err := s.Store.AppendManifest(req.Level, model.ManifestEntry{SHA256: sha, SavedTo: rec.SavedTo}); err != nil {
		return Receipt{}, err
	}
	if err := s.auditLog(saveRecord{TS: ts, SHA256: sha, SavedTo: rec.SavedTo, URL: req.URL, Level: req.Level, Action: "quarantine", Note: reason}); err != nil {
		return Receipt{}, err
	}

	return Receipt{SHA256: sha, SavedTo: rec.SavedTo, Skipped: false, Note: reason}, nil
}

func looksLikeHTML(content []byte) bool {
	lower := bytes.ToLower(content)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype html"))
}

// handleDuplicate implements spec §4.5 step 4's "Existing, file present"
// branch: refresh last_seen_ts, relocate to a more specific placement when
// routing improved, append provenance, manifest, and audit entries, and
// report the upload as a skip.
func (s *Service) handleDuplicate(req Request, existing model.HashRecord, routed routing.Result, ts string) (Receipt, error) {
	rec := existing
	rec.LastSeenTS = ts

	if isMoreSpecific(routed, rec) {
		relNew := routing.RelPath(routed)
		relOld := s.relPathOf(rec.SavedTo)
		if _, err := s.Blob.Move(relOld, relNew); err != nil {
			return Receipt{}, fmt.Errorf("upload: move duplicate to more specific placement: %w", err)
		}
		rec.SavedTo = s.projectRelative(relNew)
		rec.TermKey = routed.TermKey
		rec.ElectorateFolder = routed.SubBucket
		rec.Ext = routed.Ext
	}

	rec.AddSource(model.SourceObservation{URL: req.URL, SourcePageURL: req.SourcePageURL, Level: req.Level, TS: ts})
	if err := s.Store.PutHashRecord(rec); err != nil {
		return Receipt{}, err
	}
	if _, err := s.Store.AppendManifest(req.Level, model.ManifestEntry{SHA256: rec.SHA256, SavedTo: rec.SavedTo}); err != nil {
		return Receipt{}, err
	}
	if err := s.auditLog(saveRecord{TS: ts, SHA256: rec.SHA256, SavedTo: rec.SavedTo, URL: req.URL, Level: req.Level, Action: "duplicate", Note: "duplicate_content_skipped"}); err != nil {
		return Receipt{}, err
	}

	return Receipt{SHA256: rec.SHA256, SavedTo: rec.SavedTo, Skipped: true, Note: "duplicate_content_skipped"}, nil
}

// handleMissingOnDisk implements spec §4.5's "Existing, file missing on
// disk" branch: treat this call as a fresh save at the routed location
// while preserving the record's identity and existing source list.
func (s *Service) handleMissingOnDisk(req Request, existing model.HashRecord, routed routing.Result, ts string) (Receipt, error) {
	relPath := routing.RelPath(routed)
	if _, err := s.Blob.Put(relPath, req.Content); err != nil {
		return Receipt{}, fmt.Errorf("upload: rewrite missing blob: %w", err)
	}

	rec := existing
	rec.SavedTo = s.projectRelative(relPath)
	rec.Bytes = int64(len(req.Content))
	rec.Ext = routed.Ext
	rec.TermKey = routed.TermKey
	rec.ElectorateFolder = routed.SubBucket
	rec.LastSeenTS = ts
	rec.AddSource(model.SourceObservation{URL: req.URL, SourcePageURL: req.SourcePageURL, Level: req.Level, TS: ts})

	if err := s.Store.PutHashRecord(rec); err != nil {
		return Receipt{}, err
	}
	if _, err := s.Store.AppendManifest(req.Level, model.ManifestEntry{SHA256: rec.SHA256, SavedTo: rec.SavedTo}); err != nil {
		return Receipt{}, err
	}
	if err := s.auditLog(saveRecord{TS: ts, SHA256: rec.SHA256, SavedTo: rec.SavedTo, URL: req.URL, Level: req.Level, Action: "restore"}); err != nil {
		return Receipt{}, err
	}

	return Receipt{SHA256: rec.SHA256, SavedTo: rec.SavedTo, Skipped: false}, nil
}

// handleNew implements spec §4.5's "New" branch.
func (s *Service) handleNew(req Request, sha string, routed routing.Result, ts string) (Receipt, error) {
	relPath := routing.RelPath(routed)
	if _, err := s.Blob.Put(relPath, req.Content); err != nil {
		return Receipt{}, fmt.Errorf("upload: write new blob: %w", err)
	}

	rec := model.HashRecord{
		SHA256:           sha,
		SavedTo:          s.projectRelative(relPath),
		Bytes:            int64(len(req.Content)),
		Ext:              routed.Ext,
		TermKey:          routed.TermKey,
		ElectorateFolder: routed.SubBucket,
		FirstSeenTS:      ts,
		LastSeenTS:       ts,
	}
	if routed.Unresolved {
		rec.TermKey = "unknown"
		rec.Note = "routing_unresolved"
	}
	rec.AddSource(model.SourceObservation{URL: req.URL, SourcePageURL: req.SourcePageURL, Level: req.Level, TS: ts})

	if err := s.Store.PutHashRecord(rec); err != nil {
		return Receipt{}, err
	}
	if _, err := s.Store.AppendManifest(req.Level, model.ManifestEntry{SHA256: rec.SHA256, SavedTo: rec.SavedTo}); err != nil {
		return Receipt{}, err
	}
	if err := s.auditLog(saveRecord{TS: ts, SHA256: rec.SHA256, SavedTo: rec.SavedTo, URL: req.URL, Level: req.Level, Action: "save", Note: rec.Note}); err != nil {
		return Receipt{}, err
	}

	return Receipt{SHA256: rec.SHA256, SavedTo: rec.SavedTo, Skipped: false, Note: rec.Note}, nil
}

// isMoreSpecific reports whether routed names a non-empty sub-bucket that
// differs from the existing record's ElectorateFolder, per spec §4.5 step 4
// ("if the new routing
// yields a more specific sub-bucket than recorded").
func isMoreSpecific(routed routing.Result, existing model.HashRecord) bool {
	return routed.SubBucket != "" && routed.SubBucket != existing.ElectorateFolder
}

func (s *Service) auditLog(rec saveRecord) error {
	return atomicfile.AppendJSONLine(s.fileSavesLogPath(), rec)
}

func (s *Service) fileSavesLogPath() string {
	return filepath.Join(s.Tree.RunsDir, "file_saves.jsonl")
}

// downloadsRoot is the project-root-relative prefix every saved_to path in
// this domain carries: downloads/<domain>.
func (s *Service) downloadsRoot() string {
	return filepath.Join("downloads", s.Tree.Domain)
}

// relPathOf strips the domain's downloads-root prefix from a project-root-
// relative saved_to path, yielding the path a blobstore.Store rooted at
// that downloads directory expects.
func (s *Service) relPathOf(savedTo string) string {
	rel, err := filepath.Rel(s.downloadsRoot(), savedTo)
	if err != nil {
		return savedTo
	}
	return rel
}

// projectRelative joins a blobstore-relative path under this domain's
// downloads root into the project-root-relative form stored as saved_to.
func (s *Service) projectRelative(relPath string) string {
	return filepath.ToSlash(filepath.Join(s.downloadsRoot(), relPath))
}
