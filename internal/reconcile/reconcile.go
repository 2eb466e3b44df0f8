// Package reconcile implements the reconciliation/resort engine from spec
// §4.9: walk the content-hash registry (Phase A) relocating every record to
// its current routing-policy placement, resolving residual name collisions,
// then sweep the download tree (Phase B) for stray files the registry
// doesn't reference. Grounded on the teacher's
// internal/storage/local/blob_store.go path-safety discipline, generalized
// from a single create-once write into the registry-driven walk +
// disk-driven sweep this operation needs. Invoked by cmd/resort-downloads.
package reconcile

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/blobstore"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/hash"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"

	"github.com/fatih/color"
)

// Mode selects whether Run performs filesystem/registry mutations or only
// reports what it would do (spec §4.9, "modes dry_run | apply").
type Mode string

const (
	DryRun Mode = "dry_run"
	Apply  Mode = "apply"
)

// ConflictPolicy selects how an occupied target with a different SHA is
// resolved, beyond the default Rule A/B displacement (spec §4.9, "policy
// suffix | skip | overwrite for residual name collisions").
type ConflictPolicy string

const (
	PolicySuffix    ConflictPolicy = "suffix"
	PolicySkip      ConflictPolicy = "skip"
	PolicyOverwrite ConflictPolicy = "overwrite"
)

const maxDupSuffix = 999

var dupSuffixRe = regexp.MustCompile(`__dup\d+$`)

// ActionKind is the verb of one reconciliation step, both the JSON audit
// log's "action" field and (uppercased) the console trace's bracket tag.
type ActionKind string

const (
	ActionMissing      ActionKind = "missing"
	ActionRefresh      ActionKind = "refresh"
	ActionMove         ActionKind = "move"
	ActionDedupe       ActionKind = "dedupe"
	ActionDisplace     ActionKind = "displace"
	ActionDup          ActionKind = "dup"
	ActionPromote      ActionKind = "promote"
	ActionAdopt        ActionKind = "adopt"
	ActionConflictSkip ActionKind = "conflict_skip"
)

// Action is one reconciliation step, appended to the audit log and, when an
// Engine has a console writer, traced to it.
type Action struct {
	TS     string     `json:"ts"`
	Kind   ActionKind `json:"action"`
	SHA256 string     `json:"sha256"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
	Note   string      `json:"note,omitempty"`
	Dry    bool        `json:"dry"`
}

// Summary totals one Run, for the CLI's closing report.
type Summary struct {
	Counts  map[ActionKind]int
	Actions []Action
}

// Engine reconciles one domain's downloads tree against its hash registry.
// Callers invoke Run inside the coordinator's mutation lock (spec §5).
type Engine struct {
	Store    *store.Store
	Blob     *blobstore.Store // rooted at the domain's downloads/<domain> directory
	Policy   routing.Policy
	Terms    model.TermMap
	Clock    clock.Clock
	Mode     Mode
	Conflict ConflictPolicy
	Out      io.Writer // console trace destination; nil disables tracing
	// Limit caps the number of reconciliation actions one Run takes (spec
	// §6's CLI --limit=N), so a huge registry can be resorted in bounded
	// batches across repeated invocations. 0 means unlimited.
	Limit int
}

// Run performs spec §4.9's Phase A (registry-driven walk) followed by
// Phase B (disk-driven sweep), in that order, since Phase B's "already
// referenced" check depends on Phase A's relocations having landed first.
func (e *Engine) Run() (Summary, error) {
	summary := Summary{Counts: map[ActionKind]int{}}

	registry := e.Store.Registry()
	shas := make([]string, 0, len(registry))
	for sha := range registry {
		shas = append(shas, sha)
	}
	sort.Strings(shas)

	for _, sha := range shas {
		if e.limitReached(&summary) {
			break
		}
		if err := e.reconcileRecord(sha, registry[sha], &summary); err != nil {
			return summary, fmt.Errorf("reconcile: phase A %s: %w", hash.Short(sha), err)
		}
	}

	if !e.limitReached(&summary) {
		if err := e.sweepDisk(&summary); err != nil {
			return summary, fmt.Errorf("reconcile: phase B: %w", err)
		}
	}

	return summary, nil
}

// limitReached reports whether Limit has already been hit, so Run can stop
// taking further action mid-phase instead of overrunning the caller's cap.
func (e *Engine) limitReached(summary *Summary) bool {
	return e.Limit > 0 && len(summary.Actions) >= e.Limit
}

// reconcileRecord implements Phase A steps 1-3 and dispatches to the move /
// occupied-target branches for steps 4-6.
func (e *Engine) reconcileRecord(sha string, rec model.HashRecord, summary *Summary) error {
	oldSavedTo := rec.SavedTo
	relSaved := e.relPathOf(rec.SavedTo)

	if rec.SavedTo == "" || !e.Blob.Exists(relSaved) {
		return e.record(summary, Action{Kind: ActionMissing, SHA256: sha, From: rec.SavedTo})
	}

	canonicalSHA, err := e.hashBlob(relSaved)
	if err != nil {
		return fmt.Errorf("hash canonical occupant %s: %w", relSaved, err)
	}
	if canonicalSHA != sha {
		if err := e.displaceWrongCanonicalOccupant(relSaved, canonicalSHA, summary); err != nil {
			return err
		}
		return e.record(summary, Action{Kind: ActionMissing, SHA256: sha, From: rec.SavedTo, Note: "canonical_occupant_mismatch"})
	}

	routed := e.routeRecord(rec, relSaved)
	desiredRel := routing.RelPath(routed)

	if desiredRel == relSaved {
		rec.TermKey = routed.TermKey
		rec.ElectorateFolder = routed.SubBucket
		rec.Ext = routed.Ext
		if err := e.applyOnly(func() error { return e.Store.PutHashRecord(rec) }); err != nil {
			return err
		}
		return e.record(summary, Action{Kind: ActionRefresh, SHA256: sha, From: rec.SavedTo})
	}

	if !e.Blob.Exists(desiredRel) {
		return e.moveToDesired(sha, rec, oldSavedTo, relSaved, desiredRel, routed, summary)
	}

	return e.handleOccupiedTarget(sha, rec, oldSavedTo, relSaved, desiredRel, routed, summary)
}

// routeRecord computes a record's desired placement from its best source
// (spec §4.9 step 2: "most recent by ts, else first"), using its current
// saved basename as the filename_override.
func (e *Engine) routeRecord(rec model.HashRecord, relSaved string) routing.Result {
	in := routing.Input{
		Ext:              rec.Ext,
		FilenameOverride: filepath.Base(relSaved),
		Metadata:         routing.Metadata{Terms: e.Terms},
	}
	if best, ok := rec.BestSource(); ok {
		in.FileURL = best.URL
		in.SourcePageURL = best.SourcePageURL
	}
	return e.Policy.Route(in)
}

func (e *Engine) moveToDesired(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, routed routing.Result, summary *Summary) error {
	if err := e.applyOnly(func() error { _, err := e.Blob.Move(relSaved, desiredRel); return err }); err != nil {
		return fmt.Errorf("move %s -> %s: %w", relSaved, desiredRel, err)
	}
	if err := e.record(summary, Action{Kind: ActionMove, SHA256: sha, From: relSaved, To: desiredRel}); err != nil {
		return err
	}
	rec.SavedTo = e.projectRelative(desiredRel)
	rec.TermKey = routed.TermKey
	rec.ElectorateFolder = routed.SubBucket
	rec.Ext = routed.Ext
	return e.finishRelocate(sha, rec, oldSavedTo)
}

// handleOccupiedTarget implements spec §4.9 step 5. "desired" already has a
// file on disk; resolve by SHA comparison, or by the Engine's ConflictPolicy
// when one was configured to override the default suffix behavior.
func (e *Engine) handleOccupiedTarget(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, routed routing.Result, summary *Summary) error {
	occupantSHA, err := e.hashBlob(desiredRel)
	if err != nil {
		return fmt.Errorf("hash occupant %s: %w", desiredRel, err)
	}

	if occupantSHA == sha {
		return e.dedupeAgainstOccupant(sha, rec, oldSavedTo, relSaved, desiredRel, summary)
	}

	switch e.Conflict {
	case PolicySkip:
		return e.record(summary, Action{Kind: ActionConflictSkip, SHA256: sha, From: relSaved, To: desiredRel, Note: "conflict_policy_skip"})
	case PolicyOverwrite:
		return e.overwriteOccupant(sha, rec, oldSavedTo, relSaved, desiredRel, routed, summary)
	}

	occupantRec, occupantIndexed := e.Store.HashRecord(occupantSHA)
	if !occupantIndexed || !e.occupantRoutesTo(occupantRec, desiredRel) {
		return e.displaceOccupantThenMove(sha, rec, oldSavedTo, relSaved, desiredRel, routed, occupantSHA, occupantRec, occupantIndexed, summary)
	}
	return e.suffixIncoming(sha, rec, oldSavedTo, relSaved, desiredRel, summary)
}

func (e *Engine) occupantRoutesTo(occupantRec model.HashRecord, target string) bool {
	occupantRelSaved := e.relPathOf(occupantRec.SavedTo)
	routed := e.routeRecord(occupantRec, occupantRelSaved)
	return routing.RelPath(routed) == target
}

// dedupeAgainstOccupant implements step 5's "Same SHA" branch.
func (e *Engine) dedupeAgainstOccupant(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, summary *Summary) error {
	if err := e.applyOnly(func() error { return e.Blob.Remove(relSaved) }); err != nil {
		return fmt.Errorf("remove duplicate %s: %w", relSaved, err)
	}
	if err := e.record(summary, Action{Kind: ActionDedupe, SHA256: sha, From: relSaved, To: desiredRel}); err != nil {
		return err
	}
	rec.SavedTo = e.projectRelative(desiredRel)
	return e.finishRelocate(sha, rec, oldSavedTo)
}

// displaceOccupantThenMove implements Rule A: the occupant isn't indexed,
// or doesn't itself route to desired, so it loses its place.
func (e *Engine) displaceOccupantThenMove(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, routed routing.Result, occupantSHA string, occupantRec model.HashRecord, occupantIndexed bool, summary *Summary) error {
	dupRel, ok := e.suffixPath(desiredRel)
	if !ok {
		return e.record(summary, Action{Kind: ActionConflictSkip, SHA256: sha, From: relSaved, To: desiredRel, Note: "dup_suffix_exhausted"})
	}

	if err := e.applyOnly(func() error { _, err := e.Blob.Move(desiredRel, dupRel); return err }); err != nil {
		return fmt.Errorf("displace occupant %s: %w", desiredRel, err)
	}
	if err := e.record(summary, Action{Kind: ActionDisplace, SHA256: occupantSHA, From: desiredRel, To: dupRel}); err != nil {
		return err
	}

	if occupantIndexed {
		oldOccupantSavedTo := occupantRec.SavedTo
		occupantRec.SavedTo = e.projectRelative(dupRel)
		if err := e.applyOnly(func() error { return e.Store.PutHashRecord(occupantRec) }); err != nil {
			return err
		}
		if err := e.applyOnly(func() error { return e.repointManifests(occupantSHA, oldOccupantSavedTo, occupantRec.SavedTo) }); err != nil {
			return err
		}
	}

	if err := e.applyOnly(func() error { _, err := e.Blob.Move(relSaved, desiredRel); return err }); err != nil {
		return fmt.Errorf("move %s into displaced slot: %w", relSaved, err)
	}
	if err := e.record(summary, Action{Kind: ActionMove, SHA256: sha, From: relSaved, To: desiredRel}); err != nil {
		return err
	}

	rec.SavedTo = e.projectRelative(desiredRel)
	rec.TermKey = routed.TermKey
	rec.ElectorateFolder = routed.SubBucket
	rec.Ext = routed.Ext
	return e.finishRelocate(sha, rec, oldSavedTo)
}

// displaceWrongCanonicalOccupant implements spec §8 scenario 4: the bytes
// physically sitting at a record's own canonical path don't hash to that
// record's SHA. Rather than trust the path's mere presence, the foreign
// occupant is moved aside under the same suffix naming Rule A uses, freeing
// the slot for the record's real (orphaned) bytes to be restored into by a
// later move/promote.
func (e *Engine) displaceWrongCanonicalOccupant(canonicalPath, occupantSHA string, summary *Summary) error {
	dupRel, ok := e.suffixPath(canonicalPath)
	if !ok {
		return e.record(summary, Action{Kind: ActionConflictSkip, SHA256: occupantSHA, From: canonicalPath, Note: "dup_suffix_exhausted"})
	}
	if err := e.applyOnly(func() error { _, err := e.Blob.Move(canonicalPath, dupRel); return err }); err != nil {
		return fmt.Errorf("displace wrong canonical occupant %s: %w", canonicalPath, err)
	}
	if err := e.record(summary, Action{Kind: ActionDisplace, SHA256: occupantSHA, From: canonicalPath, To: dupRel, Note: "canonical_occupant_mismatch"}); err != nil {
		return err
	}

	occupantRec, occupantIndexed := e.Store.HashRecord(occupantSHA)
	if !occupantIndexed {
		return nil
	}
	oldOccupantSavedTo := occupantRec.SavedTo
	occupantRec.SavedTo = e.projectRelative(dupRel)
	if err := e.applyOnly(func() error { return e.Store.PutHashRecord(occupantRec) }); err != nil {
		return err
	}
	return e.applyOnly(func() error { return e.repointManifests(occupantSHA, oldOccupantSavedTo, occupantRec.SavedTo) })
}

// suffixIncoming implements Rule B: the occupant wins, the incoming file is
// suffixed instead.
func (e *Engine) suffixIncoming(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, summary *Summary) error {
	dupRel, ok := e.suffixPath(desiredRel)
	if !ok {
		return e.record(summary, Action{Kind: ActionConflictSkip, SHA256: sha, From: relSaved, To: desiredRel, Note: "dup_suffix_exhausted"})
	}
	if err := e.applyOnly(func() error { _, err := e.Blob.Move(relSaved, dupRel); return err }); err != nil {
		return fmt.Errorf("suffix incoming %s: %w", relSaved, err)
	}
	if err := e.record(summary, Action{Kind: ActionDup, SHA256: sha, From: relSaved, To: dupRel}); err != nil {
		return err
	}
	rec.SavedTo = e.projectRelative(dupRel)
	return e.finishRelocate(sha, rec, oldSavedTo)
}

// overwriteOccupant implements the "overwrite" ConflictPolicy: the incoming
// record always wins regardless of Rule A/B's registry check.
func (e *Engine) overwriteOccupant(sha string, rec model.HashRecord, oldSavedTo, relSaved, desiredRel string, routed routing.Result, summary *Summary) error {
	if err := e.applyOnly(func() error { return e.Blob.Remove(desiredRel) }); err != nil {
		return fmt.Errorf("overwrite occupant %s: %w", desiredRel, err)
	}
	if err := e.applyOnly(func() error { _, err := e.Blob.Move(relSaved, desiredRel); return err }); err != nil {
		return fmt.Errorf("move %s -> %s: %w", relSaved, desiredRel, err)
	}
	if err := e.record(summary, Action{Kind: ActionMove, SHA256: sha, From: relSaved, To: desiredRel, Note: "conflict_policy_overwrite"}); err != nil {
		return err
	}
	rec.SavedTo = e.projectRelative(desiredRel)
	rec.TermKey = routed.TermKey
	rec.ElectorateFolder = routed.SubBucket
	rec.Ext = routed.Ext
	return e.finishRelocate(sha, rec, oldSavedTo)
}

// finishRelocate implements step 6: stamp timestamps, persist the record,
// and repoint every per-level manifest entry that named the old path.
func (e *Engine) finishRelocate(sha string, rec model.HashRecord, oldSavedTo string) error {
	ts := e.Clock.Now().Format(time.RFC3339Nano)
	if rec.FirstSeenTS == "" {
		rec.FirstSeenTS = ts
	}
	rec.LastSeenTS = ts

	if err := e.applyOnly(func() error { return e.Store.PutHashRecord(rec) }); err != nil {
		return err
	}
	if oldSavedTo != "" && oldSavedTo != rec.SavedTo {
		if err := e.applyOnly(func() error { return e.repointManifests(sha, oldSavedTo, rec.SavedTo) }); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) repointManifests(sha, oldSavedTo, newSavedTo string) error {
	for _, level := range e.Store.ManifestLevelNumbers() {
		manifest := e.Store.Manifest(level)
		changed := false
		for i, entry := range manifest {
			if entry.SHA256 == sha && entry.SavedTo == oldSavedTo {
				manifest[i].SavedTo = newSavedTo
				changed = true
			}
		}
		if changed {
			if err := e.Store.ReplaceManifest(level, manifest); err != nil {
				return err
			}
		}
	}
	return nil
}

// sweepDisk implements Phase B: walk every file under the domain's
// downloads tree not already referenced by a saved_to, per spec §4.9.
func (e *Engine) sweepDisk(summary *Summary) error {
	tree := e.Store.Tree()
	registry := e.Store.Registry()

	referenced := make(map[string]bool, len(registry))
	for _, rec := range registry {
		if rec.SavedTo != "" {
			referenced[e.relPathOf(rec.SavedTo)] = true
		}
	}

	var strays []string
	walkErr := filepath.WalkDir(tree.DownloadsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(tree.DownloadsDir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if !referenced[rel] {
			strays = append(strays, rel)
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return nil
		}
		return walkErr
	}
	sort.Strings(strays)

	seenStems := make(map[string][]string, len(strays))
	for _, rel := range strays {
		if e.limitReached(summary) {
			break
		}
		if err := e.reconcileStray(rel, registry, seenStems, summary); err != nil {
			return fmt.Errorf("stray %s: %w", rel, err)
		}
	}
	return nil
}

func (e *Engine) reconcileStray(rel string, registry map[string]model.HashRecord, seenStems map[string][]string, summary *Summary) error {
	sha, err := e.hashBlob(rel)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	rec, indexed := registry[sha]
	if !indexed {
		return e.reconcileUnindexedStray(sha, rel, seenStems, summary)
	}

	canonicalRel := e.relPathOf(rec.SavedTo)
	switch {
	case rec.SavedTo != "" && e.Blob.Exists(canonicalRel):
		if canonicalRel == rel {
			return nil
		}
		canonicalSHA, err := e.hashBlob(canonicalRel)
		if err != nil {
			return fmt.Errorf("hash canonical occupant %s: %w", canonicalRel, err)
		}
		if canonicalSHA != sha {
			// canonicalRel's own bytes don't belong to this record; displace
			// the wrong occupant and promote rel, which does match, into the
			// freed slot instead of destroying it as a false duplicate.
			if err := e.displaceWrongCanonicalOccupant(canonicalRel, canonicalSHA, summary); err != nil {
				return err
			}
			if err := e.applyOnly(func() error { _, err := e.Blob.Move(rel, canonicalRel); return err }); err != nil {
				return fmt.Errorf("promote stray into freed canonical slot: %w", err)
			}
			if err := e.record(summary, Action{Kind: ActionPromote, SHA256: sha, From: rel, To: canonicalRel}); err != nil {
				return err
			}
			rec.SavedTo = e.projectRelative(canonicalRel)
			return e.applyOnly(func() error { return e.Store.PutHashRecord(rec) })
		}
		if err := e.applyOnly(func() error { return e.Blob.Remove(rel) }); err != nil {
			return fmt.Errorf("remove stray duplicate: %w", err)
		}
		return e.record(summary, Action{Kind: ActionDedupe, SHA256: sha, From: rel, To: canonicalRel})

	case rec.SavedTo != "":
		if err := e.applyOnly(func() error { _, err := e.Blob.Move(rel, canonicalRel); return err }); err != nil {
			return fmt.Errorf("promote stray: %w", err)
		}
		if err := e.record(summary, Action{Kind: ActionPromote, SHA256: sha, From: rel, To: canonicalRel}); err != nil {
			return err
		}
		rec.SavedTo = e.projectRelative(canonicalRel)
		return e.applyOnly(func() error { return e.Store.PutHashRecord(rec) })

	default:
		if err := e.record(summary, Action{Kind: ActionAdopt, SHA256: sha, From: rel}); err != nil {
			return err
		}
		rec.SavedTo = e.projectRelative(rel)
		return e.applyOnly(func() error { return e.Store.PutHashRecord(rec) })
	}
}

// reconcileUnindexedStray implements "not in the registry: leave it alone
// unless it has a twin" — a sibling sharing the same normalized stem after
// stripping a __dupN suffix.
func (e *Engine) reconcileUnindexedStray(sha, rel string, seenStems map[string][]string, summary *Summary) error {
	stem := dupStem(rel)
	if len(seenStems[stem]) > 0 {
		dupRel, ok := e.suffixPath(rel)
		if !ok {
			seenStems[stem] = append(seenStems[stem], rel)
			return e.record(summary, Action{Kind: ActionConflictSkip, SHA256: sha, From: rel, Note: "dup_suffix_exhausted"})
		}
		if err := e.applyOnly(func() error { _, err := e.Blob.Move(rel, dupRel); return err }); err != nil {
			return fmt.Errorf("suffix twin: %w", err)
		}
		if err := e.record(summary, Action{Kind: ActionDup, SHA256: sha, From: rel, To: dupRel}); err != nil {
			return err
		}
		seenStems[stem] = append(seenStems[stem], dupRel)
		return nil
	}
	seenStems[stem] = append(seenStems[stem], rel)
	return nil
}

func dupStem(rel string) string {
	dir := filepath.Dir(rel)
	base := filepath.Base(rel)
	ext := filepath.Ext(base)
	stem := dupSuffixRe.ReplaceAllString(strings.TrimSuffix(base, ext), "")
	return filepath.ToSlash(filepath.Join(dir, stem+ext))
}

// suffixPath finds the first base__dupN.ext (N from 1) not already occupied
// on disk, capped at maxDupSuffix (spec §4.9, "scan up to 999").
func (e *Engine) suffixPath(rel string) (string, bool) {
	dir := filepath.Dir(rel)
	base := filepath.Base(rel)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; n <= maxDupSuffix; n++ {
		candidate := filepath.ToSlash(filepath.Join(dir, fmt.Sprintf("%s__dup%d%s", stem, n, ext)))
		if !e.Blob.Exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (e *Engine) hashBlob(rel string) (string, error) {
	f, err := e.Blob.Open(rel)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return hash.Reader(f)
}

func (e *Engine) applyOnly(fn func() error) error {
	if e.Mode != Apply {
		return nil
	}
	return fn()
}

func (e *Engine) downloadsRoot() string {
	return filepath.Join("downloads", e.Store.Tree().Domain)
}

func (e *Engine) relPathOf(savedTo string) string {
	if savedTo == "" {
		return ""
	}
	rel, err := filepath.Rel(e.downloadsRoot(), savedTo)
	if err != nil {
		return savedTo
	}
	return filepath.ToSlash(rel)
}

func (e *Engine) projectRelative(relPath string) string {
	return filepath.ToSlash(filepath.Join(e.downloadsRoot(), relPath))
}

func (e *Engine) dedupeLogPath() string {
	return filepath.Join(e.Store.Tree().RunsDir, "dedupe_log.jsonl")
}

// record appends a to the summary, the audit log, and — when the Engine has
// a console writer — the fixed console trace format from spec §4.9.
func (e *Engine) record(summary *Summary, a Action) error {
	a.Dry = e.Mode != Apply
	a.TS = e.Clock.Now().Format(time.RFC3339Nano)
	summary.Actions = append(summary.Actions, a)
	summary.Counts[a.Kind]++

	if err := atomicfile.AppendJSONLine(e.dedupeLogPath(), a); err != nil {
		return fmt.Errorf("reconcile: audit log: %w", err)
	}
	e.writeTrace(a)
	return nil
}

var traceColor = map[ActionKind]*color.Color{
	ActionMove:         color.New(color.FgCyan),
	ActionDedupe:       color.New(color.FgYellow),
	ActionDisplace:     color.New(color.FgMagenta),
	ActionDup:          color.New(color.FgMagenta),
	ActionPromote:      color.New(color.FgGreen),
	ActionAdopt:        color.New(color.FgGreen),
	ActionMissing:      color.New(color.FgRed),
	ActionConflictSkip: color.New(color.FgRed),
}

func (e *Engine) writeTrace(a Action) {
	if e.Out == nil {
		return
	}
	line := traceLine(a)
	if c, ok := traceColor[a.Kind]; ok && !a.Dry {
		c.Fprintln(e.Out, line)
		return
	}
	fmt.Fprintln(e.Out, line)
}

// traceLine renders spec §4.9's fixed console format:
// "[DRY|MOVE|DUP|DEDUPE|DISPLACE|PROMOTE|ADOPT] <verb> <sha8>… <from>\n           -> <to>".
func traceLine(a Action) string {
	tag := strings.ToUpper(string(a.Kind))
	if a.Dry {
		tag = "DRY"
	}
	sha8 := hash.Short(a.SHA256)
	if a.To != "" && a.To != a.From {
		return fmt.Sprintf("[%s] %s %s %s\n           -> %s", tag, actionVerb(a.Kind), sha8, a.From, a.To)
	}
	return fmt.Sprintf("[%s] %s %s %s", tag, actionVerb(a.Kind), sha8, a.From)
}

func actionVerb(k ActionKind) string {
	switch k {
	case ActionMove:
		return "move"
	case ActionDedupe:
		return "dedupe"
	case ActionDisplace:
		return "displace"
	case ActionDup:
		return "suffix"
	case ActionPromote:
		return "promote"
	case ActionAdopt:
		return "adopt"
	case ActionMissing:
		return "missing"
	case ActionRefresh:
		return "refresh"
	case ActionConflictSkip:
		return "skip"
	default:
		return string(k)
	}
}
