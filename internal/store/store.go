// Package store implements the per-domain state store of spec §4.2 and §3:
// a cache over state.json, the content-hash registry, per-level manifests,
// and the probe index, all persisted atomically. The store loads state.json
// as written; no code path rebuilds it from the artifact files. Grounded on the
// teacher's in-memory-plus-mutex job store shape
// (internal/storage/memory/job_store.go, read then deleted) combined with
// atomicfile persistence.
package store

import (
	"sync"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
)

// State is the persisted shape of state.json: per-level frontier
// bookkeeping plus the content-hash registry, keyed by level number and
// SHA-256 respectively.
type State struct {
	Levels   map[int]model.Level             `json:"levels"`
	Registry map[string]model.HashRecord      `json:"registry"`
	Manifest map[int]model.LevelFileManifest  `json:"manifest"`
}

func newState() State {
	return State{
		Levels:   make(map[int]model.Level),
		Registry: make(map[string]model.HashRecord),
		Manifest: make(map[int]model.LevelFileManifest),
	}
}

// Store holds one domain's State in memory, synchronized with its on-disk
// cache. Callers outside this package serialize access via the coordinator;
// Store's own mutex only protects its in-memory map against the watchdog
// and request handlers racing on load/save.
type Store struct {
	mu    sync.RWMutex
	tree  domainkey.Tree
	state State
	probe model.ProbeIndex
	terms model.TermMap
}

// Open loads (or lazily initializes) the state for a domain rooted at
// projectRoot, materializing its directory tree first.
func Open(projectRoot, domain string) (*Store, error) {
	tree, err := domainkey.Materialize(projectRoot, domain)
	if err != nil {
		return nil, err
	}

	s := &Store{tree: tree, state: newState(), probe: model.ProbeIndex{}, terms: model.TermMap{}}

	if err := atomicfile.ReadJSON(tree.StateFile, &s.state, newState()); err != nil {
		return nil, err
	}
	if s.state.Levels == nil {
		s.state.Levels = make(map[int]model.Level)
	}
	if s.state.Registry == nil {
		s.state.Registry = make(map[string]model.HashRecord)
	}
	if s.state.Manifest == nil {
		s.state.Manifest = make(map[int]model.LevelFileManifest)
	}

	if err := atomicfile.ReadJSON(tree.ProbeIndexFile, &s.probe, model.ProbeIndex{}); err != nil {
		return nil, err
	}
	if s.probe == nil {
		s.probe = model.ProbeIndex{}
	}

	if err := atomicfile.ReadJSON(tree.ElectoratesFile, &s.terms, model.TermMap{}); err != nil {
		return nil, err
	}
	if s.terms == nil {
		s.terms = model.TermMap{}
	}

	return s, nil
}

// Tree returns the domain's materialized directory layout.
func (s *Store) Tree() domainkey.Tree {
	return s.tree
}

// Level returns a copy of level L's bookkeeping, or the zero Level if L has
// never been recorded.
func (s *Store) Level(l int) model.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Levels[l]
}

// SetLevel replaces level L's bookkeeping and persists state.json.
func (s *Store) SetLevel(l int, level model.Level) error {
	s.mu.Lock()
	s.state.Levels[l] = level
	snapshot := s.state
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}

// LevelNumbers returns every level number recorded so far, unordered.
func (s *Store) LevelNumbers() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.state.Levels))
	for l := range s.state.Levels {
		out = append(out, l)
	}
	return out
}

// ManifestLevelNumbers returns every level number with a recorded manifest,
// unordered (used by reconciliation to rewrite every manifest entry pointing
// at a relocated SHA, spec §4.9 step 6).
func (s *Store) ManifestLevelNumbers() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.state.Manifest))
	for l := range s.state.Manifest {
		out = append(out, l)
	}
	return out
}

// Registry returns a copy of the current content-hash registry.
func (s *Store) Registry() map[string]model.HashRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.HashRecord, len(s.state.Registry))
	for k, v := range s.state.Registry {
		out[k] = v
	}
	return out
}

// HashRecord looks up one registry entry by SHA-256.
func (s *Store) HashRecord(sha string) (model.HashRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.Registry[sha]
	return r, ok
}

// PutHashRecord inserts or replaces a registry entry and persists state.json.
func (s *Store) PutHashRecord(r model.HashRecord) error {
	s.mu.Lock()
	s.state.Registry[r.SHA256] = r
	snapshot := s.state
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}

// DeleteHashRecord removes a registry entry outright and persists
// state.json, used by a hard level reset when a record is left with no
// remaining source observations.
func (s *Store) DeleteHashRecord(sha string) error {
	s.mu.Lock()
	delete(s.state.Registry, sha)
	snapshot := s.state
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}

// Manifest returns a copy of the per-level file manifest.
func (s *Store) Manifest(level int) model.LevelFileManifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.state.Manifest[level]
	out := make(model.LevelFileManifest, len(m))
	copy(out, m)
	return out
}

// AppendManifest adds entry to level's manifest if not already present
// (spec §4.5 step 5, "if not already present") and persists state.json.
// Returns whether the entry was newly added.
func (s *Store) AppendManifest(level int, entry model.ManifestEntry) (bool, error) {
	s.mu.Lock()
	m := s.state.Manifest[level]
	if m.Contains(entry) {
		s.mu.Unlock()
		return false, nil
	}
	s.state.Manifest[level] = append(m, entry)
	snapshot := s.state
	s.mu.Unlock()
	return true, atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}

// ReplaceManifest overwrites level's manifest wholesale (used by
// reconciliation, which rewrites manifests in place to point at new paths)
// and persists state.json.
func (s *Store) ReplaceManifest(level int, manifest model.LevelFileManifest) error {
	s.mu.Lock()
	s.state.Manifest[level] = manifest
	snapshot := s.state
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}

// Probe returns the current probe index entry for url.
func (s *Store) Probe(url string) (model.ProbeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.probe[url]
	return e, ok
}

// PutProbe records url's probe entry and persists the probe index file.
func (s *Store) PutProbe(url string, entry model.ProbeEntry) error {
	s.mu.Lock()
	s.probe[url] = entry
	snapshot := s.probe
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.ProbeIndexFile, snapshot)
}

// Terms returns a copy of the full term map.
func (s *Store) Terms() model.TermMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.TermMap, len(s.terms))
	for k, v := range s.terms {
		out[k] = v
	}
	return out
}

// PutTerm upserts one term's order metadata and persists electorates_by_term.json.
func (s *Store) PutTerm(termKey string, order model.TermOrder) error {
	s.mu.Lock()
	s.terms[termKey] = order
	snapshot := s.terms
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.ElectoratesFile, snapshot)
}

// ResetTerms clears the term map and persists the empty map.
func (s *Store) ResetTerms() error {
	s.mu.Lock()
	s.terms = model.TermMap{}
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.ElectoratesFile, model.TermMap{})
}

// ReplaceState swaps the in-memory per-level bookkeeping (Levels) wholesale
// and persists state.json; the registry and manifests are left as they are.
func (s *Store) ReplaceState(levels map[int]model.Level) error {
	s.mu.Lock()
	s.state.Levels = levels
	snapshot := s.state
	s.mu.Unlock()
	return atomicfile.WriteJSON(s.tree.StateFile, snapshot)
}
