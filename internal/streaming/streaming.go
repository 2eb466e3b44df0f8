// Package streaming implements the streaming run manager from spec §4.7:
// start/append*/finalize over a JSONL bucket keyed by (domain, level,
// run_id), plus the auto-finalize watchdog sweep that finalizes idle
// buckets on a timer. Grounded on the teacher's internal/progress/hub.go
// batching-goroutine shape (timer-driven, never-overlapping background
// work), retargeted from event-batching to idle-bucket scanning; the actual
// batch reduction reuses internal/frontier so a finalize behaves exactly
// like a non-streaming dedupe/level call over the whole bucket at once.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/artifact"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/domainkey"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/frontier"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/model"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/store"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/storecache"
)

const maxRunIDLen = 120

var unsafeRunID = regexp.MustCompile(`[^A-Za-z0-9._-]`)

var bucketFilename = regexp.MustCompile(`^discover_level_(\d+)_(.+)\.jsonl$`)

// SafeRunID implements spec §4.7's safe(run_id): non-[A-Za-z0-9._-]
// replaced with "_", capped to 120 characters.
func SafeRunID(runID string) string {
	safe := unsafeRunID.ReplaceAllString(runID, "_")
	if len(safe) > maxRunIDLen {
		safe = safe[:maxRunIDLen]
	}
	return safe
}

func bucketFileName(level int, runID string) string {
	return fmt.Sprintf("discover_level_%d_%s.jsonl", level, SafeRunID(runID))
}

func bucketPath(tree domainkey.Tree, level int, runID string) string {
	return filepath.Join(tree.RunsDir, bucketFileName(level, runID))
}

func donePath(bucket string) string { return bucket + ".done" }

// FinalizeSummary is the counts written into a bucket's .done marker and
// returned to the caller.
type FinalizeSummary struct {
	Visited   int  `json:"visited"`
	Pages     int  `json:"pages"`
	Files     int  `json:"files"`
	Remaining int  `json:"remaining"`
	NoOp      bool `json:"-"`
}

// Manager runs streaming buckets across every domain rooted at one project
// root, and owns the auto-finalize watchdog sweep (spec §4.7's
// "Cross-domain fallback lookup" needs visibility across domains, so a
// Manager is not scoped to a single domain's Store the way upload.Service
// and frontier.Engine are). Stores is shared with every other subsystem
// resolving the same domain (internal/api's upload/frontier/probe
// handlers), so a finalize and a concurrent upload never diverge into two
// independent in-memory snapshots of the same state.json.
type Manager struct {
	ProjectRoot  string
	ChunkSize    int
	MetaFirstRow bool
	Clock        clock.Clock
	Stores       *storecache.Cache
}

// NewManager constructs a Manager. Callers invoke Start/Append/Finalize and
// the watchdog tick under the coordinator's mutation lock (spec §5). cache
// is shared with whatever else in the process resolves Stores for the same
// project root.
func NewManager(projectRoot string, chunkSize int, metaFirstRow bool, clk clock.Clock, cache *storecache.Cache) *Manager {
	if cache == nil {
		cache = storecache.New(projectRoot)
	}
	return &Manager{ProjectRoot: projectRoot, ChunkSize: chunkSize, MetaFirstRow: metaFirstRow, Clock: clk, Stores: cache}
}

func (m *Manager) storeFor(domain string) (*store.Store, error) {
	return m.Stores.Get(domain)
}

// Start implements spec §4.7 "start": truncate the bucket and delete any
// .done marker.
func (m *Manager) Start(domain string, level int, runID string) error {
	st, err := m.storeFor(domain)
	if err != nil {
		return err
	}
	path := bucketPath(st.Tree(), level, runID)
	if err := atomicfile.Truncate(path); err != nil {
		return err
	}
	return atomicfile.RemoveIfExists(donePath(path))
}

// Append implements spec §4.7 "append": write one JSONL record to the bucket.
func (m *Manager) Append(domain string, level int, runID string, rec model.StreamingRecord) error {
	st, err := m.storeFor(domain)
	if err != nil {
		return err
	}
	rec.Level = level
	rec.RunID = runID
	if rec.TS == "" {
		rec.TS = m.Clock.Now().Format(time.RFC3339Nano)
	}
	return atomicfile.AppendJSONLine(bucketPath(st.Tree(), level, runID), rec)
}

// Finalize implements spec §4.7 "finalize" for a bucket whose domain is
// known.
func (m *Manager) Finalize(domain string, level int, runID string) (FinalizeSummary, error) {
	st, err := m.storeFor(domain)
	if err != nil {
		return FinalizeSummary{}, err
	}
	return m.finalizeBucket(st, level, bucketPath(st.Tree(), level, runID))
}

// FinalizeCrossDomain implements spec §4.7's cross-domain fallback lookup:
// when no domain hint is supplied and the default namespace has no matching
// bucket, search every domain's runs directory for a same-named bucket and
// finalize the largest match.
func (m *Manager) FinalizeCrossDomain(level int, runID string) (FinalizeSummary, error) {
	defaultStore, err := m.storeFor(domainkey.Default)
	if err != nil {
		return FinalizeSummary{}, err
	}
	name := bucketFileName(level, runID)
	defaultPath := filepath.Join(defaultStore.Tree().RunsDir, name)
	if atomicfile.Exists(defaultPath) {
		return m.finalizeBucket(defaultStore, level, defaultPath)
	}

	runsRoot := filepath.Join(m.ProjectRoot, "BFS_crawl", "runs")
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return FinalizeSummary{}, fmt.Errorf("streaming: no bucket named %s found", name)
		}
		return FinalizeSummary{}, err
	}

	var bestPath, bestDomain string
	bestSize := int64(-1)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(runsRoot, e.Name(), name)
		info, statErr := os.Stat(candidate)
		if statErr != nil {
			continue
		}
		if info.Size() > bestSize {
			bestSize = info.Size()
			bestPath = candidate
			bestDomain = e.Name()
		}
	}
	if bestPath == "" {
		return FinalizeSummary{}, fmt.Errorf("streaming: no bucket named %s found in any domain", name)
	}
	st, err := m.storeFor(bestDomain)
	if err != nil {
		return FinalizeSummary{}, err
	}
	return m.finalizeBucket(st, level, bestPath)
}

func (m *Manager) finalizeBucket(st *store.Store, level int, path string) (FinalizeSummary, error) {
	done := donePath(path)
	if atomicfile.Exists(done) {
		return m.readDoneSummary(done)
	}

	lines, err := atomicfile.ReadLines(path)
	if err != nil {
		return FinalizeSummary{}, err
	}

	visited, pages, files := reduceLines(lines)

	eng := frontier.New(st, m.ChunkSize, m.MetaFirstRow)
	if _, err := eng.Merge(frontier.Request{Level: level, Visited: visited, DiscoveredPages: pages, DiscoveredFiles: files}); err != nil {
		return FinalizeSummary{}, fmt.Errorf("streaming: finalize merge: %w", err)
	}

	remaining := stableSubtract(pages, toSet(visited))
	if err := m.writeRemaining(st, level, remaining); err != nil {
		return FinalizeSummary{}, err
	}

	summary := FinalizeSummary{Visited: len(visited), Pages: len(pages), Files: len(files), Remaining: len(remaining)}
	if err := atomicfile.WriteJSON(done, summary); err != nil {
		return FinalizeSummary{}, fmt.Errorf("streaming: write done marker: %w", err)
	}
	return summary, nil
}

func (m *Manager) readDoneSummary(path string) (FinalizeSummary, error) {
	var summary FinalizeSummary
	if err := atomicfile.ReadJSON(path, &summary, FinalizeSummary{}); err != nil {
		return FinalizeSummary{}, err
	}
	summary.NoOp = true
	return summary, nil
}

// writeRemaining writes spec §4.7's "remaining" artifact:
// urls-level-L.remaining.json = input-frontier-for-L \ visited, plus its
// own chunked variants.
func (m *Manager) writeRemaining(st *store.Store, level int, remaining []string) error {
	tree := st.Tree()
	base := artifact.BasePath(tree.ArtifactsDir, fmt.Sprintf("urls-level-%d.remaining", level))
	meta := artifact.Meta{Level: level, Kind: "urls_remaining"}
	rows := urlRows(remaining)
	if err := artifact.Write(base+".json", meta, rows, m.MetaFirstRow); err != nil {
		return fmt.Errorf("streaming: write remaining artifact: %w", err)
	}
	if _, err := artifact.WriteChunked(base, meta, rows, m.ChunkSize, m.MetaFirstRow); err != nil {
		return fmt.Errorf("streaming: chunk remaining artifact: %w", err)
	}
	return nil
}

// RunWatchdogTick implements spec §4.7's auto-finalize watchdog for one
// tick: scan every runs/<domain>/*.jsonl lacking a .done sibling, and
// finalize any whose mtime is older than idle and whose size is non-zero.
func (m *Manager) RunWatchdogTick(_ context.Context, idle time.Duration) error {
	runsRoot := filepath.Join(m.ProjectRoot, "BFS_crawl", "runs")
	domains, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := m.Clock.Now()
	for _, d := range domains {
		if !d.IsDir() {
			continue
		}
		domainDir := filepath.Join(runsRoot, d.Name())
		files, err := os.ReadDir(domainDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(domainDir, f.Name())
			if atomicfile.Exists(donePath(path)) {
				continue
			}
			info, err := f.Info()
			if err != nil || info.Size() == 0 {
				continue
			}
			if now.Sub(info.ModTime()) < idle {
				continue
			}
			level, ok := parseBucketLevel(f.Name())
			if !ok {
				continue
			}
			st, err := m.storeFor(d.Name())
			if err != nil {
				return err
			}
			if _, err := m.finalizeBucket(st, level, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// WatchdogTick adapts RunWatchdogTick into a coordinator.WatchdogFunc-shaped
// closure bound to a fixed idle threshold.
func (m *Manager) WatchdogTick(idle time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.RunWatchdogTick(ctx, idle)
	}
}

func parseBucketLevel(name string) (int, bool) {
	match := bucketFilename.FindStringSubmatch(name)
	if match == nil {
		return 0, false
	}
	var level int
	if _, err := fmt.Sscanf(match[1], "%d", &level); err != nil {
		return 0, false
	}
	return level, true
}

// reduceLines replays a bucket's JSONL lines into the single batch spec
// §4.7's finalize feeds to the frontier engine: union visited/pages,
// merge files by URL with the prefer-source rule.
func reduceLines(lines []string) (visited, pages []string, files []model.FileCandidate) {
	var visitedAll, pagesAll []string
	fileOrder := make([]string, 0)
	fileByURL := map[string]model.FileCandidate{}

	for _, line := range lines {
		var rec model.StreamingRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		visitedAll = append(visitedAll, rec.Visited...)
		pagesAll = append(pagesAll, rec.Pages...)
		for _, f := range rec.Files {
			if existing, ok := fileByURL[f.URL]; ok {
				fileByURL[f.URL] = model.MergePreferring(existing, f)
				continue
			}
			fileByURL[f.URL] = f
			fileOrder = append(fileOrder, f.URL)
		}
	}

	files = make([]model.FileCandidate, 0, len(fileOrder))
	for _, u := range fileOrder {
		files = append(files, fileByURL[u])
	}
	return stableUniq(visitedAll), stableUniq(pagesAll), files
}

func urlRows(urls []string) []artifact.Row {
	rows := make([]artifact.Row, len(urls))
	for i, u := range urls {
		rows[i] = artifact.Row{"url": u}
	}
	return rows
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

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
