// Package artifact writes the per-level JSON artifacts described in spec
// §4.6: whole-file writes in either meta-first-row or legacy encoding, and
// chunked variants with a manifest. Grounded on the file-backing-threshold
// idea in the research-mammoth ArtifactStore (large payloads get their own
// file), generalized here to "large payloads get split into numbered parts"
// since artifacts are lists, not blobs.
package artifact

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/atomicfile"
)

// Row is one element of an artifact's JSON array, kept as a raw object so
// the writer can merge meta fields into the first row without knowing the
// row's concrete Go type.
type Row map[string]any

// Meta carries the shared fields spec §4.6 merges into the first row under
// meta-first-row encoding, or repeats on every row under legacy encoding.
type Meta struct {
	Level int    `json:"level"`
	Kind  string `json:"kind"`
}

// Write serializes rows as a JSON array to path, two-space indented.
// Encoding selects between meta-first-row (the first row gets
// {_meta:true, level, kind, ...} merged in, the rest stay minimal) and
// legacy (every row carries level and kind explicitly). An empty rows
// removes any pre-existing file at path instead of writing an empty array,
// per spec §4.6 ("Empty input removes pre-existing artifact files").
func Write(path string, meta Meta, rows []Row, metaFirstRow bool) error {
	if len(rows) == 0 {
		return atomicfile.RemoveIfExists(path)
	}

	encoded := encode(meta, rows, metaFirstRow)
	return atomicfile.WriteJSON(path, encoded)
}

func encode(meta Meta, rows []Row, metaFirstRow bool) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)

	if metaFirstRow {
		first := Row{}
		for k, v := range out[0] {
			first[k] = v
		}
		first["_meta"] = true
		first["level"] = meta.Level
		first["kind"] = meta.Kind
		out[0] = first
		return out
	}

	for i, r := range rows {
		row := Row{}
		for k, v := range r {
			row[k] = v
		}
		row["level"] = meta.Level
		row["kind"] = meta.Kind
		out[i] = row
	}
	return out
}

// Decode reverses Write for either encoding: it strips _meta/level/kind
// bookkeeping fields and returns the plain rows, used to verify the
// round-trip property from spec §8 ("Meta-first-row and legacy encodings
// are isomorphic").
func Decode(data []byte) ([]Row, Meta, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, Meta{}, fmt.Errorf("decode artifact: %w", err)
	}

	var meta Meta
	out := make([]Row, len(rows))
	for i, r := range rows {
		row := Row{}
		for k, v := range r {
			row[k] = v
		}
		if lvl, ok := row["level"]; ok {
			if f, ok := lvl.(float64); ok {
				meta.Level = int(f)
			}
			delete(row, "level")
		}
		if kind, ok := row["kind"]; ok {
			if s, ok := kind.(string); ok {
				meta.Kind = s
			}
			delete(row, "kind")
		}
		delete(row, "_meta")
		out[i] = row
	}
	return out, meta, nil
}

// ChunkPart describes one written chunk file in a chunk manifest.
type ChunkPart struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// ChunkManifest is the `base.parts.json` sidecar written by WriteChunked.
type ChunkManifest struct {
	Kind      string      `json:"kind"`
	Level     int         `json:"level"`
	ChunkSize int         `json:"chunk_size"`
	Total     int         `json:"total"`
	Parts     []ChunkPart `json:"parts"`
}

// WriteChunked splits rows into contiguous chunks of at most chunkSize,
// writes each as "<basePath>.part-<i>-of-<N>.json" (i zero-padded to at
// least 4 digits) in the requested encoding, and writes a manifest at
// "<basePath>.parts.json". Empty rows removes any previously written parts
// and manifest at basePath instead of writing empty files.
func WriteChunked(basePath string, meta Meta, rows []Row, chunkSize int, metaFirstRow bool) (ChunkManifest, error) {
	manifestPath := manifestPath(basePath)

	if len(rows) == 0 {
		if err := removeExistingParts(basePath); err != nil {
			return ChunkManifest{}, err
		}
		return ChunkManifest{}, atomicfile.RemoveIfExists(manifestPath)
	}
	if chunkSize <= 0 {
		chunkSize = len(rows)
	}

	chunks := chunk(rows, chunkSize)
	total := len(chunks)

	manifest := ChunkManifest{Kind: meta.Kind, Level: meta.Level, ChunkSize: chunkSize, Total: len(rows)}
	for i, c := range chunks {
		partPath := partPath(basePath, i, total)
		if err := Write(partPath, meta, c, metaFirstRow); err != nil {
			return ChunkManifest{}, fmt.Errorf("write chunk %d: %w", i, err)
		}
		manifest.Parts = append(manifest.Parts, ChunkPart{Index: i, Path: partPath, Count: len(c)})
	}

	if err := atomicfile.WriteJSON(manifestPath, manifest); err != nil {
		return ChunkManifest{}, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

func chunk(rows []Row, size int) [][]Row {
	var out [][]Row
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}

func partWidth(total int) int {
	width := 4
	for total >= pow10(width) {
		width++
	}
	return width
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func partPath(basePath string, index, total int) string {
	width := partWidth(total)
	return fmt.Sprintf("%s.part-%0*d-of-%d.json", basePath, width, index, total)
}

func manifestPath(basePath string) string {
	return basePath + ".parts.json"
}

// removeExistingParts deletes any previously written part files recorded in
// the manifest at basePath, tolerating a missing manifest.
func removeExistingParts(basePath string) error {
	manifestPath := manifestPath(basePath)
	data, err := readManifestBytes(manifestPath)
	if err != nil || data == nil {
		return nil
	}
	var manifest ChunkManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	paths := make([]string, 0, len(manifest.Parts))
	for _, p := range manifest.Parts {
		paths = append(paths, p.Path)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := atomicfile.RemoveIfExists(p); err != nil {
			return err
		}
	}
	return nil
}

func readManifestBytes(path string) ([]byte, error) {
	if !atomicfile.Exists(path) {
		return nil, nil
	}
	var raw json.RawMessage
	if err := atomicfile.ReadJSON(path, &raw, json.RawMessage(nil)); err != nil {
		return nil, err
	}
	return raw, nil
}

// BasePath joins an artifacts directory and a base filename (without
// extension) the way every artifact in spec §6's layout is named, e.g.
// BasePath(tree.ArtifactsDir, "urls-level-3") -> ".../artifacts/urls-level-3".
func BasePath(artifactsDir, name string) string {
	return filepath.Join(artifactsDir, name)
}
