// Package atomicfile implements the storage primitives of spec §4.2: atomic
// JSON persistence (temp file in the same directory, fsync, close, rename),
// append-only line-oriented JSON logs, and a reader that tolerates missing
// files by returning a caller-supplied default. Grounded on the
// writeJSONAtomic helper in the research-mammoth runstate store, generalized
// to carry the temp name's PID/timestamp/random-suffix discipline required
// by spec §5 ("Resource discipline").
package atomicfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WriteJSON marshals v as two-space-indented JSON and writes it to path
// atomically: a temp file is created alongside path, written, fsynced and
// closed, then renamed over path. If any step fails (write, sync, close or
// rename) the temp file is left in place (by design — spec §5 says the next
// write overwrites it) rather than removed.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFile(path, data)
}

// WriteFile writes data to path using the same temp-file-plus-rename
// discipline as WriteJSON, for callers that already have serialized bytes
// (e.g. artifact writers emitting pre-rendered chunks).
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpPath := tempName(dir, filepath.Base(path))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// tempName builds a temp filename in dir carrying PID, timestamp, and a
// random suffix so that two concurrent writers (or two writes of the same
// target a moment apart) never collide, and a failed write leaves a name
// that is unambiguously an orphaned temp file.
func tempName(dir, base string) string {
	name := ".tmp-" + base + "-" +
		strconv.Itoa(os.Getpid()) + "-" +
		strconv.FormatInt(time.Now().UnixNano(), 10) + "-" +
		uuid.New().String()[:8]
	return filepath.Join(dir, name)
}

// ReadJSON unmarshals path into v. If path does not exist, def is copied
// into v instead (via a JSON round-trip) and no error is returned — the
// "reads tolerate missing files by returning a caller-supplied default"
// contract from spec §4.2.
func ReadJSON(path string, v any, def any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fallback, mErr := json.Marshal(def)
			if mErr != nil {
				return fmt.Errorf("marshal default for %s: %w", path, mErr)
			}
			return json.Unmarshal(fallback, v)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// AppendJSONLine marshals v to a single JSON line and appends it, newline
// terminated, to path (creating it if necessary).
func AppendJSONLine(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line for %s: %w", path, err)
	}
	return AppendLine(path, line)
}

// AppendLine appends data followed by a newline to path, creating parent
// directories and the file as needed.
func AppendLine(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// Truncate resets path to empty, creating it (and its parent directory) if
// it does not exist, used by the streaming run manager's `start` operation.
func Truncate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return f.Close()
}

// ReadLines reads path line by line, skipping blank lines. Missing files
// yield an empty, nil-error result.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

// RemoveIfExists deletes path, treating a missing file as success — used
// when an empty artifact write should remove a stale file at the same base
// path (spec §4.6, "Empty input removes pre-existing artifact files").
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names a regular, stat-able file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
