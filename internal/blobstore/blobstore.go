// Package blobstore persists downloaded file bytes under the
// downloads/<domain>/... tree and relocates them during dedupe/reconcile.
// Adapted from the teacher's internal/storage/local/blob_store.go: same
// path-traversal guard and parent-directory creation, generalized from a
// single PutObject write into Put/Move/Remove/Hash-friendly Open, since the
// sink must physically relocate files (spec §4.5, §4.9), not just write
// them once.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store writes and relocates blobs rooted at a base directory (the
// project's downloads/ root, or a domain's downloads/<domain>/ subtree).
type Store struct {
	baseDir string
}

// New constructs a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("blobstore: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create base directory: %w", err)
	}
	return &Store{baseDir: filepath.Clean(baseDir)}, nil
}

// resolve joins baseDir and path, verifying the result stays within
// baseDir.
func (s *Store) resolve(path string) (string, error) {
	full := filepath.Join(s.baseDir, path)
	clean := filepath.Clean(full)
	if clean != s.baseDir && !strings.HasPrefix(clean, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("blobstore: path traversal detected for %q", path)
	}
	return clean, nil
}

// Put writes data at path (relative to baseDir), creating parent
// directories as needed, and returns the absolute path written.
func (s *Store) Put(path string, data []byte) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("blobstore: create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", full, err)
	}
	return full, nil
}

// Exists reports whether path (relative to baseDir) names a regular file.
func (s *Store) Exists(path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Open opens path (relative to baseDir) for reading, e.g. to hash an
// occupant during reconciliation.
func (s *Store) Open(path string) (*os.File, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", full, err)
	}
	return f, nil
}

// Move relocates a blob from src to dst (both relative to baseDir) via
// os.Rename, falling back to copy+unlink when rename fails across devices
// (spec §4.5 step 4, §7 FilesystemTransient). Returns whether the
// cross-device fallback was used, so callers can log it without failing
// the request.
func (s *Store) Move(src, dst string) (usedCopyFallback bool, err error) {
	srcFull, err := s.resolve(src)
	if err != nil {
		return false, err
	}
	dstFull, err := s.resolve(dst)
	if err != nil {
		return false, err
	}
	if srcFull == dstFull {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dstFull), 0o750); err != nil {
		return false, fmt.Errorf("blobstore: create parent directories: %w", err)
	}

	renameErr := os.Rename(srcFull, dstFull)
	if renameErr == nil {
		return false, nil
	}
	if !isCrossDevice(renameErr) {
		return false, fmt.Errorf("blobstore: rename %s -> %s: %w", srcFull, dstFull, renameErr)
	}

	if err := copyFile(srcFull, dstFull); err != nil {
		return false, fmt.Errorf("blobstore: copy fallback %s -> %s: %w", srcFull, dstFull, err)
	}
	if err := os.Remove(srcFull); err != nil {
		return true, fmt.Errorf("blobstore: remove source after copy fallback %s: %w", srcFull, err)
	}
	return true, nil
}

// Remove deletes path (relative to baseDir), tolerating a missing file.
func (s *Store) Remove(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: remove %s: %w", full, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return strings.Contains(strings.ToLower(linkErr.Err.Error()), "cross-device")
	}
	return false
}
