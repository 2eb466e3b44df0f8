package blobstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/blobstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutCreatesParentDirectoriesAndWritesBytes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	full, err := s.Put("a/b/f.pdf", []byte("hello"))
	require.NoError(t, err)
	assert.True(t, s.Exists("a/b/f.pdf"))

	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestPutRejectsPathTraversal(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	_, err = s.Put("../escape.pdf", []byte("x"))
	assert.Error(t, err)
}

func TestMoveRelocatesFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	_, err = s.Put("src/f.pdf", []byte("hello"))
	require.NoError(t, err)

	usedFallback, err := s.Move("src/f.pdf", "dst/f.pdf")
	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.False(t, s.Exists("src/f.pdf"))
	assert.True(t, s.Exists("dst/f.pdf"))
}

func TestMoveSamePathIsNoop(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	_, err = s.Put("f.pdf", []byte("hello"))
	require.NoError(t, err)

	usedFallback, err := s.Move("f.pdf", "f.pdf")
	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.True(t, s.Exists("f.pdf"))
}

func TestRemoveToleratesMissingFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	assert.NoError(t, s.Remove("nope.pdf"))
}

func TestOpenReadsWrittenBytes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	s, err := blobstore.New(root)
	require.NoError(t, err)

	_, err = s.Put("f.pdf", []byte("payload"))
	require.NoError(t, err)

	f, err := s.Open("f.pdf")
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), info.Size())
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()
	_, err := blobstore.New("")
	assert.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "nested", "downloads")
	_, err := blobstore.New(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
