package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())
}

func TestCopyFilePreservesModeAndTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run1.lst")
	require.NoError(t, os.WriteFile(src, []byte("listing"), 0600))
	mtime := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst := filepath.Join(dir, "copy.lst")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "listing", string(data))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
	assert.True(t, fi.ModTime().Equal(mtime))

	assert.Error(t, CopyFile(dir, filepath.Join(dir, "dir-copy")))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub", ".meta"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", ".meta", "x"), []byte("x"), 0644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))

	dst := t.TempDir()
	err := CopyTree(src, dst, func(rel string, d os.DirEntry) bool {
		return d.Name() == ".meta"
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dst, "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "sub", "b.txt"))
	assert.NoDirExists(t, filepath.Join(dst, "sub", ".meta"))

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)

	assert.True(t, Exists(filepath.Join(dst, "link")))
	assert.False(t, Exists(filepath.Join(dst, "missing")))
}
