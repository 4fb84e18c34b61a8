package ninjago

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(old) })
	return dir
}

func TestRealDiskStatMissingFile(t *testing.T) {
	chdirTemp(t)
	d := NewRealDiskInterface()

	mtime, err := d.Stat("nosuchfile")
	require.NoError(t, err)
	require.Equal(t, TimeStamp(0), mtime)

	// On Windows, the errno for a file in a nonexistent directory is
	// different.
	mtime, err = d.Stat("nosuchdir/nosuchfile")
	require.NoError(t, err)
	require.Equal(t, TimeStamp(0), mtime)
}

func TestRealDiskStatExistingFile(t *testing.T) {
	chdirTemp(t)
	d := NewRealDiskInterface()

	require.NoError(t, d.WriteFile("file", "hello"))
	mtime, err := d.Stat("file")
	require.NoError(t, err)
	require.Greater(t, mtime, TimeStamp(0))
}

func TestRealDiskReadFile(t *testing.T) {
	chdirTemp(t)
	d := NewRealDiskInterface()

	_, status, err := d.ReadFile("foobar")
	require.Equal(t, DiskNotFound, status)
	require.Error(t, err)

	require.NoError(t, d.WriteFile("file", "contents"))
	contents, status, err := d.ReadFile("file")
	require.NoError(t, err)
	require.Equal(t, DiskOkay, status)
	require.Equal(t, "contents", string(contents))
}

func TestRealDiskMakeDirs(t *testing.T) {
	dir := chdirTemp(t)
	d := NewRealDiskInterface()

	require.NoError(t, d.MakeDirs("path/with/double//slash/file"))
	_, err := os.Stat(filepath.Join(dir, "path/with/double/slash"))
	require.NoError(t, err)

	// Creating the same dirs again is fine.
	require.NoError(t, d.MakeDirs("path/with/double//slash/other"))
}

func TestRealDiskRemoveFile(t *testing.T) {
	chdirTemp(t)
	d := NewRealDiskInterface()

	require.NoError(t, d.WriteFile("file", ""))
	removed, err := d.RemoveFile("file")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = d.RemoveFile("file")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestRealDiskStatCache(t *testing.T) {
	chdirTemp(t)
	d := NewRealDiskInterface()
	d.AllowStatCache(true)

	require.NoError(t, d.WriteFile("before", ""))
	mtime, err := d.Stat("before")
	require.NoError(t, err)
	require.Greater(t, mtime, TimeStamp(0))

	// Created after the directory was scanned: invisible until the cache
	// is dropped.
	require.NoError(t, d.WriteFile("after", ""))
	mtime, err = d.Stat("after")
	require.NoError(t, err)
	require.Equal(t, TimeStamp(0), mtime)

	d.AllowStatCache(false)
	mtime, err = d.Stat("after")
	require.NoError(t, err)
	require.Greater(t, mtime, TimeStamp(0))
}

func TestDirName(t *testing.T) {
	require.Equal(t, "", DirName("file"))
	require.Equal(t, "dir", DirName("dir/file"))
	require.Equal(t, "a/b", DirName("a/b/c"))
}
