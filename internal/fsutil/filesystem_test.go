package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_RoundTrip(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()

	require.NoError(t, fsys.MkdirAll(filepath.Join(dir, "recordings"), 0755))
	path := filepath.Join(dir, "recordings", "user_walk_1.json")
	require.NoError(t, fsys.WriteFile(path, []byte(`{"init_time":0}`), 0644))

	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"init_time":0}`, string(data))

	entries, err := fsys.ReadDir(filepath.Join(dir, "recordings"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user_walk_1.json", entries[0].Name())
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/data/a.json", []byte("hello"), 0644))

	data, err := mfs.ReadFile("/data/a.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Returned slices are copies.
	data[0] = 'j'
	again, _ := mfs.ReadFile("/data/a.json")
	assert.Equal(t, "hello", string(again))
}

func TestMemoryFileSystem_CreateAndWrite(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/created.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("created "))
	require.NoError(t, err)
	_, err = w.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := mfs.ReadFile("/out/created.txt")
	require.NoError(t, err)
	assert.Equal(t, "created content", string(data))
	assert.True(t, mfs.Exists("/out"))
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/f.txt", []byte("abc"), 0644))

	f, err := mfs.Open("/f.txt")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	_, err = mfs.Open("/missing.txt")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/data/b_run_1.json", []byte("{}"), 0644))
	require.NoError(t, mfs.WriteFile("/data/a_walk_1.json", []byte("{}"), 0644))
	require.NoError(t, mfs.WriteFile("/data/nested/c.json", []byte("{}"), 0644))
	require.NoError(t, mfs.WriteFile("/other/d.json", []byte("{}"), 0644))

	entries, err := mfs.ReadDir("/data")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a_walk_1.json", "b_run_1.json", "nested"}, names)
	assert.False(t, entries[0].IsDir())
	assert.True(t, entries[2].IsDir())

	_, err = mfs.ReadDir("/nope")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/model/variables", 0755))
	require.NoError(t, mfs.WriteFile("/model/saved_model.json", []byte("{}"), 0600))

	info, err := mfs.Stat("/model/variables")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "variables", info.Name())

	info, err = mfs.Stat("/model/saved_model.json")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(2), info.Size())
	assert.Equal(t, os.FileMode(0600), info.Mode())

	_, err = mfs.Stat("/model/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_ImpliedParents(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/a/b/c/file.txt", nil, 0644))

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		assert.True(t, mfs.Exists(dir), dir)
	}
}

func TestFileSystemInterface(t *testing.T) {
	var _ FileSystem = OSFileSystem{}
	var _ FileSystem = NewMemoryFileSystem()
}
