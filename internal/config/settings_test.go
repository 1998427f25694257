package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shoepad/internal/fsutil"
)

func TestSettings_MissingFile(t *testing.T) {
	s := LoadSettings(fsutil.NewMemoryFileSystem(), "settings.json")
	assert.Empty(t, s.Keys())
	_, ok := s.Get("esp1_0")
	assert.False(t, ok)
}

func TestSettings_SetPersists(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	s := LoadSettings(mfs, "settings.json")

	require.NoError(t, s.Set("esp2_1", Placement{10, 20}))
	require.NoError(t, s.Set("esp1_0", Placement{1.5, 2.5}))

	reloaded := LoadSettings(mfs, "settings.json")
	assert.Equal(t, []string{"esp1_0", "esp2_1"}, reloaded.Keys())

	p, ok := reloaded.Get("esp2_1")
	require.True(t, ok)
	assert.Equal(t, Placement{10, 20}, p)
	assert.Len(t, reloaded.All(), 2)
}

func TestSettings_CorruptFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("settings.json", []byte("not json"), 0644))

	s := LoadSettings(mfs, "settings.json")
	assert.Empty(t, s.All())

	require.NoError(t, s.Set("esp1_0", Placement{3, 4}))
	data, err := mfs.ReadFile("settings.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"esp1_0": [3, 4]}`, string(data))
}

func TestSettings_EmptyKey(t *testing.T) {
	s := LoadSettings(fsutil.NewMemoryFileSystem(), "settings.json")
	assert.Error(t, s.Set("", Placement{}))
}
