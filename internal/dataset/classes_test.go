package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shoepad/internal/fsutil"
)

func TestEncoder(t *testing.T) {
	enc := NewEncoder([]string{"walk", "run", "walk", "jump"})
	assert.Equal(t, []string{"jump", "run", "walk"}, enc.Classes())

	i, err := enc.Encode("walk")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = enc.Encode("swim")
	assert.Error(t, err)

	name, err := enc.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "run", name)

	_, err = enc.Decode(3)
	assert.Error(t, err)

	all, err := enc.EncodeAll([]string{"run", "jump"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, all)
}

func TestOneHot(t *testing.T) {
	assert.Equal(t, [][]float64{{0, 1, 0}, {1, 0, 0}}, OneHot([]int{1, 0}, 3))
}

func TestClassNamesFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()

	require.NoError(t, WriteClassNames(mfs, "class_names.txt", []string{"walk", "run", "walk"}))

	data, err := mfs.ReadFile("class_names.txt")
	require.NoError(t, err)
	assert.Equal(t, "run\nwalk\n", string(data))

	classes, err := ReadClassNames(mfs, "class_names.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "walk"}, classes)
}

func TestReadClassNames_Errors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	_, err := ReadClassNames(mfs, "missing.txt")
	assert.Error(t, err)

	require.NoError(t, mfs.WriteFile("blank.txt", []byte("\n\n"), 0644))
	_, err = ReadClassNames(mfs, "blank.txt")
	assert.Error(t, err)
}
