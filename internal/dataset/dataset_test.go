package dataset

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/recording"
)

func init() {
	monitoring.SetLogger(nil)
}

// recordingJSON builds a recording whose sensor i has lengths[i] entries.
// Entry t of sensor i is [t, 0, 100*i+t, 10*i, -t].
func recordingJSON(lengths ...int) string {
	var b strings.Builder
	b.WriteString(`{"init_time": 0`)
	for i, n := range lengths {
		fmt.Fprintf(&b, `, "esp%d_0": [`, i)
		for t := 0; t < n; t++ {
			if t > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "[%d, 0, %d, %d, %d]", t, 100*i+t, 10*i, -t)
		}
		b.WriteString("]")
	}
	b.WriteString("}")
	return b.String()
}

func TestLabelFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"alice_walk_03.json", "walk", false},
		{"bob_run_1_extra.json", "run", false},
		{"carol_jump.json", "jump", false},
		{"/data/dave_sit_2.json", "sit", false},
		{"nolabel.json", "", true},
		{"x__y.json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LabelFromFilename(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoLabel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSample(t *testing.T) {
	rec, err := recording.Decode(strings.NewReader(recordingJSON(4, 3, 5, 3, 6)))
	require.NoError(t, err)

	sample, err := BuildSample(rec)
	require.NoError(t, err)

	// Truncated to the shortest stream.
	require.Equal(t, 3, sample.Timesteps())
	// Features are entry[2:5]; sensor columns follow sorted keys.
	assert.Equal(t, [3]float64{0, 0, 0}, sample[0][0])
	assert.Equal(t, [3]float64{102, 10, -2}, sample[2][1])
	assert.Equal(t, [3]float64{401, 40, -1}, sample[1][4])
}

func TestBuildSample_FewerSensorsZeroFill(t *testing.T) {
	rec, err := recording.Decode(strings.NewReader(recordingJSON(2, 2)))
	require.NoError(t, err)

	sample, err := BuildSample(rec)
	require.NoError(t, err)
	require.Equal(t, 2, sample.Timesteps())
	assert.Equal(t, [3]float64{101, 10, -1}, sample[1][1])
	for s := 2; s < NumSensors; s++ {
		assert.Equal(t, [3]float64{}, sample[1][s])
	}
}

func TestBuildSample_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"no sensors", `{"init_time": 0}`, ErrNoSensors},
		{"too many", recordingJSON(1, 1, 1, 1, 1, 1), ErrTooManySensors},
		{"empty stream", recordingJSON(2, 0, 2, 2, 2), ErrNoTimesteps},
		{"short entry", `{"init_time": 0, "a": [[1, 2, 3]]}`, ErrShortEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := recording.Decode(strings.NewReader(tt.input))
			require.NoError(t, err)
			_, err = BuildSample(rec)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	files := map[string]string{
		"data/u1_walk_1.json": recordingJSON(3, 3, 3, 3, 3),
		"data/u1_run_1.json":  recordingJSON(2, 4, 4, 4, 4),
		"data/u2_walk_2.json": recordingJSON(5, 5, 5, 5, 5),
		"data/notes.txt":      "ignored",
	}
	for p, c := range files {
		require.NoError(t, mfs.WriteFile(p, []byte(c), 0644))
	}
	require.NoError(t, mfs.MkdirAll("data/sub.json", 0755))

	ds, err := Load(mfs, "data")
	require.NoError(t, err)

	assert.Equal(t, []string{"run", "walk"}, ds.Classes)
	assert.Equal(t, []string{"data/u1_run_1.json", "data/u1_walk_1.json", "data/u2_walk_2.json"}, ds.Files)
	assert.Equal(t, []int{0, 1, 1}, ds.Labels)
	assert.Equal(t, 2, ds.Samples[0].Timesteps())
	assert.Equal(t, 3, ds.Samples[1].Timesteps())
	assert.Equal(t, 5, ds.Samples[2].Timesteps())

	if diff := cmp.Diff([][]float64{{1, 0}, {0, 1}, {0, 1}}, ds.OneHot()); diff != "" {
		t.Errorf("OneHot mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()

	_, err := Load(mfs, "missing")
	assert.Error(t, err)

	require.NoError(t, mfs.MkdirAll("empty", 0755))
	_, err = Load(mfs, "empty")
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, mfs.WriteFile("bad/nolabel.json", []byte(recordingJSON(1)), 0644))
	_, err = Load(mfs, "bad")
	assert.ErrorIs(t, err, ErrNoLabel)

	require.NoError(t, mfs.WriteFile("broken/u_walk_1.json", []byte(`{"a": []}`), 0644))
	_, err = Load(mfs, "broken")
	assert.ErrorIs(t, err, recording.ErrNoInitTime)
	assert.Contains(t, err.Error(), "u_walk_1.json")
}

func TestSubset(t *testing.T) {
	ds := &Dataset{
		Samples: []Sample{make(Sample, 1), make(Sample, 2), make(Sample, 3)},
		Labels:  []int{0, 1, 0},
		Classes: []string{"a", "b"},
		Files:   []string{"f0", "f1", "f2"},
	}
	sub := ds.Subset([]int{2, 0})
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, 3, sub.Samples[0].Timesteps())
	assert.Equal(t, []int{0, 0}, sub.Labels)
	assert.Equal(t, []string{"f2", "f0"}, sub.Files)
	assert.Equal(t, ds.Classes, sub.Classes)
}

func TestFlatten(t *testing.T) {
	s := make(Sample, 1)
	for i := 0; i < NumSensors; i++ {
		s[0][i] = [3]float64{float64(3 * i), float64(3*i + 1), float64(3*i + 2)}
	}
	rows := s.Flatten()
	require.Len(t, rows, 1)
	require.Len(t, rows[0], NumSensors*NumFeatures)
	for i, v := range rows[0] {
		assert.Equal(t, float64(i), v)
	}
}
