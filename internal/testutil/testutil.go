// Package testutil provides shared test fixtures: synthetic datasets and
// recordings in the on-disk JSON format.
package testutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/fsutil"
)

// Separable returns n samples per class of a two-class dataset with
// classes "heel" and "toe". Heel samples push every feature towards +1 and
// toe samples towards -1; lengths vary between 3 and 6 timesteps.
func Separable(n int, seed int64) *dataset.Dataset {
	rng := dataset.NewRand(seed)
	ds := &dataset.Dataset{Classes: []string{"heel", "toe"}}
	for class := 0; class < 2; class++ {
		sign := 1.0
		if class == 1 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			s := make(dataset.Sample, 3+rng.IntN(4))
			for ts := range s {
				for sensor := range s[ts] {
					for f := range s[ts][sensor] {
						s[ts][sensor][f] = sign + 0.3*rng.NormFloat64()
					}
				}
			}
			ds.Samples = append(ds.Samples, s)
			ds.Labels = append(ds.Labels, class)
		}
	}
	return ds
}

// RecordingJSON builds a recording with one sensor "esp<i>_0" per entry of
// lengths. Entry t of sensor i is [initTime+t, 0, value, value, value].
func RecordingJSON(initTime int64, value int, lengths ...int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `{"init_time": %d`, initTime)
	for i, n := range lengths {
		fmt.Fprintf(&b, `, "esp%d_0": [`, i)
		for t := 0; t < n; t++ {
			if t > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "[%d, 0, %d, %d, %d]", initTime+int64(t), value, value, value)
		}
		b.WriteString("]")
	}
	b.WriteString("}")
	return b.String()
}

// WriteDataset writes perClass five-sensor recordings for every label into
// dir, named "<subject>_<label>_<n>.json" so the loader can recover the
// label. Each label gets a distinct constant feature value.
func WriteDataset(t testing.TB, fsys fsutil.FileSystem, dir string, perClass int, labels ...string) {
	t.Helper()
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	for li, label := range labels {
		for n := 0; n < perClass; n++ {
			name := filepath.Join(dir, fmt.Sprintf("subject_%s_%d.json", label, n))
			body := RecordingJSON(1000, 100*(li+1), 4, 4, 4, 4, 4)
			if err := fsys.WriteFile(name, []byte(body), 0644); err != nil {
				t.Fatalf("failed to write %s: %v", name, err)
			}
		}
	}
}
