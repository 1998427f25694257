// Package dataset turns a directory of insole recordings into labelled
// training samples.
//
// Each sample has shape (timesteps, NumSensors, NumFeatures). The timestep
// axis varies between samples: every recording is truncated to its shortest
// sensor stream. The label is the second "_" separated token of the file
// name, e.g. "alice_walk_03.json" is labelled "walk".
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/recording"
)

const (
	NumSensors  = 5
	NumFeatures = 3

	// FeatureOffset is the index of X in a [timestamp, T, X, Y, Z] entry.
	FeatureOffset = 2
)

var (
	ErrNoLabel        = errors.New("file name has no class token")
	ErrTooManySensors = fmt.Errorf("more than %d sensors", NumSensors)
	ErrNoSensors      = errors.New("recording has no sensors")
	ErrNoTimesteps    = errors.New("recording has an empty sensor stream")
	ErrShortEntry     = fmt.Errorf("entry has fewer than %d values", recording.EntryLen)
	ErrEmpty          = errors.New("no recordings found")
)

var logf = monitoring.Subsystem("dataset")

// Sample is one recording: Sample[t][s][f] is feature f of sensor s at
// timestep t, sensors ordered by sorted key.
type Sample [][NumSensors][NumFeatures]float64

// Timesteps returns the length of the sample.
func (s Sample) Timesteps() int { return len(s) }

// Flatten returns one row of NumSensors*NumFeatures values per timestep,
// sensor-major.
func (s Sample) Flatten() [][]float64 {
	rows := make([][]float64, len(s))
	for t := range s {
		row := make([]float64, 0, NumSensors*NumFeatures)
		for _, sensor := range s[t] {
			row = append(row, sensor[:]...)
		}
		rows[t] = row
	}
	return rows
}

// Dataset is an ordered set of samples with integer labels indexing Classes.
type Dataset struct {
	Samples []Sample
	Labels  []int
	Classes []string
	Files   []string
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// OneHot returns the labels as one-hot rows of width len(Classes).
func (d *Dataset) OneHot() [][]float64 {
	return OneHot(d.Labels, len(d.Classes))
}

// Subset returns the samples at idx, in idx order. Classes are shared.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Samples: make([]Sample, len(idx)),
		Labels:  make([]int, len(idx)),
		Classes: d.Classes,
	}
	if d.Files != nil {
		out.Files = make([]string, len(idx))
	}
	for i, j := range idx {
		out.Samples[i] = d.Samples[j]
		out.Labels[i] = d.Labels[j]
		if d.Files != nil {
			out.Files[i] = d.Files[j]
		}
	}
	return out
}

// LabelFromFilename returns the class token of a recording file name. A name
// with only two tokens ("user_walk.json") yields the token without its
// extension.
func LabelFromFilename(name string) (string, error) {
	base := filepath.Base(name)
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return "", fmt.Errorf("%s: %w", base, ErrNoLabel)
	}
	label := parts[1]
	if len(parts) == 2 {
		label = strings.TrimSuffix(label, filepath.Ext(label))
	}
	if label == "" {
		return "", fmt.Errorf("%s: %w", base, ErrNoLabel)
	}
	return label, nil
}

// Load reads every .json file in dir, sorted by name, and returns the
// dataset with labels encoded against the sorted set of class names.
func Load(fsys fsutil.FileSystem, dir string) (*Dataset, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var (
		samples []Sample
		names   []string
		files   []string
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		label, err := LabelFromFilename(e.Name())
		if err != nil {
			return nil, err
		}
		sample, err := loadSample(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		samples = append(samples, sample)
		names = append(names, label)
		files = append(files, path)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmpty)
	}

	enc := NewEncoder(names)
	labels, err := enc.EncodeAll(names)
	if err != nil {
		return nil, err
	}
	logf("loaded %d recordings, %d classes %v", len(samples), len(enc.Classes()), enc.Classes())

	return &Dataset{
		Samples: samples,
		Labels:  labels,
		Classes: enc.Classes(),
		Files:   files,
	}, nil
}

func loadSample(fsys fsutil.FileSystem, path string) (Sample, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := recording.Decode(f)
	if err != nil {
		return nil, err
	}
	return BuildSample(rec)
}

// BuildSample converts a recording into a Sample. Sensors are ordered by
// sorted key and every stream is truncated to the shortest one. Fewer than
// NumSensors sensors leaves the trailing columns zero.
func BuildSample(rec *recording.Recording) (Sample, error) {
	keys := rec.Keys()
	switch {
	case len(keys) == 0:
		return nil, ErrNoSensors
	case len(keys) > NumSensors:
		return nil, fmt.Errorf("%d sensors: %w", len(keys), ErrTooManySensors)
	case len(keys) < NumSensors:
		logf("recording has %d of %d sensors, zero-filling the rest", len(keys), NumSensors)
	}

	timesteps := rec.MinLen()
	if timesteps == 0 {
		return nil, ErrNoTimesteps
	}

	sample := make(Sample, timesteps)
	for s, key := range keys {
		stream := rec.Streams[key]
		for t := 0; t < timesteps; t++ {
			entry := stream[t]
			if len(entry) < recording.EntryLen {
				return nil, fmt.Errorf("%s[%d]: %w", key, t, ErrShortEntry)
			}
			copy(sample[t][s][:], entry[FeatureOffset:FeatureOffset+NumFeatures])
		}
	}
	return sample, nil
}
