// Package classify runs the exported model over live sensor readings.
//
// Readings are collected into one of two windows. When any sensor in the
// active window reaches WindowSize readings the window is handed to the
// classification goroutine and the other window becomes active. A window
// still being classified refuses new readings, so at most one window is in
// flight while the other fills.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/shoepad/internal/dataset"
	"github.com/banshee-data/shoepad/internal/db"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/timeutil"
)

// DefaultWindowSize is the number of readings per sensor that triggers a
// classification.
const DefaultWindowSize = 50

// FlushMinReadings is the number of readings the first sensor of the
// active window needs before Flush classifies it.
const FlushMinReadings = 5

// ErrSensorCount is returned when a window does not hold exactly
// dataset.NumSensors sensors.
var ErrSensorCount = fmt.Errorf("classification needs exactly %d sensors", dataset.NumSensors)

var logf = monitoring.Subsystem("classify")

// Model maps a sample to a class name and the class probabilities.
// *nn.Exported implements it.
type Model interface {
	Classify(sample dataset.Sample) (string, []float64, error)
}

// ResultStore persists results. *db.RunStore implements it.
type ResultStore interface {
	RecordClassification(ctx context.Context, c *db.Classification) error
}

// Result is one classification.
type Result struct {
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	Sensors       []string  `json:"sensors"`
	Timesteps     int       `json:"timesteps"`
	Time          time.Time `json:"time"`
}

// Config configures a Worker.
type Config struct {
	Model      Model
	WindowSize int
	Clock      timeutil.Clock
	Store      ResultStore
	ModelDir   string
}

type window map[string][][3]float64

// Worker is the double-buffered live classifier.
type Worker struct {
	model      Model
	windowSize int
	clock      timeutil.Clock
	store      ResultStore
	modelDir   string

	mu      sync.Mutex
	windows [2]window
	busy    [2]bool
	active  int
	latest  *Result
	counts  Stats

	jobs    chan int
	results chan Result
}

// Stats counts worker activity.
type Stats struct {
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`
}

// NewWorker returns a worker. Call Run to start classifying.
func NewWorker(cfg Config) *Worker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Worker{
		model:      cfg.Model,
		windowSize: cfg.WindowSize,
		clock:      cfg.Clock,
		store:      cfg.Store,
		modelDir:   cfg.ModelDir,
		windows:    [2]window{{}, {}},
		jobs:       make(chan int, 2),
		results:    make(chan Result, 16),
	}
}

// Results delivers classifications. Results are dropped when nobody reads.
func (w *Worker) Results() <-chan Result { return w.results }

// Latest returns the most recent classification.
func (w *Worker) Latest() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return Result{}, false
	}
	return *w.latest, true
}

// Stats returns activity counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts
}

// Add appends the reading's X, Y, Z to the active window. It returns false
// when the window is busy being classified and the reading was dropped.
func (w *Worker) Add(r sensor.Reading) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy[w.active] {
		w.counts.Dropped++
		return false
	}
	win := w.windows[w.active]
	win[r.Sensor] = append(win[r.Sensor], r.Features())
	if len(win[r.Sensor]) >= w.windowSize {
		w.handOffLocked()
	}
	return true
}

// Flush hands off the active window if its first sensor, in key order, has
// at least FlushMinReadings readings. It reports whether a window was
// handed off.
func (w *Worker) Flush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	win := w.windows[w.active]
	if w.busy[w.active] || len(win) == 0 {
		return false
	}
	if len(win[sortedKeys(win)[0]]) < FlushMinReadings {
		return false
	}
	w.handOffLocked()
	return true
}

func (w *Worker) handOffLocked() {
	w.busy[w.active] = true
	w.jobs <- w.active
	w.active = (w.active + 1) % 2
}

// Consume adds every reading from ch until ch closes or ctx is done.
func (w *Worker) Consume(ctx context.Context, ch <-chan sensor.Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			w.Add(r)
		}
	}
}

// Run classifies handed-off windows until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case idx := <-w.jobs:
			w.classify(ctx, idx)
		}
	}
}

func (w *Worker) classify(ctx context.Context, idx int) {
	w.mu.Lock()
	win := w.windows[idx]
	w.mu.Unlock()

	res, err := w.classifyWindow(win)

	w.mu.Lock()
	w.windows[idx] = window{}
	w.busy[idx] = false
	if err != nil {
		w.counts.Failed++
	} else {
		w.counts.Classified++
		w.latest = &res
	}
	w.mu.Unlock()

	if err != nil {
		logf("window dropped: %v", err)
		return
	}

	select {
	case w.results <- res:
	default:
	}

	if w.store != nil {
		rec := &db.Classification{
			TakenUnixNanos: res.Time.UnixNano(),
			Label:          res.Label,
			Confidence:     res.Confidence,
			Probabilities:  res.Probabilities,
			Sensors:        res.Sensors,
			Timesteps:      res.Timesteps,
			ModelDir:       w.modelDir,
		}
		if err := w.store.RecordClassification(ctx, rec); err != nil {
			logf("failed to store classification: %v", err)
		}
	}
}

func (w *Worker) classifyWindow(win window) (Result, error) {
	if w.model == nil {
		return Result{}, errors.New("no model loaded")
	}
	sample, keys, err := BuildSample(win)
	if err != nil {
		return Result{}, err
	}
	label, probs, err := w.model.Classify(sample)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	conf := 0.0
	for _, p := range probs {
		conf = max(conf, p)
	}
	return Result{
		Label:         label,
		Confidence:    conf,
		Probabilities: probs,
		Sensors:       keys,
		Timesteps:     sample.Timesteps(),
		Time:          w.clock.Now(),
	}, nil
}

// BuildSample turns a window into a model sample: sensors in key order,
// truncated to the shortest stream.
func BuildSample(win map[string][][3]float64) (dataset.Sample, []string, error) {
	if len(win) != dataset.NumSensors {
		return nil, nil, fmt.Errorf("%w, got %d", ErrSensorCount, len(win))
	}
	keys := sortedKeys(win)
	steps := -1
	for _, k := range keys {
		if steps < 0 || len(win[k]) < steps {
			steps = len(win[k])
		}
	}
	if steps == 0 {
		return nil, nil, dataset.ErrNoTimesteps
	}
	sample := make(dataset.Sample, steps)
	for t := 0; t < steps; t++ {
		for s, k := range keys {
			sample[t][s] = win[k][t]
		}
	}
	return sample, keys, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
