package recording

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shoepad/internal/fsutil"
	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/timeutil"
)

// ErrInvalidState is returned for a transition the recorder's current state
// does not allow.
var ErrInvalidState = errors.New("recorder: invalid state")

// State is the recorder mode.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateReplaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateReplaying:
		return "replaying"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FileTimeLayout formats the recording file name suffix.
const FileTimeLayout = "2006-01-02_15-04-05"

var logf = monitoring.Subsystem("recorder")

// Config configures a Recorder. Zero values select the OS filesystem, the
// real clock, a "recordings" directory and a 1ms replay tick.
type Config struct {
	FS    fsutil.FileSystem
	Clock timeutil.Clock
	Dir   string
	Tick  time.Duration

	// OnReplayFinished runs once when every stream of a replay has been
	// delivered, after the recorder has returned to Idle.
	OnReplayFinished func()
}

// Recorder captures live readings into a recording, or plays one back.
type Recorder struct {
	fs       fsutil.FileSystem
	clock    timeutil.Clock
	dir      string
	tick     time.Duration
	finished func()

	mu      sync.Mutex
	state   State
	current *Recording
	replay  *replay
}

func NewRecorder(cfg Config) *Recorder {
	r := &Recorder{
		fs:       cfg.FS,
		clock:    cfg.Clock,
		dir:      cfg.Dir,
		tick:     cfg.Tick,
		finished: cfg.OnReplayFinished,
	}
	if r.fs == nil {
		r.fs = fsutil.OSFileSystem{}
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	if r.dir == "" {
		r.dir = "recordings"
	}
	if r.tick <= 0 {
		r.tick = time.Millisecond
	}
	return r
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Dir returns the directory recordings are written to.
func (r *Recorder) Dir() string { return r.dir }

// StartRecording begins a new recording stamped with the current time.
func (r *Recorder) StartRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("start recording while %s: %w", r.state, ErrInvalidState)
	}
	r.state = StateRecording
	r.current = New(timeutil.UnixMilli(r.clock))
	logf("start recording")
	return nil
}

// Record appends a reading. It is a no-op unless recording.
func (r *Recorder) Record(reading sensor.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return
	}
	e := reading.Entry()
	r.current.Append(reading.Sensor, e[:])
}

// Consume records every reading from ch until ch is closed.
func (r *Recorder) Consume(ch <-chan sensor.Reading) {
	for reading := range ch {
		r.Record(reading)
	}
}

// StopRecording writes the recording to
// <dir>/recording_<YYYY-MM-DD_hh-mm-ss>.json and returns the path. The
// recorder is Idle afterwards even if the write fails.
func (r *Recorder) StopRecording() (string, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return "", fmt.Errorf("stop recording while %s: %w", state, ErrInvalidState)
	}
	rec := r.current
	r.current = nil
	r.state = StateIdle
	r.mu.Unlock()

	if err := r.fs.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", r.dir, err)
	}
	name := fmt.Sprintf("recording_%s.json", r.clock.Now().Format(FileTimeLayout))
	path := filepath.Join(r.dir, name)

	var buf bytes.Buffer
	if err := rec.Encode(&buf); err != nil {
		return "", err
	}
	if err := r.fs.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}
	logf("recording saved to %s (%d sensors)", path, len(rec.Streams))
	return path, nil
}

// Load reads and validates the recording at path.
func (r *Recorder) Load(path string) (*Recording, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	rec, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// StartReplay loads path and plays it into sink, pacing each entry by its
// offset from init_time. A file that fails validation leaves the recorder
// Idle.
func (r *Recorder) StartReplay(path string, sink func(sensor.Reading)) error {
	r.mu.Lock()
	if r.state != StateIdle {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("start replay while %s: %w", state, ErrInvalidState)
	}
	r.mu.Unlock()

	rec, err := r.Load(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("start replay while %s: %w", r.state, ErrInvalidState)
	}
	p := newReplay(rec, r.clock.Now(), sink)
	r.replay = p
	r.state = StateReplaying

	ticker := r.clock.NewTicker(r.tick)
	go r.runReplay(p, ticker)
	logf("start replay of %s", path)
	return nil
}

// StopReplay ends a replay in progress. No reading reaches the sink once it
// returns.
func (r *Recorder) StopReplay() error {
	r.mu.Lock()
	if r.state != StateReplaying {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("stop replay while %s: %w", state, ErrInvalidState)
	}
	p := r.replay
	r.state = StateIdle
	r.replay = nil
	r.mu.Unlock()

	p.halt()
	logf("stop replay")
	return nil
}

func (r *Recorder) runReplay(p *replay, ticker timeutil.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C():
			if !r.replayStep(p) {
				continue
			}
			r.mu.Lock()
			current := r.replay == p
			if current {
				r.state = StateIdle
				r.replay = nil
			}
			r.mu.Unlock()
			if current {
				logf("replay finished")
				if r.finished != nil {
					r.finished()
				}
			}
			return
		}
	}
}

// replayStep emits every due entry and reports whether all streams are
// exhausted.
func (r *Recorder) replayStep(p *replay) bool {
	elapsed := r.clock.Since(p.start).Milliseconds()
	return p.emitDue(elapsed)
}

// replay tracks the read position in each stream of a recording.
type replay struct {
	rec   *Recording
	keys  []string
	pos   map[string]int
	start time.Time
	sink  func(sensor.Reading)
	stop  chan struct{}

	// mu is held while entries are emitted so halt waits for them.
	mu      sync.Mutex
	stopped atomic.Bool
}

func newReplay(rec *Recording, start time.Time, sink func(sensor.Reading)) *replay {
	return &replay{
		rec:   rec,
		keys:  rec.Keys(),
		pos:   make(map[string]int, len(rec.Streams)),
		start: start,
		sink:  sink,
		stop:  make(chan struct{}),
	}
}

// halt stops the replay, waiting for an emission in progress to finish.
func (p *replay) halt() {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stop)
	}
	// Wait out an emission in progress.
	p.mu.Lock()
	defer p.mu.Unlock()
}

// emitDue sends every entry whose offset from init_time is at most
// elapsedMillis, stream by stream in key order, and reports whether every
// stream is exhausted. A halted replay emits nothing and reports false.
func (p *replay) emitDue(elapsedMillis int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return false
	}
	done := true
	for _, key := range p.keys {
		stream := p.rec.Streams[key]
		i := p.pos[key]
		for ; i < len(stream); i++ {
			if p.stopped.Load() {
				return false
			}
			e := stream[i]
			if int64(e[0])-p.rec.InitTime > elapsedMillis {
				break
			}
			if p.sink != nil {
				p.sink(sensor.Reading{
					Sensor:    key,
					Timestamp: int64(e[0]),
					T:         int16(e[1]),
					X:         int16(e[2]),
					Y:         int16(e[3]),
					Z:         int16(e[4]),
				})
			}
		}
		p.pos[key] = i
		if i < len(stream) {
			done = false
		}
	}
	return done
}
