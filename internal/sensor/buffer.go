package sensor

import (
	"sort"
	"sync"
)

// DefaultBufferCapacity is the number of readings kept per sensor.
const DefaultBufferCapacity = 1000

// Buffer is a fixed-capacity ring of readings. Once full, each Append
// overwrites the oldest reading.
type Buffer struct {
	mu    sync.RWMutex
	data  []Reading
	start int
	size  int
}

// NewBuffer returns an empty buffer. A non-positive capacity selects
// DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{data: make([]Reading, capacity)}
}

func (b *Buffer) Append(r Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := (b.start + b.size) % len(b.data)
	b.data[end] = r
	if b.size < len(b.data) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.data)
	}
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int { return len(b.data) }

// At returns the i-th oldest reading. It panics if i is out of range.
func (b *Buffer) At(i int) Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= b.size {
		panic("sensor: buffer index out of range")
	}
	return b.data[(b.start+i)%len(b.data)]
}

// Snapshot copies the buffered readings, oldest first.
func (b *Buffer) Snapshot() []Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Reading, b.size)
	for i := range out {
		out[i] = b.data[(b.start+i)%len(b.data)]
	}
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.size = 0, 0
}

// Store keeps one Buffer per sensor key, created on first use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*Buffer
}

func NewStore(capacity int) *Store {
	return &Store{capacity: capacity, buffers: make(map[string]*Buffer)}
}

// Append adds r to the buffer for r.Sensor.
func (s *Store) Append(r Reading) {
	s.mu.RLock()
	b, ok := s.buffers[r.Sensor]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if b, ok = s.buffers[r.Sensor]; !ok {
			b = NewBuffer(s.capacity)
			s.buffers[r.Sensor] = b
		}
		s.mu.Unlock()
	}
	b.Append(r)
}

// Get returns the buffer for key, if one exists.
func (s *Store) Get(key string) (*Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[key]
	return b, ok
}

// Keys returns every known sensor key in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buffers))
	for k := range s.buffers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sizes reports the number of buffered readings per sensor.
func (s *Store) Sizes() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.buffers))
	for k, b := range s.buffers {
		out[k] = b.Len()
	}
	return out
}

// Clear empties every buffer but keeps the keys.
func (s *Store) Clear() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.buffers {
		b.Clear()
	}
}

// Consume appends every reading from ch until ch is closed.
func (s *Store) Consume(ch <-chan Reading) {
	for r := range ch {
		s.Append(r)
	}
}
