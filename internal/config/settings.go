package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"sync"

	"github.com/banshee-data/shoepad/internal/fsutil"
)

// Placement is the on-screen position of a sensor pad, stored as [x, y].
type Placement [2]float64

// Settings persists sensor placements keyed by sensor key in a JSON object,
// e.g. {"esp1_0": [120, 340]}.
type Settings struct {
	mu         sync.RWMutex
	fs         fsutil.FileSystem
	path       string
	placements map[string]Placement
}

// LoadSettings reads path. A missing or unparsable file is logged and yields
// empty settings, so the service can always start.
func LoadSettings(fsys fsutil.FileSystem, path string) *Settings {
	s := &Settings{fs: fsys, path: path, placements: make(map[string]Placement)}

	data, err := fsys.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[settings] couldn't open %s: %v", path, err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.placements); err != nil {
		log.Printf("[settings] couldn't parse %s: %v", path, err)
		s.placements = make(map[string]Placement)
	}
	return s
}

// Get returns the placement for key.
func (s *Settings) Get(key string) (Placement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.placements[key]
	return p, ok
}

// Set updates the placement for key and writes the file.
func (s *Settings) Set(key string, p Placement) error {
	if key == "" {
		return fmt.Errorf("empty sensor key")
	}
	s.mu.Lock()
	s.placements[key] = p
	s.mu.Unlock()
	return s.Save()
}

// All returns a copy of every placement.
func (s *Settings) All() map[string]Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Placement, len(s.placements))
	for k, v := range s.placements {
		out[k] = v
	}
	return out
}

// Keys returns the stored sensor keys in sorted order.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.placements))
	for k := range s.placements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the placements as indented JSON.
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.placements, "", "    ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.fs.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}
