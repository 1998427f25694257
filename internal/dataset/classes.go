package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/shoepad/internal/fsutil"
)

// Encoder maps class names to indices into their sorted distinct set.
type Encoder struct {
	classes []string
	index   map[string]int
}

// NewEncoder builds an encoder over the distinct values of labels.
func NewEncoder(labels []string) *Encoder {
	seen := make(map[string]bool)
	var classes []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	sort.Strings(classes)
	return NewEncoderFromClasses(classes)
}

// NewEncoderFromClasses uses classes as given, e.g. as read from
// class_names.txt.
func NewEncoderFromClasses(classes []string) *Encoder {
	e := &Encoder{classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Classes returns the class names in index order.
func (e *Encoder) Classes() []string { return e.classes }

func (e *Encoder) Encode(label string) (int, error) {
	i, ok := e.index[label]
	if !ok {
		return 0, fmt.Errorf("unknown class %q", label)
	}
	return i, nil
}

func (e *Encoder) EncodeAll(labels []string) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, err := e.Encode(l)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func (e *Encoder) Decode(i int) (string, error) {
	if i < 0 || i >= len(e.classes) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", i, len(e.classes))
	}
	return e.classes[i], nil
}

// OneHot expands class indices into rows of width numClasses.
func OneHot(indices []int, numClasses int) [][]float64 {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		row := make([]float64, numClasses)
		if idx >= 0 && idx < numClasses {
			row[idx] = 1
		}
		out[i] = row
	}
	return out
}

// WriteClassNames writes the sorted distinct class names, one per line.
func WriteClassNames(fsys fsutil.FileSystem, path string, classes []string) error {
	sorted := NewEncoder(classes).Classes()
	var buf bytes.Buffer
	for _, c := range sorted {
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write class names: %w", err)
	}
	return nil
}

// ReadClassNames reads a class name file, ignoring blank lines.
func ReadClassNames(fsys fsutil.FileSystem, path string) ([]string, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	var classes []string
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		if line := strings.TrimSpace(scan.Text()); line != "" {
			classes = append(classes, line)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class names: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%s: no class names", path)
	}
	return classes, nil
}
