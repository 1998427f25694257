// Package recording reads and writes insole recordings and drives recording
// and replay of live sensor data.
//
// A recording is a JSON object with an "init_time" key (milliseconds since
// the epoch) and one key per sensor holding [timestamp, T, X, Y, Z] entries:
//
//	{
//	    "init_time": 1700000000000,
//	    "esp1_0": [[1700000000010, 21, 120, -4, 980], ...],
//	    ...
//	}
//
// The same layout is the training input format.
package recording

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// InitTimeKey is the reserved key holding the recording start time.
const InitTimeKey = "init_time"

// EntryLen is the number of values in a recorded reading.
const EntryLen = 5

var (
	ErrNoInitTime     = errors.New("invalid recording: no init_time")
	ErrInitTimeNumber = errors.New("invalid recording: init_time not number")
	ErrDataNotArray   = errors.New("invalid recording: data not array")
	ErrEntryShape     = errors.New("invalid recording: data not array or size not 5")
	ErrValueNotNumber = errors.New("invalid recording: value not number")
)

// Recording holds the start time and every sensor stream.
type Recording struct {
	InitTime int64
	Streams  map[string][][]float64
}

// New returns an empty recording started at initTime.
func New(initTime int64) *Recording {
	return &Recording{InitTime: initTime, Streams: make(map[string][][]float64)}
}

// Append adds an entry to the stream for key.
func (r *Recording) Append(key string, entry []float64) {
	r.Streams[key] = append(r.Streams[key], entry)
}

// Keys returns the sensor keys in sorted order.
func (r *Recording) Keys() []string {
	keys := make([]string, 0, len(r.Streams))
	for k := range r.Streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MinLen returns the length of the shortest stream, or 0 when there are no
// streams.
func (r *Recording) MinLen() int {
	if len(r.Streams) == 0 {
		return 0
	}
	min := -1
	for _, s := range r.Streams {
		if min < 0 || len(s) < min {
			min = len(s)
		}
	}
	return min
}

// Decode parses a recording. It requires init_time to be a number and every
// other key to hold an array of arrays of numbers. Entry length is checked by
// Validate, since training input may carry extra trailing values.
func Decode(rd io.Reader) (*Recording, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse recording: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to parse recording: top level is not an object")
	}

	initVal, ok := raw[InitTimeKey]
	if !ok {
		return nil, ErrNoInitTime
	}
	initNum, ok := initVal.(json.Number)
	if !ok {
		return nil, ErrInitTimeNumber
	}
	initTime, err := numberToInt64(initNum)
	if err != nil {
		return nil, ErrInitTimeNumber
	}

	rec := New(initTime)
	for key, v := range raw {
		if key == InitTimeKey {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, ErrDataNotArray)
		}
		stream := make([][]float64, 0, len(arr))
		for i, e := range arr {
			entryArr, ok := e.([]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, ErrEntryShape)
			}
			entry := make([]float64, len(entryArr))
			for j, val := range entryArr {
				n, ok := val.(json.Number)
				if !ok {
					return nil, fmt.Errorf("%s[%d][%d]: %w", key, i, j, ErrValueNotNumber)
				}
				f, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("%s[%d][%d]: %w", key, i, j, ErrValueNotNumber)
				}
				entry[j] = f
			}
			stream = append(stream, entry)
		}
		rec.Streams[key] = stream
	}
	return rec, nil
}

func numberToInt64(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// Validate checks that every entry holds exactly EntryLen values, the shape
// the recorder writes and the replayer consumes.
func (r *Recording) Validate() error {
	for _, key := range r.Keys() {
		for i, e := range r.Streams[key] {
			if len(e) != EntryLen {
				return fmt.Errorf("%s[%d]: %w", key, i, ErrEntryShape)
			}
		}
	}
	return nil
}

// Encode writes the recording as indented JSON with init_time first and the
// sensor keys in sorted order.
func (r *Recording) Encode(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("{\n    ")
	writeKey(&buf, InitTimeKey)
	fmt.Fprintf(&buf, "%d", r.InitTime)

	for _, key := range r.Keys() {
		buf.WriteString(",\n    ")
		writeKey(&buf, key)
		stream := r.Streams[key]
		if len(stream) == 0 {
			buf.WriteString("[]")
			continue
		}
		buf.WriteString("[\n")
		for i, entry := range stream {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to encode %s[%d]: %w", key, i, err)
			}
			buf.WriteString("        ")
			buf.Write(data)
			if i < len(stream)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.WriteString("    ]")
	}
	buf.WriteString("\n}\n")

	_, err := w.Write(buf.Bytes())
	return err
}

func writeKey(buf *bytes.Buffer, key string) {
	k, _ := json.Marshal(key)
	buf.Write(k)
	buf.WriteString(": ")
}
