// Package sensor carries insole readings from their sources (MQTT, a wired
// serial insole, or a replayed recording) to every consumer: ring buffers,
// the recorder, the live classifier and the debug tail.
package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Reading is one sample from one pad. Sensor is "<esp id>_<pad index>" and
// Timestamp is milliseconds since the epoch.
type Reading struct {
	Sensor    string `json:"sensor"`
	Timestamp int64  `json:"timestamp"`
	T         int16  `json:"t"`
	X         int16  `json:"x"`
	Y         int16  `json:"y"`
	Z         int16  `json:"z"`
}

// Key builds the sensor key for a device id and pad index.
func Key(device string, pad string) string {
	return device + "_" + pad
}

// Features returns the X, Y, Z values used by the classifier.
func (r Reading) Features() [3]float64 {
	return [3]float64{float64(r.X), float64(r.Y), float64(r.Z)}
}

// Entry returns the reading in recording layout: [timestamp, T, X, Y, Z].
func (r Reading) Entry() [5]float64 {
	return [5]float64{float64(r.Timestamp), float64(r.T), float64(r.X), float64(r.Y), float64(r.Z)}
}

// ParsePayload parses an MQTT data payload of the form "T,X,Y,Z".
func ParsePayload(payload string) (t, x, y, z int16, err error) {
	parts := strings.Split(strings.TrimSpace(payload), ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("payload %q: expected 4 comma separated values, got %d", payload, len(parts))
	}
	var vals [4]int16
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("payload %q: value %d: %w", payload, i, err)
		}
		vals[i] = int16(v)
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

// ParseLine parses a serial line of the form "key,timestamp,T,X,Y,Z".
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	key, rest, ok := strings.Cut(line, ",")
	if !ok || key == "" {
		return Reading{}, fmt.Errorf("line %q: missing sensor key", line)
	}
	tsStr, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Reading{}, fmt.Errorf("line %q: missing timestamp", line)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("line %q: timestamp: %w", line, err)
	}
	t, x, y, z, err := ParsePayload(payload)
	if err != nil {
		return Reading{}, err
	}
	return Reading{Sensor: key, Timestamp: ts, T: t, X: x, Y: y, Z: z}, nil
}
