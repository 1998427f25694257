package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(key string, ts int64) Reading {
	return Reading{Sensor: key, Timestamp: ts, X: int16(ts)}
}

func TestBuffer_Wraps(t *testing.T) {
	b := NewBuffer(3)
	assert.Equal(t, 3, b.Cap())
	assert.Equal(t, 0, b.Len())

	for ts := int64(1); ts <= 5; ts++ {
		b.Append(reading("a", ts))
	}

	require.Equal(t, 3, b.Len())
	assert.Equal(t, int64(3), b.At(0).Timestamp)
	assert.Equal(t, int64(5), b.At(2).Timestamp)

	var got []int64
	for _, r := range b.Snapshot() {
		got = append(got, r.Timestamp)
	}
	assert.Equal(t, []int64{3, 4, 5}, got)

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())
}

func TestBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultBufferCapacity, NewBuffer(0).Cap())
}

func TestBuffer_AtOutOfRange(t *testing.T) {
	b := NewBuffer(2)
	b.Append(reading("a", 1))
	assert.Panics(t, func() { b.At(1) })
	assert.Panics(t, func() { b.At(-1) })
}

func TestStore(t *testing.T) {
	s := NewStore(2)
	s.Append(reading("esp2_0", 1))
	s.Append(reading("esp1_0", 1))
	s.Append(reading("esp1_0", 2))
	s.Append(reading("esp1_0", 3))

	assert.Equal(t, []string{"esp1_0", "esp2_0"}, s.Keys())
	assert.Equal(t, map[string]int{"esp1_0": 2, "esp2_0": 1}, s.Sizes())

	b, ok := s.Get("esp1_0")
	require.True(t, ok)
	assert.Equal(t, int64(2), b.At(0).Timestamp)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, map[string]int{"esp1_0": 0, "esp2_0": 0}, s.Sizes())
}

func TestStore_Consume(t *testing.T) {
	s := NewStore(10)
	ch := make(chan Reading, 3)
	ch <- reading("a", 1)
	ch <- reading("b", 1)
	ch <- reading("a", 2)
	close(ch)

	s.Consume(ch)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, s.Sizes())
}
