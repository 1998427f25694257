package recording

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecording = `{
  "init_time": 1700000000000,
  "esp1_1": [[1700000000002, 20, 4, 5, 6]],
  "esp1_0": [[1700000000000, 21, 1, 2, 3], [1700000000004, 22, 7, 8, 9]]
}`

func TestDecode(t *testing.T) {
	rec, err := Decode(strings.NewReader(sampleRecording))
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000000), rec.InitTime)
	assert.Equal(t, []string{"esp1_0", "esp1_1"}, rec.Keys())
	assert.Equal(t, 1, rec.MinLen())

	want := [][]float64{{1700000000000, 21, 1, 2, 3}, {1700000000004, 22, 7, 8, 9}}
	if diff := cmp.Diff(want, rec.Streams["esp1_0"]); diff != "" {
		t.Errorf("esp1_0 mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, rec.Validate())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"no init_time", `{"a": []}`, ErrNoInitTime},
		{"init_time string", `{"init_time": "0"}`, ErrInitTimeNumber},
		{"init_time null", `{"init_time": null}`, ErrInitTimeNumber},
		{"stream not array", `{"init_time": 0, "a": 5}`, ErrDataNotArray},
		{"entry not array", `{"init_time": 0, "a": [5]}`, ErrEntryShape},
		{"value not number", `{"init_time": 0, "a": [[1, 2, "x", 4, 5]]}`, ErrValueNotNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}

	_, err := Decode(strings.NewReader(`{`))
	assert.Error(t, err)
	_, err = Decode(strings.NewReader(`null`))
	assert.Error(t, err)
}

func TestValidate_EntryLength(t *testing.T) {
	rec, err := Decode(strings.NewReader(`{"init_time": 0, "a": [[1, 2, 3, 4, 5, 6]]}`))
	require.NoError(t, err, "decode accepts extra values")
	assert.ErrorIs(t, rec.Validate(), ErrEntryShape)

	rec, err = Decode(strings.NewReader(`{"init_time": 0, "a": [[1, 2, 3]]}`))
	require.NoError(t, err)
	assert.ErrorIs(t, rec.Validate(), ErrEntryShape)
}

func TestEncode_RoundTrip(t *testing.T) {
	rec := New(1700000000000)
	rec.Append("esp2_0", []float64{1700000000100, 1, -2, 3, -4})
	rec.Append("esp1_0", []float64{1700000000000, 5, 6, 7, 8})
	rec.Streams["esp3_0"] = nil

	var buf bytes.Buffer
	require.NoError(t, rec.Encode(&buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{\n    \"init_time\": 1700000000000,"), out)
	assert.Less(t, strings.Index(out, "esp1_0"), strings.Index(out, "esp2_0"))
	assert.Contains(t, out, "[1700000000100,1,-2,3,-4]")

	back, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, rec.InitTime, back.InitTime)
	assert.Equal(t, rec.Streams["esp1_0"], back.Streams["esp1_0"])
	assert.Equal(t, rec.Streams["esp2_0"], back.Streams["esp2_0"])
	assert.Empty(t, back.Streams["esp3_0"])
}

func TestMinLen_Empty(t *testing.T) {
	assert.Equal(t, 0, New(0).MinLen())
}
