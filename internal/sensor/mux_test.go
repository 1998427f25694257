package sensor

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux_FanOut(t *testing.T) {
	m := NewMux()
	id1, ch1 := m.Subscribe()
	_, ch2 := m.Subscribe()
	assert.NotEqual(t, "", id1)

	r := Reading{Sensor: "esp1_0", Timestamp: 10, X: 1}
	m.Publish(r)

	assert.Equal(t, r, <-ch1)
	assert.Equal(t, r, <-ch2)

	m.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel should be closed")

	m.Publish(r)
	assert.Equal(t, r, <-ch2)

	published, dropped := m.Stats()
	assert.Equal(t, uint64(2), published)
	assert.Equal(t, uint64(0), dropped)
}

func TestMux_SlowSubscriberDrops(t *testing.T) {
	m := NewMux()
	_, ch := m.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		m.Publish(Reading{Sensor: "a", Timestamp: int64(i)})
	}

	assert.Len(t, ch, subscriberBuffer)
	_, dropped := m.Stats()
	assert.Equal(t, uint64(10), dropped)
	assert.Equal(t, int64(0), (<-ch).Timestamp)
}

func TestMux_Close(t *testing.T) {
	m := NewMux()
	_, ch := m.Subscribe()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing and subscribing after close is harmless.
	m.Publish(Reading{Sensor: "a"})
	_, late := m.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	m.Unsubscribe("does-not-exist")
}

func TestMux_AdminTail(t *testing.T) {
	m := NewMux()
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/sensor-tail")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/sensor-tail-events", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	ping, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)

	want := Reading{Sensor: "esp1_4", Timestamp: 5, T: 1, X: 2, Y: 3, Z: 4}
	go func() {
		// The handler subscribes before the ping, so this is delivered.
		m.Publish(want)
	}()

	var line string
	for !strings.HasPrefix(line, "data: ") {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
	}
	var got Reading
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data: "))), &got))
	assert.Equal(t, want, got)
}

func TestMux_AdminTailRejectsPost(t *testing.T) {
	m := NewMux()
	mux := http.NewServeMux()
	m.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/debug/sensor-tail-events", nil)
	// tsweb debug routes only answer loopback callers.
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
