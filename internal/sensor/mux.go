package sensor

import (
	"bytes"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var tailTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/tail.html.tmpl"))

// subscriberBuffer bounds how far a subscriber may lag before readings are
// dropped for it.
const subscriberBuffer = 256

// Mux fans readings out to any number of subscribers. Publish never blocks:
// a subscriber whose channel is full misses the reading.
type Mux struct {
	mu          sync.Mutex
	subscribers map[string]chan Reading
	closing     bool
	published   uint64
	dropped     uint64
}

func NewMux() *Mux {
	return &Mux{subscribers: make(map[string]chan Reading)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new channel. The id is passed to Unsubscribe. After
// Close the returned channel is already closed.
func (m *Mux) Subscribe() (string, <-chan Reading) {
	id := randomID()
	ch := make(chan Reading, subscriberBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscriber.
func (m *Mux) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Publish delivers r to every subscriber that has room for it.
func (m *Mux) Publish(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return
	}
	m.published++
	for _, ch := range m.subscribers {
		select {
		case ch <- r:
		default:
			m.dropped++
		}
	}
}

// Stats returns the number of published readings and per-subscriber drops.
func (m *Mux) Stats() (published, dropped uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.dropped
}

// Close closes every subscriber channel. Later publishes are ignored.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil
	}
	m.closing = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes registers the live tail page and its SSE stream under
// /debug/ on mux.
func (m *Mux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("sensor-tail", "live sensor readings", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := tailTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// Server-Sent Events, one JSON encoded reading per event.
	debug.HandleSilentFunc("sensor-tail-events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case reading, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(reading)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
