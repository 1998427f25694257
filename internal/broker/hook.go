package broker

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/banshee-data/shoepad/internal/sensor"
	"github.com/banshee-data/shoepad/internal/timeutil"
)

// ReadingSink receives parsed readings. *sensor.Mux implements it.
type ReadingSink interface {
	Publish(r sensor.Reading)
}

// PublishFunc publishes a message through the broker.
type PublishFunc func(topic string, payload []byte) error

// DeviceStatus is what the broker knows about one insole controller.
type DeviceStatus struct {
	Device       string    `json:"device"`
	Online       bool      `json:"online"`
	LastSeen     time.Time `json:"last_seen"`
	Readings     uint64    `json:"readings"`
	Calibrations uint64    `json:"calibrations"`
}

// Counters tallies handled messages.
type Counters struct {
	Readings     uint64 `json:"readings"`
	Statuses     uint64 `json:"statuses"`
	Calibrations uint64 `json:"calibrations"`
	Ignored      uint64 `json:"ignored"`
}

// IngestHook turns device messages into readings and status updates.
type IngestHook struct {
	mqtt.HookBase

	sink    ReadingSink
	publish PublishFunc
	clock   timeutil.Clock

	mu       sync.Mutex
	devices  map[string]*DeviceStatus
	counters Counters
	lastMsg  time.Time
}

// NewIngestHook returns a hook that sends readings to sink and uses publish
// to start device timers. Either may be nil.
func NewIngestHook(sink ReadingSink, publish PublishFunc, clock timeutil.Clock) *IngestHook {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &IngestHook{
		sink:    sink,
		publish: publish,
		clock:   clock,
		devices: make(map[string]*DeviceStatus),
	}
}

// ID identifies the hook to the server.
func (h *IngestHook) ID() string { return "shoepad-ingest" }

// Provides reports the hook methods implemented.
func (h *IngestHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mqtt.OnPublished}, []byte{b})
}

// OnPublished handles every message accepted by the broker.
func (h *IngestHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.HandleMessage(pk.TopicName, pk.Payload)
}

// HandleMessage dispatches one message by topic.
func (h *IngestHook) HandleMessage(topic string, payload []byte) {
	t, err := ParseTopic(topic)
	if err != nil {
		h.mu.Lock()
		h.counters.Ignored++
		h.mu.Unlock()
		// The broker also carries our own app/ messages.
		if !isAppTopic(topic) {
			logf("ignoring message: %v", err)
		}
		return
	}

	now := h.clock.Now()
	switch t.Kind {
	case KindStatus:
		h.handleStatus(t, payload, now)
	case KindData:
		h.handleData(t, payload, now)
	case KindCalibration:
		h.mu.Lock()
		h.counters.Calibrations++
		h.deviceLocked(t.Device, now).Calibrations++
		h.mu.Unlock()
		logf("calibration finished on %s pad %s", t.Device, t.Index)
	}
}

func (h *IngestHook) handleStatus(t Topic, payload []byte, now time.Time) {
	if len(payload) == 0 || (payload[0] != StatusOnline && payload[0] != StatusOffline) {
		h.mu.Lock()
		h.counters.Ignored++
		h.mu.Unlock()
		logf("invalid status %q from %s", payload, t.Device)
		return
	}
	online := payload[0] == StatusOnline

	h.mu.Lock()
	h.counters.Statuses++
	h.deviceLocked(t.Device, now).Online = online
	h.mu.Unlock()

	if !online {
		logf("device %s offline", t.Device)
		return
	}
	logf("device %s online", t.Device)
	if h.publish != nil {
		if err := h.publish(TimerTopic(t.Device), nil); err != nil {
			logf("failed to start timer on %s: %v", t.Device, err)
		}
	}
}

func (h *IngestHook) handleData(t Topic, payload []byte, now time.Time) {
	tv, x, y, z, err := sensor.ParsePayload(string(payload))
	if err != nil {
		h.mu.Lock()
		h.counters.Ignored++
		h.mu.Unlock()
		logf("dropping data from %s: %v", t.Device, err)
		return
	}

	h.mu.Lock()
	h.counters.Readings++
	h.deviceLocked(t.Device, now).Readings++
	h.mu.Unlock()

	if h.sink != nil {
		h.sink.Publish(sensor.Reading{
			Sensor:    sensor.Key(t.Device, t.Index),
			Timestamp: now.UnixMilli(),
			T:         tv,
			X:         x,
			Y:         y,
			Z:         z,
		})
	}
}

func (h *IngestHook) deviceLocked(device string, now time.Time) *DeviceStatus {
	d, ok := h.devices[device]
	if !ok {
		d = &DeviceStatus{Device: device}
		h.devices[device] = d
	}
	d.LastSeen = now
	h.lastMsg = now
	return d
}

// Devices returns every device seen, sorted by id.
func (h *IngestHook) Devices() []DeviceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DeviceStatus, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// Counters returns message counters.
func (h *IngestHook) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

// LastMessage returns when the last device message arrived.
func (h *IngestHook) LastMessage() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastMsg
}

func isAppTopic(topic string) bool {
	return strings.HasPrefix(topic, "app/")
}
