// Package broker embeds the MQTT broker the insole controllers publish to
// and feeds their readings into the sensor fan-out.
package broker

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/banshee-data/shoepad/internal/monitoring"
	"github.com/banshee-data/shoepad/internal/timeutil"
)

const (
	// DefaultAddress is the MQTT listen address.
	DefaultAddress = ":1883"
	// ListenerID names the TCP listener.
	ListenerID = "shoepad"
)

var logf = monitoring.Subsystem("broker")

// Config configures a Broker.
type Config struct {
	Address string
	Sink    ReadingSink
	Clock   timeutil.Clock
}

// Broker is an embedded MQTT broker with the ingest hook installed.
type Broker struct {
	server  *mqtt.Server
	hook    *IngestHook
	address string

	closeOnce sync.Once
	closeErr  error
}

// New builds the broker. It does not listen until Start.
func New(cfg Config) (*Broker, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(log.Writer(), &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add auth hook: %w", err)
	}

	b := &Broker{server: server, address: cfg.Address}
	b.hook = NewIngestHook(cfg.Sink, b.Publish, cfg.Clock)
	if err := server.AddHook(b.hook, nil); err != nil {
		return nil, fmt.Errorf("failed to add ingest hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: ListenerID, Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("failed to add listener on %s: %w", cfg.Address, err)
	}
	return b, nil
}

// Start serves MQTT in the background until ctx is cancelled or Close is
// called.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	log.Printf("[broker] MQTT listening on %s", b.address)
	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return nil
}

// Close stops the broker. It is safe to call more than once.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.server.Close()
		log.Print("[broker] stopped")
	})
	return b.closeErr
}

// Publish sends a message from the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

// Devices returns the devices seen so far.
func (b *Broker) Devices() []DeviceStatus { return b.hook.Devices() }

// Counters returns ingest counters.
func (b *Broker) Counters() Counters { return b.hook.Counters() }

// Hook returns the ingest hook.
func (b *Broker) Hook() *IngestHook { return b.hook }
