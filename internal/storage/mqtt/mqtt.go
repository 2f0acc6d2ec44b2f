// Package mqttstorage publishes run data as JSON messages to an MQTT broker.
package mqttstorage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/queue"
	"github.com/fleetsim/fleetctl/pkg/core"
)

const publishTimeout = 5 * time.Second

// Publisher sends one message to the broker.
type Publisher interface {
	Connect(onConnect func()) error
	Connected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Backend implements storage.Backend over MQTT. Messages produced while the
// broker is unreachable wait in a bounded queue that drops the oldest ones.
type Backend struct {
	cfg config.MQTTConfig
	log *slog.Logger
	pub Publisher

	pending *queue.Queue[message]
	drainMu sync.Mutex

	mu  sync.RWMutex
	run string
}

// New creates a backend publishing through the paho client.
func New(cfg config.MQTTConfig, logger *slog.Logger) *Backend {
	return NewWithPublisher(cfg, newPahoPublisher(cfg, logger), logger)
}

// NewWithPublisher creates a backend publishing through pub.
func NewWithPublisher(cfg config.MQTTConfig, pub Publisher, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:     cfg,
		log:     logger,
		pub:     pub,
		pending: queue.NewBounded[message](cfg.BufferSize),
		run:     "run",
	}
}

// Init connects to the broker. A broker that is down at start is retried in
// the background.
func (b *Backend) Init() error {
	return b.pub.Connect(func() {
		b.log.Info("Connected to MQTT broker", "broker", b.cfg.Broker)
		b.drain()
	})
}

// Close publishes what is still queued when connected, then disconnects.
func (b *Backend) Close() error {
	b.drain()
	if n := b.pending.Len(); n > 0 {
		b.log.Warn("Discarding unpublished MQTT messages", "count", n)
	}
	if d := b.pending.Dropped(); d > 0 {
		b.log.Warn("MQTT buffer overflowed", "dropped", d)
	}
	b.pub.Disconnect()
	return nil
}

// Topic joins the prefix, the run and parts.
func (b *Backend) Topic(parts ...string) string {
	b.mu.RLock()
	run := b.run
	b.mu.RUnlock()
	return strings.Join(append([]string{b.cfg.TopicPrefix, run}, parts...), "/")
}

func (b *Backend) StartRun(run *core.Run) error {
	if run.Name != "" {
		b.mu.Lock()
		b.run = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(run.Name)
		b.mu.Unlock()
	}
	return b.publish(b.Topic("status"), true, map[string]any{"state": "running", "run": run})
}

func (b *Backend) EndRun(s core.RunSummary) error {
	return b.publish(b.Topic("status"), true, map[string]any{"state": "finished", "summary": s})
}

func (b *Backend) AddVehicle(v core.Vehicle) error {
	return b.publish(b.Topic(v.ID, "info"), true, v)
}

func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	return b.publish(b.Topic(row.VehicleID, "telemetry"), false, row)
}

func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	return b.publish(b.Topic("facilities", e.FacilityID), false, e)
}

func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	return b.publish(b.Topic(e.VehicleID, "events"), false, e)
}

// QueueLengths reports messages waiting for the broker.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{"pending": b.pending.Len()}
}

func (b *Backend) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	b.pending.Push(message{topic: topic, retained: retained, payload: payload})
	b.drain()
	return nil
}

// drain publishes queued messages in order while the broker is reachable.
func (b *Backend) drain() {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	if !b.pub.Connected() {
		return
	}
	msgs := b.pending.GetAndEmpty()
	for i, m := range msgs {
		if err := b.pub.Publish(m.topic, b.cfg.QoS, m.retained, m.payload); err != nil {
			b.log.Debug("MQTT publish failed, requeueing", "error", err, "count", len(msgs)-i)
			b.pending.Requeue(msgs[i:])
			return
		}
	}
}
