package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/fleetsim/fleetctl/pkg/streaming"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

// Config holds WebSocket backend configuration.
type Config struct {
	URL string
	// Secret signs the HS256 bearer token; empty sends no token.
	Secret string
}

// Backend streams run data over WebSocket to a live viewer.
type Backend struct {
	stream *stream
	cfg    Config
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		stream: newStream(logger),
		cfg:    cfg,
	}
}

// Token returns a signed bearer token for secret.
func Token(secret string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": "fleetctl",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	var token string
	if b.cfg.Secret != "" {
		var err error
		if token, err = Token(b.cfg.Secret, time.Now()); err != nil {
			return err
		}
	}
	return b.stream.dial(b.cfg.URL, token)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.stream.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and queues it
// without waiting for the server.
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.stream.send(msgType, data)
	return nil
}

// requestEnvelope queues the envelope and waits for the server ack.
func (b *Backend) requestEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return b.stream.request(msgType, data, ackTimeout)
}

// StartRun sends the run description and waits for server ack.
func (b *Backend) StartRun(run *core.Run) error {
	return b.requestEnvelope(streaming.TypeStartRun, streaming.StartRunPayload{Run: run})
}

// EndRun sends end_run and waits for server ack.
func (b *Backend) EndRun(summary core.RunSummary) error {
	return b.requestEnvelope(streaming.TypeEndRun, streaming.EndRunPayload{Summary: summary})
}

func (b *Backend) AddVehicle(v core.Vehicle) error {
	return b.sendEnvelope(streaming.TypeAddVehicle, v)
}

func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	return b.sendEnvelope(streaming.TypeTelemetry, row)
}

func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	return b.sendEnvelope(streaming.TypeFacilityEvent, e)
}

func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	return b.sendEnvelope(streaming.TypeLifecycleEvent, e)
}

// QueueLengths reports envelopes waiting for the writer.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{"send": b.stream.pending()}
}
