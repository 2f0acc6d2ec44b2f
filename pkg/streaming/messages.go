// Package streaming defines the wire protocol of the run stream.
package streaming

import (
	"encoding/json"

	"github.com/fleetsim/fleetctl/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartRun       = "start_run"
	TypeEndRun         = "end_run"
	TypeAddVehicle     = "add_vehicle"
	TypeTelemetry      = "telemetry"
	TypeFacilityEvent  = "facility_event"
	TypeLifecycleEvent = "lifecycle_event"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries the run description.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// EndRunPayload carries the run outcome.
type EndRunPayload struct {
	Summary core.RunSummary `json:"summary"`
}
