// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/fleetsim/fleetctl/internal/config"
	v1 "github.com/fleetsim/fleetctl/internal/storage/memory/export/v1"
	"github.com/fleetsim/fleetctl/pkg/core"
)

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord = v1.VehicleRecord

// Backend stores run data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	run     *core.Run
	summary *core.RunSummary

	vehicles       map[string]*VehicleRecord
	facilityEvents []core.FacilityEvent

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[string]*VehicleRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.summary = nil

	// Reset all collections
	b.vehicles = make(map[string]*VehicleRecord)
	b.facilityEvents = nil
	return nil
}

// EndRun finalizes and exports the run data
func (b *Backend) EndRun(summary core.RunSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.summary = &summary
	return b.exportJSON()
}

// AddVehicle registers a scheduled vehicle
func (b *Backend) AddVehicle(v core.Vehicle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.vehicles[v.ID] = &VehicleRecord{Vehicle: v}
	return nil
}

// record returns the record of id, creating one for vehicles never
// registered.
func (b *Backend) record(id string) *VehicleRecord {
	r, ok := b.vehicles[id]
	if !ok {
		r = &VehicleRecord{Vehicle: core.Vehicle{ID: id}}
		b.vehicles[id] = r
	}
	return r
}

// RecordTelemetry appends a telemetry row to its vehicle
func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record(row.VehicleID)
	if r.Vehicle.Class == "" {
		r.Vehicle.Class = row.Class
	}
	r.Telemetry = append(r.Telemetry, row)
	return nil
}

// RecordFacilityEvent records a facility observation
func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.facilityEvents = append(b.facilityEvents, e)
	return nil
}

// RecordLifecycleEvent appends a lifecycle event to its vehicle
func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record(e.VehicleID)
	r.Events = append(r.Events, e)
	return nil
}

// GetVehicle returns a copy of the record of id
func (b *Backend) GetVehicle(id string) (VehicleRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.vehicles[id]
	if !ok {
		return VehicleRecord{}, false
	}
	return *r, true
}

// FacilityEvents returns the recorded facility events
func (b *Backend) FacilityEvents() []core.FacilityEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.FacilityEvent, len(b.facilityEvents))
	copy(out, b.facilityEvents)
	return out
}
