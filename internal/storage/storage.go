// internal/storage/storage.go
package storage

import "github.com/fleetsim/fleetctl/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management (StartRun may assign run.ID)
	StartRun(run *core.Run) error
	EndRun(summary core.RunSummary) error

	// Vehicle registration, called for every scheduled vehicle before the first tick
	AddVehicle(v core.Vehicle) error

	// Recording
	RecordTelemetry(row core.TelemetryRow) error
	RecordFacilityEvent(e core.FacilityEvent) error
	RecordLifecycleEvent(e core.LifecycleEvent) error
}

// Exporter is an optional interface for backends that write a single
// artifact when the run ends.
type Exporter interface {
	ExportedFilePath() string
}

// QueueReporter is an optional interface for backends that buffer writes.
type QueueReporter interface {
	QueueLengths() map[string]int
}
