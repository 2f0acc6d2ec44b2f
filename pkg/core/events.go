// pkg/core/events.go
package core

// TelemetryRow is one observation of a vehicle at a tick.
type TelemetryRow struct {
	VehicleID         string
	SpeedKmh          float64
	Road              string
	Distance          float64
	Destination       string
	DistanceRemaining float64
	Class             string
	SoC               float64
	Time              float64

	// Not part of the flat file layout.
	Consumption float64
	Capacity    float64
	ChargeLevel float64
	ColorBucket int
	Position    *Position
}

// FacilityKind names a stopping place kind in stored events.
type FacilityKind string

const (
	FacilityParkingArea     FacilityKind = "parking_area"
	FacilityBusStop         FacilityKind = "bus_stop"
	FacilityChargingStation FacilityKind = "charging_station"
)

// FacilityEvent records a vehicle observed at a stopping place.
type FacilityEvent struct {
	Time       float64
	FacilityID string
	Kind       FacilityKind
	VehicleID  string
}

// LifecycleKind is the kind of a vehicle lifecycle event.
type LifecycleKind string

const (
	LifecycleScheduled      LifecycleKind = "scheduled"
	LifecycleSpawned        LifecycleKind = "spawned"
	LifecycleSkipped        LifecycleKind = "skipped"
	LifecycleDiverted       LifecycleKind = "diverted"
	LifecycleCharged        LifecycleKind = "charged"
	LifecycleReturned       LifecycleKind = "returned"
	LifecycleParked         LifecycleKind = "parked"
	LifecycleDemandDiverted LifecycleKind = "demand_diverted"
	LifecycleTerminated     LifecycleKind = "terminated"
)

// LifecycleEvent records a state change of a vehicle.
type LifecycleEvent struct {
	Time      float64
	VehicleID string
	Kind      LifecycleKind
	Detail    string
}
