// Package engine is the boundary between the fleet controller and the
// traffic simulation engine. Every engine verb the controller needs is a
// method on Engine; errors are classified as transient or fatal here so
// callers never inspect wire-level failures.
package engine

import (
	"fmt"

	"github.com/fleetsim/fleetctl/pkg/traci"
)

// Color is an RGBA vehicle color.
type Color = traci.Color

// FacilityKind selects a stopping place domain.
type FacilityKind int

const (
	ParkingArea FacilityKind = iota
	BusStop
	ChargingStation
)

func (k FacilityKind) String() string {
	switch k {
	case ParkingArea:
		return "parking_area"
	case BusStop:
		return "bus_stop"
	case ChargingStation:
		return "charging_station"
	default:
		return fmt.Sprintf("facility(%d)", int(k))
	}
}

// Stop describes a scheduled stop at a stopping place.
type Stop struct {
	Kind     FacilityKind
	ID       string
	Duration float64
	// Park takes the vehicle off the road for the stop duration.
	Park bool
}

// Flags returns the wire stop flags for s.
func (s Stop) Flags() int32 {
	var flags int32
	switch s.Kind {
	case ParkingArea:
		flags = traci.StopParkingArea
	case BusStop:
		flags = traci.StopBusStop
	case ChargingStation:
		flags = traci.StopChargingStation
	}
	if s.Park {
		flags |= traci.StopParking
	}
	return flags
}

// Engine is the query/command surface of the simulation engine. All calls
// are synchronous. A returned error satisfies IsTransient when the engine
// rejected only that operation.
type Engine interface {
	// time and stepping
	Time() (float64, error)
	Step() error
	MinExpected() (int, error)
	LoadedIDs() ([]string, error)
	DepartedIDs() ([]string, error)

	// topology
	Edges() ([]string, error)
	LaneCount(edgeID string) (int, error)
	LaneAllowed(laneID string) ([]string, error)
	LaneLength(laneID string) (float64, error)

	// routing
	AddRoute(routeID string, edges []string) error
	RouteIDs() ([]string, error)
	RouteEdges(routeID string) ([]string, error)
	FindPath(from, to, class string) ([]string, error)

	// vehicles
	AddVehicle(vehID, routeID, class string, depart float64) error
	VehicleIDs() ([]string, error)
	RoadID(vehID string) (string, error)
	Speed(vehID string) (float64, error)
	Distance(vehID string) (float64, error)
	Position(vehID string) (x, y float64, err error)
	DrivingDistance(vehID, edgeID string, pos float64) (float64, error)
	ElectricityConsumption(vehID string) (float64, error)
	TypeID(vehID string) (string, error)
	RouteID(vehID string) (string, error)
	Route(vehID string) ([]string, error)
	EmissionClass(vehID string) (string, error)
	Parameter(vehID, key string) (string, error)
	SetParameter(vehID, key, value string) error
	SetColor(vehID string, c Color) error
	ChangeTarget(vehID, edgeID string) error
	SetStop(vehID string, stop Stop) error

	// facilities
	Facilities(kind FacilityKind) ([]string, error)
	FacilityLane(kind FacilityKind, id string) (string, error)
	FacilityOccupants(kind FacilityKind, id string) ([]string, error)

	Close() error
}

// Battery device parameters.
const (
	ParamBatteryCapacity    = "device.battery.capacity"
	ParamBatteryChargeLevel = "device.battery.chargeLevel"
)
