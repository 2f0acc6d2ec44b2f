package engine

import (
	"fmt"

	"github.com/fleetsim/fleetctl/pkg/traci"
)

// TraCI implements Engine over a TraCI connection.
type TraCI struct {
	conn *traci.Conn
}

var _ Engine = (*TraCI)(nil)

// NewTraCI wraps an open connection.
func NewTraCI(conn *traci.Conn) *TraCI {
	return &TraCI{conn: conn}
}

func facilityDomain(kind FacilityKind) (uint8, error) {
	switch kind {
	case ParkingArea:
		return traci.CmdGetParkingAreaVariable, nil
	case BusStop:
		return traci.CmdGetBusStopVariable, nil
	case ChargingStation:
		return traci.CmdGetChargingStationVariable, nil
	}
	return 0, fmt.Errorf("unknown facility kind %d", int(kind))
}

func (t *TraCI) Time() (float64, error) {
	v, err := t.conn.SimulationTime()
	return v, wrap("time", "", err)
}

func (t *TraCI) Step() error {
	return wrap("step", "", t.conn.SimulationStep(0))
}

func (t *TraCI) MinExpected() (int, error) {
	v, err := t.conn.MinExpectedNumber()
	return int(v), wrap("min-expected", "", err)
}

func (t *TraCI) LoadedIDs() ([]string, error) {
	v, err := t.conn.LoadedIDList()
	return v, wrap("loaded-ids", "", err)
}

func (t *TraCI) DepartedIDs() ([]string, error) {
	v, err := t.conn.DepartedIDList()
	return v, wrap("departed-ids", "", err)
}

func (t *TraCI) Edges() ([]string, error) {
	v, err := t.conn.EdgeIDList()
	return v, wrap("edges", "", err)
}

func (t *TraCI) LaneCount(edgeID string) (int, error) {
	v, err := t.conn.EdgeLaneNumber(edgeID)
	return int(v), wrap("lane-count", edgeID, err)
}

func (t *TraCI) LaneAllowed(laneID string) ([]string, error) {
	v, err := t.conn.LaneAllowed(laneID)
	return v, wrap("lane-allowed", laneID, err)
}

func (t *TraCI) LaneLength(laneID string) (float64, error) {
	v, err := t.conn.LaneLength(laneID)
	return v, wrap("lane-length", laneID, err)
}

func (t *TraCI) AddRoute(routeID string, edges []string) error {
	return wrap("add-route", routeID, t.conn.RouteAdd(routeID, edges))
}

func (t *TraCI) RouteIDs() ([]string, error) {
	v, err := t.conn.RouteIDList()
	return v, wrap("route-ids", "", err)
}

func (t *TraCI) RouteEdges(routeID string) ([]string, error) {
	v, err := t.conn.RouteEdges(routeID)
	return v, wrap("route-edges", routeID, err)
}

func (t *TraCI) FindPath(from, to, class string) ([]string, error) {
	st, err := t.conn.FindRoute(from, to, class, -1, 0)
	if err != nil {
		return nil, wrap("find-path", from+"->"+to, err)
	}
	return st.Edges, nil
}

func (t *TraCI) AddVehicle(vehID, routeID, class string, depart float64) error {
	return wrap("add-vehicle", vehID, t.conn.VehicleAdd(vehID, routeID, class, depart))
}

func (t *TraCI) VehicleIDs() ([]string, error) {
	v, err := t.conn.VehicleIDList()
	return v, wrap("vehicle-ids", "", err)
}

func (t *TraCI) RoadID(vehID string) (string, error) {
	v, err := t.conn.VehicleRoadID(vehID)
	return v, wrap("road-id", vehID, err)
}

func (t *TraCI) Speed(vehID string) (float64, error) {
	v, err := t.conn.VehicleSpeed(vehID)
	return v, wrap("speed", vehID, err)
}

func (t *TraCI) Distance(vehID string) (float64, error) {
	v, err := t.conn.VehicleDistance(vehID)
	return v, wrap("distance", vehID, err)
}

func (t *TraCI) Position(vehID string) (float64, float64, error) {
	x, y, err := t.conn.VehiclePosition(vehID)
	return x, y, wrap("position", vehID, err)
}

func (t *TraCI) DrivingDistance(vehID, edgeID string, pos float64) (float64, error) {
	v, err := t.conn.VehicleDrivingDistance(vehID, edgeID, pos)
	return v, wrap("driving-distance", vehID, err)
}

func (t *TraCI) ElectricityConsumption(vehID string) (float64, error) {
	v, err := t.conn.VehicleElectricityConsumption(vehID)
	return v, wrap("electricity-consumption", vehID, err)
}

func (t *TraCI) TypeID(vehID string) (string, error) {
	v, err := t.conn.VehicleTypeID(vehID)
	return v, wrap("type-id", vehID, err)
}

func (t *TraCI) RouteID(vehID string) (string, error) {
	v, err := t.conn.VehicleRouteID(vehID)
	return v, wrap("route-id", vehID, err)
}

func (t *TraCI) Route(vehID string) ([]string, error) {
	v, err := t.conn.VehicleRoute(vehID)
	return v, wrap("route", vehID, err)
}

func (t *TraCI) EmissionClass(vehID string) (string, error) {
	v, err := t.conn.VehicleEmissionClass(vehID)
	return v, wrap("emission-class", vehID, err)
}

func (t *TraCI) Parameter(vehID, key string) (string, error) {
	v, err := t.conn.VehicleParameter(vehID, key)
	return v, wrap("parameter "+key, vehID, err)
}

func (t *TraCI) SetParameter(vehID, key, value string) error {
	return wrap("set-parameter "+key, vehID, t.conn.VehicleSetParameter(vehID, key, value))
}

func (t *TraCI) SetColor(vehID string, c Color) error {
	return wrap("set-color", vehID, t.conn.VehicleSetColor(vehID, c))
}

func (t *TraCI) ChangeTarget(vehID, edgeID string) error {
	return wrap("change-target", vehID, t.conn.VehicleChangeTarget(vehID, edgeID))
}

func (t *TraCI) SetStop(vehID string, stop Stop) error {
	return wrap("set-stop", vehID, t.conn.VehicleSetStop(vehID, stop.ID, stop.Duration, stop.Flags()))
}

func (t *TraCI) Facilities(kind FacilityKind) ([]string, error) {
	domain, err := facilityDomain(kind)
	if err != nil {
		return nil, err
	}
	v, err := t.conn.StopIDList(domain)
	return v, wrap("facilities", kind.String(), err)
}

func (t *TraCI) FacilityLane(kind FacilityKind, id string) (string, error) {
	domain, err := facilityDomain(kind)
	if err != nil {
		return "", err
	}
	v, err := t.conn.StopLaneID(domain, id)
	return v, wrap("facility-lane", id, err)
}

func (t *TraCI) FacilityOccupants(kind FacilityKind, id string) ([]string, error) {
	domain, err := facilityDomain(kind)
	if err != nil {
		return nil, err
	}
	v, err := t.conn.StopVehicleIDs(domain, id)
	return v, wrap("facility-occupants", id, err)
}

func (t *TraCI) Close() error {
	return wrap("close", "", t.conn.Close())
}
