// Package enginetest provides an in-memory engine for controller tests.
package enginetest

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/fleetsim/fleetctl/internal/engine"
)

// Lane is a lane of a fake edge. A nil Allowed list means unrestricted.
type Lane struct {
	Allowed []string
	Length  float64
}

// Vehicle is the engine-side state of a fake vehicle.
type Vehicle struct {
	ID            string
	Class         string
	RouteID       string
	Route         []string
	Road          string
	Speed         float64
	Distance      float64
	X, Y          float64
	EmissionClass string
	Consumption   float64
	Params        map[string]string
	Color         engine.Color
	Target        string
	Stops         []engine.Stop
}

// Facility is a fake stopping place.
type Facility struct {
	Lane      string
	Occupants []string
}

// Call records one state-changing engine call.
type Call struct {
	Op   string
	Args []string
}

// Fake implements engine.Engine in memory. Vehicles never move unless a
// test moves them, either directly or through OnStep.
type Fake struct {
	Now        float64
	StepLength float64

	EdgeOrder []string
	EdgeLanes map[string][]Lane

	// PathFunc answers FindPath; the default returns [from, to].
	PathFunc func(from, to, class string) []string

	Routes   map[string][]string
	Vehicles map[string]*Vehicle
	Loaded   []string
	Departed []string
	// Pending counts vehicles the engine still expects besides the active ones.
	Pending int

	FacilityMap map[engine.FacilityKind]map[string]*Facility

	// Faults makes the named operation fail with a transient error.
	Faults map[string]error
	// OnStep runs after the clock advances.
	OnStep func(f *Fake)

	// DefaultParams seeds the parameters of every added vehicle.
	DefaultParams map[string]string

	Calls  []Call
	Steps  int
	Closed bool
}

var _ engine.Engine = (*Fake)(nil)

// New returns an empty fake with a one second step.
func New() *Fake {
	return &Fake{
		StepLength:  1,
		EdgeLanes:   map[string][]Lane{},
		Routes:      map[string][]string{},
		Vehicles:    map[string]*Vehicle{},
		FacilityMap: map[engine.FacilityKind]map[string]*Facility{},
		Faults:      map[string]error{},
	}
}

// AddEdge registers an edge with the given lanes.
func (f *Fake) AddEdge(id string, lanes ...Lane) {
	if _, ok := f.EdgeLanes[id]; !ok {
		f.EdgeOrder = append(f.EdgeOrder, id)
	}
	f.EdgeLanes[id] = lanes
}

// AddFacility registers a stopping place served by lane.
func (f *Fake) AddFacility(kind engine.FacilityKind, id, lane string) *Facility {
	if f.FacilityMap[kind] == nil {
		f.FacilityMap[kind] = map[string]*Facility{}
	}
	fac := &Facility{Lane: lane}
	f.FacilityMap[kind][id] = fac
	return fac
}

// PlaceVehicle inserts a vehicle directly, bypassing AddVehicle.
func (f *Fake) PlaceVehicle(v *Vehicle) {
	if v.Params == nil {
		v.Params = map[string]string{}
	}
	f.Vehicles[v.ID] = v
}

// Remove makes a vehicle leave the simulation.
func (f *Fake) Remove(vehID string) {
	delete(f.Vehicles, vehID)
}

// CallsTo returns the recorded calls of op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(op string, args ...string) {
	f.Calls = append(f.Calls, Call{Op: op, Args: args})
}

func (f *Fake) fault(op, object string) error {
	if err, ok := f.Faults[op]; ok {
		return engine.NewTransientError(op, object, err)
	}
	return nil
}

func (f *Fake) vehicle(op, vehID string) (*Vehicle, error) {
	if err := f.fault(op, vehID); err != nil {
		return nil, err
	}
	v, ok := f.Vehicles[vehID]
	if !ok {
		return nil, engine.NewTransientError(op, vehID, fmt.Errorf("vehicle %q is not known", vehID))
	}
	return v, nil
}

func (f *Fake) Time() (float64, error) { return f.Now, f.fault("time", "") }

func (f *Fake) Step() error {
	if f.Closed {
		return engine.ErrClosed
	}
	f.Now += f.StepLength
	f.Steps++
	f.Departed = nil
	if f.OnStep != nil {
		f.OnStep(f)
	}
	return nil
}

func (f *Fake) MinExpected() (int, error) {
	return len(f.Vehicles) + f.Pending, f.fault("min-expected", "")
}

func (f *Fake) LoadedIDs() ([]string, error) {
	return slices.Clone(f.Loaded), f.fault("loaded-ids", "")
}

func (f *Fake) DepartedIDs() ([]string, error) {
	return slices.Clone(f.Departed), f.fault("departed-ids", "")
}

func (f *Fake) Edges() ([]string, error) {
	return slices.Clone(f.EdgeOrder), f.fault("edges", "")
}

func (f *Fake) LaneCount(edgeID string) (int, error) {
	lanes, ok := f.EdgeLanes[edgeID]
	if !ok {
		return 0, engine.NewTransientError("lane-count", edgeID, errors.New("unknown edge"))
	}
	return len(lanes), nil
}

func (f *Fake) lane(laneID string) (Lane, bool) {
	for edge, lanes := range f.EdgeLanes {
		for i, l := range lanes {
			if edge+"_"+strconv.Itoa(i) == laneID {
				return l, true
			}
		}
	}
	return Lane{}, false
}

func (f *Fake) LaneAllowed(laneID string) ([]string, error) {
	l, ok := f.lane(laneID)
	if !ok {
		return nil, engine.NewTransientError("lane-allowed", laneID, errors.New("unknown lane"))
	}
	return slices.Clone(l.Allowed), nil
}

func (f *Fake) LaneLength(laneID string) (float64, error) {
	l, ok := f.lane(laneID)
	if !ok {
		return 0, engine.NewTransientError("lane-length", laneID, errors.New("unknown lane"))
	}
	return l.Length, nil
}

func (f *Fake) AddRoute(routeID string, edges []string) error {
	if err := f.fault("add-route", routeID); err != nil {
		return err
	}
	if _, ok := f.Routes[routeID]; ok {
		return engine.NewTransientError("add-route", routeID, errors.New("route exists"))
	}
	f.Routes[routeID] = slices.Clone(edges)
	f.record("add-route", append([]string{routeID}, edges...)...)
	return nil
}

func (f *Fake) RouteIDs() ([]string, error) {
	ids := make([]string, 0, len(f.Routes))
	for id := range f.Routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, f.fault("route-ids", "")
}

func (f *Fake) RouteEdges(routeID string) ([]string, error) {
	edges, ok := f.Routes[routeID]
	if !ok {
		return nil, engine.NewTransientError("route-edges", routeID, errors.New("unknown route"))
	}
	return slices.Clone(edges), nil
}

func (f *Fake) FindPath(from, to, class string) ([]string, error) {
	if err := f.fault("find-path", from); err != nil {
		return nil, err
	}
	f.record("find-path", from, to, class)
	if f.PathFunc != nil {
		return f.PathFunc(from, to, class), nil
	}
	return []string{from, to}, nil
}

func (f *Fake) AddVehicle(vehID, routeID, class string, depart float64) error {
	if err := f.fault("add-vehicle", vehID); err != nil {
		return err
	}
	if _, ok := f.Vehicles[vehID]; ok {
		return engine.NewTransientError("add-vehicle", vehID, errors.New("vehicle exists"))
	}
	route, ok := f.Routes[routeID]
	if !ok {
		return engine.NewTransientError("add-vehicle", vehID, fmt.Errorf("unknown route %q", routeID))
	}
	params := map[string]string{}
	for k, v := range f.DefaultParams {
		params[k] = v
	}
	f.Vehicles[vehID] = &Vehicle{
		ID:      vehID,
		Class:   class,
		RouteID: routeID,
		Route:   slices.Clone(route),
		Road:    route[0],
		Params:  params,
	}
	f.Departed = append(f.Departed, vehID)
	f.record("add-vehicle", vehID, routeID, class, strconv.FormatFloat(depart, 'f', -1, 64))
	return nil
}

func (f *Fake) VehicleIDs() ([]string, error) {
	if err := f.fault("vehicle-ids", ""); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.Vehicles))
	for id := range f.Vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Fake) RoadID(vehID string) (string, error) {
	v, err := f.vehicle("road-id", vehID)
	if err != nil {
		return "", err
	}
	return v.Road, nil
}

func (f *Fake) Speed(vehID string) (float64, error) {
	v, err := f.vehicle("speed", vehID)
	if err != nil {
		return 0, err
	}
	return v.Speed, nil
}

func (f *Fake) Distance(vehID string) (float64, error) {
	v, err := f.vehicle("distance", vehID)
	if err != nil {
		return 0, err
	}
	return v.Distance, nil
}

func (f *Fake) Position(vehID string) (float64, float64, error) {
	v, err := f.vehicle("position", vehID)
	if err != nil {
		return 0, 0, err
	}
	return v.X, v.Y, nil
}

func (f *Fake) DrivingDistance(vehID, edgeID string, pos float64) (float64, error) {
	v, err := f.vehicle("driving-distance", vehID)
	if err != nil {
		return 0, err
	}
	remaining := pos
	counting := false
	for _, e := range v.Route {
		if e == v.Road {
			counting = true
			continue
		}
		if counting && e != edgeID {
			if lanes := f.EdgeLanes[e]; len(lanes) > 0 {
				remaining += lanes[0].Length
			}
		}
	}
	return remaining, nil
}

func (f *Fake) ElectricityConsumption(vehID string) (float64, error) {
	v, err := f.vehicle("electricity-consumption", vehID)
	if err != nil {
		return 0, err
	}
	return v.Consumption, nil
}

func (f *Fake) TypeID(vehID string) (string, error) {
	v, err := f.vehicle("type-id", vehID)
	if err != nil {
		return "", err
	}
	return v.Class, nil
}

func (f *Fake) RouteID(vehID string) (string, error) {
	v, err := f.vehicle("route-id", vehID)
	if err != nil {
		return "", err
	}
	return v.RouteID, nil
}

func (f *Fake) Route(vehID string) ([]string, error) {
	v, err := f.vehicle("route", vehID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.Route), nil
}

func (f *Fake) EmissionClass(vehID string) (string, error) {
	v, err := f.vehicle("emission-class", vehID)
	if err != nil {
		return "", err
	}
	return v.EmissionClass, nil
}

func (f *Fake) Parameter(vehID, key string) (string, error) {
	v, err := f.vehicle("parameter", vehID)
	if err != nil {
		return "", err
	}
	val, ok := v.Params[key]
	if !ok {
		return "", engine.NewTransientError("parameter", vehID, fmt.Errorf("parameter %q not set", key))
	}
	return val, nil
}

func (f *Fake) SetParameter(vehID, key, value string) error {
	v, err := f.vehicle("set-parameter", vehID)
	if err != nil {
		return err
	}
	v.Params[key] = value
	f.record("set-parameter", vehID, key, value)
	return nil
}

func (f *Fake) SetColor(vehID string, c engine.Color) error {
	v, err := f.vehicle("set-color", vehID)
	if err != nil {
		return err
	}
	v.Color = c
	return nil
}

func (f *Fake) ChangeTarget(vehID, edgeID string) error {
	v, err := f.vehicle("change-target", vehID)
	if err != nil {
		return err
	}
	v.Target = edgeID
	f.record("change-target", vehID, edgeID)
	return nil
}

func (f *Fake) SetStop(vehID string, stop engine.Stop) error {
	v, err := f.vehicle("set-stop", vehID)
	if err != nil {
		return err
	}
	v.Stops = append(v.Stops, stop)
	f.record("set-stop", vehID, stop.Kind.String(), stop.ID, strconv.FormatFloat(stop.Duration, 'f', -1, 64))
	return nil
}

func (f *Fake) Facilities(kind engine.FacilityKind) ([]string, error) {
	if err := f.fault("facilities", kind.String()); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.FacilityMap[kind]))
	for id := range f.FacilityMap[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Fake) FacilityLane(kind engine.FacilityKind, id string) (string, error) {
	fac, ok := f.FacilityMap[kind][id]
	if !ok {
		return "", engine.NewTransientError("facility-lane", id, errors.New("unknown facility"))
	}
	return fac.Lane, nil
}

func (f *Fake) FacilityOccupants(kind engine.FacilityKind, id string) ([]string, error) {
	if err := f.fault("facility-occupants", id); err != nil {
		return nil, err
	}
	fac, ok := f.FacilityMap[kind][id]
	if !ok {
		return nil, engine.NewTransientError("facility-occupants", id, errors.New("unknown facility"))
	}
	return slices.Clone(fac.Occupants), nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}
