// Package facility resolves stopping places (parking areas, bus stops and
// charging stations) and attaches stops to vehicle routes.
package facility

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/util"
)

// ErrNoFacility is returned when the network has no facility of a kind.
var ErrNoFacility = errors.New("no facility of this kind")

// Skippable reports whether err only means a facility could not be used
// right now: none exists, or the engine rejected a single query.
func Skippable(err error) bool {
	return errors.Is(err, ErrNoFacility) || engine.IsTransient(err)
}

// Index queries facilities from the engine. Nothing is cached: the engine
// is asked on each use.
type Index struct {
	eng engine.Engine
}

// NewIndex returns an index that asks eng for facilities.
func NewIndex(eng engine.Engine) *Index {
	return &Index{eng: eng}
}

// List returns the facility ids of kind.
func (ix *Index) List(kind engine.FacilityKind) ([]string, error) {
	return ix.eng.Facilities(kind)
}

// Random picks one facility of kind.
func (ix *Index) Random(kind engine.FacilityKind, rng *rand.Rand) (string, error) {
	ids, err := ix.List(kind)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoFacility, kind)
	}
	return ids[rng.IntN(len(ids))], nil
}

// Edge returns the edge serving a facility.
func (ix *Index) Edge(kind engine.FacilityKind, id string) (string, error) {
	lane, err := ix.eng.FacilityLane(kind, id)
	if err != nil {
		return "", err
	}
	return util.EdgeOfLane(lane), nil
}

// OnRoute reports whether the facility's serving edge is part of route.
func (ix *Index) OnRoute(kind engine.FacilityKind, id string, route []string) (bool, error) {
	edge, err := ix.Edge(kind, id)
	if err != nil {
		return false, err
	}
	return slices.Contains(route, edge), nil
}

// Occupants returns the vehicles currently stopped at a facility.
func (ix *Index) Occupants(kind engine.FacilityKind, id string) ([]string, error) {
	return ix.eng.FacilityOccupants(kind, id)
}

// Marker colors for stop assignment.
var (
	ColorSpawned  = engine.Color{R: 255, G: 0, B: 0, A: 255}
	ColorParked   = engine.Color{R: 255, G: 255, B: 255, A: 255}
	ColorBusStop  = engine.Color{R: 144, G: 238, B: 144, A: 255}
	ColorReturned = engine.Color{R: 0, G: 255, B: 0, A: 255}
)

// Assigner attaches the post-spawn stop: transit classes stop at a bus
// stop, every other class at a parking area.
type Assigner struct {
	ix        *Index
	eng       engine.Engine
	transit   map[string]bool
	duration  float64
	markStops bool
	rng       *rand.Rand
	logger    *slog.Logger
}

// NewAssigner returns an assigner with the given dwell duration in seconds.
func NewAssigner(eng engine.Engine, ix *Index, transitClasses []string, duration float64, markStops bool, rng *rand.Rand, logger *slog.Logger) *Assigner {
	a := &Assigner{
		ix:        ix,
		eng:       eng,
		transit:   make(map[string]bool, len(transitClasses)),
		duration:  duration,
		markStops: markStops,
		rng:       rng,
		logger:    logger,
	}
	for _, c := range transitClasses {
		a.transit[c] = true
	}
	return a
}

// KindFor returns the facility kind a class stops at after spawning.
func (a *Assigner) KindFor(class string) engine.FacilityKind {
	if a.transit[class] {
		return engine.BusStop
	}
	return engine.ParkingArea
}

// Assign picks a random facility for the vehicle's class and schedules a
// stop there when it lies on route. It returns the stop and whether one was
// set. Missing facilities and off-route picks are not errors; only fatal
// engine errors are returned.
func (a *Assigner) Assign(vehID, class string, route []string) (engine.Stop, bool, error) {
	kind := a.KindFor(class)
	stop, ok, err := a.assign(vehID, kind, route)
	if err != nil && Skippable(err) {
		a.logger.Debug("Stop assignment skipped", "vehicle", vehID, "kind", kind, "error", err)
		return engine.Stop{}, false, nil
	}
	return stop, ok, err
}

func (a *Assigner) assign(vehID string, kind engine.FacilityKind, route []string) (engine.Stop, bool, error) {
	id, err := a.ix.Random(kind, a.rng)
	if err != nil {
		return engine.Stop{}, false, err
	}
	on, err := a.ix.OnRoute(kind, id, route)
	if err != nil || !on {
		return engine.Stop{}, false, err
	}

	stop := engine.Stop{Kind: kind, ID: id, Duration: a.duration, Park: kind == engine.ParkingArea}
	if err := a.eng.SetStop(vehID, stop); err != nil {
		return engine.Stop{}, false, err
	}
	if a.markStops {
		color := ColorParked
		if kind == engine.BusStop {
			color = ColorBusStop
		}
		if err := a.eng.SetColor(vehID, color); err != nil {
			return stop, true, err
		}
	}
	return stop, true, nil
}
