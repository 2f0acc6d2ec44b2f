// Package injector perturbs a running scenario once per run: it parks a
// random share of the traffic and forces battery evaluation for preloaded
// vehicles outside the managed fleet.
package injector

import (
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/fleetsim/fleetctl/internal/battery"
	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/facility"
)

// Parked is a parking stop scheduled by the injector.
type Parked struct {
	VehicleID string
	Area      string
}

// Result reports what one tick of the injector did.
type Result struct {
	Fired  bool
	Parked []Parked
	Demand []battery.Sample
}

// Injector is not safe for concurrent use.
type Injector struct {
	eng       engine.Engine
	ix        *facility.Index
	bat       *battery.Controller
	cfg       config.InjectorConfig
	markStops bool
	managed   func(string) bool
	rng       *rand.Rand
	logger    *slog.Logger

	keyTick int
	fired   bool

	loaded  map[string]struct{}
	sampled map[string]struct{}
}

// New draws the key tick uniform in [0, horizon]. managed reports whether
// an id belongs to the controller's own fleet.
func New(eng engine.Engine, ix *facility.Index, bat *battery.Controller, cfg config.InjectorConfig, markStops bool,
	horizon int, managed func(string) bool, rng *rand.Rand, logger *slog.Logger) *Injector {
	return &Injector{
		eng:       eng,
		ix:        ix,
		bat:       bat,
		cfg:       cfg,
		markStops: markStops,
		managed:   managed,
		rng:       rng,
		logger:    logger,
		keyTick:   rng.IntN(horizon + 1),
		loaded:    make(map[string]struct{}),
		sampled:   make(map[string]struct{}),
	}
}

// KeyTick returns the tick the injector fires at.
func (in *Injector) KeyTick() int {
	return in.keyTick
}

// Fired reports whether the key tick has passed.
func (in *Injector) Fired() bool {
	return in.fired
}

// Tick runs the injector for simulation time now. present lists the
// vehicles in the simulation, isPresent answers membership for the same set.
func (in *Injector) Tick(now float64, present []string, isPresent func(string) bool) (Result, error) {
	var res Result
	if !in.cfg.Enabled {
		return res, nil
	}
	if in.cfg.DemandMode != config.DemandOff {
		if err := in.observeLoaded(); err != nil {
			return res, err
		}
	}

	if !in.fired && now >= float64(in.keyTick) {
		in.fired = true
		res.Fired = true
		in.logger.Info("Injector fired", "tick", in.keyTick, "present", len(present))

		parked, err := in.park(present)
		res.Parked = parked
		if err != nil {
			return res, err
		}
	}

	if in.cfg.DemandMode == config.DemandEveryTick || (in.cfg.DemandMode == config.DemandKeyTick && res.Fired) {
		demand, err := in.demand(isPresent)
		res.Demand = demand
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (in *Injector) observeLoaded() error {
	ids, err := in.eng.LoadedIDs()
	if err != nil {
		if engine.IsTransient(err) {
			return nil
		}
		return err
	}
	for _, id := range ids {
		in.loaded[id] = struct{}{}
	}
	return nil
}

// park schedules a parking stop for ⌊fraction × |present|⌋ vehicles drawn
// without replacement, each at a random parking area that lies on its route.
func (in *Injector) park(present []string) ([]Parked, error) {
	n := int(math.Floor(in.cfg.SampleFraction * float64(len(present))))
	if n == 0 {
		return nil, nil
	}

	var out []Parked
	for _, i := range in.rng.Perm(len(present))[:n] {
		id := present[i]
		area, err := in.ix.Random(engine.ParkingArea, in.rng)
		if errors.Is(err, facility.ErrNoFacility) {
			in.logger.Debug("No parking areas, injector parking skipped")
			return out, nil
		}
		if err == nil {
			var ok bool
			ok, err = in.parkAt(id, area)
			if ok {
				out = append(out, Parked{VehicleID: id, Area: area})
			}
		}
		if err != nil {
			if !facility.Skippable(err) {
				return out, err
			}
			in.logger.Debug("Injector parking skipped", "vehicle", id, "error", err)
		}
	}
	return out, nil
}

func (in *Injector) parkAt(vehID, area string) (bool, error) {
	route, err := in.eng.Route(vehID)
	if err != nil {
		return false, err
	}
	on, err := in.ix.OnRoute(engine.ParkingArea, area, route)
	if err != nil || !on {
		return false, err
	}
	stop := engine.Stop{Kind: engine.ParkingArea, ID: area, Duration: in.cfg.ParkingDuration, Park: true}
	if err := in.eng.SetStop(vehID, stop); err != nil {
		return false, err
	}
	if in.markStops {
		if err := in.eng.SetColor(vehID, facility.ColorParked); err != nil && !engine.IsTransient(err) {
			return true, err
		}
	}
	return true, nil
}

// demand evaluates the battery of every loaded, present, unmanaged vehicle
// of the configured emission class exactly once. Diversions issued here
// leave no pending return.
func (in *Injector) demand(isPresent func(string) bool) ([]battery.Sample, error) {
	ids := make([]string, 0, len(in.loaded))
	for id := range in.loaded {
		if _, done := in.sampled[id]; done {
			continue
		}
		if in.managed(id) || !isPresent(id) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []battery.Sample
	for _, id := range ids {
		class, err := in.eng.EmissionClass(id)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			return out, err
		}
		if class != in.cfg.DemandEmissionClass {
			in.sampled[id] = struct{}{}
			continue
		}

		s, err := in.bat.Evaluate(id, in.cfg.DemandThreshold, false)
		switch {
		case err == nil:
			out = append(out, s)
		case engine.IsTransient(err):
			continue
		case errors.Is(err, battery.ErrNoBattery):
			in.logger.Debug("Demand vehicle has no battery", "vehicle", id)
		default:
			return out, err
		}
		in.sampled[id] = struct{}{}
	}
	return out, nil
}
