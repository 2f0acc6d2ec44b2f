// Package battery implements the charge state machine of managed vehicles:
// one-shot (or periodic) sampling, diversion to a charging station on low
// charge, and the trip back to the original destination once charged.
package battery

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/facility"
	"github.com/fleetsim/fleetctl/internal/util"
)

// ErrNoBattery is returned for vehicles without a usable battery device.
var ErrNoBattery = errors.New("vehicle has no battery")

// Reading is one battery sample.
type Reading struct {
	Capacity float64
	Level    float64
	SoC      float64
}

// ReadSoC reads capacity and charge level and computes the state of
// charge in percent.
func ReadSoC(eng engine.Engine, vehID string) (Reading, error) {
	capacity, err := readFloat(eng, vehID, engine.ParamBatteryCapacity)
	if err != nil {
		return Reading{}, err
	}
	level, err := readFloat(eng, vehID, engine.ParamBatteryChargeLevel)
	if err != nil {
		return Reading{}, err
	}
	if capacity <= 0 {
		return Reading{}, fmt.Errorf("%w: %s capacity %g", ErrNoBattery, vehID, capacity)
	}
	return Reading{Capacity: capacity, Level: level, SoC: 100 * level / capacity}, nil
}

func readFloat(eng engine.Engine, vehID, key string) (float64, error) {
	raw, err := eng.Parameter(vehID, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s=%q", ErrNoBattery, vehID, key, raw)
	}
	return v, nil
}

// Entry tracks a diverted vehicle until it has charged and headed home.
type Entry struct {
	Destination string
	Station     string
	Charged     bool
}

// Diversion describes a vehicle sent to charge.
type Diversion struct {
	VehicleID   string
	Station     string
	Destination string
	SoC         float64
}

// Sample is the outcome of evaluating one vehicle.
type Sample struct {
	VehicleID string
	Reading   Reading
	Low       bool
	Diversion *Diversion
}

// Controller owns the needs-sampling set and the pending returns of the
// managed fleet. It is not safe for concurrent use.
type Controller struct {
	eng            engine.Engine
	ix             *facility.Index
	rng            *rand.Rand
	threshold      float64
	chargeDuration float64
	interval       int
	logger         *slog.Logger

	needs       map[string]struct{}
	lastSampled map[string]int
	pending     map[string]*Entry
	// deferred holds vehicles found low whose diversion failed transiently.
	// Their level is not drawn again on the retry.
	deferred map[string]struct{}
}

// Config holds the controller parameters.
type Config struct {
	Threshold      float64
	ChargeDuration float64
	// SampleInterval re-samples every n ticks when positive.
	SampleInterval int
}

// NewController returns a battery controller with an empty needs set.
func NewController(eng engine.Engine, ix *facility.Index, cfg Config, rng *rand.Rand, logger *slog.Logger) *Controller {
	return &Controller{
		eng:            eng,
		ix:             ix,
		rng:            rng,
		threshold:      cfg.Threshold,
		chargeDuration: cfg.ChargeDuration,
		interval:       cfg.SampleInterval,
		logger:         logger,
		needs:          make(map[string]struct{}),
		lastSampled:    make(map[string]int),
		pending:        make(map[string]*Entry),
		deferred:       make(map[string]struct{}),
	}
}

// Track adds a vehicle to the needs-sampling set.
func (c *Controller) Track(vehID string) {
	c.needs[vehID] = struct{}{}
}

// Forget drops every trace of a vehicle that left the simulation.
func (c *Controller) Forget(vehID string) {
	delete(c.needs, vehID)
	delete(c.lastSampled, vehID)
	delete(c.pending, vehID)
	delete(c.deferred, vehID)
}

// NeedsSampling reports whether the vehicle is still waiting to be sampled.
func (c *Controller) NeedsSampling(vehID string) bool {
	_, ok := c.needs[vehID]
	return ok
}

// Pending returns the pending-return entry of a vehicle.
func (c *Controller) Pending(vehID string) (Entry, bool) {
	e, ok := c.pending[vehID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// PendingCount returns the number of pending-return entries.
func (c *Controller) PendingCount() int {
	return len(c.pending)
}

// SampleTick evaluates every vehicle that is present and needs sampling.
// tick is the integer simulation second used for periodic re-sampling.
// Transient errors keep the vehicle in the set for the next tick; fatal
// ones abort the pass.
func (c *Controller) SampleTick(tick int, present func(string) bool) ([]Sample, error) {
	c.rearm(tick)

	ids := make([]string, 0, len(c.needs))
	for id := range c.needs {
		if present(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var out []Sample
	for _, id := range ids {
		s, err := c.Evaluate(id, c.threshold, true)
		if err != nil {
			if engine.IsFatal(err) && !errors.Is(err, ErrNoBattery) {
				return out, err
			}
			if engine.IsTransient(err) {
				c.logger.Debug("Battery sample deferred", "vehicle", id, "error", err)
				continue
			}
			c.logger.Debug("Battery sample skipped", "vehicle", id, "error", err)
		}
		delete(c.needs, id)
		c.lastSampled[id] = tick
		if err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// rearm puts vehicles back into the needs set once their sample interval
// elapsed. Vehicles with a pending return are left alone.
func (c *Controller) rearm(tick int) {
	if c.interval <= 0 {
		return
	}
	for id, last := range c.lastSampled {
		if _, diverted := c.pending[id]; diverted {
			continue
		}
		if tick-last >= c.interval {
			c.needs[id] = struct{}{}
		}
	}
}

// Evaluate draws a new charge level uniform in [0, current], writes it back
// and diverts the vehicle when the resulting state of charge is below
// threshold. With track set, a successful diversion creates a
// pending-return entry. Without a charging station the low sample is
// logged and leaves no entry. A transient diversion failure is returned
// with the retarget undone; the next call retries the diversion on the
// level already drawn.
func (c *Controller) Evaluate(vehID string, threshold float64, track bool) (Sample, error) {
	r, err := ReadSoC(c.eng, vehID)
	if err != nil {
		return Sample{}, err
	}
	if _, retry := c.deferred[vehID]; !retry {
		level := c.rng.Float64() * r.Level
		if err := c.eng.SetParameter(vehID, engine.ParamBatteryChargeLevel, strconv.FormatFloat(level, 'f', -1, 64)); err != nil {
			return Sample{}, err
		}
		r.Level = level
		r.SoC = 100 * level / r.Capacity
	}

	s := Sample{VehicleID: vehID, Reading: r, Low: r.SoC < threshold}
	if !s.Low {
		delete(c.deferred, vehID)
		return s, nil
	}

	d, err := c.divert(vehID, track)
	switch {
	case err == nil:
	case errors.Is(err, facility.ErrNoFacility):
		delete(c.deferred, vehID)
		c.logger.Info("Low charge, no charging station", "vehicle", vehID, "soc", util.Round1(r.SoC))
		return s, nil
	case engine.IsTransient(err):
		c.deferred[vehID] = struct{}{}
		return s, err
	default:
		return s, err
	}
	delete(c.deferred, vehID)
	d.SoC = r.SoC
	s.Diversion = &d
	return s, nil
}

func (c *Controller) divert(vehID string, track bool) (Diversion, error) {
	route, err := c.eng.Route(vehID)
	if err != nil {
		return Diversion{}, err
	}
	dest := util.Last(route)

	station, err := c.ix.Random(engine.ChargingStation, c.rng)
	if err != nil {
		return Diversion{}, err
	}
	edge, err := c.ix.Edge(engine.ChargingStation, station)
	if err != nil {
		return Diversion{}, err
	}
	if err := c.eng.ChangeTarget(vehID, edge); err != nil {
		return Diversion{}, err
	}
	stop := engine.Stop{Kind: engine.ChargingStation, ID: station, Duration: c.chargeDuration, Park: true}
	if err := c.eng.SetStop(vehID, stop); err != nil {
		if undoErr := c.eng.ChangeTarget(vehID, dest); undoErr != nil {
			return Diversion{}, fmt.Errorf("restoring target after %v: %w", err, undoErr)
		}
		return Diversion{}, err
	}
	if track {
		c.pending[vehID] = &Entry{Destination: dest, Station: station}
	}
	return Diversion{VehicleID: vehID, Station: station, Destination: dest}, nil
}

// MarkCharged sets the completion flag of a vehicle observed at station.
// It reports whether the flag changed.
func (c *Controller) MarkCharged(vehID, station string) bool {
	e, ok := c.pending[vehID]
	if !ok || e.Station != station || e.Charged {
		return false
	}
	e.Charged = true
	return true
}

// Return is a vehicle sent back to its original destination.
type Return struct {
	VehicleID   string
	Destination string
}

// ProcessReturns reroutes every charged vehicle that has left its station
// and deletes its entry. Entries of vehicles no longer present are
// dropped.
func (c *Controller) ProcessReturns(present func(string) bool) ([]Return, error) {
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []Return
	for _, id := range ids {
		e := c.pending[id]
		if !present(id) {
			c.logger.Debug("Dropping pending return of departed vehicle", "vehicle", id)
			delete(c.pending, id)
			continue
		}
		if !e.Charged {
			continue
		}
		occupants, err := c.ix.Occupants(engine.ChargingStation, e.Station)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			return out, err
		}
		if slices.Contains(occupants, id) {
			continue
		}
		if err := c.eng.ChangeTarget(id, e.Destination); err != nil {
			if engine.IsTransient(err) {
				c.logger.Debug("Return reroute deferred", "vehicle", id, "error", err)
				continue
			}
			return out, err
		}
		delete(c.pending, id)
		out = append(out, Return{VehicleID: id, Destination: e.Destination})
	}
	return out, nil
}
