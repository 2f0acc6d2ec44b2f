// Package telemetry samples per-vehicle state once per tick and scans
// facility occupancy.
package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fleetsim/fleetctl/internal/battery"
	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/util"
	"github.com/fleetsim/fleetctl/pkg/core"
)

// Sink receives the recorded rows and events.
type Sink interface {
	RecordTelemetry(row core.TelemetryRow) error
	RecordFacilityEvent(ev core.FacilityEvent) error
}

// Projector converts engine coordinates to a geographic position.
type Projector interface {
	Project(x, y float64) (core.Position, error)
}

// Recorder samples tracked vehicles. It is not safe for concurrent use.
type Recorder struct {
	eng    engine.Engine
	ramp   *Ramp
	sink   Sink
	logger *slog.Logger

	colorize  bool
	projector Projector

	tracked      map[string]struct{}
	lastDistance map[string]float64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithoutColors leaves vehicle colors alone, e.g. when stop markers own them.
func WithoutColors() Option {
	return func(r *Recorder) { r.colorize = false }
}

// WithProjector attaches geographic positions to rows.
func WithProjector(p Projector) Option {
	return func(r *Recorder) { r.projector = p }
}

// NewRecorder returns a recorder that writes rows to sink, colorizing vehicles unless WithoutColors is given.
func NewRecorder(eng engine.Engine, ramp *Ramp, sink Sink, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		eng:          eng,
		ramp:         ramp,
		sink:         sink,
		logger:       logger,
		colorize:     true,
		tracked:      make(map[string]struct{}),
		lastDistance: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track starts recording a vehicle.
func (r *Recorder) Track(vehID string) {
	r.tracked[vehID] = struct{}{}
}

// Untrack stops recording a vehicle.
func (r *Recorder) Untrack(vehID string) {
	delete(r.tracked, vehID)
	delete(r.lastDistance, vehID)
}

// Tracked returns the tracked ids in sorted order.
func (r *Recorder) Tracked() []string {
	ids := make([]string, 0, len(r.tracked))
	for id := range r.tracked {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sample records one row per tracked vehicle that is present and not on
// a junction-internal edge. It returns the number of rows written.
func (r *Recorder) Sample(now float64, present func(string) bool) (int, error) {
	n := 0
	for _, id := range r.Tracked() {
		if !present(id) {
			continue
		}
		row, ok, err := r.row(id, now)
		if err != nil {
			if engine.IsTransient(err) {
				r.logger.Debug("Telemetry sample skipped", "vehicle", id, "error", err)
				continue
			}
			return n, err
		}
		if !ok {
			continue
		}
		if err := r.sink.RecordTelemetry(row); err != nil {
			return n, fmt.Errorf("recording telemetry of %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

func (r *Recorder) row(id string, now float64) (core.TelemetryRow, bool, error) {
	road, err := r.eng.RoadID(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	if road == "" || util.IsInternalEdge(road) {
		return core.TelemetryRow{}, false, nil
	}

	speed, err := r.eng.Speed(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	distance, err := r.eng.Distance(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	if last, ok := r.lastDistance[id]; ok && distance < last {
		distance = last
	}
	r.lastDistance[id] = distance

	route, err := r.eng.Route(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	dest := util.Last(route)
	destLen, err := r.eng.LaneLength(util.LaneOfEdge(dest, 0))
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	remaining, err := r.eng.DrivingDistance(id, dest, destLen)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	consumption, err := r.eng.ElectricityConsumption(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}
	class, err := r.eng.TypeID(id)
	if err != nil {
		return core.TelemetryRow{}, false, err
	}

	row := core.TelemetryRow{
		VehicleID:         id,
		SpeedKmh:          speed * 3.6,
		Road:              road,
		Distance:          distance,
		Destination:       dest,
		DistanceRemaining: remaining,
		Class:             class,
		Time:              now,
		Consumption:       consumption,
		ColorBucket:       -1,
	}

	reading, err := battery.ReadSoC(r.eng, id)
	switch {
	case err == nil:
		row.SoC = reading.SoC
		row.Capacity = reading.Capacity
		row.ChargeLevel = reading.Level
		row.ColorBucket = r.ramp.Bucket(reading.SoC)
		if r.colorize {
			if err := r.eng.SetColor(id, r.ramp.Color(reading.SoC)); err != nil && !engine.IsTransient(err) {
				return core.TelemetryRow{}, false, err
			}
		}
	case errors.Is(err, battery.ErrNoBattery) || engine.IsTransient(err):
		r.logger.Debug("No battery reading", "vehicle", id, "error", err)
	default:
		return core.TelemetryRow{}, false, err
	}

	if r.projector != nil {
		x, y, err := r.eng.Position(id)
		switch {
		case err == nil:
			if pos, err := r.projector.Project(x, y); err == nil {
				row.Position = &pos
			}
		case !engine.IsTransient(err):
			return core.TelemetryRow{}, false, err
		}
	}

	return row, true, nil
}

// Observation is a vehicle seen at a facility during the occupancy scan.
type Observation struct {
	Kind       engine.FacilityKind
	FacilityID string
	VehicleID  string
}

var kindNames = map[engine.FacilityKind]core.FacilityKind{
	engine.ParkingArea:     core.FacilityParkingArea,
	engine.BusStop:         core.FacilityBusStop,
	engine.ChargingStation: core.FacilityChargingStation,
}

// ScanOccupancy lists the occupants of every charging station and parking
// area, records each observation as a facility event and returns them.
func (r *Recorder) ScanOccupancy(now float64) ([]Observation, error) {
	var out []Observation
	for _, kind := range []engine.FacilityKind{engine.ChargingStation, engine.ParkingArea} {
		ids, err := r.eng.Facilities(kind)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			return out, err
		}
		for _, fid := range ids {
			occupants, err := r.eng.FacilityOccupants(kind, fid)
			if err != nil {
				if engine.IsTransient(err) {
					continue
				}
				return out, err
			}
			for _, vid := range occupants {
				obs := Observation{Kind: kind, FacilityID: fid, VehicleID: vid}
				out = append(out, obs)
				ev := core.FacilityEvent{Time: now, FacilityID: fid, Kind: kindNames[kind], VehicleID: vid}
				if err := r.sink.RecordFacilityEvent(ev); err != nil {
					return out, fmt.Errorf("recording facility event: %w", err)
				}
			}
		}
	}
	return out, nil
}
