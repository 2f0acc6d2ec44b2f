package convert

import (
	"github.com/fleetsim/fleetctl/internal/model"
	"github.com/fleetsim/fleetctl/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// pointToLonLat converts a lon/lat geom.Point back to coordinates
func pointToLonLat(p geom.Point) (lon, lat float64, ok bool) {
	coord, ok := p.Coordinates()
	if !ok {
		return 0, 0, false
	}
	return coord.XY.X, coord.XY.Y, true
}

// RunToCore converts a GORM Run to a core.Run.
func RunToCore(r model.Run) core.Run {
	out := core.Run{
		ID:         r.ID,
		Name:       r.Name,
		Seed:       r.Seed,
		FleetSize:  r.FleetSize,
		Horizon:    r.Horizon,
		StepLength: r.StepLength,
		Engine:     r.Engine,
		StartTime:  r.StartTime,
		Config:     []byte(r.Config),
	}
	if r.EndTime != nil {
		out.EndTime = *r.EndTime
	}
	return out
}

// VehicleToCore converts a GORM Vehicle to a core.Vehicle.
func VehicleToCore(v model.Vehicle) core.Vehicle {
	return core.Vehicle{
		ID:        v.VehicleID,
		Class:     v.Class,
		SpawnTick: v.SpawnTick,
	}
}

// TelemetryRowToCore converts a GORM TelemetryRow to a core.TelemetryRow.
func TelemetryRowToCore(r model.TelemetryRow) core.TelemetryRow {
	out := core.TelemetryRow{
		VehicleID:         r.VehicleID,
		SpeedKmh:          r.SpeedKmh,
		Road:              r.Road,
		Distance:          r.Distance,
		Destination:       r.Destination,
		DistanceRemaining: r.DistanceRemaining,
		Class:             r.Class,
		SoC:               r.SoC,
		Time:              r.Time,
		Consumption:       r.Consumption,
		Capacity:          r.Capacity,
		ChargeLevel:       r.ChargeLevel,
		ColorBucket:       r.ColorBucket,
	}
	if r.HasPosition {
		if lon, lat, ok := pointToLonLat(r.Position); ok {
			out.Position = &core.Position{Lon: lon, Lat: lat, X: r.X, Y: r.Y}
		}
	}
	return out
}

// FacilityEventToCore converts a GORM FacilityEvent to a core.FacilityEvent.
func FacilityEventToCore(e model.FacilityEvent) core.FacilityEvent {
	return core.FacilityEvent{
		Time:       e.Time,
		FacilityID: e.FacilityID,
		Kind:       core.FacilityKind(e.Kind),
		VehicleID:  e.VehicleID,
	}
}

// LifecycleEventToCore converts a GORM LifecycleEvent to a core.LifecycleEvent.
func LifecycleEventToCore(e model.LifecycleEvent) core.LifecycleEvent {
	return core.LifecycleEvent{
		Time:      e.Time,
		VehicleID: e.VehicleID,
		Kind:      core.LifecycleKind(e.Kind),
		Detail:    e.Detail,
	}
}
