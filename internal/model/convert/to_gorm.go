// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"time"

	"github.com/fleetsim/fleetctl/internal/model"
	"github.com/fleetsim/fleetctl/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// positionToPoint converts a geographic position to a lon/lat geom.Point
func positionToPoint(p core.Position) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.Lon, Y: p.Lat}})
}

// configToJSON wraps a JSON snapshot for DB storage.
func configToJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

// CoreToRun converts a core.Run to a GORM model.Run.
// core.Run.ID maps to the gorm.Model ID.
func CoreToRun(r core.Run) model.Run {
	out := model.Run{
		Name:       r.Name,
		Seed:       r.Seed,
		FleetSize:  r.FleetSize,
		Horizon:    r.Horizon,
		StepLength: r.StepLength,
		Engine:     r.Engine,
		StartTime:  r.StartTime,
		Config:     configToJSON(r.Config),
	}
	out.ID = r.ID
	if !r.EndTime.IsZero() {
		end := r.EndTime
		out.EndTime = &end
	}
	return out
}

// SummaryUpdates returns the column updates that close a run.
func SummaryUpdates(s core.RunSummary) map[string]any {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return map[string]any{
		"end_time":       end,
		"final_tick":     s.FinalTick,
		"spawned":        s.Spawned,
		"skipped":        s.Skipped,
		"diverted":       s.Diverted,
		"returned":       s.Returned,
		"telemetry_rows": s.TelemetryN,
		"stop_reason":    s.StopReason,
		"fatal_reason":   s.FatalReason,
	}
}

// CoreToVehicle converts a core.Vehicle to a GORM model.Vehicle.
func CoreToVehicle(v core.Vehicle) model.Vehicle {
	return model.Vehicle{
		VehicleID: v.ID,
		Class:     v.Class,
		SpawnTick: v.SpawnTick,
	}
}

// CoreToTelemetryRow converts a core.TelemetryRow to a GORM model.TelemetryRow.
func CoreToTelemetryRow(r core.TelemetryRow) model.TelemetryRow {
	out := model.TelemetryRow{
		VehicleID:         r.VehicleID,
		Time:              r.Time,
		SpeedKmh:          r.SpeedKmh,
		Road:              r.Road,
		Distance:          r.Distance,
		Destination:       r.Destination,
		DistanceRemaining: r.DistanceRemaining,
		Class:             r.Class,
		SoC:               r.SoC,
		Consumption:       r.Consumption,
		Capacity:          r.Capacity,
		ChargeLevel:       r.ChargeLevel,
		ColorBucket:       r.ColorBucket,
	}
	if r.Position != nil {
		out.HasPosition = true
		out.Position = positionToPoint(*r.Position)
		out.X = r.Position.X
		out.Y = r.Position.Y
	}
	return out
}

// CoreToFacilityEvent converts a core.FacilityEvent to a GORM model.FacilityEvent.
func CoreToFacilityEvent(e core.FacilityEvent) model.FacilityEvent {
	return model.FacilityEvent{
		Time:       e.Time,
		FacilityID: e.FacilityID,
		Kind:       string(e.Kind),
		VehicleID:  e.VehicleID,
	}
}

// CoreToLifecycleEvent converts a core.LifecycleEvent to a GORM model.LifecycleEvent.
func CoreToLifecycleEvent(e core.LifecycleEvent) model.LifecycleEvent {
	return model.LifecycleEvent{
		Time:      e.Time,
		VehicleID: e.VehicleID,
		Kind:      string(e.Kind),
		Detail:    e.Detail,
	}
}
