package v1

import (
	"cmp"
	"slices"
	"time"

	"github.com/fleetsim/fleetctl/internal/util"
	"github.com/fleetsim/fleetctl/pkg/core"
)

// RunData contains all the data needed to build an export
type RunData struct {
	Run            *core.Run
	Summary        *core.RunSummary
	Vehicles       map[string]*VehicleRecord
	FacilityEvents []core.FacilityEvent
}

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Vehicle   core.Vehicle
	Telemetry []core.TelemetryRow
	Events    []core.LifecycleEvent
}

// Build creates an Export from the run data. Vehicles are ordered by spawn
// tick, then id.
func Build(data *RunData) Export {
	export := Export{
		Version:        FormatVersion,
		Vehicles:       make([]Vehicle, 0, len(data.Vehicles)),
		FacilityEvents: make([][]any, 0, len(data.FacilityEvents)),
	}

	if run := data.Run; run != nil {
		export.RunName = run.Name
		export.Seed = run.Seed
		export.FleetSize = run.FleetSize
		export.Horizon = run.Horizon
		export.StepLength = run.StepLength
		export.Engine = run.Engine
		export.StartTime = run.StartTime.UTC().Format(time.RFC3339)
	}
	if s := data.Summary; s != nil {
		if !s.EndTime.IsZero() {
			export.EndTime = s.EndTime.UTC().Format(time.RFC3339)
		}
		export.Summary = Summary{
			FinalTick:   s.FinalTick,
			Spawned:     s.Spawned,
			Skipped:     s.Skipped,
			Diverted:    s.Diverted,
			Returned:    s.Returned,
			Telemetry:   s.TelemetryN,
			StopReason:  s.StopReason,
			FatalReason: s.FatalReason,
		}
	}

	records := make([]*VehicleRecord, 0, len(data.Vehicles))
	for _, r := range data.Vehicles {
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *VehicleRecord) int {
		return cmp.Or(cmp.Compare(a.Vehicle.SpawnTick, b.Vehicle.SpawnTick), cmp.Compare(a.Vehicle.ID, b.Vehicle.ID))
	})

	for _, record := range records {
		v := Vehicle{
			ID:        record.Vehicle.ID,
			Class:     record.Vehicle.Class,
			SpawnTick: record.Vehicle.SpawnTick,
			Samples:   make([][]any, 0, len(record.Telemetry)),
			Events:    make([][]any, 0, len(record.Events)),
		}
		for _, row := range record.Telemetry {
			var pos any
			if row.Position != nil {
				pos = []float64{row.Position.Lon, row.Position.Lat}
			}
			v.Samples = append(v.Samples, []any{
				row.Time,
				util.Round1(row.SpeedKmh),
				row.Road,
				util.Round1(row.Distance),
				row.Destination,
				util.Round1(row.DistanceRemaining),
				util.Round1(row.SoC),
				row.Consumption,
				row.ColorBucket,
				pos,
			})
		}
		for _, e := range record.Events {
			v.Events = append(v.Events, []any{e.Time, string(e.Kind), e.Detail})
		}
		export.Vehicles = append(export.Vehicles, v)
	}

	for _, e := range data.FacilityEvents {
		export.FacilityEvents = append(export.FacilityEvents, []any{e.Time, string(e.Kind), e.FacilityID, e.VehicleID})
	}
	return export
}
