package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Empty(t *testing.T) {
	export := Build(&RunData{})
	assert.Equal(t, FormatVersion, export.Version)
	assert.NotNil(t, export.Vehicles)
	assert.NotNil(t, export.FacilityEvents)
	assert.Empty(t, export.EndTime)

	b, err := json.Marshal(export)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"vehicles":[]`)
}

func TestBuild_RunAndSummary(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	export := Build(&RunData{
		Run: &core.Run{Name: "baseline", Seed: 42, FleetSize: 3, Horizon: 100, StepLength: 1, Engine: "SUMO 1.20", StartTime: start},
		Summary: &core.RunSummary{
			EndTime: start.Add(time.Minute), FinalTick: 100, Spawned: 3, Diverted: 1, Returned: 1,
			TelemetryN: 250, StopReason: "horizon",
		},
	})

	assert.Equal(t, "baseline", export.RunName)
	assert.Equal(t, int64(42), export.Seed)
	assert.Equal(t, "2024-03-01T12:00:00Z", export.StartTime)
	assert.Equal(t, "2024-03-01T12:01:00Z", export.EndTime)
	assert.Equal(t, Summary{FinalTick: 100, Spawned: 3, Diverted: 1, Returned: 1, Telemetry: 250, StopReason: "horizon"}, export.Summary)
}

func TestBuild_VehiclesOrderedBySpawnTick(t *testing.T) {
	export := Build(&RunData{Vehicles: map[string]*VehicleRecord{
		"veh_0": {Vehicle: core.Vehicle{ID: "veh_0", SpawnTick: 50}},
		"veh_1": {Vehicle: core.Vehicle{ID: "veh_1", SpawnTick: 3}},
		"veh_2": {Vehicle: core.Vehicle{ID: "veh_2", SpawnTick: 3}},
	}})

	ids := make([]string, len(export.Vehicles))
	for i, v := range export.Vehicles {
		ids[i] = v.ID
	}
	assert.Equal(t, []string{"veh_1", "veh_2", "veh_0"}, ids)
}

func TestBuild_SamplesAndEvents(t *testing.T) {
	export := Build(&RunData{
		Vehicles: map[string]*VehicleRecord{
			"veh_0": {
				Vehicle: core.Vehicle{ID: "veh_0", Class: "evehicle", SpawnTick: 1},
				Telemetry: []core.TelemetryRow{
					{Time: 2, SpeedKmh: 36.04, Road: "E1", Distance: 10, Destination: "E3", DistanceRemaining: 99.96, SoC: 80, Consumption: 1.5, ColorBucket: 5},
					{Time: 3, Position: &core.Position{Lon: 13.4, Lat: 52.5}},
				},
				Events: []core.LifecycleEvent{{Time: 1, Kind: core.LifecycleSpawned, Detail: "route=r"}},
			},
		},
		FacilityEvents: []core.FacilityEvent{{Time: 9, Kind: core.FacilityChargingStation, FacilityID: "cs_0", VehicleID: "veh_0"}},
	})

	require.Len(t, export.Vehicles, 1)
	v := export.Vehicles[0]
	require.Len(t, v.Samples, 2)
	assert.Equal(t, []any{2.0, 36.0, "E1", 10.0, "E3", 100.0, 80.0, 1.5, 5, nil}, v.Samples[0])
	assert.Equal(t, []float64{13.4, 52.5}, v.Samples[1][9])
	assert.Equal(t, [][]any{{1.0, "spawned", "route=r"}}, v.Events)
	assert.Equal(t, [][]any{{9.0, "charging_station", "cs_0", "veh_0"}}, export.FacilityEvents)
}
