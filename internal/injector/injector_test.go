package injector

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetctl/internal/battery"
	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/engine/enginetest"
	"github.com/fleetsim/fleetctl/internal/facility"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultConfig() config.InjectorConfig {
	return config.InjectorConfig{
		Enabled:             true,
		SampleFraction:      0.75,
		ParkingDuration:     120,
		DemandMode:          config.DemandKeyTick,
		DemandEmissionClass: "Energy/default",
		DemandThreshold:     20,
	}
}

func newFake(vehicles ...string) *enginetest.Fake {
	f := enginetest.New()
	for _, e := range []string{"E1", "E2", "E3"} {
		f.AddEdge(e, enginetest.Lane{Length: 100})
	}
	for _, id := range vehicles {
		f.PlaceVehicle(&enginetest.Vehicle{ID: id, Class: "passenger", Route: []string{"E1", "E2"}, Road: "E1"})
	}
	return f
}

func newInjector(f *enginetest.Fake, cfg config.InjectorConfig, managed ...string) *Injector {
	rng := rand.New(rand.NewPCG(5, 5))
	ix := facility.NewIndex(f)
	bat := battery.NewController(f, ix, battery.Config{Threshold: 25, ChargeDuration: 100}, rng, discard())
	isManaged := func(id string) bool {
		for _, m := range managed {
			if m == id {
				return true
			}
		}
		return false
	}
	return New(f, ix, bat, cfg, false, 0, isManaged, rng, discard())
}

func presence(f *enginetest.Fake) ([]string, func(string) bool) {
	ids, _ := f.VehicleIDs()
	return ids, func(id string) bool {
		_, ok := f.Vehicles[id]
		return ok
	}
}

func TestTick_ParksShareOfPresentVehiclesOnce(t *testing.T) {
	f := newFake("a", "b", "c", "d")
	f.AddFacility(engine.ParkingArea, "pa_1", "E2_0")
	in := newInjector(f, defaultConfig())
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Len(t, res.Parked, 3)

	stops := f.CallsTo("set-stop")
	require.Len(t, stops, 3)
	for _, c := range stops {
		assert.Equal(t, []string{"parking_area", "pa_1", "120"}, c.Args[1:])
	}

	res, err = in.Tick(1, present, isPresent)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Empty(t, res.Parked)
	assert.Len(t, f.CallsTo("set-stop"), 3)
}

func TestTick_NothingBeforeKeyTick(t *testing.T) {
	f := newFake("a", "b")
	f.AddFacility(engine.ParkingArea, "pa_1", "E2_0")
	in := newInjector(f, defaultConfig())
	in.keyTick = 50
	present, isPresent := presence(f)

	res, err := in.Tick(49.5, present, isPresent)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.False(t, in.Fired())

	res, err = in.Tick(50, present, isPresent)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Len(t, res.Parked, 1)
}

func TestTick_OffRouteAreaIsNotUsed(t *testing.T) {
	f := newFake("a", "b", "c", "d")
	f.AddFacility(engine.ParkingArea, "pa_far", "E3_0")
	in := newInjector(f, defaultConfig())
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Empty(t, res.Parked)
	assert.Empty(t, f.CallsTo("set-stop"))
}

func TestTick_NoParkingAreas(t *testing.T) {
	f := newFake("a", "b")
	in := newInjector(f, defaultConfig())
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Empty(t, res.Parked)
}

func TestTick_Disabled(t *testing.T) {
	f := newFake("a", "b")
	f.AddFacility(engine.ParkingArea, "pa_1", "E2_0")
	cfg := defaultConfig()
	cfg.Enabled = false
	in := newInjector(f, cfg)
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	assert.False(t, res.Fired)
	assert.Empty(t, f.Calls)
}

func placeElectric(f *enginetest.Fake, id, emission string) {
	f.PlaceVehicle(&enginetest.Vehicle{
		ID:            id,
		Class:         "evehicle",
		Route:         []string{"E1", "E2"},
		Road:          "E1",
		EmissionClass: emission,
		Params: map[string]string{
			engine.ParamBatteryCapacity:    "1000",
			engine.ParamBatteryChargeLevel: "100",
		},
	})
	f.Loaded = append(f.Loaded, id)
}

func TestTick_DemandChargingDivertsUnmanagedVehicles(t *testing.T) {
	f := newFake()
	f.AddFacility(engine.ChargingStation, "cs_1", "E3_0")
	placeElectric(f, "flow_0", "Energy/default")
	placeElectric(f, "flow_1", "HBEFA3/PC_G_EU4")
	placeElectric(f, "veh_0", "Energy/default")

	cfg := defaultConfig()
	cfg.SampleFraction = 0
	in := newInjector(f, cfg, "veh_0")
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	require.Len(t, res.Demand, 1)
	s := res.Demand[0]
	assert.Equal(t, "flow_0", s.VehicleID)
	assert.True(t, s.Low)
	require.NotNil(t, s.Diversion)
	assert.Equal(t, "cs_1", s.Diversion.Station)

	assert.Equal(t, "E3", f.Vehicles["flow_0"].Target)
	assert.Empty(t, f.Vehicles["flow_1"].Target)
	assert.Empty(t, f.Vehicles["veh_0"].Target)
	assert.Zero(t, in.bat.PendingCount(), "demand diversions leave no pending return")
}

func TestTick_DemandEveryTickSamplesLateArrivalsOnce(t *testing.T) {
	f := newFake()
	f.AddFacility(engine.ChargingStation, "cs_1", "E3_0")
	cfg := defaultConfig()
	cfg.SampleFraction = 0
	cfg.DemandMode = config.DemandEveryTick
	in := newInjector(f, cfg)

	present, isPresent := presence(f)
	_, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)

	placeElectric(f, "flow_7", "Energy/default")
	present, isPresent = presence(f)
	res, err := in.Tick(1, present, isPresent)
	require.NoError(t, err)
	require.Len(t, res.Demand, 1)

	res, err = in.Tick(2, present, isPresent)
	require.NoError(t, err)
	assert.Empty(t, res.Demand)

	writes := 0
	for _, c := range f.CallsTo("set-parameter") {
		if c.Args[0] == "flow_7" && strings.HasSuffix(c.Args[1], "chargeLevel") {
			writes++
		}
	}
	assert.Equal(t, 1, writes)
}

func TestTick_DemandOffIgnoresLoadedVehicles(t *testing.T) {
	f := newFake()
	f.AddFacility(engine.ChargingStation, "cs_1", "E3_0")
	placeElectric(f, "flow_0", "Energy/default")
	cfg := defaultConfig()
	cfg.DemandMode = config.DemandOff
	cfg.SampleFraction = 0
	in := newInjector(f, cfg)
	present, isPresent := presence(f)

	res, err := in.Tick(0, present, isPresent)
	require.NoError(t, err)
	assert.True(t, res.Fired)
	assert.Empty(t, res.Demand)
	assert.Empty(t, f.CallsTo("set-parameter"))
}
