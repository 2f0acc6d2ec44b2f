package battery

import (
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/engine/enginetest"
	"github.com/fleetsim/fleetctl/internal/facility"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func present(f *enginetest.Fake) func(string) bool {
	return func(id string) bool {
		_, ok := f.Vehicles[id]
		return ok
	}
}

// setup builds a fake with one vehicle at the given charge level out of a
// 1000 Wh battery and one charging station on edge CS.
func setup(t *testing.T, level float64, stations bool) (*enginetest.Fake, *Controller) {
	t.Helper()
	f := enginetest.New()
	f.AddEdge("E1", enginetest.Lane{Length: 100})
	f.AddEdge("E2", enginetest.Lane{Length: 100})
	f.AddEdge("CS", enginetest.Lane{Length: 50})
	if stations {
		f.AddFacility(engine.ChargingStation, "cs_1", "CS_0")
	}
	f.PlaceVehicle(&enginetest.Vehicle{
		ID:    "veh_0",
		Route: []string{"E1", "E2"},
		Road:  "E1",
		Params: map[string]string{
			engine.ParamBatteryCapacity:    "1000",
			engine.ParamBatteryChargeLevel: strconv.FormatFloat(level, 'f', -1, 64),
		},
	})
	c := NewController(f, facility.NewIndex(f), Config{Threshold: 25, ChargeDuration: 100}, rand.New(rand.NewPCG(9, 9)), discard())
	return f, c
}

func TestReadSoC(t *testing.T) {
	f, _ := setup(t, 400, true)

	r, err := ReadSoC(f, "veh_0")
	require.NoError(t, err)
	assert.Equal(t, Reading{Capacity: 1000, Level: 400, SoC: 40}, r)
}

func TestReadSoC_NoBattery(t *testing.T) {
	f, _ := setup(t, 400, true)
	f.Vehicles["veh_0"].Params[engine.ParamBatteryCapacity] = ""

	_, err := ReadSoC(f, "veh_0")
	assert.ErrorIs(t, err, ErrNoBattery)

	f.Vehicles["veh_0"].Params[engine.ParamBatteryCapacity] = "0"
	_, err = ReadSoC(f, "veh_0")
	assert.ErrorIs(t, err, ErrNoBattery)
}

func TestEvaluate_NewLevelWithinCurrent(t *testing.T) {
	f, c := setup(t, 800, true)

	s, err := c.Evaluate("veh_0", 0, false)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, s.Reading.Level, 0.0)
	assert.LessOrEqual(t, s.Reading.Level, 800.0)
	written, err := strconv.ParseFloat(f.Vehicles["veh_0"].Params[engine.ParamBatteryChargeLevel], 64)
	require.NoError(t, err)
	assert.Equal(t, s.Reading.Level, written)
	assert.InDelta(t, 100*written/1000, s.Reading.SoC, 1e-9)
}

func TestSampleTick_LowChargeDiverts(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_0")

	samples, err := c.SampleTick(5, present(f))
	require.NoError(t, err)
	require.Len(t, samples, 1)

	s := samples[0]
	assert.True(t, s.Low)
	require.NotNil(t, s.Diversion)
	assert.Equal(t, Diversion{VehicleID: "veh_0", Station: "cs_1", Destination: "E2", SoC: s.Reading.SoC}, *s.Diversion)

	v := f.Vehicles["veh_0"]
	assert.Equal(t, "CS", v.Target)
	assert.Equal(t, []engine.Stop{{Kind: engine.ChargingStation, ID: "cs_1", Duration: 100, Park: true}}, v.Stops)

	e, ok := c.Pending("veh_0")
	require.True(t, ok)
	assert.Equal(t, Entry{Destination: "E2", Station: "cs_1", Charged: false}, e)
	assert.False(t, c.NeedsSampling("veh_0"))
}

func TestSampleTick_OneShot(t *testing.T) {
	f, c := setup(t, 1000, true)
	c.threshold = 0
	c.Track("veh_0")

	first, err := c.SampleTick(1, present(f))
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := c.SampleTick(2, present(f))
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, f.CallsTo("set-parameter"), 1)
}

func TestSampleTick_Periodic(t *testing.T) {
	f, c := setup(t, 1000, true)
	c.threshold = 0
	c.interval = 10
	c.Track("veh_0")

	for tick := 0; tick <= 20; tick++ {
		_, err := c.SampleTick(tick, present(f))
		require.NoError(t, err)
	}
	// ticks 0, 10 and 20
	assert.Len(t, f.CallsTo("set-parameter"), 3)
}

func TestSampleTick_AbsentVehicleWaits(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_9")

	samples, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.True(t, c.NeedsSampling("veh_9"))
}

func TestSampleTick_TransientErrorRetriesNextTick(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_0")
	f.Faults["parameter"] = errors.New("device not ready")

	samples, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.True(t, c.NeedsSampling("veh_0"))

	delete(f.Faults, "parameter")
	samples, err = c.SampleTick(1, present(f))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestSampleTick_NoChargingStations(t *testing.T) {
	f, c := setup(t, 10, false)
	c.Track("veh_0")

	samples, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Low, "low charge is still computed")
	assert.Nil(t, samples[0].Diversion)
	assert.Zero(t, c.PendingCount())
	assert.Empty(t, f.CallsTo("change-target"))
	assert.False(t, c.NeedsSampling("veh_0"))
}

func TestSampleTick_FailedStopLeavesNoEntry(t *testing.T) {
	f, c := setup(t, 10, true)
	f.Faults["set-stop"] = errors.New("too close to brake")
	c.Track("veh_0")

	samples, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Zero(t, c.PendingCount())
	assert.True(t, c.NeedsSampling("veh_0"), "diversion is retried next tick")
	assert.Equal(t, "E2", f.Vehicles["veh_0"].Target, "target restored to the original destination")

	calls := f.CallsTo("change-target")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"veh_0", "CS"}, calls[0].Args)
	assert.Equal(t, []string{"veh_0", "E2"}, calls[1].Args)

	level := f.Vehicles["veh_0"].Params[engine.ParamBatteryChargeLevel]

	delete(f.Faults, "set-stop")
	samples, err = c.SampleTick(1, present(f))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.NotNil(t, samples[0].Diversion)
	assert.Equal(t, "cs_1", samples[0].Diversion.Station)
	assert.Equal(t, 1, c.PendingCount())
	assert.False(t, c.NeedsSampling("veh_0"))
	assert.Equal(t, "CS", f.Vehicles["veh_0"].Target)
	assert.Equal(t, level, f.Vehicles["veh_0"].Params[engine.ParamBatteryChargeLevel], "no second draw on the retry")
}

func TestEvaluate_UntrackedDiversionHasNoEntry(t *testing.T) {
	_, c := setup(t, 10, true)

	s, err := c.Evaluate("veh_0", 20, false)
	require.NoError(t, err)
	require.NotNil(t, s.Diversion)
	assert.Zero(t, c.PendingCount())
}

func TestReturnTrip(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_0")
	_, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	station := f.FacilityMap[engine.ChargingStation]["cs_1"]

	// Not yet observed at the station: nothing happens.
	returns, err := c.ProcessReturns(present(f))
	require.NoError(t, err)
	assert.Empty(t, returns)

	// Observed while charging.
	station.Occupants = []string{"veh_0"}
	assert.False(t, c.MarkCharged("veh_0", "cs_other"))
	assert.True(t, c.MarkCharged("veh_0", "cs_1"))
	assert.False(t, c.MarkCharged("veh_0", "cs_1"), "flag only flips once")
	e, _ := c.Pending("veh_0")
	assert.True(t, e.Charged)

	returns, err = c.ProcessReturns(present(f))
	require.NoError(t, err)
	assert.Empty(t, returns, "still at the station")

	// Left the station.
	station.Occupants = nil
	returns, err = c.ProcessReturns(present(f))
	require.NoError(t, err)
	assert.Equal(t, []Return{{VehicleID: "veh_0", Destination: "E2"}}, returns)
	assert.Zero(t, c.PendingCount())

	returns, err = c.ProcessReturns(present(f))
	require.NoError(t, err)
	assert.Empty(t, returns)

	targets := f.CallsTo("change-target")
	require.Len(t, targets, 2)
	assert.Equal(t, []string{"veh_0", "E2"}, targets[1].Args)
}

func TestProcessReturns_DropsDepartedVehicles(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_0")
	_, err := c.SampleTick(0, present(f))
	require.NoError(t, err)
	require.Equal(t, 1, c.PendingCount())

	f.Remove("veh_0")
	returns, err := c.ProcessReturns(present(f))
	require.NoError(t, err)
	assert.Empty(t, returns)
	assert.Zero(t, c.PendingCount())
}

func TestForget(t *testing.T) {
	f, c := setup(t, 10, true)
	c.Track("veh_0")
	_, err := c.SampleTick(0, present(f))
	require.NoError(t, err)

	c.Forget("veh_0")
	_, ok := c.Pending("veh_0")
	assert.False(t, ok)
	assert.False(t, c.NeedsSampling("veh_0"))
}
