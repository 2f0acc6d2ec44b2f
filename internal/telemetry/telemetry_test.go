package telemetry

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/engine/enginetest"
	"github.com/fleetsim/fleetctl/pkg/core"
)

var (
	defaultThresholds = []float64{14, 28, 42, 56, 70, 85}
	defaultColors     = []string{"#FF0000", "#FF4500", "#FFA500", "#FFFF00", "#ADFF2F", "#7FFF00", "#00FF00"}
)

type memSink struct {
	rows   []core.TelemetryRow
	events []core.FacilityEvent
	err    error
}

func (s *memSink) RecordTelemetry(row core.TelemetryRow) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) RecordFacilityEvent(ev core.FacilityEvent) error {
	s.events = append(s.events, ev)
	return nil
}

type fixedProjector struct{}

func (fixedProjector) Project(x, y float64) (core.Position, error) {
	return core.Position{Lon: x / 100, Lat: y / 100}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRamp(t *testing.T) *Ramp {
	t.Helper()
	r, err := NewRamp(defaultThresholds, defaultColors)
	require.NoError(t, err)
	return r
}

func present(f *enginetest.Fake) func(string) bool {
	return func(id string) bool {
		_, ok := f.Vehicles[id]
		return ok
	}
}

func newFake() *enginetest.Fake {
	f := enginetest.New()
	f.AddEdge("E1", enginetest.Lane{Length: 100})
	f.AddEdge("E2", enginetest.Lane{Length: 200})
	f.AddEdge("E3", enginetest.Lane{Length: 50})
	f.PlaceVehicle(&enginetest.Vehicle{
		ID:          "veh_0",
		Class:       "evehicle",
		Route:       []string{"E1", "E2", "E3"},
		Road:        "E1",
		Speed:       10,
		Distance:    42,
		Consumption: 1.5,
		X:           150,
		Y:           250,
		Params: map[string]string{
			engine.ParamBatteryCapacity:    "2000",
			engine.ParamBatteryChargeLevel: "500",
		},
	})
	return f
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ADFF2F")
	require.NoError(t, err)
	assert.Equal(t, engine.Color{R: 173, G: 255, B: 47, A: 255}, c)

	_, err = ParseColor("#FFF")
	assert.Error(t, err)
	_, err = ParseColor("#GGGGGG")
	assert.Error(t, err)
}

func TestRamp_Buckets(t *testing.T) {
	r := newRamp(t)

	tests := []struct {
		soc  float64
		want engine.Color
	}{
		{0, engine.Color{R: 255, G: 0, B: 0, A: 255}},
		{14, engine.Color{R: 255, G: 0, B: 0, A: 255}},
		{14.1, engine.Color{R: 255, G: 69, B: 0, A: 255}},
		{28, engine.Color{R: 255, G: 69, B: 0, A: 255}},
		{42, engine.Color{R: 255, G: 165, B: 0, A: 255}},
		{56, engine.Color{R: 255, G: 255, B: 0, A: 255}},
		{70, engine.Color{R: 173, G: 255, B: 47, A: 255}},
		{85, engine.Color{R: 127, G: 255, B: 0, A: 255}},
		{85.1, engine.Color{R: 0, G: 255, B: 0, A: 255}},
		{100, engine.Color{R: 0, G: 255, B: 0, A: 255}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Color(tt.soc), "soc %v", tt.soc)
	}
	assert.Equal(t, 6, r.Bucket(99))
}

func TestNewRamp_CountMismatch(t *testing.T) {
	_, err := NewRamp([]float64{50}, []string{"#000000"})
	assert.Error(t, err)
}

func TestRecorder_Row(t *testing.T) {
	f := newFake()
	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard(), WithProjector(fixedProjector{}))
	r.Track("veh_0")

	n, err := r.Sample(7, present(f))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	row := sink.rows[0]
	assert.Equal(t, "veh_0", row.VehicleID)
	assert.InDelta(t, 36.0, row.SpeedKmh, 1e-9)
	assert.Equal(t, "E1", row.Road)
	assert.Equal(t, 42.0, row.Distance)
	assert.Equal(t, "E3", row.Destination)
	// 200 for E2 plus the full length of the destination lane
	assert.Equal(t, 250.0, row.DistanceRemaining)
	assert.Equal(t, "evehicle", row.Class)
	assert.Equal(t, 25.0, row.SoC)
	assert.Equal(t, 7.0, row.Time)
	assert.Equal(t, 1.5, row.Consumption)
	assert.Equal(t, 2000.0, row.Capacity)
	assert.Equal(t, 500.0, row.ChargeLevel)
	assert.Equal(t, 1, row.ColorBucket)
	require.NotNil(t, row.Position)
	assert.Equal(t, core.Position{Lon: 1.5, Lat: 2.5}, *row.Position)

	assert.Equal(t, engine.Color{R: 255, G: 69, B: 0, A: 255}, f.Vehicles["veh_0"].Color)
}

func TestRecorder_WithoutColors(t *testing.T) {
	f := newFake()
	r := NewRecorder(f, newRamp(t), &memSink{}, discard(), WithoutColors())
	r.Track("veh_0")

	_, err := r.Sample(0, present(f))
	require.NoError(t, err)
	assert.Equal(t, engine.Color{}, f.Vehicles["veh_0"].Color)
}

func TestRecorder_SkipsInternalEdgesAndAbsentVehicles(t *testing.T) {
	f := newFake()
	f.Vehicles["veh_0"].Road = ":J1_0"
	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard())
	r.Track("veh_0")
	r.Track("veh_1")

	n, err := r.Sample(0, present(f))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.rows)
}

func TestRecorder_DistanceNeverDecreases(t *testing.T) {
	f := newFake()
	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard())
	r.Track("veh_0")

	for _, d := range []float64{10, 25, 20, 30} {
		f.Vehicles["veh_0"].Distance = d
		_, err := r.Sample(0, present(f))
		require.NoError(t, err)
	}

	require.Len(t, sink.rows, 4)
	for i := 1; i < len(sink.rows); i++ {
		assert.GreaterOrEqual(t, sink.rows[i].Distance, sink.rows[i-1].Distance)
	}
	assert.Equal(t, 25.0, sink.rows[2].Distance)
}

func TestRecorder_NoBatteryStillRecords(t *testing.T) {
	f := newFake()
	delete(f.Vehicles["veh_0"].Params, engine.ParamBatteryCapacity)
	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard())
	r.Track("veh_0")

	n, err := r.Sample(0, present(f))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, 0.0, sink.rows[0].SoC)
	assert.Equal(t, -1, sink.rows[0].ColorBucket)
	assert.Equal(t, engine.Color{}, f.Vehicles["veh_0"].Color)
}

func TestRecorder_TransientErrorSkipsVehicle(t *testing.T) {
	f := newFake()
	f.Faults["speed"] = errors.New("vehicle teleported")
	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard())
	r.Track("veh_0")

	n, err := r.Sample(0, present(f))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecorder_SinkErrorIsReturned(t *testing.T) {
	f := newFake()
	sink := &memSink{err: errors.New("disk full")}
	r := NewRecorder(f, newRamp(t), sink, discard())
	r.Track("veh_0")

	_, err := r.Sample(0, present(f))
	assert.ErrorContains(t, err, "disk full")
}

func TestRecorder_Untrack(t *testing.T) {
	f := newFake()
	r := NewRecorder(f, newRamp(t), &memSink{}, discard())
	r.Track("veh_0")
	r.Track("veh_1")
	r.Untrack("veh_1")
	assert.Equal(t, []string{"veh_0"}, r.Tracked())
}

func TestRecorder_ScanOccupancy(t *testing.T) {
	f := newFake()
	cs := f.AddFacility(engine.ChargingStation, "cs_1", "E2_0")
	cs.Occupants = []string{"veh_0"}
	pa := f.AddFacility(engine.ParkingArea, "pa_1", "E3_0")
	pa.Occupants = []string{"flow_1.0", "veh_2"}
	f.AddFacility(engine.BusStop, "bs_1", "E1_0").Occupants = []string{"veh_3"}

	sink := &memSink{}
	r := NewRecorder(f, newRamp(t), sink, discard())

	obs, err := r.ScanOccupancy(12)
	require.NoError(t, err)
	assert.Equal(t, []Observation{
		{Kind: engine.ChargingStation, FacilityID: "cs_1", VehicleID: "veh_0"},
		{Kind: engine.ParkingArea, FacilityID: "pa_1", VehicleID: "flow_1.0"},
		{Kind: engine.ParkingArea, FacilityID: "pa_1", VehicleID: "veh_2"},
	}, obs)
	require.Len(t, sink.events, 3)
	assert.Equal(t, core.FacilityEvent{Time: 12, FacilityID: "cs_1", Kind: core.FacilityChargingStation, VehicleID: "veh_0"}, sink.events[0])
}
