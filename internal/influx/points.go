package influx

import (
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/fleetsim/fleetctl/pkg/core"
)

// Measurement names.
const (
	MeasurementTelemetry = "vehicle_telemetry"
	MeasurementFacility  = "facility_event"
	MeasurementLifecycle = "lifecycle_event"
)

// SimTime maps simulation seconds onto wall time relative to the run start.
func SimTime(start time.Time, seconds float64) time.Time {
	return start.Add(time.Duration(seconds * float64(time.Second)))
}

// TelemetryPoint builds the point of one telemetry row.
func TelemetryPoint(run string, start time.Time, row core.TelemetryRow) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTelemetry).
		AddTag("run", run).
		AddTag("vehicle", row.VehicleID).
		AddTag("class", row.Class).
		AddField("speed_kmh", row.SpeedKmh).
		AddField("road", row.Road).
		AddField("distance", row.Distance).
		AddField("destination", row.Destination).
		AddField("distance_remaining", row.DistanceRemaining).
		AddField("soc", row.SoC).
		AddField("consumption", row.Consumption).
		AddField("color_bucket", row.ColorBucket).
		AddField("sim_time", row.Time).
		SortTags().
		SetTime(SimTime(start, row.Time))
	if row.Position != nil {
		p.AddField("lon", row.Position.Lon).AddField("lat", row.Position.Lat)
	}
	return p
}

// FacilityPoint builds the point of one facility observation.
func FacilityPoint(run string, start time.Time, e core.FacilityEvent) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementFacility).
		AddTag("run", run).
		AddTag("kind", string(e.Kind)).
		AddTag("facility", e.FacilityID).
		AddField("vehicle", e.VehicleID).
		AddField("sim_time", e.Time).
		SortTags().
		SetTime(SimTime(start, e.Time))
}

// LifecyclePoint builds the point of one lifecycle event.
func LifecyclePoint(run string, start time.Time, e core.LifecycleEvent) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement(MeasurementLifecycle).
		AddTag("run", run).
		AddTag("kind", string(e.Kind)).
		AddTag("vehicle", e.VehicleID).
		AddField("detail", e.Detail).
		AddField("sim_time", e.Time).
		SortTags().
		SetTime(SimTime(start, e.Time))
}
