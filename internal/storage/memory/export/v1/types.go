// Package v1 contains the v1 JSON export format of a recorded run.
package v1

// FormatVersion is written into every export.
const FormatVersion = 1

// Export is the root JSON structure for v1 format
type Export struct {
	Version    int     `json:"version"`
	RunName    string  `json:"runName"`
	Seed       int64   `json:"seed"`
	FleetSize  int     `json:"fleetSize"`
	Horizon    int     `json:"horizon"`
	StepLength float64 `json:"stepLength"`
	Engine     string  `json:"engine"`
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime,omitempty"`
	Summary    Summary `json:"summary"`

	Vehicles []Vehicle `json:"vehicles"`
	// FacilityEvents rows are [time, kind, facilityID, vehicleID].
	FacilityEvents [][]any `json:"facilityEvents"`
}

// Summary carries the run outcome.
type Summary struct {
	FinalTick   float64 `json:"finalTick"`
	Spawned     int     `json:"spawned"`
	Skipped     int     `json:"skipped"`
	Diverted    int     `json:"diverted"`
	Returned    int     `json:"returned"`
	Telemetry   int     `json:"telemetry"`
	StopReason  string  `json:"stopReason"`
	FatalReason string  `json:"fatalReason,omitempty"`
}

// Vehicle is one managed vehicle with its samples.
type Vehicle struct {
	ID        string `json:"id"`
	Class     string `json:"class"`
	SpawnTick int    `json:"spawnTick"`
	// Samples rows are [time, speedKmh, road, distance, destination,
	// distanceRemaining, soc, consumption, colorBucket, [lon, lat] | null].
	Samples [][]any `json:"samples"`
	// Events rows are [time, kind, detail].
	Events [][]any `json:"events"`
}
