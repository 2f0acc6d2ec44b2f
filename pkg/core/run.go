// pkg/core/run.go
package core

import "time"

// Run describes one controller run.
type Run struct {
	ID         uint
	Name       string
	Seed       int64
	FleetSize  int
	Horizon    int
	StepLength float64
	Engine     string // engine version string reported at connect
	StartTime  time.Time
	EndTime    time.Time
	// Config is a JSON snapshot of the scenario the run was started with.
	Config []byte
}

// RunSummary is reported when a run ends.
type RunSummary struct {
	EndTime     time.Time
	FinalTick   float64
	Spawned     int
	Skipped     int
	Diverted    int
	Returned    int
	TelemetryN  int
	StopReason  string
	FatalReason string
}
