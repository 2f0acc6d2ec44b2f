// pkg/core/vehicle.go
package core

// Vehicle is a managed fleet vehicle as registered with storage when it is
// scheduled.
type Vehicle struct {
	ID        string
	Class     string
	SpawnTick int
}

// Position is an optional geographic position of a telemetry row.
type Position struct {
	Lon float64
	Lat float64
	// X and Y are web mercator coordinates.
	X float64
	Y float64
}
