package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Run{},
	&Vehicle{},
	&TelemetryRow{},
	&FacilityEvent{},
	&LifecycleEvent{},
	&WriterPerformance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// WriterPerformance is one write cycle of the database writer
type WriterPerformance struct {
	ID                  uint              `json:"id" gorm:"primarykey;autoIncrement;"`
	Time                time.Time         `json:"time" gorm:"type:timestamp;index:idx_writerperformance_time"`
	RunID               uint              `json:"runId" gorm:"index:idx_writerperformance_run_id"`
	WriteQueueLengths   WriteQueueLengths `json:"writeQueueLengths" gorm:"embedded;embeddedPrefix:writequeue_"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

func (*WriterPerformance) TableName() string {
	return "writer_performances"
}

// WriteQueueLengths holds the number of items drained per queue
type WriteQueueLengths struct {
	Vehicles        int `json:"vehicles"`
	Telemetry       int `json:"telemetry"`
	FacilityEvents  int `json:"facilityEvents"`
	LifecycleEvents int `json:"lifecycleEvents"`
}

////////////////////////
// RECORDING MODELS
////////////////////////

// Run is one controller run
type Run struct {
	gorm.Model
	Name       string         `json:"name" gorm:"size:127;index:idx_run_name"`
	Seed       int64          `json:"seed"`
	FleetSize  int            `json:"fleetSize"`
	Horizon    int            `json:"horizon"`
	StepLength float64        `json:"stepLength" gorm:"default:1.0"`
	Engine     string         `json:"engine" gorm:"size:127"`
	StartTime  time.Time      `json:"startTime" gorm:"type:timestamp;index:idx_run_start"`
	EndTime    *time.Time     `json:"endTime" gorm:"type:timestamp;default:NULL"`
	Config     datatypes.JSON `json:"config"`

	FinalTick     float64 `json:"finalTick"`
	Spawned       int     `json:"spawned"`
	Skipped       int     `json:"skipped"`
	Diverted      int     `json:"diverted"`
	Returned      int     `json:"returned"`
	TelemetryRows int     `json:"telemetryRows"`
	StopReason    string  `json:"stopReason" gorm:"size:32"`
	FatalReason   string  `json:"fatalReason"`

	Vehicles []Vehicle
}

func (*Run) TableName() string {
	return "runs"
}

// Vehicle is a managed fleet vehicle
// Uses composite primary key (RunID, VehicleID)
type Vehicle struct {
	RunID     uint      `json:"runId" gorm:"primaryKey;autoIncrement:false"`
	VehicleID string    `json:"vehicleId" gorm:"primaryKey;size:64"`
	Run       Run       `json:"-" gorm:"foreignkey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt time.Time `json:"createdAt"`
	Class     string    `json:"class" gorm:"size:64"`
	SpawnTick int       `json:"spawnTick"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// TelemetryRow is one sample of a vehicle at a tick
type TelemetryRow struct {
	ID        uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID     uint    `json:"runId" gorm:"index:idx_telemetry_run_id"`
	VehicleID string  `json:"vehicleId" gorm:"size:64;index:idx_telemetry_vehicle_id"`
	Time      float64 `json:"time" gorm:"index:idx_telemetry_time"` // simulation seconds

	SpeedKmh          float64 `json:"speedKmh"`
	Road              string  `json:"road" gorm:"size:128"`
	Distance          float64 `json:"distance"`
	Destination       string  `json:"destination" gorm:"size:128"`
	DistanceRemaining float64 `json:"distanceRemaining"`
	Class             string  `json:"class" gorm:"size:64"`
	SoC               float64 `json:"soc"`
	Consumption       float64 `json:"consumption"` // Wh/s
	Capacity          float64 `json:"capacity"`
	ChargeLevel       float64 `json:"chargeLevel"`
	ColorBucket       int     `json:"colorBucket"`

	HasPosition bool       `json:"hasPosition" gorm:"default:false"`
	Position    geom.Point `json:"position" gorm:"type:bytes"` // lon/lat, WKB
	X           float64    `json:"x"`
	Y           float64    `json:"y"`
}

func (*TelemetryRow) TableName() string {
	return "telemetry_rows"
}

// FacilityEvent is a vehicle observed at a stopping place
type FacilityEvent struct {
	ID         uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID      uint    `json:"runId" gorm:"index:idx_facilityevent_run_id"`
	Time       float64 `json:"time"`
	FacilityID string  `json:"facilityId" gorm:"size:64;index:idx_facilityevent_facility_id"`
	Kind       string  `json:"kind" gorm:"size:32"`
	VehicleID  string  `json:"vehicleId" gorm:"size:64"`
}

func (*FacilityEvent) TableName() string {
	return "facility_events"
}

// LifecycleEvent is a state change of a vehicle
type LifecycleEvent struct {
	ID        uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID     uint    `json:"runId" gorm:"index:idx_lifecycleevent_run_id"`
	Time      float64 `json:"time"`
	VehicleID string  `json:"vehicleId" gorm:"size:64;index:idx_lifecycleevent_vehicle_id"`
	Kind      string  `json:"kind" gorm:"size:32"`
	Detail    string  `json:"detail"`
}

func (*LifecycleEvent) TableName() string {
	return "lifecycle_events"
}
