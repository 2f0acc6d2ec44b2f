// Package postgres implements the storage.Backend interface using GORM/PostgreSQL
// with internal queues and a background DB writer goroutine.
package postgres

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/database"
	"github.com/fleetsim/fleetctl/internal/model"
	"github.com/fleetsim/fleetctl/internal/model/convert"
	"github.com/fleetsim/fleetctl/internal/queue"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

const defaultWriteInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	// DB is used as is when set; otherwise Init connects with Postgres and
	// falls back to the SQLite file at FallbackPath.
	DB           *gorm.DB
	Postgres     config.PostgresConfig
	FallbackPath string

	Logger   *slog.Logger
	DBLogger zerolog.Logger

	WriteInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Vehicles        *queue.Queue[model.Vehicle]
	Telemetry       *queue.Queue[model.TelemetryRow]
	FacilityEvents  *queue.Queue[model.FacilityEvent]
	LifecycleEvents *queue.Queue[model.LifecycleEvent]
}

func newQueues() *queues {
	return &queues{
		Vehicles:        queue.New[model.Vehicle](),
		Telemetry:       queue.New[model.TelemetryRow](),
		FacilityEvents:  queue.New[model.FacilityEvent](),
		LifecycleEvents: queue.New[model.LifecycleEvent](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	queues   *queues
	runID    atomic.Uint64
	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	closed   bool
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.WriteInterval <= 0 {
		deps.WriteInterval = defaultWriteInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// DB returns the database the backend writes to, nil before Init.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		m := database.NewManager(b.deps.DBLogger, b.deps.FallbackPath)
		if err := m.Connect(b.deps.Postgres); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if m.ShouldSaveLocal {
			b.deps.Logger.Warn("Postgres unavailable, recording to local SQLite", "path", m.SqliteFilePath)
		}
		b.deps.DB = m.DB
	}

	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.deps.Logger.Info("Database setup complete", "dialect", b.deps.DB.Name())

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writerLoop()
	return nil
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil || b.closed {
		return nil
	}
	b.closed = true
	close(b.stopChan)
	<-b.done
	return nil
}

// StartRun inserts the run row and assigns its ID back to run.
func (b *Backend) StartRun(run *core.Run) error {
	if b.deps.DB == nil {
		return nil
	}
	gormRun := convert.CoreToRun(*run)
	if err := b.deps.DB.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert new run: %w", err)
	}
	run.ID = gormRun.ID
	b.runID.Store(uint64(gormRun.ID))
	return nil
}

// SetRunID sets the current run ID for the DB writer (used by CLI tools).
func (b *Backend) SetRunID(id uint) {
	b.runID.Store(uint64(id))
}

// EndRun writes the run summary columns.
func (b *Backend) EndRun(summary core.RunSummary) error {
	if b.deps.DB == nil {
		return nil
	}
	id := uint(b.runID.Load())
	if id == 0 {
		return nil
	}
	err := b.deps.DB.Model(&model.Run{}).Where("id = ?", id).Updates(convert.SummaryUpdates(summary)).Error
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", id, err)
	}
	return nil
}

// AddVehicle converts a core vehicle to GORM and pushes to the write queue.
func (b *Backend) AddVehicle(v core.Vehicle) error {
	b.queues.Vehicles.Push(convert.CoreToVehicle(v))
	return nil
}

// RecordTelemetry converts and queues a telemetry row.
func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	b.queues.Telemetry.Push(convert.CoreToTelemetryRow(row))
	return nil
}

// RecordFacilityEvent converts and queues a facility event.
func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	b.queues.FacilityEvents.Push(convert.CoreToFacilityEvent(e))
	return nil
}

// RecordLifecycleEvent converts and queues a lifecycle event.
func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	b.queues.LifecycleEvents.Push(convert.CoreToLifecycleEvent(e))
	return nil
}

// QueueLengths reports the items waiting for the next write cycle.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"vehicles":         b.queues.Vehicles.Len(),
		"telemetry":        b.queues.Telemetry.Len(),
		"facility_events":  b.queues.FacilityEvents.Len(),
		"lifecycle_events": b.queues.LifecycleEvents.Len(),
	}
}

// writeQueue writes all items from a queue to the database in a transaction
// and returns how many were written. Failed batches go back to the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) int {
	if q.Empty() {
		return 0
	}

	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}
	tx := db.Begin()
	if err := tx.CreateInBatches(&items, 500).Error; err != nil {
		log.Error("Error creating "+name, "error", err, "count", len(items))
		tx.Rollback()
		q.Requeue(items)
		return 0
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("Error committing "+name, "error", err)
		q.Requeue(items)
		return 0
	}
	return len(items)
}

// Flush drains every queue into the database and records the write cycle.
func (b *Backend) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB
	if db == nil {
		return
	}
	log := b.deps.Logger

	// Read runID once per write cycle
	runID := uint(b.runID.Load())
	start := time.Now()

	var written model.WriteQueueLengths
	written.Vehicles = writeQueue(db, b.queues.Vehicles, "vehicles", log, func(items []model.Vehicle) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	written.Telemetry = writeQueue(db, b.queues.Telemetry, "telemetry rows", log, func(items []model.TelemetryRow) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	written.FacilityEvents = writeQueue(db, b.queues.FacilityEvents, "facility events", log, func(items []model.FacilityEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	written.LifecycleEvents = writeQueue(db, b.queues.LifecycleEvents, "lifecycle events", log, func(items []model.LifecycleEvent) {
		for i := range items {
			items[i].RunID = runID
		}
	})

	if written == (model.WriteQueueLengths{}) {
		return
	}
	perf := model.WriterPerformance{
		Time:                time.Now(),
		RunID:               runID,
		WriteQueueLengths:   written,
		LastWriteDurationMs: float32(time.Since(start).Seconds() * 1000),
	}
	if err := db.Create(&perf).Error; err != nil {
		log.Error("Error creating writer performance", "error", err)
	}
}

// writerLoop periodically drains queues into the DB until Close.
func (b *Backend) writerLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.Flush()
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}
