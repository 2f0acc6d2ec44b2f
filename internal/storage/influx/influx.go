// Package influxstorage records telemetry and events as InfluxDB points.
package influxstorage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/influx"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/rs/zerolog"
)

// Backend implements storage.Backend on top of influx.Manager.
type Backend struct {
	cfg     config.InfluxConfig
	manager *influx.Manager

	mu    sync.RWMutex
	run   string
	start time.Time
}

// New creates an InfluxDB backend. The backup file lives in cfg.BackupDir.
func New(cfg config.InfluxConfig, log zerolog.Logger) *Backend {
	backup := ""
	if cfg.BackupDir != "" {
		backup = filepath.Join(cfg.BackupDir, fmt.Sprintf("influx_backup.%s.lp.gz", time.Now().Format("20060102_150405")))
	}
	return &Backend{
		cfg:     cfg,
		manager: influx.NewManager(cfg, log, backup),
		start:   time.Now(),
	}
}

// Manager exposes the underlying manager.
func (b *Backend) Manager() *influx.Manager {
	return b.manager
}

func (b *Backend) Init() error {
	if b.cfg.BackupDir != "" {
		if err := os.MkdirAll(b.cfg.BackupDir, 0755); err != nil {
			return fmt.Errorf("create backup dir: %w", err)
		}
	}
	return b.manager.Connect()
}

func (b *Backend) Close() error {
	return b.manager.Close()
}

// StartRun tags every later point with the run name and anchors simulation
// time at the run start.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = run.Name
	if !run.StartTime.IsZero() {
		b.start = run.StartTime
	}
	return nil
}

func (b *Backend) EndRun(core.RunSummary) error { return nil }

// AddVehicle is a no-op; vehicles appear as tags on their points.
func (b *Backend) AddVehicle(core.Vehicle) error { return nil }

func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	run, start := b.anchor()
	return b.manager.WritePoint(b.cfg.Bucket, influx.TelemetryPoint(run, start, row))
}

func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	run, start := b.anchor()
	return b.manager.WritePoint(b.cfg.Bucket, influx.FacilityPoint(run, start, e))
}

func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	run, start := b.anchor()
	return b.manager.WritePoint(b.cfg.Bucket, influx.LifecyclePoint(run, start, e))
}

func (b *Backend) anchor() (string, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.run, b.start
}
