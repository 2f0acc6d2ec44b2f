// Package export reads recorded runs back out of the database sinks.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/model"
	"github.com/fleetsim/fleetctl/internal/model/convert"
	csvstorage "github.com/fleetsim/fleetctl/internal/storage/csv"
	"github.com/fleetsim/fleetctl/pkg/core"
	"gorm.io/gorm"
)

// ErrNoRuns is returned when the database holds no run.
var ErrNoRuns = errors.New("no runs recorded")

// FindRun loads run id, or the most recent run when id is 0.
func FindRun(db *gorm.DB, id uint) (model.Run, error) {
	var run model.Run
	q := db.Model(&model.Run{})
	if id != 0 {
		q = q.Where("id = ?", id)
	} else {
		q = q.Order("id DESC")
	}
	err := q.First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id == 0 {
			return run, ErrNoRuns
		}
		return run, fmt.Errorf("run %d not found", id)
	}
	if err != nil {
		return run, fmt.Errorf("error loading run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, oldest first.
func ListRuns(db *gorm.DB) ([]model.Run, error) {
	var runs []model.Run
	if err := db.Model(&model.Run{}).Order("id ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}

// Vehicles returns the managed vehicles of a run in spawn order.
func Vehicles(db *gorm.DB, runID uint) ([]core.Vehicle, error) {
	var rows []model.Vehicle
	err := db.Model(&model.Vehicle{}).
		Where("run_id = ?", runID).
		Order("spawn_tick ASC, vehicle_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error loading vehicles: %w", err)
	}
	out := make([]core.Vehicle, len(rows))
	for i, v := range rows {
		out[i] = convert.VehicleToCore(v)
	}
	return out, nil
}

// Telemetry returns the telemetry rows of a run in recording order.
func Telemetry(db *gorm.DB, runID uint) ([]core.TelemetryRow, error) {
	var rows []model.TelemetryRow
	err := db.Model(&model.TelemetryRow{}).
		Where("run_id = ?", runID).
		Order("time ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error loading telemetry: %w", err)
	}
	out := make([]core.TelemetryRow, len(rows))
	for i, r := range rows {
		out[i] = convert.TelemetryRowToCore(r)
	}
	return out, nil
}

// Result describes a CSV export.
type Result struct {
	Run   model.Run
	Files []string
	Rows  int
}

// WriteCSV writes the telemetry of run id (0 for the latest) to dir in the
// given layout. The per-vehicle layout writes a file for every managed
// vehicle, including vehicles without samples.
func WriteCSV(db *gorm.DB, id uint, dir, layout string) (Result, error) {
	run, err := FindRun(db, id)
	if err != nil {
		return Result{}, err
	}
	res := Result{Run: run}

	rows, err := Telemetry(db, run.ID)
	if err != nil {
		return res, err
	}
	res.Rows = len(rows)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("error creating output dir: %w", err)
	}

	if layout == config.LayoutShared {
		path := filepath.Join(dir, csvstorage.SharedFileName)
		if err := writeFile(path, rows); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
		return res, nil
	}

	vehicles, err := Vehicles(db, run.ID)
	if err != nil {
		return res, err
	}
	byVehicle := make(map[string][]core.TelemetryRow, len(vehicles))
	order := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		if _, ok := byVehicle[v.ID]; !ok {
			byVehicle[v.ID] = nil
			order = append(order, v.ID)
		}
	}
	for _, r := range rows {
		if _, ok := byVehicle[r.VehicleID]; !ok {
			order = append(order, r.VehicleID)
		}
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], r)
	}

	for _, vid := range order {
		path := filepath.Join(dir, vid+".csv")
		if err := writeFile(path, byVehicle[vid]); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
	}
	return res, nil
}

func writeFile(path string, rows []core.TelemetryRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := csvstorage.WriteRows(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// MigrateBackups copies every run found in the SQLite files at paths into
// dst under fresh run ids. Migrated files are renamed with a ".migrated"
// suffix. The first failing file stops the migration; files migrated before
// it stay migrated.
func MigrateBackups(dst *gorm.DB, paths []string, open func(path string) (*gorm.DB, error), logger *slog.Logger) ([]string, error) {
	var migrated []string
	for _, path := range paths {
		src, err := open(path)
		if err != nil {
			return migrated, fmt.Errorf("error opening %s: %w", path, err)
		}
		runs, err := ListRuns(src)
		if err == nil {
			for _, run := range runs {
				var newID uint
				newID, err = CopyRun(src, dst, run)
				if err != nil {
					break
				}
				logger.Info("Migrated run", "file", path, "run", run.Name, "from", run.ID, "to", newID)
			}
		}
		if sqlDB, cerr := src.DB(); cerr == nil {
			_ = sqlDB.Close()
		}
		if err != nil {
			return migrated, fmt.Errorf("error migrating %s: %w", path, err)
		}
		if err := os.Rename(path, path+".migrated"); err != nil {
			logger.Error("Error renaming sqlite file", "error", err, "path", path)
		}
		migrated = append(migrated, path)
	}
	return migrated, nil
}

// CopyRun copies one run and everything recorded for it from src to dst in
// a single transaction and returns the new run id.
func CopyRun(src, dst *gorm.DB, run model.Run) (uint, error) {
	oldID := run.ID
	var newID uint
	err := dst.Transaction(func(tx *gorm.DB) error {
		copied := run
		copied.Model = gorm.Model{CreatedAt: run.CreatedAt, UpdatedAt: run.UpdatedAt}
		copied.Vehicles = nil
		if err := tx.Create(&copied).Error; err != nil {
			return fmt.Errorf("runs: %w", err)
		}
		newID = copied.ID

		var vehicles []model.Vehicle
		if err := src.Where("run_id = ?", oldID).Find(&vehicles).Error; err != nil {
			return fmt.Errorf("vehicles: %w", err)
		}
		for i := range vehicles {
			vehicles[i].RunID = newID
			vehicles[i].Run = model.Run{}
		}
		if len(vehicles) > 0 {
			if err := tx.Omit("Run").Create(&vehicles).Error; err != nil {
				return fmt.Errorf("vehicles: %w", err)
			}
		}

		if err := copyTable(src, tx, oldID, func(r *model.TelemetryRow) { r.ID, r.RunID = 0, newID }); err != nil {
			return fmt.Errorf("telemetry_rows: %w", err)
		}
		if err := copyTable(src, tx, oldID, func(e *model.FacilityEvent) { e.ID, e.RunID = 0, newID }); err != nil {
			return fmt.Errorf("facility_events: %w", err)
		}
		if err := copyTable(src, tx, oldID, func(e *model.LifecycleEvent) { e.ID, e.RunID = 0, newID }); err != nil {
			return fmt.Errorf("lifecycle_events: %w", err)
		}
		return nil
	})
	return newID, err
}

// copyTable streams the rows of one run in batches, rewriting a copy of
// each row with reset before inserting it. The batch itself keeps the
// source keys FindInBatches pages on.
func copyTable[M any](src, dst *gorm.DB, runID uint, reset func(*M)) error {
	var batch []M
	var insertErr error
	res := src.Where("run_id = ?", runID).FindInBatches(&batch, 1000, func(_ *gorm.DB, _ int) error {
		rows := slices.Clone(batch)
		for i := range rows {
			reset(&rows[i])
		}
		if err := dst.Create(&rows).Error; err != nil {
			insertErr = err
			return err
		}
		return nil
	})
	if insertErr != nil {
		return insertErr
	}
	return res.Error
}
