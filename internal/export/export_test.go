package export

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/database"
	"github.com/fleetsim/fleetctl/internal/model"
	"github.com/fleetsim/fleetctl/internal/model/convert"
	csvstorage "github.com/fleetsim/fleetctl/internal/storage/csv"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := database.GetSqliteDB(path)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// seedRun stores a run with two vehicles, one of them without samples.
func seedRun(t *testing.T, db *gorm.DB, name string) model.Run {
	t.Helper()
	run := convert.CoreToRun(core.Run{Name: name, Seed: 7, FleetSize: 2, Horizon: 100, StartTime: time.Unix(1700000000, 0).UTC()})
	require.NoError(t, db.Create(&run).Error)

	vehicles := []model.Vehicle{
		convert.CoreToVehicle(core.Vehicle{ID: "veh_1", Class: "bus", SpawnTick: 5}),
		convert.CoreToVehicle(core.Vehicle{ID: "veh_0", Class: "evehicle", SpawnTick: 2}),
	}
	for i := range vehicles {
		vehicles[i].RunID = run.ID
	}
	require.NoError(t, db.Omit("Run").Create(&vehicles).Error)

	rows := []core.TelemetryRow{
		{VehicleID: "veh_0", Time: 3, SpeedKmh: 36, Road: "e1", Distance: 10, Destination: "e9", DistanceRemaining: 90, Class: "evehicle", SoC: 80},
		{VehicleID: "veh_0", Time: 4, SpeedKmh: 36, Road: "e1", Distance: 20, Destination: "e9", DistanceRemaining: 80, Class: "evehicle", SoC: 79.96,
			Position: &core.Position{Lon: 13.4, Lat: 52.5}},
	}
	for _, r := range rows {
		m := convert.CoreToTelemetryRow(r)
		m.RunID = run.ID
		require.NoError(t, db.Create(&m).Error)
	}

	ev := convert.CoreToLifecycleEvent(core.LifecycleEvent{Time: 2, VehicleID: "veh_0", Kind: core.LifecycleSpawned})
	ev.RunID = run.ID
	require.NoError(t, db.Create(&ev).Error)
	fe := convert.CoreToFacilityEvent(core.FacilityEvent{Time: 4, FacilityID: "cs_1", Kind: core.FacilityChargingStation, VehicleID: "veh_0"})
	fe.RunID = run.ID
	require.NoError(t, db.Create(&fe).Error)
	return run
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestFindRun(t *testing.T) {
	db := newDB(t, "")

	_, err := FindRun(db, 0)
	assert.ErrorIs(t, err, ErrNoRuns)

	first := seedRun(t, db, "first")
	second := seedRun(t, db, "second")

	latest, err := FindRun(db, 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	byID, err := FindRun(db, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", byID.Name)

	_, err = FindRun(db, 999)
	assert.ErrorContains(t, err, "run 999 not found")
}

func TestWriteCSV_PerVehicle(t *testing.T) {
	db := newDB(t, "")
	seedRun(t, db, "city")
	dir := t.TempDir()

	res, err := WriteCSV(db, 0, dir, config.LayoutPerVehicle)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []string{filepath.Join(dir, "veh_0.csv"), filepath.Join(dir, "veh_1.csv")}, res.Files)

	records := readCSV(t, filepath.Join(dir, "veh_0.csv"))
	require.Len(t, records, 3)
	assert.Equal(t, csvstorage.Header, records[0])
	assert.Equal(t, []string{"veh_0", "36.0", "e1", "10.0", "e9", "90.0", "evehicle", "80.0", "3.0"}, records[1])
	assert.Equal(t, "80.0", records[2][7])

	empty := readCSV(t, filepath.Join(dir, "veh_1.csv"))
	assert.Len(t, empty, 1, "header only")
}

func TestWriteCSV_Shared(t *testing.T) {
	db := newDB(t, "")
	run := seedRun(t, db, "city")
	dir := t.TempDir()

	res, err := WriteCSV(db, run.ID, dir, config.LayoutShared)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, csvstorage.SharedFileName)}, res.Files)
	assert.Len(t, readCSV(t, res.Files[0]), 3)
}

func TestTelemetry_KeepsPosition(t *testing.T) {
	db := newDB(t, "")
	run := seedRun(t, db, "city")

	rows, err := Telemetry(db, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].Position)
	require.NotNil(t, rows[1].Position)
	assert.Equal(t, 13.4, rows[1].Position.Lon)
}

func TestCopyRun(t *testing.T) {
	src := newDB(t, "")
	dst := newDB(t, "")
	seedRun(t, dst, "already-there")
	run := seedRun(t, src, "backup")

	newID, err := CopyRun(src, dst, run)
	require.NoError(t, err)
	assert.NotEqual(t, uint(0), newID)

	copied, err := FindRun(dst, newID)
	require.NoError(t, err)
	assert.Equal(t, "backup", copied.Name)
	assert.Equal(t, int64(7), copied.Seed)

	vehicles, err := Vehicles(dst, newID)
	require.NoError(t, err)
	assert.Equal(t, []core.Vehicle{{ID: "veh_0", Class: "evehicle", SpawnTick: 2}, {ID: "veh_1", Class: "bus", SpawnTick: 5}}, vehicles)

	rows, err := Telemetry(dst, newID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	var events int64
	require.NoError(t, dst.Model(&model.LifecycleEvent{}).Where("run_id = ?", newID).Count(&events).Error)
	assert.Equal(t, int64(1), events)
	require.NoError(t, dst.Model(&model.FacilityEvent{}).Where("run_id = ?", newID).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCopyTable_PagesAcrossBatches(t *testing.T) {
	src := newDB(t, "")
	dst := newDB(t, "")

	rows := make([]model.LifecycleEvent, 2500)
	for i := range rows {
		rows[i] = model.LifecycleEvent{RunID: 1, Time: float64(i), VehicleID: "veh_0", Kind: "spawned"}
	}
	require.NoError(t, src.CreateInBatches(&rows, 500).Error)

	err := copyTable(src, dst, 1, func(e *model.LifecycleEvent) { e.ID, e.RunID = 0, 2 })
	require.NoError(t, err)

	var n int64
	require.NoError(t, dst.Model(&model.LifecycleEvent{}).Where("run_id = ?", 2).Count(&n).Error)
	assert.Equal(t, int64(2500), n)
}

func TestMigrateBackups(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "fleet_20240101_120000.db")
	src, err := database.GetSqliteDB(backup)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(src))
	seedRun(t, src, "from-backup")
	sqlDB, err := src.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	dst := newDB(t, "")
	paths, err := database.GetBackupDBPaths(dir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	migrated, err := MigrateBackups(dst, paths, database.GetSqliteDB, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{backup}, migrated)
	assert.FileExists(t, backup+".migrated")
	assert.NoFileExists(t, backup)

	runs, err := ListRuns(dst)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "from-backup", runs[0].Name)
}
