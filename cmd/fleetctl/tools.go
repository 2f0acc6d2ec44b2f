package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/database"
	"github.com/fleetsim/fleetctl/internal/export"
	"github.com/fleetsim/fleetctl/internal/fleetconv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

func convertFleetCommand(args []string) error {
	fs := pflag.NewFlagSet("convert-fleet", pflag.ContinueOnError)
	input := fs.String("input", "", "route file to convert (default upstream.fleetConversion.input)")
	output := fs.String("output", "", "converted route file (default upstream.fleetConversion.output)")
	busShare := fs.Float64("bus-share", -1, "share of electric buses (default upstream.fleetConversion.busShare)")
	evShare := fs.Float64("ev-share", -1, "share of electric cars (default upstream.fleetConversion.evShare)")
	seed := fs.Int64("seed", 0, "random seed (0 uses the wall clock)")
	if err := loadConfig(fs, args); err != nil {
		return err
	}

	up, err := config.GetUpstreamConfig()
	if err != nil {
		return err
	}
	fc := up.FleetConversion
	if *input != "" {
		fc.Input = *input
	}
	if *output != "" {
		fc.Output = *output
	}
	if *busShare >= 0 {
		fc.BusShare = *busShare
	}
	if *evShare >= 0 {
		fc.EVShare = *evShare
	}
	if fc.Input == "" || fc.Output == "" {
		return errors.New("convert-fleet needs an input and an output route file")
	}
	if _, err := os.Stat(fc.Input); err != nil {
		return fmt.Errorf("route file %s not found, generate it first: %w", fc.Input, err)
	}

	s := uint64(*seed)
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	fmt.Printf("Processing '%s'...\n", fc.Input)
	res, err := fleetconv.ConvertFile(fc.Input, fc.Output, fleetconv.Options{BusShare: fc.BusShare, EVShare: fc.EVShare}, rand.New(rand.NewPCG(s, s)))
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Vehicles processed:        %d\n", res.Vehicles)
	fmt.Printf("Electric cars created:     %d\n", res.EVehicles)
	fmt.Printf("Electric buses created:    %d\n", res.ElectricBuses)
	fmt.Printf("Saved as:                  %s\n", fc.Output)
	fmt.Println(strings.Repeat("-", 50))
	return nil
}

func exportCommand(args []string) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	dbPath := fs.String("db", "", "SQLite database to read (default storage.sqlite.path)")
	usePostgres := fs.Bool("postgres", false, "read from the configured Postgres database")
	runID := fs.Uint("run", 0, "run id to export (0 exports the latest run)")
	outDir := fs.String("out", "", "output directory (default storage.csv.outputDir)")
	layout := fs.String("layout", "", "perVehicle or shared (default telemetry.layout)")
	list := fs.Bool("list", false, "list the stored runs and exit")
	if err := loadConfig(fs, args); err != nil {
		return err
	}

	storageCfg := config.GetStorageConfig()
	db, err := openExportDB(*usePostgres, *dbPath, storageCfg)
	if err != nil {
		return err
	}

	if *list {
		runs, err := export.ListRuns(db)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%d\t%s\t%s\tseed=%d\tfleet=%d\t%s\n", r.ID, r.Name, r.StartTime.Format(time.RFC3339), r.Seed, r.FleetSize, r.StopReason)
		}
		return nil
	}

	dir := *outDir
	if dir == "" {
		dir = storageCfg.CSV.OutputDir
	}
	l := *layout
	if l == "" {
		l = storageCfg.CSV.Layout
	}
	if l != config.LayoutShared && l != config.LayoutPerVehicle {
		return fmt.Errorf("unknown layout %q", l)
	}

	res, err := export.WriteCSV(db, *runID, dir, l)
	if err != nil {
		return err
	}
	Logger.Info("Run exported", "run", res.Run.Name, "id", res.Run.ID, "rows", res.Rows, "files", len(res.Files), "dir", dir)
	return nil
}

func openExportDB(usePostgres bool, dbPath string, cfg config.StorageConfig) (*gorm.DB, error) {
	if usePostgres {
		db, err := database.GetPostgresDB(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return db, nil
	}
	if dbPath == "" {
		dbPath = cfg.SQLite.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", dbPath, err)
	}
	return database.GetSqliteDB(dbPath)
}

func migrateBackupsCommand(args []string) error {
	fs := pflag.NewFlagSet("migrate-backups", pflag.ContinueOnError)
	dir := fs.String("dir", "", "directory holding the SQLite backups (default the directory of storage.sqlite.path)")
	if err := loadConfig(fs, args); err != nil {
		return err
	}

	storageCfg := config.GetStorageConfig()
	backupDir := *dir
	if backupDir == "" {
		backupDir = filepath.Dir(storageCfg.SQLite.Path)
	}
	paths, err := database.GetBackupDBPaths(backupDir)
	if err != nil {
		return fmt.Errorf("error getting backup database paths: %w", err)
	}
	if len(paths) == 0 {
		Logger.Info("No backups found", "dir", backupDir)
		return nil
	}

	postgresDB, err := database.GetPostgresDB(storageCfg.Postgres)
	if err != nil {
		return fmt.Errorf("error getting postgres database: %w", err)
	}
	if err := database.Migrate(postgresDB); err != nil {
		return err
	}

	migrated, err := export.MigrateBackups(postgresDB, paths, database.GetSqliteDB, Logger)
	Logger.Info("Migrated backups, it's recommended to delete these to avoid future data duplication",
		"count", len(migrated),
		"paths", migrated,
		"host", viper.GetString("db.host"))
	return err
}
