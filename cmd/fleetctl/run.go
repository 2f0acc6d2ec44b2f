package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/controller"
	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/geo"
	"github.com/fleetsim/fleetctl/internal/logging"
	"github.com/fleetsim/fleetctl/internal/monitor"
	intOtel "github.com/fleetsim/fleetctl/internal/otel"
	"github.com/fleetsim/fleetctl/internal/scenario"
	"github.com/fleetsim/fleetctl/internal/upstream"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func runCommand(args []string) (err error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := loadConfig(fs, args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// resolve path set in config
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	logFilePath := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	// OTel comes first so slog can bridge into its log provider
	otelCfg := config.GetOTelConfig()
	otelProvider, otelFiles, err := newOTelProvider(otelCfg, logsDir)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			Logger.Warn("OTel shutdown failed", "error", err)
		}
		for _, f := range otelFiles {
			f.Close()
		}
	}()

	runCtx := scenario.NewContext()
	graylogAddress := ""
	if viper.GetBool("graylog.enabled") {
		graylogAddress = viper.GetString("graylog.address")
	}
	logOpts := logging.Options{
		File:           logFile,
		Console:        true,
		Level:          viper.GetString("logLevel"),
		GraylogAddress: graylogAddress,
		Context:        runCtx.LogAttrs,
	}
	if lp := otelProvider.LoggerProvider(); lp != nil {
		logOpts.LoggerProvider = lp
	}
	SlogManager.Setup(logOpts)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", logFilePath, "version", Version)
	if otelProvider.Enabled() {
		Logger.Info("OTel provider initialized", "dir", logsDir)
	}
	zlog := logging.NewZerolog(logFile, SlogManager.Level(), "storage")

	sc, err := config.GetScenario()
	if err != nil {
		return err
	}
	if sc.Seed == 0 {
		sc.Seed = time.Now().UnixNano()
		Logger.Info("No seed configured, using the wall clock", "seed", sc.Seed)
	}

	upstreamCfg, err := config.GetUpstreamConfig()
	if err != nil {
		return err
	}
	seed := uint64(sc.Seed)
	if err := upstream.NewRunner(Logger).Run(ctx, upstreamCfg, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))); err != nil {
		return err
	}

	backends, err := initStorage(zlog)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backends.Close(); cerr != nil {
			Logger.Error("Failed to close storage", "error", cerr)
			err = errors.Join(err, cerr)
		}
		for name, path := range backends.ExportedFiles() {
			Logger.Info("Run exported", "sink", name, "path", path)
		}
	}()

	engineCfg := config.GetEngineConfig()
	engineLog, err := os.Create(filepath.Join(logsDir, fmt.Sprintf("engine.%s.log", SessionStartTime.Format("20060102_150405"))))
	if err != nil {
		return fmt.Errorf("create engine log: %w", err)
	}
	defer engineLog.Close()

	session, err := engine.Start(ctx, launchConfig(engineCfg, sc.Seed, engineLog), Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && !errors.Is(cerr, engine.ErrClosed) {
			Logger.Warn("Failed to close engine session", "error", cerr)
		}
	}()

	scJSON, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	run := &core.Run{
		Name:       sc.Name,
		Seed:       sc.Seed,
		FleetSize:  sc.FleetSize,
		Horizon:    sc.Horizon,
		StepLength: sc.StepLength,
		Engine:     session.Version(),
		StartTime:  SessionStartTime,
		Config:     scJSON,
	}
	if err := backends.StartRun(run); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	runCtx.SetRun(run)

	opts := controller.Options{
		PassLogger: logging.NewPassLogger(logging.NewZerolog(logFile, SlogManager.Level(), "pipeline")),
		Context:    runCtx,
	}
	projector, err := geo.New(config.GetGeoConfig())
	switch {
	case err == nil:
		opts.Projector = projector
		Logger.Info("Geo projection enabled", "epsg", projector.EPSG())
	case !errors.Is(err, geo.ErrDisabled):
		return err
	}

	ctrl, err := controller.New(session, sc, backends, Logger, opts)
	if err != nil {
		return err
	}

	monitorCfg := config.GetMonitorConfig()
	if monitorCfg.Enabled {
		monitorService := monitor.NewService(monitor.Dependencies{
			Controller: ctrl,
			Queues:     backends,
			Logger:     Logger,
			Dir:        logsDir,
			Interval:   monitorCfg.Interval,
		})
		if err := monitorService.Start(); err != nil {
			Logger.Warn("Status monitor not started", "error", err)
		} else {
			defer monitorService.Stop()
		}
	}

	if err := ctrl.Announce(); err != nil {
		return err
	}
	summary, runErr := ctrl.Run(ctx)
	if err := backends.EndRun(summary); err != nil {
		Logger.Error("Failed to end run", "error", err)
		runErr = errors.Join(runErr, err)
	}
	if errors.Is(runErr, context.Canceled) {
		// interrupted by a signal; the summary records it
		return nil
	}
	return runErr
}

func newOTelProvider(cfg config.OTelConfig, logsDir string) (*intOtel.Provider, []*os.File, error) {
	if !cfg.Enabled {
		p, err := intOtel.New(intOtel.Config{})
		return p, nil, err
	}
	stamp := SessionStartTime.Format("20060102_150405")
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, name := range []string{"metrics", "otel-logs"} {
		f, err := os.Create(filepath.Join(logsDir, fmt.Sprintf("%s.%s.json", name, stamp)))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create %s file: %w", name, err)
		}
		files = append(files, f)
	}
	p, err := intOtel.New(intOtel.Config{
		Enabled:     true,
		ServiceName: cfg.ServiceName,
		Interval:    cfg.MetricInterval,
		Writer:      files[0],
		LogWriter:   files[1],
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("init OTel provider: %w", err)
	}
	return p, files, nil
}

func launchConfig(cfg config.EngineConfig, seed int64, output *os.File) engine.LaunchConfig {
	return engine.LaunchConfig{
		Binary:          cfg.Binary,
		Launch:          cfg.Launch,
		Host:            cfg.Host,
		Port:            cfg.Port,
		NetFile:         cfg.NetFile,
		RouteFiles:      cfg.RouteFiles,
		AdditionalFiles: cfg.AdditionalFiles,
		StepLength:      cfg.StepLength,
		Seed:            seed,
		StatisticOutput: cfg.StatisticOutput,
		TripinfoOutput:  cfg.TripinfoOutput,
		ExtraArgs:       cfg.ExtraArgs,
		DialAttempts:    cfg.DialAttempts,
		DialBackoff:     cfg.DialBackoff,
		Output:          output,
	}
}
