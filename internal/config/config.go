package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "fleetctl.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. FLEETCTL_SCENARIO_FLEETSIZE.
const EnvPrefix = "FLEETCTL"

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file and an optional
// .env file. A missing config file is reported as an error wrapping
// viper.ConfigFileNotFoundError; defaults remain usable in that case.
func Load(configDir string) error {
	setDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// IsNotFound reports whether err only says the config file is absent.
func IsNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("scenario.name", "fleet")
	viper.SetDefault("scenario.seed", 0)
	viper.SetDefault("scenario.fleetSize", 100)
	viper.SetDefault("scenario.horizon", 3600)
	viper.SetDefault("scenario.idPrefix", "veh_")
	viper.SetDefault("scenario.singleID", false)
	viper.SetDefault("scenario.classes", []map[string]any{
		{"name": "passenger", "weight": 1},
		{"name": "evehicle", "weight": 1},
		{"name": "bus", "weight": 1},
		{"name": "ElectricBus", "weight": 1},
	})
	viper.SetDefault("scenario.restrictedClasses", []string{})
	viper.SetDefault("scenario.transitClasses", []string{"bus", "ElectricBus"})
	viper.SetDefault("scenario.stopDuration", 10)
	viper.SetDefault("scenario.maxRouteAttempts", 10)

	viper.SetDefault("battery.threshold", 25)
	viper.SetDefault("battery.chargeDuration", 100)
	viper.SetDefault("battery.sampleInterval", 0)

	viper.SetDefault("telemetry.layout", LayoutPerVehicle)
	viper.SetDefault("telemetry.colorThresholds", []float64{14, 28, 42, 56, 70, 85})
	viper.SetDefault("telemetry.colors", []string{
		"#FF0000", "#FF4500", "#FFA500", "#FFFF00", "#ADFF2F", "#7FFF00", "#00FF00",
	})
	viper.SetDefault("telemetry.markStops", false)

	viper.SetDefault("injector.enabled", true)
	viper.SetDefault("injector.sampleFraction", 0.75)
	viper.SetDefault("injector.parkingDuration", 120)
	viper.SetDefault("injector.demandMode", DemandKeyTick)
	viper.SetDefault("injector.demandEmissionClass", "Energy/default")
	viper.SetDefault("injector.demandThreshold", 20)

	viper.SetDefault("engine.binary", "sumo")
	viper.SetDefault("engine.launch", true)
	viper.SetDefault("engine.host", "localhost")
	viper.SetDefault("engine.port", 8813)
	viper.SetDefault("engine.netFile", "config/net.net.xml")
	viper.SetDefault("engine.routeFiles", []string{"config/routes.rou.xml"})
	viper.SetDefault("engine.additionalFiles", []string{"config/additional.add.xml"})
	viper.SetDefault("engine.stepLength", 1.0)
	viper.SetDefault("engine.statisticOutput", "")
	viper.SetDefault("engine.tripinfoOutput", "")
	viper.SetDefault("engine.extraArgs", []string{})
	viper.SetDefault("engine.dialAttempts", 30)
	viper.SetDefault("engine.dialBackoff", "500ms")

	viper.SetDefault("upstream.commands", []map[string]any{})
	viper.SetDefault("upstream.fleetConversion.enabled", false)
	viper.SetDefault("upstream.fleetConversion.input", "")
	viper.SetDefault("upstream.fleetConversion.output", "")
	viper.SetDefault("upstream.fleetConversion.busShare", 0.10)
	viper.SetDefault("upstream.fleetConversion.evShare", 0.20)

	viper.SetDefault("storage.types", []string{"csv"})
	viper.SetDefault("storage.csv.outputDir", "./results")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./results/fleet.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "1m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleet")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "fleet-metrics")
	viper.SetDefault("influx.bucket", "fleet_telemetry")
	viper.SetDefault("influx.backupDir", "./results")

	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "fleet")
	viper.SetDefault("mongo.batchSize", 500)

	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "fleetctl")
	viper.SetDefault("mqtt.topicPrefix", "fleet")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.bufferSize", 10000)

	viper.SetDefault("websocket.url", "ws://localhost:5000/api/stream")
	viper.SetDefault("websocket.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleetctl")
	viper.SetDefault("otel.metricInterval", "30s")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "5s")

	viper.SetDefault("geo.epsg", 0)
	viper.SetDefault("geo.offsetX", 0.0)
	viper.SetDefault("geo.offsetY", 0.0)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "logLevel",
	"logs-dir":   "logsDir",
	"seed":       "scenario.seed",
	"fleet-size": "scenario.fleetSize",
	"horizon":    "scenario.horizon",
	"net-file":   "engine.netFile",
	"port":       "engine.port",
	"no-launch":  "engine.noLaunch",
	"storage":    "storage.types",
}

// RegisterFlags defines the run flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("logs-dir", "", "directory for run logs")
	fs.Int64("seed", 0, "random seed (0 uses the wall clock)")
	fs.Int("fleet-size", 0, "number of managed fleet vehicles")
	fs.Int("horizon", 0, "simulation horizon in seconds")
	fs.String("net-file", "", "engine network file")
	fs.Int("port", 0, "engine TraCI port")
	fs.Bool("no-launch", false, "connect to a running engine instead of starting one")
	fs.StringSlice("storage", nil, "storage backends (csv, memory, sqlite, postgres, influx, mongo, mqtt, websocket)")
}

// BindFlags binds the flags of fs that were set explicitly on the command
// line, so unset flags never shadow file or default values.
func BindFlags(fs *pflag.FlagSet) error {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = viper.BindPFlag(key, f)
	})
	if bindErr != nil {
		return fmt.Errorf("error binding flags: %w", bindErr)
	}
	if viper.GetBool("engine.noLaunch") {
		viper.Set("engine.launch", false)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
