package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Telemetry layouts.
const (
	LayoutPerVehicle = "perVehicle"
	LayoutShared     = "shared"
)

// Demand charging modes.
const (
	DemandKeyTick   = "keyTick"
	DemandEveryTick = "everyTick"
	DemandOff       = "off"
)

// ClassWeight is one entry of the fleet class roster.
type ClassWeight struct {
	Name   string  `json:"name" mapstructure:"name"`
	Weight float64 `json:"weight" mapstructure:"weight"`
}

// BatteryConfig configures the battery controller.
type BatteryConfig struct {
	Threshold      float64 `json:"threshold" mapstructure:"threshold"`
	ChargeDuration float64 `json:"chargeDuration" mapstructure:"chargeDuration"`
	// SampleInterval re-samples every N ticks when positive; zero keeps
	// sampling one-shot per vehicle.
	SampleInterval int `json:"sampleInterval" mapstructure:"sampleInterval"`
}

// TelemetryConfig configures the telemetry recorder.
type TelemetryConfig struct {
	Layout          string    `json:"layout" mapstructure:"layout"`
	ColorThresholds []float64 `json:"colorThresholds" mapstructure:"colorThresholds"`
	Colors          []string  `json:"colors" mapstructure:"colors"`
	MarkStops       bool      `json:"markStops" mapstructure:"markStops"`
}

// InjectorConfig configures the opportunistic injector.
type InjectorConfig struct {
	Enabled             bool    `json:"enabled" mapstructure:"enabled"`
	SampleFraction      float64 `json:"sampleFraction" mapstructure:"sampleFraction"`
	ParkingDuration     float64 `json:"parkingDuration" mapstructure:"parkingDuration"`
	DemandMode          string  `json:"demandMode" mapstructure:"demandMode"`
	DemandEmissionClass string  `json:"demandEmissionClass" mapstructure:"demandEmissionClass"`
	DemandThreshold     float64 `json:"demandThreshold" mapstructure:"demandThreshold"`
}

// Scenario is the immutable description of one controller run.
type Scenario struct {
	Name              string        `json:"name" mapstructure:"name"`
	Seed              int64         `json:"seed" mapstructure:"seed"`
	FleetSize         int           `json:"fleetSize" mapstructure:"fleetSize"`
	Horizon           int           `json:"horizon" mapstructure:"horizon"`
	IDPrefix          string        `json:"idPrefix" mapstructure:"idPrefix"`
	SingleID          bool          `json:"singleID" mapstructure:"singleID"`
	Classes           []ClassWeight `json:"classes" mapstructure:"classes"`
	RestrictedClasses []string      `json:"restrictedClasses" mapstructure:"restrictedClasses"`
	TransitClasses    []string      `json:"transitClasses" mapstructure:"transitClasses"`
	StopDuration      float64       `json:"stopDuration" mapstructure:"stopDuration"`
	MaxRouteAttempts  int           `json:"maxRouteAttempts" mapstructure:"maxRouteAttempts"`
	StepLength        float64       `json:"stepLength" mapstructure:"-"`

	Battery   BatteryConfig   `json:"battery" mapstructure:"-"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"-"`
	Injector  InjectorConfig  `json:"injector" mapstructure:"-"`
}

// sections mirrors the top-level keys decoded into typed structs. Decoding
// the whole tree merges defaults, file values and environment overrides
// key by key.
type sections struct {
	Scenario  Scenario        `mapstructure:"scenario"`
	Battery   BatteryConfig   `mapstructure:"battery"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Injector  InjectorConfig  `mapstructure:"injector"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
}

func decodeSections() (sections, error) {
	var all sections
	if err := viper.Unmarshal(&all); err != nil {
		return all, fmt.Errorf("error decoding config: %w", err)
	}
	return all, nil
}

// GetScenario builds and validates the scenario from the loaded config.
func GetScenario() (Scenario, error) {
	all, err := decodeSections()
	if err != nil {
		return Scenario{}, err
	}
	s := all.Scenario
	s.Battery = all.Battery
	s.Telemetry = all.Telemetry
	s.Injector = all.Injector
	s.StepLength = viper.GetFloat64("engine.stepLength")
	return s, s.Validate()
}

// Validate checks the scenario for values the controller cannot run with.
func (s Scenario) Validate() error {
	var errs []error
	if s.FleetSize < 0 {
		errs = append(errs, fmt.Errorf("fleetSize must not be negative, got %d", s.FleetSize))
	}
	if s.SingleID && s.FleetSize > 1 {
		errs = append(errs, fmt.Errorf("singleID requires fleetSize 1, got %d", s.FleetSize))
	}
	if s.Horizon < 0 {
		errs = append(errs, fmt.Errorf("horizon must not be negative, got %d", s.Horizon))
	}
	if s.MaxRouteAttempts < 1 {
		errs = append(errs, fmt.Errorf("maxRouteAttempts must be at least 1, got %d", s.MaxRouteAttempts))
	}
	if s.StepLength <= 0 {
		errs = append(errs, fmt.Errorf("stepLength must be positive, got %g", s.StepLength))
	}
	if len(s.Classes) == 0 {
		errs = append(errs, errors.New("classes must not be empty"))
	}
	var total float64
	for _, c := range s.Classes {
		if c.Name == "" {
			errs = append(errs, errors.New("class name must not be empty"))
		}
		if c.Weight < 0 {
			errs = append(errs, fmt.Errorf("class %q has negative weight", c.Name))
		}
		total += c.Weight
	}
	if len(s.Classes) > 0 && total <= 0 {
		errs = append(errs, errors.New("class weights must sum to a positive value"))
	}
	if s.Battery.Threshold < 0 || s.Battery.Threshold > 100 {
		errs = append(errs, fmt.Errorf("battery.threshold must be within [0,100], got %g", s.Battery.Threshold))
	}
	if s.Battery.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("battery.sampleInterval must not be negative, got %d", s.Battery.SampleInterval))
	}
	if !slices.Contains([]string{LayoutPerVehicle, LayoutShared}, s.Telemetry.Layout) {
		errs = append(errs, fmt.Errorf("telemetry.layout must be %q or %q, got %q", LayoutPerVehicle, LayoutShared, s.Telemetry.Layout))
	}
	if len(s.Telemetry.Colors) != len(s.Telemetry.ColorThresholds)+1 {
		errs = append(errs, fmt.Errorf("telemetry.colors needs %d entries for %d thresholds, got %d",
			len(s.Telemetry.ColorThresholds)+1, len(s.Telemetry.ColorThresholds), len(s.Telemetry.Colors)))
	}
	if !slices.IsSorted(s.Telemetry.ColorThresholds) {
		errs = append(errs, errors.New("telemetry.colorThresholds must be ascending"))
	}
	if s.Injector.SampleFraction < 0 || s.Injector.SampleFraction > 1 {
		errs = append(errs, fmt.Errorf("injector.sampleFraction must be within [0,1], got %g", s.Injector.SampleFraction))
	}
	if !slices.Contains([]string{DemandKeyTick, DemandEveryTick, DemandOff}, s.Injector.DemandMode) {
		errs = append(errs, fmt.Errorf("injector.demandMode %q is not one of %s, %s, %s",
			s.Injector.DemandMode, DemandKeyTick, DemandEveryTick, DemandOff))
	}
	return errors.Join(errs...)
}

// VehicleIDs returns the identifiers of the managed fleet.
func (s Scenario) VehicleIDs() []string {
	if s.SingleID && s.FleetSize == 1 {
		return []string{s.IDPrefix}
	}
	ids := make([]string, s.FleetSize)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", s.IDPrefix, i)
	}
	return ids
}

// EngineConfig describes how to reach the simulation engine.
type EngineConfig struct {
	Binary          string        `json:"binary" mapstructure:"binary"`
	Launch          bool          `json:"launch" mapstructure:"launch"`
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	NetFile         string        `json:"netFile" mapstructure:"netFile"`
	RouteFiles      []string      `json:"routeFiles" mapstructure:"routeFiles"`
	AdditionalFiles []string      `json:"additionalFiles" mapstructure:"additionalFiles"`
	StepLength      float64       `json:"stepLength" mapstructure:"stepLength"`
	StatisticOutput string        `json:"statisticOutput" mapstructure:"statisticOutput"`
	TripinfoOutput  string        `json:"tripinfoOutput" mapstructure:"tripinfoOutput"`
	ExtraArgs       []string      `json:"extraArgs" mapstructure:"extraArgs"`
	DialAttempts    int           `json:"dialAttempts" mapstructure:"dialAttempts"`
	DialBackoff     time.Duration `json:"dialBackoff" mapstructure:"dialBackoff"`
}

// GetEngineConfig returns the engine configuration.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		Binary:          viper.GetString("engine.binary"),
		Launch:          viper.GetBool("engine.launch"),
		Host:            viper.GetString("engine.host"),
		Port:            viper.GetInt("engine.port"),
		NetFile:         viper.GetString("engine.netFile"),
		RouteFiles:      viper.GetStringSlice("engine.routeFiles"),
		AdditionalFiles: viper.GetStringSlice("engine.additionalFiles"),
		StepLength:      viper.GetFloat64("engine.stepLength"),
		StatisticOutput: viper.GetString("engine.statisticOutput"),
		TripinfoOutput:  viper.GetString("engine.tripinfoOutput"),
		ExtraArgs:       viper.GetStringSlice("engine.extraArgs"),
		DialAttempts:    viper.GetInt("engine.dialAttempts"),
		DialBackoff:     viper.GetDuration("engine.dialBackoff"),
	}
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// CSVConfig holds flat file storage settings.
type CSVConfig struct {
	OutputDir string `json:"outputDir" mapstructure:"outputDir"`
	Layout    string `json:"layout" mapstructure:"layout"`
}

// SQLiteConfig holds SQLite storage settings.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// DSN returns the libpq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		p.Host, p.Port, p.Username, p.Password, p.Database, p.SSLMode)
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// URL returns the server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI       string `json:"uri" mapstructure:"uri"`
	Database  string `json:"database" mapstructure:"database"`
	BatchSize int    `json:"batchSize" mapstructure:"batchSize"`
}

// MQTTConfig holds MQTT publisher settings.
type MQTTConfig struct {
	Broker      string `json:"broker" mapstructure:"broker"`
	ClientID    string `json:"clientId" mapstructure:"clientId"`
	TopicPrefix string `json:"topicPrefix" mapstructure:"topicPrefix"`
	QoS         byte   `json:"qos" mapstructure:"qos"`
	Username    string `json:"username" mapstructure:"username"`
	Password    string `json:"password" mapstructure:"password"`
	BufferSize  int    `json:"bufferSize" mapstructure:"bufferSize"`
}

// WebSocketConfig holds stream backend settings.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// StorageConfig holds the selected sinks and their settings.
type StorageConfig struct {
	Types     []string
	CSV       CSVConfig
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
	Influx    InfluxConfig
	Mongo     MongoConfig
	MQTT      MQTTConfig
	WebSocket WebSocketConfig
}

// GetStorageConfig returns the storage configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Types: viper.GetStringSlice("storage.types"),
		CSV: CSVConfig{
			OutputDir: viper.GetString("storage.csv.outputDir"),
			Layout:    viper.GetString("telemetry.layout"),
		},
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslMode"),
		},
		Influx: InfluxConfig{
			Protocol:  viper.GetString("influx.protocol"),
			Host:      viper.GetString("influx.host"),
			Port:      viper.GetString("influx.port"),
			Token:     viper.GetString("influx.token"),
			Org:       viper.GetString("influx.org"),
			Bucket:    viper.GetString("influx.bucket"),
			BackupDir: viper.GetString("influx.backupDir"),
		},
		Mongo: MongoConfig{
			URI:       viper.GetString("mongo.uri"),
			Database:  viper.GetString("mongo.database"),
			BatchSize: viper.GetInt("mongo.batchSize"),
		},
		MQTT: MQTTConfig{
			Broker:      viper.GetString("mqtt.broker"),
			ClientID:    viper.GetString("mqtt.clientId"),
			TopicPrefix: viper.GetString("mqtt.topicPrefix"),
			QoS:         byte(viper.GetUint("mqtt.qos")),
			Username:    viper.GetString("mqtt.username"),
			Password:    viper.GetString("mqtt.password"),
			BufferSize:  viper.GetInt("mqtt.bufferSize"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("websocket.url"),
			Secret: viper.GetString("websocket.secret"),
		},
	}
}

// OTelConfig holds metrics export settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	MetricInterval time.Duration
}

// GetOTelConfig returns the metrics configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration
}

// GetMonitorConfig returns the monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Enabled:  viper.GetBool("monitor.enabled"),
		Interval: viper.GetDuration("monitor.interval"),
	}
}

// CommandConfig is one external trip generation step.
type CommandConfig struct {
	Name string   `json:"name" mapstructure:"name"`
	Path string   `json:"path" mapstructure:"path"`
	Args []string `json:"args" mapstructure:"args"`
	Dir  string   `json:"dir" mapstructure:"dir"`
}

// FleetConversionConfig configures the fleet composition converter.
type FleetConversionConfig struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	Input    string  `json:"input" mapstructure:"input"`
	Output   string  `json:"output" mapstructure:"output"`
	BusShare float64 `json:"busShare" mapstructure:"busShare"`
	EVShare  float64 `json:"evShare" mapstructure:"evShare"`
}

// UpstreamConfig lists the preprocessing steps run before the engine starts.
type UpstreamConfig struct {
	Commands        []CommandConfig       `json:"commands" mapstructure:"commands"`
	FleetConversion FleetConversionConfig `json:"fleetConversion" mapstructure:"fleetConversion"`
}

// GetUpstreamConfig returns the preprocessing configuration.
func GetUpstreamConfig() (UpstreamConfig, error) {
	all, err := decodeSections()
	if err != nil {
		return UpstreamConfig{}, err
	}
	return all.Upstream, nil
}

// GeoConfig describes the projection of engine coordinates.
type GeoConfig struct {
	EPSG    int
	OffsetX float64
	OffsetY float64
}

// GetGeoConfig returns the projection configuration.
func GetGeoConfig() GeoConfig {
	return GeoConfig{
		EPSG:    viper.GetInt("geo.epsg"),
		OffsetX: viper.GetFloat64("geo.offsetX"),
		OffsetY: viper.GetFloat64("geo.offsetY"),
	}
}
