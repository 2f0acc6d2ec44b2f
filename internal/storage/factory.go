// internal/storage/factory.go
package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fleetsim/fleetctl/internal/config"
	csvstorage "github.com/fleetsim/fleetctl/internal/storage/csv"
	influxstorage "github.com/fleetsim/fleetctl/internal/storage/influx"
	"github.com/fleetsim/fleetctl/internal/storage/memory"
	mongostorage "github.com/fleetsim/fleetctl/internal/storage/mongo"
	mqttstorage "github.com/fleetsim/fleetctl/internal/storage/mqtt"
	"github.com/fleetsim/fleetctl/internal/storage/postgres"
	sqlitestorage "github.com/fleetsim/fleetctl/internal/storage/sqlite"
	"github.com/fleetsim/fleetctl/internal/storage/websocket"
	"github.com/rs/zerolog"
)

// Loggers carries the loggers handed to the backends.
type Loggers struct {
	Slog *slog.Logger
	// Zerolog is used by the database and InfluxDB managers.
	Zerolog zerolog.Logger
}

// NewBackend creates the storage backend named typ.
func NewBackend(typ string, cfg config.StorageConfig, logs Loggers) (Backend, error) {
	log := logs.Slog
	if log == nil {
		log = slog.Default()
	}
	log = log.With("sink", typ)

	switch typ {
	case "csv":
		return csvstorage.New(cfg.CSV, log), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     cfg.SQLite.Path,
		}, log)
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Postgres:     cfg.Postgres,
			FallbackPath: filepath.Join(filepath.Dir(cfg.SQLite.Path), "postgres_fallback.db"),
			Logger:       log,
			DBLogger:     logs.Zerolog,
		}), nil
	case "influx":
		return influxstorage.New(cfg.Influx, logs.Zerolog), nil
	case "mongo":
		return mongostorage.New(cfg.Mongo, log), nil
	case "mqtt":
		return mqttstorage.New(cfg.MQTT, log), nil
	case "websocket":
		return websocket.New(websocket.Config{URL: cfg.WebSocket.URL, Secret: cfg.WebSocket.Secret}, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", typ)
	}
}

// NewBackends creates every backend listed in cfg.Types, in order.
func NewBackends(cfg config.StorageConfig, logs Loggers) (*Multi, error) {
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("no storage types configured")
	}
	seen := make(map[string]bool, len(cfg.Types))
	named := make([]Named, 0, len(cfg.Types))
	for _, typ := range cfg.Types {
		if seen[typ] {
			continue
		}
		seen[typ] = true
		b, err := NewBackend(typ, cfg, logs)
		if err != nil {
			return nil, err
		}
		named = append(named, Named{Name: typ, Backend: b})
	}
	return NewMulti(named...), nil
}
