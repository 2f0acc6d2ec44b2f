package main

import (
	"fmt"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/storage"
	"github.com/rs/zerolog"
)

func initStorage(zlog zerolog.Logger) (*storage.Multi, error) {
	storageCfg := config.GetStorageConfig()

	backends, err := storage.NewBackends(storageCfg, storage.Loggers{Slog: Logger, Zerolog: zlog})
	if err != nil {
		Logger.Error("Failed to create storage backends", "error", err)
		return nil, err
	}
	if err := backends.Init(); err != nil {
		Logger.Error("Failed to initialize storage backends", "error", err)
		// release whatever did come up
		_ = backends.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	Logger.Info("Storage initialized", "sinks", backends.Names())
	return backends, nil
}
