// Command fleetctl drives a managed vehicle fleet through a SUMO simulation
// and records its telemetry.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "fleetctl"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager = logging.NewSlogManager()

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = SlogManager.Logger()

	SessionStartTime time.Time = time.Now()
)

const usage = `usage: fleetctl <command> [flags]

commands:
  run              run the fleet controller (default)
  convert-fleet    rewrite random vehicle types of a route file
  export           write a stored run as CSV
  migrate-backups  copy runs from SQLite backups into Postgres
  version          print the version
`

func main() {
	args := os.Args[1:]
	command := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = strings.ToLower(args[0])
		args = args[1:]
	}

	var err error
	switch command {
	case "run":
		err = runCommand(args)
	case "convert-fleet":
		err = convertFleetCommand(args)
	case "export":
		err = exportCommand(args)
	case "migrate-backups":
		err = migrateBackupsCommand(args)
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
	if err != nil {
		Logger.Error("Command failed", "command", command, "error", err)
		SlogManager.Close()
		os.Exit(1)
	}
	SlogManager.Close()
}

// loadConfig parses the command flags, reads the configuration directory
// and applies explicitly set flags on top.
func loadConfig(fs *pflag.FlagSet, args []string) error {
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.Load(*configDir); err != nil {
		if !config.IsNotFound(err) {
			return err
		}
		Logger.Warn("Failed to load config, using defaults!", "dir", *configDir)
	} else {
		Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}
	return config.BindFlags(fs)
}
