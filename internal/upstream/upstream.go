// Package upstream runs the trip generation steps that prepare the route
// files before the engine starts.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os/exec"
	"sync"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/fleetconv"
)

// ErrGenerationFailed wraps every failure of an upstream step.
var ErrGenerationFailed = errors.New("upstream generation failed")

// Runner executes upstream steps in order.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner logging step output to logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run executes the configured commands in order, then the fleet conversion
// when enabled. The first failure stops the sequence.
func (r *Runner) Run(ctx context.Context, cfg config.UpstreamConfig, rng *rand.Rand) error {
	for _, c := range cfg.Commands {
		if err := r.RunCommand(ctx, c); err != nil {
			return err
		}
	}

	fc := cfg.FleetConversion
	if !fc.Enabled {
		return nil
	}
	res, err := fleetconv.ConvertFile(fc.Input, fc.Output, fleetconv.Options{BusShare: fc.BusShare, EVShare: fc.EVShare}, rng)
	if err != nil {
		return fmt.Errorf("%w: fleet conversion: %w", ErrGenerationFailed, err)
	}
	r.logger.Info("Fleet conversion finished",
		"input", fc.Input,
		"output", fc.Output,
		"vehicles", res.Vehicles,
		"electricBuses", res.ElectricBuses,
		"eVehicles", res.EVehicles,
	)
	return nil
}

// RunCommand executes one step and waits for it. Output lines are logged at
// debug level.
func (r *Runner) RunCommand(ctx context.Context, c config.CommandConfig) error {
	name := c.Name
	if name == "" {
		name = c.Path
	}
	if c.Path == "" {
		return fmt.Errorf("%w: %s: no command path", ErrGenerationFailed, name)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			r.logger.Debug(sc.Text(), "step", name)
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	r.logger.Info("Running upstream step", "step", name, "path", c.Path, "args", c.Args)
	err := cmd.Run()
	pw.Close()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGenerationFailed, name, err)
	}
	r.logger.Info("Upstream step finished", "step", name)
	return nil
}
