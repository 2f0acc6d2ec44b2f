package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fleetsim/fleetctl/pkg/traci"
)

// LaunchConfig describes how to start and reach the engine.
type LaunchConfig struct {
	Binary          string
	Launch          bool
	Host            string
	Port            int
	NetFile         string
	RouteFiles      []string
	AdditionalFiles []string
	StepLength      float64
	Seed            int64
	StatisticOutput string
	TripinfoOutput  string
	ExtraArgs       []string

	DialAttempts int
	DialBackoff  time.Duration

	// Output receives the engine process stdout and stderr.
	Output io.Writer
}

// Args returns the engine command line for c.
func (c LaunchConfig) Args() []string {
	args := []string{
		"--remote-port", strconv.Itoa(c.Port),
		"--net-file", c.NetFile,
	}
	if len(c.RouteFiles) > 0 {
		args = append(args, "--route-files", strings.Join(c.RouteFiles, ","))
	}
	if len(c.AdditionalFiles) > 0 {
		args = append(args, "--additional-files", strings.Join(c.AdditionalFiles, ","))
	}
	if c.StepLength > 0 {
		args = append(args, "--step-length", strconv.FormatFloat(c.StepLength, 'f', -1, 64))
	}
	if c.Seed != 0 {
		args = append(args, "--seed", strconv.FormatInt(c.Seed, 10))
	}
	if c.StatisticOutput != "" {
		args = append(args, "--statistic-output", c.StatisticOutput, "--duration-log.statistics", "true")
	}
	if c.TripinfoOutput != "" {
		args = append(args, "--tripinfo-output", c.TripinfoOutput)
	}
	args = append(args, "--quit-on-end")
	return append(args, c.ExtraArgs...)
}

// Address returns host:port of the TraCI server.
func (c LaunchConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session is a connected engine, optionally backed by a child process.
type Session struct {
	*TraCI

	cmd     *exec.Cmd
	version string
	logger  *slog.Logger
}

// Version returns the engine identifier reported at connect time.
func (s *Session) Version() string {
	return s.version
}

// Close ends the TraCI session and waits for the engine process to exit.
func (s *Session) Close() error {
	err := s.TraCI.Close()
	if s.cmd == nil || s.cmd.Process == nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case waitErr := <-done:
		if waitErr != nil {
			s.logger.Warn("Engine process exited with error", "error", waitErr)
		}
	case <-time.After(10 * time.Second):
		s.logger.Warn("Engine process did not exit, killing it")
		_ = s.cmd.Process.Kill()
	}
	return err
}

// Start launches the engine when configured to and connects to it.
func Start(ctx context.Context, cfg LaunchConfig, logger *slog.Logger) (*Session, error) {
	s := &Session{logger: logger}

	if cfg.Launch {
		s.cmd = exec.CommandContext(ctx, cfg.Binary, cfg.Args()...)
		if cfg.Output != nil {
			s.cmd.Stdout = cfg.Output
			s.cmd.Stderr = cfg.Output
		}
		logger.Info("Starting engine", "binary", cfg.Binary, "args", strings.Join(cfg.Args(), " "))
		if err := s.cmd.Start(); err != nil {
			return nil, fmt.Errorf("start engine %s: %w", cfg.Binary, err)
		}
	}

	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		return nil, err
	}

	api, name, err := conn.GetVersion()
	if err != nil {
		_ = conn.Close()
		return nil, wrap("version", "", err)
	}
	s.version = name
	s.TraCI = NewTraCI(conn)
	logger.Info("Connected to engine", "address", cfg.Address(), "api", api, "version", name)
	return s, nil
}

func dialWithRetry(ctx context.Context, cfg LaunchConfig, logger *slog.Logger) (*traci.Conn, error) {
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := traci.Dial(ctx, cfg.Address())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug("Engine not reachable yet", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-time.After(cfg.DialBackoff):
		}
	}
	return nil, fmt.Errorf("connect to engine at %s after %d attempts: %w", cfg.Address(), attempts, lastErr)
}
