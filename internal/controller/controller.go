// Package controller owns the tick loop of a fleet run: it releases
// scheduled vehicles, evaluates batteries, reroutes charged vehicles home,
// records telemetry and fires the injector, then steps the engine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fleetsim/fleetctl/internal/battery"
	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/facility"
	"github.com/fleetsim/fleetctl/internal/fleet"
	"github.com/fleetsim/fleetctl/internal/injector"
	"github.com/fleetsim/fleetctl/internal/pipeline"
	"github.com/fleetsim/fleetctl/internal/routing"
	"github.com/fleetsim/fleetctl/internal/scenario"
	"github.com/fleetsim/fleetctl/internal/schedule"
	"github.com/fleetsim/fleetctl/internal/telemetry"
	"github.com/fleetsim/fleetctl/pkg/core"
)

// Stop reasons reported in the run summary.
const (
	StopHorizon     = "horizon"
	StopDrained     = "drained"
	StopInterrupted = "interrupted"
	StopFatal       = "fatal"
)

// Sink receives everything the controller records.
type Sink interface {
	AddVehicle(v core.Vehicle) error
	RecordTelemetry(row core.TelemetryRow) error
	RecordFacilityEvent(ev core.FacilityEvent) error
	RecordLifecycleEvent(ev core.LifecycleEvent) error
}

// Options holds the optional collaborators of a controller.
type Options struct {
	// PassLogger receives pipeline logging; defaults to the slog logger.
	PassLogger pipeline.Logger
	// Context is updated with the current tick.
	Context *scenario.Context
	// Projector adds geographic positions to telemetry rows.
	Projector telemetry.Projector
}

// Controller runs one scenario against an engine. It is single threaded;
// only Status may be called from other goroutines.
type Controller struct {
	eng    engine.Engine
	sc     config.Scenario
	sink   Sink
	logger *slog.Logger
	runCtx *scenario.Context
	rng    *rand.Rand

	registry *fleet.Registry
	sched    *schedule.Scheduler
	builder  *routing.Builder
	index    *facility.Index
	assigner *facility.Assigner
	battery  *battery.Controller
	recorder *telemetry.Recorder
	injector *injector.Injector
	pipeline *pipeline.Pipeline
	metrics  *metrics

	// seen holds managed vehicles observed in the engine at least once.
	seen    map[string]struct{}
	summary core.RunSummary
}

// New builds a controller for sc. The scenario seed must already be fixed:
// the same seed against the same engine state reproduces the same run.
func New(eng engine.Engine, sc config.Scenario, sink Sink, logger *slog.Logger, opts Options) (*Controller, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	roster, err := fleet.NewRoster(sc.Classes)
	if err != nil {
		return nil, err
	}
	ramp, err := telemetry.NewRamp(sc.Telemetry.ColorThresholds, sc.Telemetry.Colors)
	if err != nil {
		return nil, err
	}

	seed := uint64(sc.Seed)
	rng := rand.New(rand.NewPCG(seed, seed))

	c := &Controller{
		eng:      eng,
		sc:       sc,
		sink:     sink,
		logger:   logger,
		runCtx:   opts.Context,
		rng:      rng,
		registry: fleet.NewRegistry(),
		index:    facility.NewIndex(eng),
		seen:     make(map[string]struct{}),
	}
	if c.runCtx == nil {
		c.runCtx = scenario.NewContext()
	}

	c.builder = routing.NewBuilder(eng, sc.RestrictedClasses, sc.MaxRouteAttempts, rng, logger)
	c.assigner = facility.NewAssigner(eng, c.index, sc.TransitClasses, sc.StopDuration, sc.Telemetry.MarkStops, rng, logger)
	c.battery = battery.NewController(eng, c.index, battery.Config{
		Threshold:      sc.Battery.Threshold,
		ChargeDuration: sc.Battery.ChargeDuration,
		SampleInterval: sc.Battery.SampleInterval,
	}, rng, logger)

	var recOpts []telemetry.Option
	if sc.Telemetry.MarkStops {
		recOpts = append(recOpts, telemetry.WithoutColors())
	}
	if opts.Projector != nil {
		recOpts = append(recOpts, telemetry.WithProjector(opts.Projector))
	}
	c.recorder = telemetry.NewRecorder(eng, ramp, sink, logger, recOpts...)

	ids := sc.VehicleIDs()
	c.sched = schedule.New(ids, sc.Horizon, rng)
	for _, id := range ids {
		tick, _ := c.sched.TickOf(id)
		rec := fleet.Record{ID: id, Class: roster.Pick(rng), SpawnTick: tick}
		if err := c.registry.Add(rec); err != nil {
			return nil, err
		}
	}

	c.injector = injector.New(eng, c.index, c.battery, sc.Injector, sc.Telemetry.MarkStops,
		sc.Horizon, c.registry.Managed, rng, logger)

	c.metrics, err = newMetrics()
	if err != nil {
		return nil, err
	}

	passLogger := opts.PassLogger
	if passLogger == nil {
		passLogger = slogPassLogger{logger}
	}
	c.pipeline, err = pipeline.New(passLogger, engine.IsTransient)
	if err != nil {
		return nil, err
	}
	c.pipeline.Register("spawn", c.spawnPass, pipeline.Logged())
	c.pipeline.Register("battery", c.batteryPass, pipeline.Logged())
	c.pipeline.Register("returns", c.returnsPass, pipeline.Logged())
	c.pipeline.Register("telemetry", c.telemetryPass, pipeline.Logged())
	c.pipeline.Register("injector", c.injectorPass, pipeline.Logged())

	return c, nil
}

// Registry exposes the fleet records.
func (c *Controller) Registry() *fleet.Registry {
	return c.registry
}

// Announce hands every scheduled vehicle to the sink, before the first tick.
func (c *Controller) Announce() error {
	for _, id := range c.registry.IDs() {
		rec, _ := c.registry.Get(id)
		if err := c.sink.AddVehicle(core.Vehicle{ID: rec.ID, Class: rec.Class, SpawnTick: rec.SpawnTick}); err != nil {
			return fmt.Errorf("announcing %s: %w", id, err)
		}
		detail := fmt.Sprintf("class=%s tick=%d", rec.Class, rec.SpawnTick)
		if err := c.lifecycle(float64(rec.SpawnTick), id, core.LifecycleScheduled, detail); err != nil {
			return err
		}
	}
	c.logger.Info("Fleet scheduled", "vehicles", c.registry.Len(), "injectorTick", c.injector.KeyTick())
	return nil
}

// Run drives the tick loop until the horizon is reached, the engine has
// drained and nothing is left to schedule, ctx is cancelled or a fatal
// error occurs. The summary is valid in every case.
func (c *Controller) Run(ctx context.Context) (core.RunSummary, error) {
	defer c.metrics.close()

	err := c.loop(ctx)
	c.summary.EndTime = time.Now()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.summary.StopReason = StopInterrupted
	default:
		c.summary.StopReason = StopFatal
		c.summary.FatalReason = err.Error()
	}
	c.logger.Info("Run finished",
		"reason", c.summary.StopReason,
		"tick", c.summary.FinalTick,
		"spawned", c.summary.Spawned,
		"skipped", c.summary.Skipped,
		"diverted", c.summary.Diverted,
		"returned", c.summary.Returned,
		"rows", c.summary.TelemetryN)
	return c.summary, err
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now, err := c.eng.Time()
		if err != nil {
			return fmt.Errorf("reading simulation time: %w", err)
		}
		c.runCtx.SetTime(now)
		c.summary.FinalTick = now

		if now >= float64(c.sc.Horizon) {
			c.summary.StopReason = StopHorizon
			return nil
		}

		present, err := c.eng.VehicleIDs()
		if err != nil {
			return fmt.Errorf("listing vehicles: %w", err)
		}
		tick := pipeline.NewTick(now, present)
		if err := c.terminateVanished(tick); err != nil {
			return err
		}

		if c.sched.Empty() {
			expected, err := c.eng.MinExpected()
			if err != nil {
				return fmt.Errorf("reading expected vehicles: %w", err)
			}
			if expected == 0 {
				c.summary.StopReason = StopDrained
				return nil
			}
		}

		if err := c.pipeline.Run(ctx, tick); err != nil {
			return fmt.Errorf("tick %g: %w", now, err)
		}
		c.metrics.pending.Store(int64(c.battery.PendingCount()))

		if err := c.eng.Step(); err != nil {
			return fmt.Errorf("stepping engine: %w", err)
		}
	}
}

// terminateVanished retires managed vehicles that were seen in the engine
// and are gone now.
func (c *Controller) terminateVanished(t *pipeline.Tick) error {
	for _, id := range t.Present {
		if c.registry.Managed(id) {
			c.seen[id] = struct{}{}
		}
	}
	for _, id := range c.registry.InState(fleet.Active, fleet.Diverted, fleet.Returned) {
		if _, ok := c.seen[id]; !ok || t.IsPresent(id) {
			continue
		}
		if err := c.registry.Transition(id, fleet.Terminated); err != nil {
			return err
		}
		delete(c.seen, id)
		c.battery.Forget(id)
		c.recorder.Untrack(id)
		if err := c.lifecycle(t.Now, id, core.LifecycleTerminated, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) spawnPass(ctx context.Context, t *pipeline.Tick) error {
	for _, id := range c.sched.Due(t.Now) {
		rec, _ := c.registry.Get(id)
		route, err := c.builder.Build(id, rec.Class, t.Now)
		if err != nil {
			if !errors.Is(err, routing.ErrRouteExhausted) && !engine.IsTransient(err) {
				return err
			}
			if err := c.skip(ctx, t.Now, id, err); err != nil {
				return err
			}
			continue
		}

		if err := c.registry.Activate(id, rec.Class, route.ID, route.Destination()); err != nil {
			return err
		}
		c.recorder.Track(id)
		c.battery.Track(id)
		c.summary.Spawned++
		c.metrics.spawned.Add(ctx, 1)

		if c.sc.Telemetry.MarkStops {
			if err := c.eng.SetColor(id, facility.ColorSpawned); err != nil && !engine.IsTransient(err) {
				return err
			}
		}
		stop, stopped, err := c.assigner.Assign(id, rec.Class, route.Edges)
		if err != nil && !engine.IsTransient(err) {
			return err
		}

		detail := "route=" + route.ID
		if stopped {
			detail += fmt.Sprintf(" stop=%s:%s", stop.Kind, stop.ID)
		}
		c.logger.Debug("Vehicle spawned", "vehicle", id, "class", rec.Class, "route", route.ID, "edges", len(route.Edges))
		if err := c.lifecycle(t.Now, id, core.LifecycleSpawned, detail); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) skip(ctx context.Context, now float64, id string, cause error) error {
	if err := c.registry.Transition(id, fleet.Skipped); err != nil {
		return err
	}
	c.summary.Skipped++
	c.metrics.skipped.Add(ctx, 1)
	c.logger.Warn("Vehicle skipped", "vehicle", id, "error", cause)
	return c.lifecycle(now, id, core.LifecycleSkipped, cause.Error())
}

func (c *Controller) batteryPass(ctx context.Context, t *pipeline.Tick) error {
	samples, err := c.battery.SampleTick(int(t.Now), t.IsPresent)
	for _, s := range samples {
		if s.Diversion == nil {
			continue
		}
		if terr := c.registry.Transition(s.VehicleID, fleet.Diverted); terr != nil {
			c.logger.Warn("Unexpected diversion", "vehicle", s.VehicleID, "error", terr)
		}
		c.summary.Diverted++
		c.metrics.diverted.Add(ctx, 1)
		c.logger.Info("Vehicle diverted to charge",
			"vehicle", s.VehicleID, "soc", s.Reading.SoC, "station", s.Diversion.Station)
		detail := fmt.Sprintf("station=%s soc=%.1f", s.Diversion.Station, s.Diversion.SoC)
		if lerr := c.lifecycle(t.Now, s.VehicleID, core.LifecycleDiverted, detail); lerr != nil {
			return lerr
		}
	}
	return err
}

func (c *Controller) returnsPass(ctx context.Context, t *pipeline.Tick) error {
	returns, err := c.battery.ProcessReturns(t.IsPresent)
	for _, r := range returns {
		if terr := c.registry.Transition(r.VehicleID, fleet.Returned); terr != nil {
			c.logger.Warn("Unexpected return", "vehicle", r.VehicleID, "error", terr)
		}
		c.summary.Returned++
		c.metrics.returned.Add(ctx, 1)
		if c.sc.Telemetry.MarkStops {
			if cerr := c.eng.SetColor(r.VehicleID, facility.ColorReturned); cerr != nil && !engine.IsTransient(cerr) {
				return cerr
			}
		}
		if lerr := c.lifecycle(t.Now, r.VehicleID, core.LifecycleReturned, "destination="+r.Destination); lerr != nil {
			return lerr
		}
	}
	return err
}

func (c *Controller) telemetryPass(ctx context.Context, t *pipeline.Tick) error {
	n, err := c.recorder.Sample(t.Now, t.IsPresent)
	c.summary.TelemetryN += n
	c.metrics.rows.Add(ctx, int64(n))
	if err != nil {
		return err
	}

	observations, err := c.recorder.ScanOccupancy(t.Now)
	for _, o := range observations {
		if o.Kind != engine.ChargingStation || !c.battery.MarkCharged(o.VehicleID, o.FacilityID) {
			continue
		}
		if lerr := c.lifecycle(t.Now, o.VehicleID, core.LifecycleCharged, "station="+o.FacilityID); lerr != nil {
			return lerr
		}
	}
	return err
}

func (c *Controller) injectorPass(_ context.Context, t *pipeline.Tick) error {
	res, err := c.injector.Tick(t.Now, t.Present, t.IsPresent)
	for _, p := range res.Parked {
		if lerr := c.lifecycle(t.Now, p.VehicleID, core.LifecycleParked, "area="+p.Area); lerr != nil {
			return lerr
		}
	}
	for _, s := range res.Demand {
		if s.Diversion == nil {
			continue
		}
		if lerr := c.lifecycle(t.Now, s.VehicleID, core.LifecycleDemandDiverted, "station="+s.Diversion.Station); lerr != nil {
			return lerr
		}
	}
	if res.Fired {
		c.logger.Info("Injector results", "parked", len(res.Parked), "demandSampled", len(res.Demand))
	}
	return err
}

func (c *Controller) lifecycle(now float64, id string, kind core.LifecycleKind, detail string) error {
	ev := core.LifecycleEvent{Time: now, VehicleID: id, Kind: kind, Detail: detail}
	if err := c.sink.RecordLifecycleEvent(ev); err != nil {
		return fmt.Errorf("recording %s event of %s: %w", kind, id, err)
	}
	return nil
}

// Status is a point-in-time view for the monitor.
type Status struct {
	Tick           float64
	Counts         map[fleet.State]int
	PendingReturns int64
}

// Status may be called concurrently with Run.
func (c *Controller) Status() Status {
	return Status{
		Tick:           c.runCtx.Time(),
		Counts:         c.registry.Counts(),
		PendingReturns: c.metrics.pending.Load(),
	}
}

type slogPassLogger struct {
	logger *slog.Logger
}

func (l slogPassLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l slogPassLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, kv...) }
func (l slogPassLogger) Error(msg string, kv ...any) { l.logger.Error(msg, kv...) }
