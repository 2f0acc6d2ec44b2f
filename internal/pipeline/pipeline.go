// Package pipeline runs the controller passes of a tick in a fixed order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Tick is the per-tick view shared by all passes.
type Tick struct {
	Now float64
	// Present lists the vehicles in the simulation at the start of the tick.
	Present []string
	present map[string]struct{}
}

// NewTick builds a tick view.
func NewTick(now float64, present []string) *Tick {
	set := make(map[string]struct{}, len(present))
	for _, id := range present {
		set[id] = struct{}{}
	}
	return &Tick{Now: now, Present: present, present: set}
}

// IsPresent reports whether vehID was in the simulation at tick start.
func (t *Tick) IsPresent(vehID string) bool {
	_, ok := t.present[vehID]
	return ok
}

// PassFunc executes one pass.
type PassFunc func(ctx context.Context, t *Tick) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures pass registration.
type Option func(*config)

type config struct {
	logged bool
	every  int
}

// Logged adds debug logging around the pass.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Every runs the pass only on every n-th tick.
func Every(n int) Option {
	return func(c *config) {
		c.every = n
	}
}

type pass struct {
	name string
	fn   PassFunc
	cfg  config
	attr attribute.KeyValue
}

// Pipeline runs registered passes in registration order.
type Pipeline struct {
	passes   []pass
	logger   Logger
	tolerate func(error) bool
	ticks    int

	runs     metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a pipeline. Errors for which tolerate returns true are
// logged and counted but do not stop the tick.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger, tolerate func(error) bool) (*Pipeline, error) {
	p := &Pipeline{logger: logger, tolerate: tolerate}
	m := meter()

	var err error
	p.runs, err = m.Int64Counter(
		"fleetctl.pass.runs",
		metric.WithDescription("Total pass executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	p.errors, err = m.Int64Counter(
		"fleetctl.pass.errors",
		metric.WithDescription("Total pass errors, tolerated or not"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}

	p.duration, err = m.Float64Histogram(
		"fleetctl.pass.duration",
		metric.WithDescription("Pass execution time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return p, nil
}

// Register appends a pass. Names must be unique.
func (p *Pipeline) Register(name string, fn PassFunc, opts ...Option) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	for _, existing := range p.passes {
		if existing.name == name {
			panic(fmt.Sprintf("pipeline: pass %q registered twice", name))
		}
	}
	p.passes = append(p.passes, pass{name: name, fn: fn, cfg: cfg, attr: attribute.String("pass", name)})
}

// Names returns the pass names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.passes))
	for i, ps := range p.passes {
		names[i] = ps.name
	}
	return names
}

// Run executes all passes for one tick. The first intolerable error stops
// the tick and is returned wrapped with the pass name.
func (p *Pipeline) Run(ctx context.Context, t *Tick) error {
	defer func() { p.ticks++ }()
	for _, ps := range p.passes {
		if ps.cfg.every > 1 && p.ticks%ps.cfg.every != 0 {
			continue
		}
		if err := p.runPass(ctx, ps, t); err != nil {
			return fmt.Errorf("pass %s: %w", ps.name, err)
		}
	}
	return nil
}

func (p *Pipeline) runPass(ctx context.Context, ps pass, t *Tick) error {
	start := time.Now()
	if ps.cfg.logged {
		p.logger.Debug("running pass", "pass", ps.name, "now", t.Now, "present", len(t.Present))
	}

	err := ps.fn(ctx, t)

	elapsed := time.Since(start)
	p.runs.Add(ctx, 1, metric.WithAttributes(ps.attr))
	p.duration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(ps.attr))

	if err == nil {
		if ps.cfg.logged {
			p.logger.Debug("pass complete", "pass", ps.name, "duration", elapsed)
		}
		return nil
	}

	p.errors.Add(ctx, 1, metric.WithAttributes(ps.attr))
	if p.tolerate != nil && p.tolerate(err) {
		p.logger.Info("pass error tolerated", "pass", ps.name, "error", err)
		return nil
	}
	p.logger.Error("pass failed", "pass", ps.name, "duration", elapsed, "error", err)
	return err
}
