package controller

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fleetsim/fleetctl/internal/controller"

type metrics struct {
	spawned  metric.Int64Counter
	skipped  metric.Int64Counter
	diverted metric.Int64Counter
	returned metric.Int64Counter
	rows     metric.Int64Counter

	// pending mirrors the pending-return count; the gauge callback runs on
	// the exporter goroutine.
	pending atomic.Int64
	reg     metric.Registration
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&out.spawned, "fleetctl.vehicles.spawned", "Fleet vehicles instantiated"},
		{&out.skipped, "fleetctl.vehicles.skipped", "Fleet vehicles that could not be instantiated"},
		{&out.diverted, "fleetctl.vehicles.diverted", "Charging diversions issued"},
		{&out.returned, "fleetctl.vehicles.returned", "Vehicles rerouted home after charging"},
		{&out.rows, "fleetctl.telemetry.rows", "Telemetry rows recorded"},
	}
	for _, c := range counters {
		ctr, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
		*c.dst = ctr
	}

	gauge, err := m.Int64ObservableGauge(
		"fleetctl.pending_returns",
		metric.WithDescription("Vehicles diverted to charge and not yet sent home"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pending gauge: %w", err)
	}
	out.reg, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, out.pending.Load())
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("registering pending gauge: %w", err)
	}
	return out, nil
}

func (m *metrics) close() {
	if m.reg != nil {
		_ = m.reg.Unregister()
	}
}
