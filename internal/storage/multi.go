package storage

import (
	"errors"
	"fmt"

	"github.com/fleetsim/fleetctl/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Named pairs a backend with the name it was configured under.
type Named struct {
	Name    string
	Backend Backend
}

// Multi fans every call out to several backends. Init and Close run in
// parallel; recording calls run in order and report every failure.
type Multi struct {
	backends []Named
}

var _ Backend = (*Multi)(nil)

func NewMulti(backends ...Named) *Multi {
	return &Multi{backends: backends}
}

// Names returns the backend names in order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.Name
	}
	return names
}

func (m *Multi) Init() error {
	var g errgroup.Group
	for _, b := range m.backends {
		g.Go(func() error {
			if err := b.Backend.Init(); err != nil {
				return fmt.Errorf("%s: %w", b.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close closes every backend, even when some fail.
func (m *Multi) Close() error {
	errs := make([]error, len(m.backends))
	var g errgroup.Group
	for i, b := range m.backends {
		g.Go(func() error {
			if err := b.Backend.Close(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", b.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// StartRun starts the run on each backend in order, so an ID assigned by
// an earlier backend is visible to later ones.
func (m *Multi) StartRun(run *core.Run) error {
	for _, b := range m.backends {
		if err := b.Backend.StartRun(run); err != nil {
			return fmt.Errorf("%s: %w", b.Name, err)
		}
	}
	return nil
}

func (m *Multi) EndRun(summary core.RunSummary) error {
	return m.each(func(b Backend) error { return b.EndRun(summary) })
}

func (m *Multi) AddVehicle(v core.Vehicle) error {
	return m.each(func(b Backend) error { return b.AddVehicle(v) })
}

func (m *Multi) RecordTelemetry(row core.TelemetryRow) error {
	return m.each(func(b Backend) error { return b.RecordTelemetry(row) })
}

func (m *Multi) RecordFacilityEvent(e core.FacilityEvent) error {
	return m.each(func(b Backend) error { return b.RecordFacilityEvent(e) })
}

func (m *Multi) RecordLifecycleEvent(e core.LifecycleEvent) error {
	return m.each(func(b Backend) error { return b.RecordLifecycleEvent(e) })
}

// QueueLengths merges the queue lengths of the buffering backends, keyed
// "<backend>.<queue>".
func (m *Multi) QueueLengths() map[string]int {
	out := make(map[string]int)
	for _, b := range m.backends {
		qr, ok := b.Backend.(QueueReporter)
		if !ok {
			continue
		}
		for k, v := range qr.QueueLengths() {
			out[b.Name+"."+k] = v
		}
	}
	return out
}

// ExportedFiles returns the artifacts written by exporting backends.
func (m *Multi) ExportedFiles() map[string]string {
	out := make(map[string]string)
	for _, b := range m.backends {
		if ex, ok := b.Backend.(Exporter); ok && ex.ExportedFilePath() != "" {
			out[b.Name] = ex.ExportedFilePath()
		}
	}
	return out
}

func (m *Multi) each(fn func(Backend) error) error {
	var errs []error
	for _, b := range m.backends {
		if err := fn(b.Backend); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	return errors.Join(errs...)
}
