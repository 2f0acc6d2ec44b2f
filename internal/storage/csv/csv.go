// Package csvstorage writes telemetry rows as flat CSV files, either one file
// per vehicle or a single shared file.
package csvstorage

import (
	"bufio"
	"container/list"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/internal/util"
	"github.com/fleetsim/fleetctl/pkg/core"
)

// SharedFileName is the file used by the shared layout.
const SharedFileName = "vehicles.csv"

// Header is the first line of every telemetry file.
var Header = []string{
	"== ID ==",
	"== Velocity (Kh/h) ==",
	"== Atual route ==",
	"== Distance traveled(m) ==",
	"== Destination ==",
	"== Distance from destination(m) ==",
	"== TYPE ==",
	"== Batery level(%) ==",
	"== timestamp ==",
}

// Record formats row as one CSV record.
func Record(row core.TelemetryRow) []string {
	return []string{
		row.VehicleID,
		util.FormatDecimal1(row.SpeedKmh),
		row.Road,
		util.FormatDecimal1(row.Distance),
		row.Destination,
		util.FormatDecimal1(row.DistanceRemaining),
		row.Class,
		util.FormatDecimal1(row.SoC),
		util.FormatDecimal1(row.Time),
	}
}

// WriteRows writes the header and rows to w.
func WriteRows(w io.Writer, rows []core.TelemetryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(Record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DefaultMaxOpen bounds the per-vehicle files kept open between rows.
const DefaultMaxOpen = 64

type file struct {
	id string
	f  *os.File
	bw *bufio.Writer
	cw *csv.Writer
}

func newFile(id string, f *os.File) *file {
	bw := bufio.NewWriter(f)
	return &file{id: id, f: f, bw: bw, cw: csv.NewWriter(bw)}
}

// createFile truncates path and writes the header.
func createFile(id, path string) (*file, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	out := newFile(id, f)
	if err := out.cw.Write(Header); err != nil {
		f.Close()
		return nil, err
	}
	return out, nil
}

// appendFile reopens an existing file for appending.
func appendFile(id, path string) (*file, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return newFile(id, f), nil
}

func (f *file) flush() error {
	f.cw.Flush()
	if err := f.cw.Error(); err != nil {
		return err
	}
	return f.bw.Flush()
}

func (f *file) close() error {
	return errors.Join(f.flush(), f.f.Close())
}

// Backend implements storage.Backend with CSV files. In the per-vehicle
// layout at most maxOpen files are open at once; the least recently
// written one is closed to make room.
type Backend struct {
	cfg     config.CSVConfig
	log     *slog.Logger
	maxOpen int

	mu      sync.Mutex
	created map[string]struct{}
	open    map[string]*list.Element
	lru     *list.List
	shared  *file
}

// New creates a CSV backend.
func New(cfg config.CSVConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Layout == "" {
		cfg.Layout = config.LayoutPerVehicle
	}
	return &Backend{
		cfg:     cfg,
		log:     logger,
		maxOpen: DefaultMaxOpen,
		created: make(map[string]struct{}),
		open:    make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Init prepares the output directory. The per-vehicle layout removes the
// files a previous run left behind.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if b.cfg.Layout == config.LayoutShared {
		f, err := createFile("", filepath.Join(b.cfg.OutputDir, SharedFileName))
		if err != nil {
			return fmt.Errorf("create shared file: %w", err)
		}
		b.shared = f
		return nil
	}

	entries, err := os.ReadDir(b.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(b.cfg.OutputDir, e.Name())); err != nil {
			return fmt.Errorf("clear output dir: %w", err)
		}
	}
	return nil
}

func (b *Backend) StartRun(run *core.Run) error {
	b.log.Info("Writing CSV telemetry", "dir", b.cfg.OutputDir, "layout", b.cfg.Layout)
	return nil
}

// AddVehicle writes the header file of a scheduled vehicle and closes it.
func (b *Backend) AddVehicle(v core.Vehicle) error {
	if b.shared != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.created[v.ID]; ok {
		return nil
	}
	f, err := createFile(v.ID, b.path(v.ID))
	if err != nil {
		return fmt.Errorf("create file for %s: %w", v.ID, err)
	}
	if err := f.close(); err != nil {
		return fmt.Errorf("write header for %s: %w", v.ID, err)
	}
	b.created[v.ID] = struct{}{}
	return nil
}

func (b *Backend) path(id string) string {
	return filepath.Join(b.cfg.OutputDir, id+".csv")
}

// vehicleFile returns an open handle for id, evicting the least recently
// used handle when the limit is reached.
func (b *Backend) vehicleFile(id string) (*file, error) {
	if el, ok := b.open[id]; ok {
		b.lru.MoveToFront(el)
		return el.Value.(*file), nil
	}
	for b.lru.Len() >= b.maxOpen {
		if err := b.evict(b.lru.Back()); err != nil {
			return nil, err
		}
	}

	var (
		f   *file
		err error
	)
	if _, ok := b.created[id]; ok {
		f, err = appendFile(id, b.path(id))
	} else {
		f, err = createFile(id, b.path(id))
	}
	if err != nil {
		return nil, fmt.Errorf("open file for %s: %w", id, err)
	}
	b.created[id] = struct{}{}
	b.open[id] = b.lru.PushFront(f)
	return f, nil
}

func (b *Backend) evict(el *list.Element) error {
	f := b.lru.Remove(el).(*file)
	delete(b.open, f.id)
	if err := f.close(); err != nil {
		return fmt.Errorf("close file for %s: %w", f.id, err)
	}
	return nil
}

// OpenFiles returns the number of per-vehicle files currently open.
func (b *Backend) OpenFiles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len()
}

func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.shared
	if f == nil {
		var err error
		if f, err = b.vehicleFile(row.VehicleID); err != nil {
			return err
		}
	}
	return f.cw.Write(Record(row))
}

// RecordFacilityEvent is a no-op; the flat layout only carries telemetry.
func (b *Backend) RecordFacilityEvent(core.FacilityEvent) error { return nil }

// RecordLifecycleEvent is a no-op; the flat layout only carries telemetry.
func (b *Backend) RecordLifecycleEvent(core.LifecycleEvent) error { return nil }

// EndRun flushes every file.
func (b *Backend) EndRun(core.RunSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.shared != nil {
		errs = append(errs, b.shared.flush())
	}
	for el := b.lru.Front(); el != nil; el = el.Next() {
		errs = append(errs, el.Value.(*file).flush())
	}
	return errors.Join(errs...)
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.shared != nil {
		errs = append(errs, b.shared.close())
		b.shared = nil
	}
	for b.lru.Len() > 0 {
		errs = append(errs, b.evict(b.lru.Back()))
	}
	return errors.Join(errs...)
}
