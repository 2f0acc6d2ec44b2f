package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetsim/fleetctl/internal/controller"
)

// StatusFileName is the file rewritten on every monitor tick.
const StatusFileName = "status.txt"

// StatusSource reports the controller state.
type StatusSource interface {
	Status() controller.Status
}

// QueueReporter reports pending write queue lengths of the storage sinks.
type QueueReporter interface {
	QueueLengths() map[string]int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Controller StatusSource
	Queues     QueueReporter
	Logger     *slog.Logger
	// Dir receives status.txt.
	Dir      string
	Interval time.Duration
}

// Snapshot is one status report.
type Snapshot struct {
	Time           time.Time      `json:"time"`
	Tick           float64        `json:"tick"`
	States         map[string]int `json:"states"`
	PendingReturns int64          `json:"pendingReturns"`
	WriteQueues    map[string]int `json:"writeQueues,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot collects the current status.
func (s *Service) Snapshot() Snapshot {
	st := s.deps.Controller.Status()
	states := make(map[string]int, len(st.Counts))
	for state, n := range st.Counts {
		states[state.String()] = n
	}
	snap := Snapshot{
		Time:           time.Now(),
		Tick:           st.Tick,
		States:         states,
		PendingReturns: st.PendingReturns,
	}
	if s.deps.Queues != nil {
		snap.WriteQueues = s.deps.Queues.QueueLengths()
	}
	return snap
}

// WriteStatus rewrites the status file with the current snapshot.
func (s *Service) WriteStatus() error {
	snap := s.Snapshot()
	s.deps.Logger.Debug("Status",
		"tick", snap.Tick,
		"states", snap.States,
		"pendingReturns", snap.PendingReturns,
		"writeQueues", snap.WriteQueues,
	)
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	out = append(out, '\n')
	path := filepath.Join(s.deps.Dir, StatusFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(s.deps.Dir, 0755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create status dir: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor after a final status write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	done := s.done
	s.mu.Unlock()
	<-done
}
