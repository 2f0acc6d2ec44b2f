package scenario

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/fleetsim/fleetctl/pkg/core"
)

// Context holds the current run and the simulation clock. The controller
// writes it; loggers, the monitor and sinks read it from other goroutines.
type Context struct {
	mu  sync.RWMutex
	Run *core.Run

	tick atomic.Uint64
}

// NewContext creates a new Context with a placeholder run.
func NewContext() *Context {
	return &Context{Run: &core.Run{Name: "No run started"}}
}

// GetRun returns the current run.
func (c *Context) GetRun() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Run
}

// SetRun sets the current run and resets the clock.
func (c *Context) SetRun(run *core.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Run = run
	c.tick.Store(0)
}

// SetTime records the current simulation time in seconds.
func (c *Context) SetTime(t float64) {
	c.tick.Store(math.Float64bits(t))
}

// Time returns the last recorded simulation time.
func (c *Context) Time() float64 {
	return math.Float64frombits(c.tick.Load())
}

// LogAttrs returns the run name and simulation time for log records.
func (c *Context) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("run", c.GetRun().Name),
		slog.Float64("t", c.Time()),
	}
}
