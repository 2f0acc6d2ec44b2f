package scenario

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetsim/fleetctl/pkg/core"
)

func TestContext_Defaults(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, "No run started", ctx.GetRun().Name)
	assert.Equal(t, 0.0, ctx.Time())
}

func TestContext_SetRunResetsClock(t *testing.T) {
	ctx := NewContext()
	ctx.SetTime(99.5)
	ctx.SetRun(&core.Run{Name: "fleet", Seed: 7})

	assert.Equal(t, "fleet", ctx.GetRun().Name)
	assert.Equal(t, 0.0, ctx.Time())
}

func TestContext_LogAttrs(t *testing.T) {
	ctx := NewContext()
	ctx.SetRun(&core.Run{Name: "fleet"})
	ctx.SetTime(12.5)

	assert.Equal(t, []slog.Attr{slog.String("run", "fleet"), slog.Float64("t", 12.5)}, ctx.LogAttrs())
}

func TestContext_ConcurrentReaders(t *testing.T) {
	ctx := NewContext()
	ctx.SetRun(&core.Run{Name: "fleet"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = ctx.LogAttrs()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		ctx.SetTime(float64(i))
	}
	wg.Wait()
	assert.Equal(t, 99.0, ctx.Time())
}
