//go:build unix

package csvstorage

import (
	"fmt"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerVehicle_FleetLargerThanDescriptorLimit(t *testing.T) {
	var prev syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &prev))
	lowered := prev
	lowered.Cur = 256
	if prev.Cur < lowered.Cur {
		lowered.Cur = prev.Cur
	}
	require.NoError(t, syscall.Setrlimit(syscall.RLIMIT_NOFILE, &lowered))
	t.Cleanup(func() { _ = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &prev) })

	dir := t.TempDir()
	b := New(config.CSVConfig{OutputDir: dir}, nil)
	require.NoError(t, b.Init())

	const fleet = 500
	for i := range fleet {
		require.NoError(t, b.AddVehicle(core.Vehicle{ID: fmt.Sprintf("veh_%d", i)}), "vehicle %d", i)
	}
	for tick := 1; tick <= 2; tick++ {
		for i := range fleet {
			require.NoError(t, b.RecordTelemetry(sampleRow(fmt.Sprintf("veh_%d", i), float64(tick))), "vehicle %d", i)
		}
	}
	assert.LessOrEqual(t, b.OpenFiles(), DefaultMaxOpen)
	require.NoError(t, b.EndRun(core.RunSummary{}))
	require.NoError(t, b.Close())

	assert.Len(t, readCSV(t, filepath.Join(dir, "veh_0.csv")), 3)
	assert.Len(t, readCSV(t, filepath.Join(dir, fmt.Sprintf("veh_%d", fleet-1)+".csv")), 3)
}
