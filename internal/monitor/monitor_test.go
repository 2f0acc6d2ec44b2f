package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetsim/fleetctl/internal/controller"
	"github.com/fleetsim/fleetctl/internal/fleet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	calls atomic.Int32
}

func (f *fakeController) Status() controller.Status {
	f.calls.Add(1)
	return controller.Status{
		Tick:           42,
		Counts:         map[fleet.State]int{fleet.Scheduled: 2, fleet.Active: 1},
		PendingReturns: 1,
	}
}

type fakeQueues map[string]int

func (q fakeQueues) QueueLengths() map[string]int { return q }

func readStatus(t *testing.T, dir string) Snapshot {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestSnapshot(t *testing.T) {
	s := NewService(Dependencies{
		Controller: &fakeController{},
		Queues:     fakeQueues{"postgres.telemetry": 12},
	})

	snap := s.Snapshot()
	assert.Equal(t, 42.0, snap.Tick)
	assert.Equal(t, map[string]int{fleet.Scheduled.String(): 2, fleet.Active.String(): 1}, snap.States)
	assert.Equal(t, int64(1), snap.PendingReturns)
	assert.Equal(t, 12, snap.WriteQueues["postgres.telemetry"])
}

func TestWriteStatus(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Dependencies{Controller: &fakeController{}, Dir: dir})

	require.NoError(t, s.WriteStatus())
	snap := readStatus(t, dir)
	assert.Equal(t, 42.0, snap.Tick)
	assert.Nil(t, snap.WriteQueues)
}

func TestStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	ctrl := &fakeController{}
	s := NewService(Dependencies{Controller: ctrl, Dir: dir, Interval: 10 * time.Millisecond})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	assert.Eventually(t, func() bool { return ctrl.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.FileExists(t, filepath.Join(dir, StatusFileName))
	s.Stop()
}
