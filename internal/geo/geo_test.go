package geo

import (
	"math"
	"testing"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	_, err := New(config.GeoConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestProject_UTM(t *testing.T) {
	// EPSG:32633 is UTM zone 33N; easting 500000 lies on the central
	// meridian 15E.
	p, err := New(config.GeoConfig{EPSG: 32633, OffsetX: -499000, OffsetY: -5800000})
	require.NoError(t, err)
	assert.Equal(t, 32633, p.EPSG())

	pos, err := p.Project(1000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, pos.Lon, 1e-6)
	assert.InDelta(t, 52.36, pos.Lat, 0.1)
	assert.InDelta(t, 1669792.36, pos.X, 1)
	assert.Greater(t, pos.Y, 6.8e6)
}

func TestProject_Mercator(t *testing.T) {
	p, err := New(config.GeoConfig{EPSG: 3857})
	require.NoError(t, err)

	pos, err := p.Project(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, pos.Lon, 1e-9)
	assert.InDelta(t, 0, pos.Lat, 1e-9)
	assert.InDelta(t, 0, pos.X, 1e-6)
	assert.InDelta(t, 0, pos.Y, 1e-6)
}

func TestPoints(t *testing.T) {
	pos := core.Position{Lon: 13.4, Lat: 52.5, X: 1491681, Y: 6891041}

	xy, ok := LonLatPoint(pos).XY()
	require.True(t, ok)
	assert.Equal(t, 13.4, xy.X)
	assert.Equal(t, 52.5, xy.Y)

	xy, ok = MercatorPoint(pos).XY()
	require.True(t, ok)
	assert.Equal(t, 1491681.0, xy.X)
	assert.Equal(t, 6891041.0, xy.Y)
}

func TestFinite(t *testing.T) {
	assert.True(t, finite(1, 2))
	assert.False(t, finite(1, math.NaN()))
}
