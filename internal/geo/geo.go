package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Engine coordinates are planar metres in the network's projected CRS,
// shifted by the net offset. Positions are reported as WGS84 lon/lat plus
// web mercator (EPSG:3857) x/y.

const (
	epsgLonLat   = 4326
	epsgMercator = 3857
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ErrDisabled is returned by New when no source EPSG code is configured.
var ErrDisabled = errors.New("geo projection disabled")

// Projector converts engine x/y into geographic positions.
type Projector struct {
	epsg       int
	offsetX    float64
	offsetY    float64
	toLonLat   func(a, b, c float64) (float64, float64, float64)
	toMercator func(a, b, c float64) (float64, float64, float64)
}

// New creates a projector for the configured source EPSG code and net
// offset.
func New(cfg config.GeoConfig) (*Projector, error) {
	if cfg.EPSG <= 0 {
		return nil, ErrDisabled
	}
	epsg := wgs84.EPSG()
	p := &Projector{
		epsg:       cfg.EPSG,
		offsetX:    cfg.OffsetX,
		offsetY:    cfg.OffsetY,
		toLonLat:   epsg.Transform(cfg.EPSG, epsgLonLat),
		toMercator: epsg.Transform(cfg.EPSG, epsgMercator),
	}
	if p.toLonLat == nil || p.toMercator == nil {
		return nil, fmt.Errorf("unsupported EPSG code %d", cfg.EPSG)
	}
	return p, nil
}

// EPSG returns the source coordinate reference system.
func (p *Projector) EPSG() int {
	return p.epsg
}

// Project converts an engine position.
func (p *Projector) Project(x, y float64) (core.Position, error) {
	sx, sy := x-p.offsetX, y-p.offsetY
	lon, lat, _ := p.toLonLat(sx, sy, 0)
	if !finite(lon, lat) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return core.Position{}, ErrInvalidCoordinates
	}
	mx, my, _ := p.toMercator(sx, sy, 0)
	if !finite(mx, my) {
		return core.Position{}, ErrInvalidCoordinates
	}
	return core.Position{Lon: lon, Lat: lat, X: mx, Y: my}, nil
}

// MercatorPoint returns the EPSG:3857 point of pos.
func MercatorPoint(pos core.Position) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: pos.X, Y: pos.Y}})
}

// LonLatPoint returns the WGS84 point of pos.
func LonLatPoint(pos core.Position) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: pos.Lon, Y: pos.Lat}})
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
