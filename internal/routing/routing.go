// Package routing computes class-eligible edges and finds bounded random
// origin-destination routes through the engine's path finder.
package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/fleetsim/fleetctl/internal/engine"
	"github.com/fleetsim/fleetctl/internal/util"
)

// ErrRouteExhausted is returned when no route was found within the
// configured number of attempts.
var ErrRouteExhausted = errors.New("no route found")

// Topology is the part of the engine needed to compute eligibility.
type Topology interface {
	Edges() ([]string, error)
	LaneCount(edgeID string) (int, error)
	LaneAllowed(laneID string) ([]string, error)
}

// PathFinder asks the engine for a path.
type PathFinder interface {
	FindPath(from, to, class string) ([]string, error)
}

// Route is a registered route of a spawned vehicle.
type Route struct {
	ID    string
	Edges []string
	Class string
}

// Destination returns the last edge of the route.
func (r Route) Destination() string {
	return util.Last(r.Edges)
}

// FindRoute tries up to maxAttempts random origin/destination pairs drawn
// from edges and returns the first non-empty path. Transient engine errors
// count as failed attempts; fatal ones are returned at once.
func FindRoute(pf PathFinder, edges []string, class string, maxAttempts int, rng *rand.Rand) ([]string, error) {
	for range maxAttempts {
		if len(edges) < 2 {
			continue
		}
		from := edges[rng.IntN(len(edges))]
		to := edges[rng.IntN(len(edges))]
		for to == from {
			to = edges[rng.IntN(len(edges))]
		}
		path, err := pf.FindPath(from, to, class)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			return nil, err
		}
		if len(path) > 0 {
			return path, nil
		}
	}
	return nil, fmt.Errorf("%w for class %q after %d attempts", ErrRouteExhausted, class, maxAttempts)
}

// Builder finds routes for new vehicles, registers them and adds the
// vehicles to the simulation.
type Builder struct {
	eng         engine.Engine
	restricted  map[string]bool
	maxAttempts int
	rng         *rand.Rand
	logger      *slog.Logger

	eligible map[string][]string
	routeIDs map[string]struct{}
}

// NewBuilder returns a builder. Classes in restricted may only use lanes
// that allow them explicitly.
func NewBuilder(eng engine.Engine, restricted []string, maxAttempts int, rng *rand.Rand, logger *slog.Logger) *Builder {
	b := &Builder{
		eng:         eng,
		restricted:  make(map[string]bool, len(restricted)),
		maxAttempts: maxAttempts,
		rng:         rng,
		logger:      logger,
		eligible:    make(map[string][]string),
	}
	for _, c := range restricted {
		b.restricted[c] = true
	}
	return b
}

// Eligible returns the edges usable by class. The result is computed once
// per class and cached.
func (b *Builder) Eligible(class string) ([]string, error) {
	if edges, ok := b.eligible[class]; ok {
		return edges, nil
	}
	edges, err := EligibleEdges(b.eng, class, b.restricted[class])
	if err != nil {
		return nil, err
	}
	b.eligible[class] = edges
	b.logger.Debug("Computed eligible edges", "class", class, "edges", len(edges))
	return edges, nil
}

// EligibleEdges lists the non-internal edges with at least one lane that
// class may use. A lane without an allow list admits every class that is
// not restricted; an allow list admits only the classes it names.
func EligibleEdges(topo Topology, class string, restricted bool) ([]string, error) {
	all, err := topo.Edges()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, edge := range all {
		if util.IsInternalEdge(edge) {
			continue
		}
		n, err := topo.LaneCount(edge)
		if err != nil {
			if engine.IsTransient(err) {
				continue
			}
			return nil, err
		}
		for i := range n {
			allowed, err := topo.LaneAllowed(util.LaneOfEdge(edge, i))
			if err != nil {
				if engine.IsTransient(err) {
					continue
				}
				return nil, err
			}
			if (len(allowed) == 0 && !restricted) || slices.Contains(allowed, class) {
				out = append(out, edge)
				break
			}
		}
	}
	return out, nil
}

// Build finds a route for vehID, registers it and adds the vehicle at
// depart. Exhaustion is reported as ErrRouteExhausted and leaves nothing
// registered.
func (b *Builder) Build(vehID, class string, depart float64) (Route, error) {
	edges, err := b.Eligible(class)
	if err != nil {
		return Route{}, err
	}
	path, err := FindRoute(b.eng, edges, class, b.maxAttempts, b.rng)
	if err != nil {
		return Route{}, err
	}

	routeID, err := b.freeRouteID(vehID)
	if err != nil {
		return Route{}, err
	}
	if err := b.eng.AddRoute(routeID, path); err != nil {
		return Route{}, fmt.Errorf("registering route %s: %w", routeID, err)
	}
	b.routeIDs[routeID] = struct{}{}

	if err := b.eng.AddVehicle(vehID, routeID, class, depart); err != nil {
		return Route{}, fmt.Errorf("adding vehicle %s: %w", vehID, err)
	}
	return Route{ID: routeID, Edges: path, Class: class}, nil
}

// freeRouteID returns route_<vehID>, or route_<vehID>#<n> when that id is
// already registered with the engine.
func (b *Builder) freeRouteID(vehID string) (string, error) {
	if b.routeIDs == nil {
		ids, err := b.eng.RouteIDs()
		if err != nil {
			return "", err
		}
		b.routeIDs = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			b.routeIDs[id] = struct{}{}
		}
	}
	id := "route_" + vehID
	for n := 1; ; n++ {
		if _, taken := b.routeIDs[id]; !taken {
			return id, nil
		}
		id = fmt.Sprintf("route_%s#%d", vehID, n)
	}
}
