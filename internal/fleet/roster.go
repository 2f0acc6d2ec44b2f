package fleet

import (
	"errors"
	"math/rand/v2"

	"github.com/fleetsim/fleetctl/internal/config"
)

// Roster draws vehicle classes by relative weight.
type Roster struct {
	names      []string
	cumulative []float64
}

// NewRoster builds a roster from weighted classes. Zero-weight classes are
// never drawn.
func NewRoster(classes []config.ClassWeight) (*Roster, error) {
	r := &Roster{}
	var total float64
	for _, c := range classes {
		if c.Weight <= 0 {
			continue
		}
		total += c.Weight
		r.names = append(r.names, c.Name)
		r.cumulative = append(r.cumulative, total)
	}
	if total == 0 {
		return nil, errors.New("roster has no class with positive weight")
	}
	return r, nil
}

// Pick draws one class.
func (r *Roster) Pick(rng *rand.Rand) string {
	x := rng.Float64() * r.cumulative[len(r.cumulative)-1]
	for i, c := range r.cumulative {
		if x < c {
			return r.names[i]
		}
	}
	return r.names[len(r.names)-1]
}

// Classes returns the drawable class names.
func (r *Roster) Classes() []string {
	return append([]string(nil), r.names...)
}
