// Package schedule assigns spawn ticks to fleet vehicles and releases them
// as simulated time passes.
package schedule

import (
	"math/rand/v2"
	"slices"
)

// Scheduler groups vehicle ids by spawn tick. It is not safe for
// concurrent use.
type Scheduler struct {
	groups map[int][]string
	ticks  []int
	tickOf map[string]int
}

// New assigns every id a spawn tick uniform in [0, horizon].
func New(ids []string, horizon int, rng *rand.Rand) *Scheduler {
	s := &Scheduler{
		groups: make(map[int][]string),
		tickOf: make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		s.add(id, rng.IntN(horizon+1))
	}
	return s
}

// NewFixed builds a scheduler from explicit spawn ticks.
func NewFixed(ticks map[string]int) *Scheduler {
	s := &Scheduler{
		groups: make(map[int][]string),
		tickOf: make(map[string]int, len(ticks)),
	}
	ids := make([]string, 0, len(ticks))
	for id := range ticks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.add(id, ticks[id])
	}
	return s
}

func (s *Scheduler) add(id string, tick int) {
	if _, ok := s.groups[tick]; !ok {
		i, _ := slices.BinarySearch(s.ticks, tick)
		s.ticks = slices.Insert(s.ticks, i, tick)
	}
	s.groups[tick] = append(s.groups[tick], id)
	s.tickOf[id] = tick
}

// TickOf returns the spawn tick assigned to id.
func (s *Scheduler) TickOf(id string) (int, bool) {
	t, ok := s.tickOf[id]
	return t, ok
}

// Due removes and returns, in tick order, every group whose tick is at or
// before now. Each id is returned at most once over the scheduler's life.
func (s *Scheduler) Due(now float64) []string {
	var out []string
	n := 0
	for _, t := range s.ticks {
		if float64(t) > now {
			break
		}
		out = append(out, s.groups[t]...)
		delete(s.groups, t)
		n++
	}
	s.ticks = s.ticks[n:]
	return out
}

// Empty reports whether every group has been released.
func (s *Scheduler) Empty() bool {
	return len(s.ticks) == 0
}

// Pending returns the number of ids not yet released.
func (s *Scheduler) Pending() int {
	n := 0
	for _, g := range s.groups {
		n += len(g)
	}
	return n
}
