package fleet

import (
	"fmt"
	"sync"
)

// Registry holds the records of the managed fleet in scheduling order. The
// controller is the only writer; the monitor reads counts concurrently.
type Registry struct {
	mu      sync.Mutex
	order   []string
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Add registers a scheduled vehicle. Adding an id twice is an error.
func (r *Registry) Add(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("vehicle %q already registered", rec.ID)
	}
	rec.State = Scheduled
	r.records[rec.ID] = &rec
	r.order = append(r.order, rec.ID)
	return nil
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return *rec, true
	}
	return Record{}, false
}

// Managed reports whether id belongs to the fleet.
func (r *Registry) Managed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// Transition moves a vehicle to state to. Illegal transitions are refused
// and leave the record unchanged.
func (r *Registry) Transition(id string, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("vehicle %q is not managed", id)
	}
	if !CanTransition(rec.State, to) {
		return fmt.Errorf("vehicle %q cannot go from %s to %s", id, rec.State, to)
	}
	rec.State = to
	return nil
}

// Activate records the route of a spawned vehicle and marks it active.
func (r *Registry) Activate(id, class, routeID, destination string) error {
	if err := r.Transition(id, Active); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	rec.Class = class
	rec.RouteID = routeID
	rec.Destination = destination
	return nil
}

// IDs returns the ids of all records in scheduling order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// InState returns the ids currently in any of the given states.
func (r *Registry) InState(states ...State) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range r.order {
		for _, s := range states {
			if r.records[id].State == s {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Counts returns the number of records per state.
func (r *Registry) Counts() map[State]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[State]int, len(stateNames))
	for _, rec := range r.records {
		counts[rec.State]++
	}
	return counts
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
