// Package fleet holds the managed vehicle records and the class roster.
package fleet

import "fmt"

// State is the lifecycle state of a managed vehicle.
type State int

const (
	Scheduled State = iota
	Active
	Diverted
	Returned
	Terminated
	Skipped
)

var stateNames = [...]string{"scheduled", "active", "diverted", "returned", "terminated", "skipped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Final reports whether no further transition can happen.
func (s State) Final() bool {
	return s == Terminated || s == Skipped
}

// Record is the controller's view of one managed vehicle.
type Record struct {
	ID        string
	Class     string
	SpawnTick int
	RouteID   string
	State     State
	// Destination is the last edge of the route the vehicle was spawned on.
	Destination string
}

var transitions = map[State][]State{
	Scheduled: {Active, Skipped},
	Active:    {Diverted, Terminated},
	Diverted:  {Returned, Terminated},
	Returned:  {Diverted, Terminated},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
