/*
fsm.go - Shared finite-state-machine helper

PURPOSE:
  Appointments, waiting-room entries, payments, and charge orders all move
  through fixed directed graphs. This file holds the one abstraction they
  share: a transition table plus a pure check, verifiable independent of
  persistence.

USAGE:
  var appointmentGraph = core.Transitions{
      "pending": {"arrived", "canceled"},
      "arrived": {"in_consultation", "canceled"},
  }

  if err := appointmentGraph.Step("appointment", from, to); err != nil {
      return err // *core.TransitionError
  }

Terminal states are represented by an empty (or absent) target set.
*/
package core

// State is a status value within one entity's lifecycle graph.
type State string

// Transitions maps each state to the set of states it may move to.
// A state with no entry (or an empty slice) is terminal.
type Transitions map[State][]State

// Can reports whether from -> to is an allowed edge.
func (t Transitions) Can(from, to State) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (t Transitions) Terminal(s State) bool {
	return len(t[s]) == 0
}

// Step returns nil if from -> to is allowed, or a *TransitionError naming
// the entity and the rejected edge.
func (t Transitions) Step(entity string, from, to State) error {
	if !t.Can(from, to) {
		return &TransitionError{Entity: entity, From: from, To: to}
	}
	return nil
}
