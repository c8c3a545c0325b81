package engine

import "fmt"

// State is one node of the workflow run. The graph is fixed: a linear chain
// with one back-edge (Validating -> Generating, bounded) and one
// short-circuit (EscalationChecked -> Done when escalation triggers).
type State string

const (
	StateClassifying       State = "classifying"
	StateContextRetrieved  State = "context_retrieved"
	StateEscalationChecked State = "escalation_checked"
	StateGenerating        State = "generating"
	StateValidating        State = "validating"
	StateDone              State = "done"
)

var transitions = map[State][]State{
	StateClassifying:       {StateContextRetrieved},
	StateContextRetrieved:  {StateEscalationChecked},
	StateEscalationChecked: {StateGenerating, StateDone},
	StateGenerating:        {StateValidating, StateDone},
	StateValidating:        {StateDone, StateGenerating},
	StateDone:              {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// advance moves the run to the next state, guarding against edges the
// transition table does not allow.
func (r *runState) advance(to State) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("illegal transition %s -> %s", r.state, to)
	}
	from := r.state
	r.state = to
	for _, hook := range r.hooks {
		hook(r.runID, from, to)
	}
	return nil
}
