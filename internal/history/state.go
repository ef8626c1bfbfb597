package history

import "fmt"

type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StateBackingUp  State = "BACKING_UP"
	StateApplying   State = "APPLYING"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
	StateRolledBack State = "ROLLED_BACK"
)

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateBackingUp, StateApplying, StateFailed},
	StateBackingUp:  {StateApplying, StateFailed},
	StateApplying:   {StateCommitted, StateRolledBack, StateFailed},
	StateFailed:     {StateRolledBack},
}

// machine tracks one table through one action.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, trail: []State{StateIdle}}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.trail = append(m.trail, next)
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", m.state, next)
}

// fail moves to FAILED unless the machine is already there.
func (m *machine) fail() {
	if m.state != StateFailed {
		m.to(StateFailed) // nolint:errcheck
	}
}
