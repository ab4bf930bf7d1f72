package deploy

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// Event names for the run state machine.
const (
	EventAcquire  statekit.EventType = "ACQUIRE"
	EventLocked   statekit.EventType = "LOCKED"
	EventDisabled statekit.EventType = "DISABLED"
	EventResolved statekit.EventType = "RESOLVED"
	EventDeployed statekit.EventType = "DEPLOYED"
	EventEnabled  statekit.EventType = "ENABLED"
	EventFail     statekit.EventType = "FAIL"
	EventRelease  statekit.EventType = "RELEASE"
)

// State IDs for the run state machine.
const (
	StateIdle         statekit.StateID = "idle"
	StateLocking      statekit.StateID = "locking"
	StateDisabling    statekit.StateID = "disabling"
	StateResolving    statekit.StateID = "resolving"
	StateDeploying    statekit.StateID = "deploying"
	StateEnabling     statekit.StateID = "enabling"
	StateDone         statekit.StateID = "done"
	StateAborted      statekit.StateID = "aborted"
	StateLockReleased statekit.StateID = "lock_released"
)

// RunMachine wraps the Statekit machine that tracks one deploy run. The
// machine carries no extended state.
type RunMachine struct {
	interpreter *statekit.Interpreter[struct{}]
	path        []statekit.StateID
}

// NewRunMachine creates the state machine for a deploy run.
func NewRunMachine() (*RunMachine, error) {
	machine, err := statekit.NewMachine[struct{}]("deploy-run").
		WithInitial(StateIdle).
		State(StateIdle).
		On(EventAcquire).Target(StateLocking).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateLocking).
		On(EventLocked).Target(StateDisabling).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateDisabling).
		On(EventDisabled).Target(StateResolving).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateResolving).
		On(EventResolved).Target(StateDeploying).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateDeploying).
		On(EventDeployed).Target(StateEnabling).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateEnabling).
		On(EventEnabled).Target(StateDone).
		On(EventFail).Target(StateAborted).
		Done().
		State(StateDone).
		On(EventRelease).Target(StateLockReleased).
		Done().
		State(StateAborted).
		On(EventRelease).Target(StateLockReleased).
		Done().
		// Terminal: the lock is free again.
		State(StateLockReleased).
		Final().
		Done().
		Build()

	if err != nil {
		return nil, fmt.Errorf("failed to build run state machine: %w", err)
	}

	return &RunMachine{interpreter: statekit.NewInterpreter(machine)}, nil
}

// Start starts the interpreter in the idle state.
func (m *RunMachine) Start() {
	m.interpreter.Start()
}

// Send delivers event and returns an error if the current state does not
// accept it.
func (m *RunMachine) Send(event statekit.EventType) error {
	from := m.State()
	if from == "" {
		return fmt.Errorf("run state machine not started")
	}

	m.interpreter.Send(statekit.Event{Type: event})

	to := m.State()
	if to == from {
		return fmt.Errorf("event %s not allowed in state %s", event, from)
	}
	if len(m.path) == 0 {
		m.path = append(m.path, from)
	}
	m.path = append(m.path, to)
	return nil
}

// State returns the current state, or "" before Start.
func (m *RunMachine) State() statekit.StateID {
	return m.interpreter.State().Value
}

// Path returns the visited states, starting with the first source state.
func (m *RunMachine) Path() []statekit.StateID {
	if len(m.path) == 0 {
		if s := m.State(); s != "" {
			return []statekit.StateID{s}
		}
		return nil
	}
	out := make([]statekit.StateID, len(m.path))
	copy(out, m.path)
	return out
}
