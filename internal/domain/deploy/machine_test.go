package deploy

import (
	"reflect"
	"testing"

	"github.com/felixgeelhaar/statekit"
)

func startedMachine(t *testing.T) *RunMachine {
	t.Helper()
	m, err := NewRunMachine()
	if err != nil {
		t.Fatalf("NewRunMachine() error = %v", err)
	}
	m.Start()
	return m
}

func TestRunMachine_NotStarted(t *testing.T) {
	m, err := NewRunMachine()
	if err != nil {
		t.Fatalf("NewRunMachine() error = %v", err)
	}
	if m.State() != "" {
		t.Errorf("State() = %v, want empty before Start", m.State())
	}
	if err := m.Send(EventAcquire); err == nil {
		t.Error("Send() before Start should fail")
	}
}

func TestRunMachine_HappyPath(t *testing.T) {
	m := startedMachine(t)

	if m.State() != StateIdle {
		t.Fatalf("State() = %v, want %v", m.State(), StateIdle)
	}

	for _, ev := range []statekit.EventType{
		EventAcquire, EventLocked, EventDisabled, EventResolved,
		EventDeployed, EventEnabled, EventRelease,
	} {
		if err := m.Send(ev); err != nil {
			t.Fatalf("Send(%s) error = %v", ev, err)
		}
	}

	want := []statekit.StateID{
		StateIdle, StateLocking, StateDisabling, StateResolving,
		StateDeploying, StateEnabling, StateDone, StateLockReleased,
	}
	if got := m.Path(); !reflect.DeepEqual(got, want) {
		t.Errorf("Path() = %v, want %v", got, want)
	}
}

func TestRunMachine_AbortFromEveryState(t *testing.T) {
	progress := []statekit.EventType{EventAcquire, EventLocked, EventDisabled, EventResolved, EventDeployed}

	for n := 0; n <= len(progress); n++ {
		m := startedMachine(t)
		for _, ev := range progress[:n] {
			if err := m.Send(ev); err != nil {
				t.Fatalf("Send(%s) error = %v", ev, err)
			}
		}
		failedIn := m.State()

		if err := m.Send(EventFail); err != nil {
			t.Fatalf("Send(FAIL) in %s error = %v", failedIn, err)
		}
		if m.State() != StateAborted {
			t.Fatalf("State() after FAIL in %s = %v, want aborted", failedIn, m.State())
		}
		if err := m.Send(EventRelease); err != nil {
			t.Fatalf("Send(RELEASE) error = %v", err)
		}
		if m.State() != StateLockReleased {
			t.Errorf("State() = %v, want lock_released", m.State())
		}
	}
}

func TestRunMachine_RejectsOutOfOrderEvents(t *testing.T) {
	tests := []struct {
		name  string
		setup []statekit.EventType
		event statekit.EventType
	}{
		{name: "enable before deploy", setup: []statekit.EventType{EventAcquire, EventLocked}, event: EventEnabled},
		{name: "release while idle", event: EventRelease},
		{name: "release mid-run", setup: []statekit.EventType{EventAcquire}, event: EventRelease},
		{name: "fail after done", setup: []statekit.EventType{EventAcquire, EventLocked, EventDisabled, EventResolved, EventDeployed, EventEnabled}, event: EventFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := startedMachine(t)
			for _, ev := range tt.setup {
				if err := m.Send(ev); err != nil {
					t.Fatalf("Send(%s) error = %v", ev, err)
				}
			}
			before := m.State()
			if err := m.Send(tt.event); err == nil {
				t.Errorf("Send(%s) in %s should fail", tt.event, before)
			}
			if m.State() != before {
				t.Errorf("state moved from %s to %s", before, m.State())
			}
		})
	}
}
