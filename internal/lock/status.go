package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// State is the observed state of the deploy lock.
type State int

const (
	// StateFree means no run holds the lock.
	StateFree State = iota
	// StateHeld means a run holds the lock.
	StateHeld
	// StateStale means the lock is free but a signature was left behind,
	// typically by a run that was killed.
	StateStale
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateHeld:
		return "held"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Status reports the lock state and the recorded holder, if any.
type Status struct {
	State     State
	Signature *Signature
}

// Inspect tests the lock without keeping it.
func (m *Manager) Inspect() (Status, error) {
	const op = "lock.Inspect"

	sig, sigErr := m.readSignature()

	locked, err := m.heldElsewhere()
	if err != nil {
		return Status{}, sderrors.IOWrap(err, op, "failed to test deploy lock")
	}

	switch {
	case locked:
		// An unreadable signature does not change the answer.
		return Status{State: StateHeld, Signature: sig}, nil
	case sigErr != nil:
		return Status{}, sderrors.IOWrap(sigErr, op, "failed to read lock signature")
	case sig != nil:
		return Status{State: StateStale, Signature: sig}, nil
	default:
		return Status{State: StateFree}, nil
	}
}

// heldElsewhere reports whether another open file description holds the lock.
func (m *Manager) heldElsewhere() (bool, error) {
	f, err := os.Open(m.lockPath) // #nosec G304 -- lock path comes from operator configuration
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	ok, err := tryLock(f)
	if err != nil {
		return false, err
	}
	if ok {
		_ = unlock(f)
		return false, nil
	}
	return true, nil
}

// WaitReleased blocks until the lock is not held or ctx is done. It watches
// the signature directory and also re-tests the lock periodically, since a killed
// holder frees the lock without removing its signature.
func (m *Manager) WaitReleased(ctx context.Context) error {
	const op = "lock.WaitReleased"

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sderrors.IOWrap(err, op, "failed to create watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(m.signaturePath)); err != nil {
		return sderrors.IOWrap(err, op, "failed to watch signature directory")
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		locked, err := m.heldElsewhere()
		if err != nil {
			return sderrors.IOWrap(err, op, "failed to test deploy lock")
		}
		if !locked {
			return nil
		}

		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.signaturePath) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				return sderrors.IOWrap(err, op, "watch failed")
			}
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return sderrors.TimeoutWrap(ctx.Err(), op, "deploy lock still held")
			}
			return sderrors.CanceledWrap(ctx.Err(), op, "wait canceled")
		}
	}
}
