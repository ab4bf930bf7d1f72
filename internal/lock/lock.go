// Package lock provides the single-flight deploy lock.
//
// The lock is an exclusive, non-blocking hold on an empty file. A separate
// signature record names the holder so that a conflicting run can report who
// is deploying and since when.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/fileutil"
)

const (
	lockFilePerm      = 0o644
	signatureFilePerm = 0o644
	lockDirPerm       = 0o755

	// maxSignatureSize bounds the signature record read on conflict.
	maxSignatureSize = 64 * 1024
)

// Holder identifies the run holding the lock.
type Holder struct {
	Operator string
	RunID    string
	PID      int
	Host     string
}

// NewHolder returns a Holder for operator in the current process.
func NewHolder(operator string) Holder {
	host, _ := os.Hostname()
	return Holder{
		Operator: operator,
		RunID:    uuid.NewString(),
		PID:      os.Getpid(),
		Host:     host,
	}
}

// Signature is the record written next to the lock file while it is held.
type Signature struct {
	Operator   string    `yaml:"operator"`
	AcquiredAt time.Time `yaml:"acquired_at"`
	PID        int       `yaml:"pid,omitempty"`
	Host       string    `yaml:"host,omitempty"`
	RunID      string    `yaml:"run_id,omitempty"`
}

// Manager hands out the deploy lock for one lock path.
type Manager struct {
	lockPath      string
	signaturePath string
	now           func() time.Time
	pollInterval  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for acquisition timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPollInterval sets how often WaitReleased re-checks the lock when no
// file event arrives.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// NewManager creates a Manager for lockPath with its signature at signaturePath.
func NewManager(lockPath, signaturePath string, opts ...Option) *Manager {
	m := &Manager{
		lockPath:      lockPath,
		signaturePath: signaturePath,
		now:           time.Now,
		pollInterval:  time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LockPath returns the lock file path.
func (m *Manager) LockPath() string { return m.lockPath }

// SignaturePath returns the signature record path.
func (m *Manager) SignaturePath() string { return m.signaturePath }

// Lock is a held deploy lock.
type Lock struct {
	m          *Manager
	file       *os.File
	holder     Holder
	acquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// Holder returns the identity recorded for this lock.
func (l *Lock) Holder() Holder { return l.holder }

// AcquiredAt returns when the lock was taken.
func (l *Lock) AcquiredAt() time.Time { return l.acquiredAt }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.m.lockPath }

// Acquire takes the lock without blocking. If another run holds it, Acquire
// returns a conflict error naming the holder from its signature record.
func (m *Manager) Acquire(ctx context.Context, holder Holder) (*Lock, error) {
	const op = "lock.Acquire"

	if err := ctx.Err(); err != nil {
		return nil, sderrors.CanceledWrap(err, op, "acquire canceled")
	}

	if err := os.MkdirAll(filepath.Dir(m.lockPath), lockDirPerm); err != nil {
		return nil, sderrors.IOWrap(err, op, "failed to create lock directory")
	}

	// #nosec G304 -- lock path comes from operator configuration
	f, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_RDWR, lockFilePerm)
	if err != nil {
		return nil, sderrors.IOWrap(err, op, "failed to open lock file")
	}

	ok, err := tryLock(f)
	if err != nil {
		_ = f.Close()
		return nil, sderrors.IOWrap(err, op, "failed to acquire deploy lock")
	}
	if !ok {
		_ = f.Close()
		return nil, m.conflict(op)
	}

	l := &Lock{
		m:          m,
		file:       f,
		holder:     holder,
		acquiredAt: m.now().UTC(),
	}

	if err := m.writeSignature(l); err != nil {
		_ = unlock(f)
		_ = f.Close()
		return nil, sderrors.IOWrap(err, op, "failed to write lock signature")
	}

	register(l)
	return l, nil
}

// Lock implements deploy.Locker.
func (m *Manager) Lock(ctx context.Context, operator string) (deploy.Lease, error) {
	l, err := m.Acquire(ctx, NewHolder(operator))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (m *Manager) conflict(op string) error {
	sig, err := m.readSignature()
	if err != nil || sig == nil {
		return sderrors.LockConflict(op, "", time.Time{})
	}
	e := sderrors.LockConflict(op, sig.Operator, sig.AcquiredAt)
	if sig.RunID != "" {
		e.WithDetail("run_id", sig.RunID)
	}
	return e
}

func (m *Manager) writeSignature(l *Lock) error {
	data, err := yaml.Marshal(Signature{
		Operator:   l.holder.Operator,
		AcquiredAt: l.acquiredAt,
		PID:        l.holder.PID,
		Host:       l.holder.Host,
		RunID:      l.holder.RunID,
	})
	if err != nil {
		return fmt.Errorf("encoding signature: %w", err)
	}
	return fileutil.AtomicWriteFile(m.signaturePath, data, signatureFilePerm)
}

// readSignature returns nil without error when no signature is recorded.
func (m *Manager) readSignature() (*Signature, error) {
	data, err := fileutil.ReadFileLimited(m.signaturePath, maxSignatureSize)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sig Signature
	if err := yaml.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decoding signature %s: %w", m.signaturePath, err)
	}
	return &sig, nil
}

// Release removes the signature record and gives the lock back. It is safe
// to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true
	unregister(l)

	const op = "lock.Release"
	var errs []error

	if _, err := fileutil.RemoveIfExists(l.m.signaturePath); err != nil {
		errs = append(errs, fmt.Errorf("removing signature: %w", err))
	}
	if err := unlock(l.file); err != nil {
		errs = append(errs, fmt.Errorf("unlocking: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing lock file: %w", err))
	}

	if len(errs) > 0 {
		return sderrors.IOWrap(errors.Join(errs...), op, "failed to release deploy lock")
	}
	return nil
}

var (
	heldMu sync.Mutex
	held   = make(map[*Lock]struct{})
)

func register(l *Lock) {
	heldMu.Lock()
	defer heldMu.Unlock()
	held[l] = struct{}{}
}

func unregister(l *Lock) {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(held, l)
}

// ReleaseHeld releases every lock still held by this process. It is the
// exit hook run on forced shutdown.
func ReleaseHeld() error {
	heldMu.Lock()
	locks := make([]*Lock, 0, len(held))
	for l := range held {
		locks = append(locks, l)
	}
	heldMu.Unlock()

	var errs []error
	for _, l := range locks {
		if err := l.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
