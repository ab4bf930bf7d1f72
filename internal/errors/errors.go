// Package errors provides structured error types for sitedeploy.
// It implements error classification, wrapping, and exit code mapping.
package errors

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Kind represents the category of an error.
type Kind uint8

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown Kind = iota
	// KindUsage indicates bad command-line arguments.
	KindUsage
	// KindIdentity indicates a missing or forbidden operator identity.
	KindIdentity
	// KindConflict indicates the deploy lock is held by another run.
	KindConflict
	// KindStep indicates a pipeline step failed.
	KindStep
	// KindNoRelease indicates version selection found nothing to deploy.
	KindNoRelease
	// KindConfig indicates a configuration error.
	KindConfig
	// KindGit indicates a git operation error.
	KindGit
	// KindIO indicates a file I/O error.
	KindIO
	// KindValidation indicates a validation error.
	KindValidation
	// KindState indicates an invalid run state transition.
	KindState
	// KindTimeout indicates a timeout error.
	KindTimeout
	// KindCanceled indicates the operation was canceled.
	KindCanceled
	// KindInternal indicates an internal error.
	KindInternal
)

// String returns a human-readable string for the error kind.
func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindIdentity:
		return "identity"
	case KindConflict:
		return "conflict"
	case KindStep:
		return "step"
	case KindNoRelease:
		return "no_release"
	case KindConfig:
		return "configuration"
	case KindGit:
		return "git"
	case KindIO:
		return "io"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the standard error type for sitedeploy.
type Error struct {
	// Kind is the category of the error.
	Kind Kind
	// Op is the operation being performed when the error occurred.
	Op string
	// Message is a human-readable error message.
	Message string
	// Err is the underlying error.
	Err error
	// Details contains additional context about the error.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches this error.
// For *Error types, it checks if both the Kind and Op match.
// For sentinel errors (errors without Op), only Kind is compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// WithDetail adds a single detail to the error and returns the modified error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, kind Kind, op string, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// GetKind returns the Kind of an error.
// If the error is not an *Error, it returns KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrLockConflict = New(KindConflict, "deploy lock held")
	ErrStepFailed   = New(KindStep, "step failed")
	ErrCanceled     = New(KindCanceled, "operation canceled")
)

// Usage creates a usage error.
func Usage(op, message string) *Error {
	return &Error{Kind: KindUsage, Op: op, Message: message}
}

// Identity creates an identity error.
func Identity(op, message string) *Error {
	return &Error{Kind: KindIdentity, Op: op, Message: message}
}

// LockConflict reports that another run holds the deploy lock.
// holder and acquiredAt come from the signature record and may be empty
// when the record could not be read.
func LockConflict(op, holder string, acquiredAt time.Time) *Error {
	msg := "deploy lock is held by another run"
	if holder != "" {
		msg = fmt.Sprintf("deploy lock is held by %s", holder)
		if !acquiredAt.IsZero() {
			msg += " since " + acquiredAt.Format(time.RFC3339)
		}
	}
	e := &Error{Kind: KindConflict, Op: op, Message: msg}
	e.WithDetail("holder", holder)
	if !acquiredAt.IsZero() {
		e.WithDetail("acquired_at", acquiredAt)
	}
	return e
}

// Step wraps the cause of a failed pipeline step, keeping the step name.
func Step(step string, cause error) *Error {
	e := &Error{
		Kind:    KindStep,
		Op:      "pipeline." + step,
		Message: "step failed",
		Err:     cause,
	}
	return e.WithDetail("step", step)
}

// FailedStep returns the name of the pipeline step that produced err.
func FailedStep(err error) (string, bool) {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return "", false
		}
		if e.Kind == KindStep {
			if name, ok := e.Details["step"].(string); ok {
				return name, true
			}
		}
		err = e.Err
	}
	return "", false
}

// NoRelease creates an error for an empty version selection.
func NoRelease(op, message string) *Error {
	return &Error{Kind: KindNoRelease, Op: op, Message: message}
}

// Config creates a configuration error.
func Config(op, message string) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: message}
}

// ConfigWrap wraps an error as a configuration error.
func ConfigWrap(err error, op, message string) *Error {
	return Wrap(err, KindConfig, op, message)
}

// Git creates a git operation error.
func Git(op, message string) *Error {
	return &Error{Kind: KindGit, Op: op, Message: message}
}

// GitWrap wraps an error as a git error.
func GitWrap(err error, op, message string) *Error {
	return Wrap(RedactError(err), KindGit, op, message)
}

// IO creates an I/O error.
func IO(op, message string) *Error {
	return &Error{Kind: KindIO, Op: op, Message: message}
}

// IOWrap wraps an error as an I/O error.
func IOWrap(err error, op, message string) *Error {
	return Wrap(err, KindIO, op, message)
}

// Validation creates a validation error.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// StateWrap wraps a rejected run state transition.
func StateWrap(err error, op, message string) *Error {
	return Wrap(err, KindState, op, message)
}

// TimeoutWrap wraps an error as a timeout error.
func TimeoutWrap(err error, op, message string) *Error {
	return Wrap(err, KindTimeout, op, message)
}

// CanceledWrap wraps an error as a cancellation.
func CanceledWrap(err error, op, message string) *Error {
	return Wrap(err, KindCanceled, op, message)
}

// Internal creates an internal error.
func Internal(op, message string) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: message}
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(err error, op, message string) *Error {
	return Wrap(err, KindInternal, op, message)
}

// ExitCode maps an error to the process exit status.
// A missing or forbidden operator identity is a no-op and exits 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if IsKind(err, KindIdentity) {
		return 0
	}
	return 1
}

// Sensitive data redaction patterns.
// These match credentials that git remotes and build tools tend to echo.
var sensitivePatterns = []*regexp.Regexp{
	// GitHub tokens: ghp_..., gho_..., ghs_..., ghr_...
	regexp.MustCompile(`\bgh[posh]_[a-zA-Z0-9]{36,}\b`),
	// GitLab personal access tokens
	regexp.MustCompile(`\bglpat-[a-zA-Z0-9_-]{20,}\b`),
	// Generic bearer tokens
	regexp.MustCompile(`\bBearer\s+[a-zA-Z0-9_.-]{20,}\b`),
	// Basic auth with password in URL
	regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`),
}

// RedactSensitive removes credentials from a message.
func RedactSensitive(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// RedactError creates a new error with sensitive data redacted from its message.
// If the error is nil, returns nil.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	redacted := RedactSensitive(err.Error())
	if redacted == err.Error() {
		return err
	}
	return fmt.Errorf("%s", redacted)
}
