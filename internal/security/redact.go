// Package security keeps credentials out of sitedeploy's log output.
package security

import (
	"io"
	"sync"

	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// RedactingWriter removes credentials from everything written through it.
// Git remotes with embedded tokens and build tools that echo their
// environment are the usual sources.
//
// Each Write is redacted on its own, so a secret split across two writes is
// not caught. The charmbracelet logger writes one record per call.
type RedactingWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRedactingWriter wraps w.
func NewRedactingWriter(w io.Writer) *RedactingWriter {
	return &RedactingWriter{w: w}
}

// Write writes p with credentials replaced. It reports len(p) on success
// even when the redacted form is shorter.
func (rw *RedactingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if _, err := io.WriteString(rw.w, sderrors.RedactSensitive(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
