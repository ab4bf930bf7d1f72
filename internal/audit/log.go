// Package audit provides the append-only deployment log.
package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// maxLineSize bounds a single line when reading the log back.
const maxLineSize = 64 * 1024

// Log is the deployment log. Every successful deploy appends one line;
// existing lines are never rewritten.
type Log struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// New creates a Log writing to path.
func New(path string, logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{path: path, logger: logger}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

var _ deploy.AuditLog = (*Log)(nil)

// Append writes entry as one line at the end of the log.
func (l *Log) Append(entry deploy.AuditEntry) error {
	const op = "audit.Append"

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return sderrors.IOWrap(err, op, "failed to create audit log directory")
	}

	// #nosec G302 G304 -- the deployment log is meant to be world readable
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return sderrors.IOWrap(err, op, "failed to open audit log")
	}

	_, werr := fmt.Fprintln(f, entry.Line())
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return sderrors.IOWrap(werr, op, "failed to write audit entry")
	}
	return nil
}

// Entries returns every entry in file order. Lines that do not parse are
// logged and skipped. A missing log has no entries.
func (l *Log) Entries() ([]deploy.AuditEntry, error) {
	const op = "audit.Entries"

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, sderrors.IOWrap(err, op, "failed to open audit log")
	}
	defer f.Close()

	var entries []deploy.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := deploy.ParseAuditEntry(line)
		if err != nil {
			l.logger.Warn("skipping audit line", "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, sderrors.IOWrap(err, op, "failed to read audit log")
	}
	return entries, nil
}

// Last returns up to n of the most recent entries, oldest first.
// n <= 0 returns every entry.
func (l *Log) Last(n int) ([]deploy.AuditEntry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
