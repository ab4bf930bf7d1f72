package deploy

import (
	"fmt"
	"strings"
	"time"
)

// Release is the ref selected for one run. It is immutable once selected.
type Release struct {
	// Ref is the tag, or tag-N-g<hash> when the tip is past the tag.
	Ref string
	// Tag is the nearest tag the ref is based on.
	Tag string
	// Ahead counts commits between Tag and Commit.
	Ahead int
	// Commit is the full hash Ref points at.
	Commit string
	// ResolvedAt is when the ref was selected.
	ResolvedAt time.Time
	// DeployedBy is the operator running the deploy.
	DeployedBy string
}

// Description is what the source control reports about the current tip.
type Description struct {
	// Tag is the nearest annotated tag reachable from the tip.
	Tag string
	// TagCommit is the commit the tag points at.
	TagCommit string
	// Ahead is the number of commits on the tip not reachable from the tag.
	Ahead int
	// Head is the full hash of the tip.
	Head string
}

// ShortHead returns the abbreviated tip hash.
func (d Description) ShortHead() string {
	if len(d.Head) > 7 {
		return d.Head[:7]
	}
	return d.Head
}

// Long returns the describe form tag-N-g<hash>, or the tag alone when the
// tip is the tagged commit.
func (d Description) Long() string {
	if d.Ahead == 0 {
		return d.Tag
	}
	return fmt.Sprintf("%s-%d-g%s", d.Tag, d.Ahead, d.ShortHead())
}

// AuditEntry is one line of the deployment log.
type AuditEntry struct {
	Ref       string
	Operator  string
	Timestamp time.Time
}

// AuditTimeFormat is the timestamp layout written to the deployment log.
const AuditTimeFormat = time.RFC3339

const (
	deployedBy = " deployed by "
	deployedAt = " at "
)

// NewAuditEntry builds the entry recorded for release.
func NewAuditEntry(release Release, at time.Time) AuditEntry {
	return AuditEntry{Ref: release.Ref, Operator: release.DeployedBy, Timestamp: at}
}

// Line renders the entry as "<ref> deployed by <operator> at <timestamp>".
func (e AuditEntry) Line() string {
	return e.Ref + deployedBy + e.Operator + deployedAt + e.Timestamp.Format(AuditTimeFormat)
}

// ParseAuditEntry parses a line written by AuditEntry.Line.
func ParseAuditEntry(line string) (AuditEntry, error) {
	line = strings.TrimRight(line, "\r\n")

	ref, rest, ok := strings.Cut(line, deployedBy)
	if !ok || ref == "" {
		return AuditEntry{}, fmt.Errorf("malformed audit line %q", line)
	}
	i := strings.LastIndex(rest, deployedAt)
	if i <= 0 {
		return AuditEntry{}, fmt.Errorf("malformed audit line %q", line)
	}
	ts, err := time.Parse(AuditTimeFormat, rest[i+len(deployedAt):])
	if err != nil {
		return AuditEntry{}, fmt.Errorf("malformed audit timestamp in %q: %w", line, err)
	}

	return AuditEntry{Ref: ref, Operator: rest[:i], Timestamp: ts}, nil
}
