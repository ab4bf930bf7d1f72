package vcs

import (
	"context"
	"time"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// Selector chooses the ref to deploy for a mode. The working copy must be
// synchronized before Select is called.
type Selector struct {
	source deploy.SourceControl
	now    func() time.Time
}

// NewSelector creates a Selector reading from source.
func NewSelector(source deploy.SourceControl) *Selector {
	return &Selector{source: source, now: time.Now}
}

// WithClock sets the clock used for ResolvedAt.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select returns the release to deploy. Production gets the nearest tag
// itself; staging gets the tip, described relative to that tag.
func (s *Selector) Select(ctx context.Context, mode deploy.Mode, operator string) (deploy.Release, error) {
	const op = "vcs.Select"

	desc, err := s.source.Describe(ctx)
	if err != nil {
		return deploy.Release{}, err
	}
	if desc.Tag == "" {
		return deploy.Release{}, sderrors.NoRelease(op, "no tag found")
	}

	rel := deploy.Release{
		Tag:        desc.Tag,
		ResolvedAt: s.now().UTC(),
		DeployedBy: operator,
	}
	if mode == deploy.ModeProduction {
		rel.Ref = desc.Tag
		rel.Commit = desc.TagCommit
	} else {
		rel.Ref = desc.Long()
		rel.Ahead = desc.Ahead
		rel.Commit = desc.Head
	}
	return rel, nil
}
