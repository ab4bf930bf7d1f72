package vcs

import (
	"context"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// maxCandidates bounds how many tagged commits are compared, newest first.
const maxCandidates = 10

// Describe reports the nearest annotated tag reachable from HEAD and how far
// HEAD is past it. Lightweight tags are ignored. When several tags point at
// the chosen commit the highest version wins.
func (r *Repository) Describe(ctx context.Context) (deploy.Description, error) {
	const op = "vcs.Describe"

	head, err := r.repo.Head()
	if err != nil {
		return deploy.Description{}, sderrors.GitWrap(err, op, "failed to get HEAD")
	}

	tagged, err := r.annotatedTags(ctx)
	if err != nil {
		return deploy.Description{}, err
	}
	if len(tagged) == 0 {
		return deploy.Description{}, sderrors.NoRelease(op, "repository has no annotated tags")
	}

	// Walk HEAD newest first, collecting the reachable history and the
	// first tagged commits met.
	reachable := make(map[plumbing.Hash]struct{})
	var candidates []plumbing.Hash
	err = r.walk(ctx, head.Hash(), func(c *object.Commit) error {
		reachable[c.Hash] = struct{}{}
		if _, ok := tagged[c.Hash]; ok && len(candidates) < maxCandidates {
			candidates = append(candidates, c.Hash)
		}
		return nil
	})
	if err != nil {
		return deploy.Description{}, sderrors.GitWrap(err, op, "failed to walk history")
	}
	if len(candidates) == 0 {
		return deploy.Description{}, sderrors.NoRelease(op, "no annotated tag is reachable from "+r.branch)
	}

	best := plumbing.ZeroHash
	bestAhead := -1
	for _, cand := range candidates {
		depth := 0
		err := r.walk(ctx, cand, func(*object.Commit) error {
			depth++
			return nil
		})
		if err != nil {
			return deploy.Description{}, sderrors.GitWrap(err, op, "failed to walk tag history")
		}
		ahead := len(reachable) - depth
		if bestAhead < 0 || ahead < bestAhead {
			best, bestAhead = cand, ahead
		}
	}

	return deploy.Description{
		Tag:       highestTag(tagged[best]),
		TagCommit: best.String(),
		Ahead:     bestAhead,
		Head:      head.Hash().String(),
	}, nil
}

// annotatedTags maps each tagged commit to its annotated tag names.
func (r *Repository) annotatedTags(ctx context.Context) (map[plumbing.Hash][]string, error) {
	const op = "vcs.Describe"

	iter, err := r.repo.Tags()
	if err != nil {
		return nil, sderrors.GitWrap(err, op, "failed to get tags iterator")
	}
	defer iter.Close()

	tagged := make(map[plumbing.Hash][]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		tagObj, err := r.repo.TagObject(ref.Hash())
		if err != nil {
			// Lightweight tag.
			return nil
		}
		commit, err := tagObj.Commit()
		if err != nil {
			// Tag of a non-commit object.
			return nil
		}
		tagged[commit.Hash] = append(tagged[commit.Hash], ref.Name().Short())
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, sderrors.CanceledWrap(ctx.Err(), op, "operation canceled")
		}
		return nil, sderrors.GitWrap(err, op, "failed to iterate tags")
	}
	return tagged, nil
}

// walk visits every commit reachable from from, newest first by committer time.
func (r *Repository) walk(ctx context.Context, from plumbing.Hash, fn func(*object.Commit) error) error {
	iter, err := r.repo.Log(&git.LogOptions{From: from, Order: git.LogOrderCommitterTime})
	if err != nil {
		return err
	}
	defer iter.Close()

	return iter.ForEach(func(c *object.Commit) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fn(c)
	})
}

// highestTag picks the highest semantic version among names. Names that are
// not versions sort below versions and among themselves by name.
func highestTag(names []string) string {
	if len(names) == 1 {
		return names[0]
	}
	sorted := append([]string(nil), names...)
	sort.Slice(sorted, func(i, j int) bool {
		vi, erri := semver.NewVersion(sorted[i])
		vj, errj := semver.NewVersion(sorted[j])
		switch {
		case erri == nil && errj == nil:
			if !vi.Equal(vj) {
				return vi.GreaterThan(vj)
			}
		case erri == nil:
			return true
		case errj == nil:
			return false
		}
		return sorted[i] > sorted[j]
	})
	return sorted[0]
}
