// Package vcs provides the go-git backed source control for deploy working
// copies and the version selector built on it.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
)

// Ensure Repository implements deploy.SourceControl.
var _ deploy.SourceControl = (*Repository)(nil)

// Repository is a deploy working copy.
type Repository struct {
	path     string
	remote   string
	branch   string
	auth     transport.AuthMethod
	useCLI   bool
	gitPath  string
	logger   *log.Logger
	retrier  retry.Retry[struct{}]
	repo     *git.Repository
	worktree *git.Worktree
}

// Option configures a Repository.
type Option func(*Repository)

// WithRemote sets the remote to fetch from.
func WithRemote(name string) Option {
	return func(r *Repository) { r.remote = name }
}

// WithBranch sets the tracked mainline branch.
func WithBranch(name string) Option {
	return func(r *Repository) { r.branch = name }
}

// WithAuth sets the transport authentication.
func WithAuth(auth transport.AuthMethod) Option {
	return func(r *Repository) { r.auth = auth }
}

// WithCLIFallback enables retrying a failed fetch with the git binary.
func WithCLIFallback(enabled bool) Option {
	return func(r *Repository) { r.useCLI = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// Open opens the working copy at path.
func Open(path string, opts ...Option) (*Repository, error) {
	const op = "vcs.Open"

	r := &Repository{
		remote:  git.DefaultRemoteName,
		branch:  "master",
		useCLI:  true,
		gitPath: "git",
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, sderrors.GitWrap(err, op, "failed to get absolute path")
	}
	r.path = absPath

	repo, err := git.PlainOpen(absPath)
	if err != nil {
		return nil, sderrors.GitWrap(err, op, "failed to open repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, sderrors.GitWrap(err, op, "failed to get worktree")
	}
	r.repo = repo
	r.worktree = worktree

	return r, nil
}

// Path returns the absolute working copy path.
func (r *Repository) Path() string { return r.path }

// Sync fetches the remote with tags, returns the working copy to the tracked
// branch and fast-forwards it to the remote branch.
func (r *Repository) Sync(ctx context.Context) error {
	const op = "vcs.Sync"

	if err := r.fetchWithRetry(ctx); err != nil {
		return err
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(r.remote, r.branch), true)
	if err != nil {
		return sderrors.GitWrap(err, op, fmt.Sprintf("remote branch %s/%s not found", r.remote, r.branch))
	}

	branchRef := plumbing.NewBranchReferenceName(r.branch)
	if _, err := r.repo.Reference(branchRef, true); errors.Is(err, plumbing.ErrReferenceNotFound) {
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
			return sderrors.GitWrap(err, op, "failed to create tracking branch")
		}
	} else if err != nil {
		return sderrors.GitWrap(err, op, "failed to resolve branch")
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
		return sderrors.GitWrap(err, op, fmt.Sprintf("failed to check out %s", r.branch))
	}

	return r.fastForward(remoteRef.Hash())
}

func (r *Repository) fetchOnce(ctx context.Context) error {
	const op = "vcs.Fetch"

	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: r.remote,
		Auth:       r.auth,
		Tags:       git.AllTags,
	})
	if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if ctx.Err() != nil {
		return sderrors.CanceledWrap(ctx.Err(), op, "fetch canceled")
	}
	if !r.useCLI {
		return sderrors.GitWrap(err, op, "failed to fetch")
	}

	r.logger.Warn("go-git fetch failed, retrying with git", "remote", r.remote, "error", sderrors.RedactError(err))
	if cliErr := r.runGit(ctx, "fetch", "--tags", "--prune", r.remote); cliErr != nil {
		return sderrors.GitWrap(cliErr, op, "failed to fetch")
	}
	return nil
}

// fastForward moves the checked-out branch to target, refusing anything
// that is not a fast-forward.
func (r *Repository) fastForward(target plumbing.Hash) error {
	const op = "vcs.Sync"

	head, err := r.repo.Head()
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to get HEAD")
	}
	if head.Hash() == target {
		return nil
	}

	current, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to read HEAD commit")
	}
	next, err := r.repo.CommitObject(target)
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to read remote commit")
	}
	ok, err := current.IsAncestor(next)
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to compare history")
	}
	if !ok {
		return sderrors.Git(op, fmt.Sprintf("%s has diverged from %s/%s; refusing to merge", r.branch, r.remote, r.branch))
	}

	if err := r.worktree.Reset(&git.ResetOptions{Commit: target, Mode: git.MergeReset}); err != nil {
		return sderrors.GitWrap(err, op, "failed to fast-forward")
	}
	r.logger.Debug("fast-forwarded", "branch", r.branch, "from", head.Hash().String()[:7], "to", target.String()[:7])
	return nil
}

// Checkout detaches the working copy at the release commit and brings
// submodules, recursively, to the commits recorded there.
func (r *Repository) Checkout(ctx context.Context, release deploy.Release) error {
	const op = "vcs.Checkout"

	hash, err := r.resolve(release)
	if err != nil {
		return sderrors.GitWrap(err, op, fmt.Sprintf("failed to resolve %s", release.Ref))
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return sderrors.GitWrap(err, op, fmt.Sprintf("failed to check out %s", release.Ref))
	}

	subs, err := r.worktree.Submodules()
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to list submodules")
	}
	if len(subs) == 0 {
		return nil
	}
	err = subs.UpdateContext(ctx, &git.SubmoduleUpdateOptions{
		Init:              true,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
		Auth:              r.auth,
	})
	if err != nil {
		return sderrors.GitWrap(err, op, "failed to update submodules")
	}
	return nil
}

func (r *Repository) resolve(release deploy.Release) (plumbing.Hash, error) {
	if plumbing.IsHash(release.Commit) {
		return plumbing.NewHash(release.Commit), nil
	}
	resolved, err := r.repo.ResolveRevision(plumbing.Revision(release.Ref))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return *resolved, nil
}

// Head returns the full hash of HEAD.
func (r *Repository) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", sderrors.GitWrap(err, "vcs.Head", "failed to get HEAD")
	}
	return head.Hash().String(), nil
}

// runGit runs the git binary in the working copy. Prompts are disabled so a
// missing credential fails instead of hanging.
func (r *Repository) runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.gitPath, args...) // #nosec G204 -- fixed binary, arguments built here
	cmd.Dir = r.path
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(sderrors.RedactSensitive(stderr.String()))
		if msg != "" {
			return fmt.Errorf("git %s: %s", args[0], msg)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
