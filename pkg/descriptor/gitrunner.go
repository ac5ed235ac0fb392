package descriptor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// GitRunner abstracts the git operations the version-control transports
// need, so tests can substitute a fake and the transports stay free of
// process-invocation detail.
type GitRunner interface {
	// ListRemoteTags returns the tag names of the remote repository
	// without cloning it.
	ListRemoteTags(ctx context.Context, url string) ([]string, error)

	// BranchHead returns the commit hash at the tip of the given branch.
	BranchHead(ctx context.Context, url, branch string) (string, error)

	// FetchTag materializes the tree of the given tag into dest without
	// leaving repository history behind.
	FetchTag(ctx context.Context, url, tag, dest string) error

	// CloneBranch clones the repository into dest, checks out the branch
	// and resets it to the given commit. The .git folder is kept so the
	// checkout supports later incremental operations.
	CloneBranch(ctx context.Context, url, branch, commit, dest string) error
}

// ExecGitRunner runs the local git binary.
type ExecGitRunner struct {
	logger zerolog.Logger
}

// NewExecGitRunner creates a runner that shells out to git.
func NewExecGitRunner(logger zerolog.Logger) *ExecGitRunner {
	return &ExecGitRunner{logger: logger.With().Str("component", "git-runner").Logger()}
}

func (g *ExecGitRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	g.logger.Debug().Strs("args", args).Msg("Running git")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ListRemoteTags implements GitRunner via ls-remote.
func (g *ExecGitRunner) ListRemoteTags(ctx context.Context, url string) ([]string, error) {
	out, err := g.run(ctx, "", "ls-remote", "--tags", "--refs", url)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		tags = append(tags, strings.TrimPrefix(fields[1], "refs/tags/"))
	}
	return tags, nil
}

// BranchHead implements GitRunner via ls-remote on the branch ref.
func (g *ExecGitRunner) BranchHead(ctx context.Context, url, branch string) (string, error) {
	out, err := g.run(ctx, "", "ls-remote", "--heads", url, branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) < 1 {
		return "", fmt.Errorf("branch %s not found in %s", branch, url)
	}
	return fields[0], nil
}

// FetchTag implements GitRunner with a shallow single-tag clone followed by
// removal of the repository history, leaving only the tree.
func (g *ExecGitRunner) FetchTag(ctx context.Context, url, tag, dest string) error {
	if _, err := g.run(ctx, "", "clone", "--depth", "1", "--branch", tag, url, dest); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dest, ".git"))
}

// CloneBranch implements GitRunner with a full clone pinned to a commit.
func (g *ExecGitRunner) CloneBranch(ctx context.Context, url, branch, commit, dest string) error {
	if _, err := g.run(ctx, "", "clone", "--branch", branch, url, dest); err != nil {
		return err
	}
	if _, err := g.run(ctx, dest, "reset", "--hard", commit); err != nil {
		return err
	}
	return nil
}
