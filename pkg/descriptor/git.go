package descriptor

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/fsutil"
)

// gitTagTransport resolves artifacts pinned to a tag of a git repository.
// The cache holds the extracted tree of the tag, never a full clone.
type gitTagTransport struct {
	spec   Spec
	roots  CacheRoots
	git    GitRunner
	logger zerolog.Logger
}

func newGitTagTransport(spec Spec, roots CacheRoots, git GitRunner, logger zerolog.Logger) *gitTagTransport {
	return &gitTagTransport{spec: spec, roots: roots, git: git, logger: logger}
}

func (t *gitTagTransport) Spec() Spec { return t.spec }

func (t *gitTagTransport) SystemName() string {
	return systemNameFromPath(t.spec["path"])
}

func (t *gitTagTransport) Version() string { return t.spec["version"] }

func (t *gitTagTransport) IsImmutable() bool { return true }

func (t *gitTagTransport) cacheRelative() string {
	return filepath.Join("git", t.SystemName(), t.Version())
}

func (t *gitTagTransport) LocalPath() string {
	return searchCachePaths(t.roots, t.cacheRelative())
}

func (t *gitTagTransport) EnsureLocal(ctx context.Context) (string, error) {
	return ensureLocal(ctx, t)
}

func (t *gitTagTransport) DownloadLocal(ctx context.Context) error {
	target := filepath.Join(t.roots.Primary, t.cacheRelative())
	return downloadAtomic(ctx, t.spec, t.roots, target, t.logger, func(ctx context.Context, tmpDir string) error {
		return t.git.FetchTag(ctx, t.spec["path"], t.Version(), tmpDir)
	})
}

// LatestVersion lists the remote tags via a lightweight refs query (no
// clone needed) and applies the version matcher.
func (t *gitTagTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	tags, err := t.git.ListRemoteTags(ctx, t.spec["path"])
	if err != nil {
		return nil, NewIOError("failed to list remote tags", err).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	if len(tags) == 0 {
		return nil, NewResolutionError("repository has no tags", nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	latest, err := FindLatestVersion(tags, constraint)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, NewResolutionError("no tag matches constraint "+constraint, nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	spec := t.spec.Clone()
	spec["version"] = latest
	return newGitTagTransport(spec, t.roots, t.git, t.logger), nil
}

func (t *gitTagTransport) LatestCachedVersion(constraint string) (Transport, error) {
	versions := cachedVersions(t.roots, filepath.Join("git", t.SystemName()))
	if len(versions) == 0 {
		return nil, nil
	}
	latest, err := FindLatestVersion(versions, constraint)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, nil
	}
	spec := t.spec.Clone()
	spec["version"] = latest
	return newGitTagTransport(spec, t.roots, t.git, t.logger), nil
}

func (t *gitTagTransport) HasRemoteAccess(ctx context.Context) bool {
	_, err := t.git.ListRemoteTags(ctx, t.spec["path"])
	return err == nil
}

func (t *gitTagTransport) Copy(ctx context.Context, target string) error {
	return defaultCopy(ctx, t, target)
}

// gitBranchTransport resolves artifacts pinned to a commit on a branch.
// The cache keeps a full clone so the checkout supports later incremental
// operations, and cache paths are keyed by a short hash prefix for
// filesystem-length safety.
type gitBranchTransport struct {
	spec   Spec
	roots  CacheRoots
	git    GitRunner
	logger zerolog.Logger
}

func newGitBranchTransport(spec Spec, roots CacheRoots, git GitRunner, logger zerolog.Logger) *gitBranchTransport {
	return &gitBranchTransport{spec: spec, roots: roots, git: git, logger: logger}
}

func (t *gitBranchTransport) Spec() Spec { return t.spec }

func (t *gitBranchTransport) SystemName() string {
	return systemNameFromPath(t.spec["path"])
}

func (t *gitBranchTransport) Version() string { return t.spec["version"] }

// IsImmutable is false: the short-hash cache key cannot guarantee the
// payload matches the full commit, and branch workflows expect refreshes.
func (t *gitBranchTransport) IsImmutable() bool { return false }

func (t *gitBranchTransport) shortHash() string {
	version := t.Version()
	if len(version) > 7 {
		return version[:7]
	}
	return version
}

func (t *gitBranchTransport) cacheRelative() string {
	return filepath.Join("gitbranch", t.SystemName(), t.shortHash())
}

func (t *gitBranchTransport) LocalPath() string {
	return searchCachePaths(t.roots, t.cacheRelative())
}

func (t *gitBranchTransport) EnsureLocal(ctx context.Context) (string, error) {
	return ensureLocal(ctx, t)
}

func (t *gitBranchTransport) DownloadLocal(ctx context.Context) error {
	target := filepath.Join(t.roots.Primary, t.cacheRelative())
	return downloadAtomic(ctx, t.spec, t.roots, target, t.logger, func(ctx context.Context, tmpDir string) error {
		return t.git.CloneBranch(ctx, t.spec["path"], t.spec["branch"], t.spec["version"], tmpDir)
	})
}

// LatestVersion resolves the branch head commit. Constraint patterns do not
// compose with commit hashes; they are logged and ignored.
func (t *gitBranchTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	if constraint != "" {
		t.logger.Warn().
			Str("constraint", constraint).
			Str("descriptor", t.spec.URI()).
			Msg("Version constraints are not supported for branch descriptors, ignoring")
	}
	head, err := t.git.BranchHead(ctx, t.spec["path"], t.spec["branch"])
	if err != nil {
		return nil, NewIOError("failed to resolve branch head", err).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	spec := t.spec.Clone()
	spec["version"] = head
	return newGitBranchTransport(spec, t.roots, t.git, t.logger), nil
}

// LatestCachedVersion returns this transport when its own commit is cached.
// Hash-keyed cache folders carry no ordering, so there is nothing newer to
// prefer locally.
func (t *gitBranchTransport) LatestCachedVersion(constraint string) (Transport, error) {
	if t.LocalPath() == "" {
		return nil, nil
	}
	return t, nil
}

func (t *gitBranchTransport) HasRemoteAccess(ctx context.Context) bool {
	_, err := t.git.BranchHead(ctx, t.spec["path"], t.spec["branch"])
	return err == nil
}

// Copy keeps the version-control metadata folder: a branch checkout is
// expected to remain a working tree.
func (t *gitBranchTransport) Copy(ctx context.Context, target string) error {
	source, err := t.EnsureLocal(ctx)
	if err != nil {
		return err
	}
	skip := []string{metadataFolder, "__MACOSX", ".DS_Store"}
	if err := fsutil.CopyTree(source, target, skip); err != nil {
		return NewIOError("failed to copy artifact", err).WithDescriptor(t.spec.URI()).WithOp("copy")
	}
	return nil
}
