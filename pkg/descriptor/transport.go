package descriptor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/fsutil"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
)

// Transport is the backend-specific resolution contract for one location
// specifier type: it knows how to report a version, find or compute the
// local cache path, fetch the payload, and resolve "latest".
//
// A Transport is immutable after construction; LatestVersion and
// LatestCachedVersion return new instances rather than mutating in place.
type Transport interface {
	// Spec returns the location specifier this transport is bound to.
	Spec() Spec

	// SystemName returns the short stable identifier for the artifact,
	// derived from the specifier (explicit name, or path/URL basename
	// with any extension stripped).
	SystemName() string

	// Version returns the version token as stored in the specifier.
	// Non-versioned backends return VersionUndefined.
	Version() string

	// IsImmutable reports whether the payload behind this specifier can
	// never change without a version bump. Mutable backends (dev, path,
	// git branches) always compare as stale during status checks.
	IsImmutable() bool

	// LocalPath searches the cache-root set and returns the artifact
	// location, or "" when not present in any root.
	LocalPath() string

	// EnsureLocal returns the local path, downloading first if needed.
	EnsureLocal(ctx context.Context) (string, error)

	// DownloadLocal fetches the artifact into the primary cache root.
	// Backends with nothing to download (path, dev) fail.
	DownloadLocal(ctx context.Context) error

	// LatestVersion resolves the most recent available version, honoring
	// an optional constraint pattern, and returns a new transport bound
	// to it. Trivially-latest backends (path, dev, manual) return
	// themselves.
	LatestVersion(ctx context.Context, constraint string) (Transport, error)

	// LatestCachedVersion resolves the most recent version already
	// present across the cache roots without any network I/O. Returns
	// (nil, nil) when nothing is cached.
	LatestCachedVersion(constraint string) (Transport, error)

	// HasRemoteAccess is a cheap backend-specific connectivity probe.
	HasRemoteAccess(ctx context.Context) bool

	// Copy materializes the artifact tree at target, ensuring local
	// availability first.
	Copy(ctx context.Context, target string) error
}

// Factory constructs transports from location specifiers. The backend set
// is a closed tagged union: dispatch is a switch over the known types, not
// a runtime-mutable registry. All collaborators (cache roots, record-store
// client, git runner) are injected here so transports stay stateless
// configuration.
type Factory struct {
	roots   CacheRoots
	store   recordstore.Client
	session *recordstore.Session
	git     GitRunner
	logger  zerolog.Logger
}

// NewFactory creates a transport factory bound to the given cache roots and
// collaborators. store and session may be nil when no registry- or
// attachment-backed descriptors will be resolved; git may be nil when no
// version-control descriptors will be resolved.
func NewFactory(roots CacheRoots, store recordstore.Client, session *recordstore.Session, git GitRunner, logger zerolog.Logger) *Factory {
	return &Factory{
		roots:   roots,
		store:   store,
		session: session,
		git:     git,
		logger:  logger.With().Str("component", "descriptor-factory").Logger(),
	}
}

// Roots returns the cache-root set the factory binds into its transports.
func (f *Factory) Roots() CacheRoots {
	return f.roots
}

// New constructs the transport variant for the specifier's type. The
// specifier is validated first; unknown types fail resolution.
func (f *Factory) New(spec Spec) (Transport, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	switch spec.Type() {
	case TypeAppStore:
		if f.store == nil {
			return nil, NewResolutionError("no record-store client available for app_store descriptors", nil).WithDescriptor(spec.URI())
		}
		return newAppStoreTransport(spec, f.roots, f.store, f.session, f.logger), nil
	case TypeGit:
		if f.git == nil {
			return nil, NewResolutionError("no git runner available for git descriptors", nil).WithDescriptor(spec.URI())
		}
		return newGitTagTransport(spec, f.roots, f.git, f.logger), nil
	case TypeGitBranch:
		if f.git == nil {
			return nil, NewResolutionError("no git runner available for git_branch descriptors", nil).WithDescriptor(spec.URI())
		}
		return newGitBranchTransport(spec, f.roots, f.git, f.logger), nil
	case TypePath:
		return newPathTransport(spec, f.roots, false), nil
	case TypeDev:
		return newPathTransport(spec, f.roots, true), nil
	case TypeUpload:
		if f.store == nil {
			return nil, NewResolutionError("no record-store client available for shotgun descriptors", nil).WithDescriptor(spec.URI())
		}
		return newUploadTransport(spec, f.roots, f.store, f.logger), nil
	case TypeManual:
		return newManualTransport(spec, f.roots), nil
	case TypeInstalledPath, TypeBaked:
		return nil, NewResolutionError("configuration-only descriptor types are dispatched by the bootstrap resolver, not backed by a transport", nil).WithDescriptor(spec.URI())
	default:
		// Validate covers this, but keep the factory total.
		return nil, NewSpecError(fmt.Sprintf("unknown descriptor type %q", spec.Type()), nil).WithDescriptor(spec.URI())
	}
}

// NewFromURI parses a descriptor URI and constructs its transport.
func (f *Factory) NewFromURI(uri string) (Transport, error) {
	spec, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return f.New(spec)
}

// searchCachePaths returns the first existing, complete artifact folder for
// the relative cache path across the roots in fallback-then-primary order.
func searchCachePaths(roots CacheRoots, relative string) string {
	for _, root := range roots.SearchOrder() {
		candidate := filepath.Join(root, relative)
		if existsLocal(candidate) {
			return candidate
		}
	}
	return ""
}

// cachedVersions lists the version folder names present for the relative
// bundle path across all cache roots. Incomplete downloads are excluded.
func cachedVersions(roots CacheRoots, bundleRelative string) []string {
	seen := make(map[string]bool)
	var versions []string
	for _, root := range roots.SearchOrder() {
		entries, err := os.ReadDir(filepath.Join(root, bundleRelative))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || seen[entry.Name()] {
				continue
			}
			if existsLocal(filepath.Join(root, bundleRelative, entry.Name())) {
				seen[entry.Name()] = true
				versions = append(versions, entry.Name())
			}
		}
	}
	return versions
}

// systemNameFromPath derives the short artifact identifier from a path or
// repository URL: its basename with any extension stripped.
func systemNameFromPath(path string) string {
	base := filepath.Base(strings.TrimSuffix(strings.ReplaceAll(path, "\\", "/"), "/"))
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// defaultCopy ensures the artifact is local and copies it into target,
// excluding the standard skip set.
func defaultCopy(ctx context.Context, t Transport, target string) error {
	source, err := t.EnsureLocal(ctx)
	if err != nil {
		return err
	}
	if err := fsutil.CopyTree(source, target, fsutil.DefaultSkipList); err != nil {
		return NewIOError("failed to copy artifact", err).WithDescriptor(t.Spec().URI()).WithOp("copy")
	}
	return nil
}

// ensureLocal implements the shared EnsureLocal contract on top of a
// transport's LocalPath and DownloadLocal.
func ensureLocal(ctx context.Context, t Transport) (string, error) {
	if path := t.LocalPath(); path != "" {
		return path, nil
	}
	if err := t.DownloadLocal(ctx); err != nil {
		return "", err
	}
	path := t.LocalPath()
	if path == "" {
		return "", NewIOError("artifact still missing after download", nil).WithDescriptor(t.Spec().URI()).WithOp("ensure_local")
	}
	return path, nil
}
