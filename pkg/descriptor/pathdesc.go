package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// pathKeyForPlatform returns the per-OS path key for the current platform.
func pathKeyForPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return "windows_path"
	case "darwin":
		return "mac_path"
	default:
		return "linux_path"
	}
}

// ExpandPath expands environment variables and a leading ~ in a path and
// normalizes it.
func ExpandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}
	return filepath.Clean(expanded)
}

// pathTransport points at an existing folder on disk. No cache copy is ever
// created; the literal path is the artifact. The dev variant is explicitly
// mutable developer territory; both variants report not-immutable because
// their payload can change without a version bump.
type pathTransport struct {
	spec  Spec
	roots CacheRoots
	dev   bool
}

func newPathTransport(spec Spec, roots CacheRoots, dev bool) *pathTransport {
	return &pathTransport{spec: spec, roots: roots, dev: dev}
}

func (t *pathTransport) Spec() Spec { return t.spec }

// resolvedPath picks the per-OS path field when populated, falling back to
// the generic path key, and expands it.
func (t *pathTransport) resolvedPath() string {
	path := t.spec[pathKeyForPlatform()]
	if path == "" {
		path = t.spec["path"]
	}
	if path == "" {
		return ""
	}
	return ExpandPath(path)
}

func (t *pathTransport) SystemName() string {
	if name := t.spec["name"]; name != "" {
		return name
	}
	return systemNameFromPath(t.resolvedPath())
}

func (t *pathTransport) Version() string { return VersionUndefined }

func (t *pathTransport) IsImmutable() bool { return false }

// LocalPath returns the literal path. The primary root is irrelevant here:
// there is only ever one location for a path descriptor.
func (t *pathTransport) LocalPath() string {
	path := t.resolvedPath()
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (t *pathTransport) EnsureLocal(ctx context.Context) (string, error) {
	if path := t.LocalPath(); path != "" {
		return path, nil
	}
	return "", NewResolutionError("path descriptor points at a folder that does not exist: "+t.resolvedPath(), nil).WithDescriptor(t.spec.URI())
}

func (t *pathTransport) DownloadLocal(ctx context.Context) error {
	return NewSpecError("path descriptors cannot be downloaded, the payload must already exist on disk", nil).WithDescriptor(t.spec.URI()).WithOp("download")
}

// LatestVersion returns the transport itself: a local folder is trivially
// always its own latest.
func (t *pathTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	return t, nil
}

func (t *pathTransport) LatestCachedVersion(constraint string) (Transport, error) {
	if t.LocalPath() == "" {
		return nil, nil
	}
	return t, nil
}

func (t *pathTransport) HasRemoteAccess(ctx context.Context) bool {
	// Nothing remote to reach; presumed available.
	return true
}

func (t *pathTransport) Copy(ctx context.Context, target string) error {
	return defaultCopy(ctx, t, target)
}

// manualTransport is a placeholder for payloads staged by hand into the
// cache. It has no fetch capability at all.
type manualTransport struct {
	spec  Spec
	roots CacheRoots
}

func newManualTransport(spec Spec, roots CacheRoots) *manualTransport {
	return &manualTransport{spec: spec, roots: roots}
}

func (t *manualTransport) Spec() Spec { return t.spec }

func (t *manualTransport) SystemName() string { return t.spec["name"] }

func (t *manualTransport) Version() string { return t.spec["version"] }

func (t *manualTransport) IsImmutable() bool { return true }

func (t *manualTransport) cacheRelative() string {
	return filepath.Join("manual", t.SystemName(), t.Version())
}

func (t *manualTransport) LocalPath() string {
	return searchCachePaths(t.roots, t.cacheRelative())
}

func (t *manualTransport) EnsureLocal(ctx context.Context) (string, error) {
	return ensureLocal(ctx, t)
}

func (t *manualTransport) DownloadLocal(ctx context.Context) error {
	if t.LocalPath() != "" {
		return nil
	}
	return NewResolutionError("manual descriptor payload is not present in any cache root and cannot be fetched", nil).WithDescriptor(t.spec.URI()).WithOp("download")
}

func (t *manualTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	return t, nil
}

func (t *manualTransport) LatestCachedVersion(constraint string) (Transport, error) {
	versions := cachedVersions(t.roots, filepath.Join("manual", t.SystemName()))
	if len(versions) == 0 {
		return nil, nil
	}
	latest, err := FindLatestVersion(versions, constraint)
	if err != nil || latest == "" {
		return nil, err
	}
	spec := t.spec.Clone()
	spec["version"] = latest
	return newManualTransport(spec, t.roots), nil
}

func (t *manualTransport) HasRemoteAccess(ctx context.Context) bool {
	return false
}

func (t *manualTransport) Copy(ctx context.Context, target string) error {
	return defaultCopy(ctx, t, target)
}
