package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// makeCachedArtifact creates a committed artifact folder under root.
func makeCachedArtifact(t *testing.T, root string, relative ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, relative...)...)
	if err := os.MkdirAll(filepath.Join(path, metadataFolder), 0o755); err != nil {
		t.Fatalf("failed to create artifact folder: %v", err)
	}
	if err := writeCompleteMarker(path); err != nil {
		t.Fatalf("failed to commit artifact folder: %v", err)
	}
	return path
}

func TestFactoryDispatch(t *testing.T) {
	factory := NewFactory(testRoots(t), nil, nil, nil, testLogger())

	cases := []struct {
		name    string
		spec    Spec
		wantErr ErrorKind
	}{
		{"path ok", Spec{"type": TypePath, "path": "/x"}, ""},
		{"dev ok", Spec{"type": TypeDev, "path": "/x"}, ""},
		{"manual ok", Spec{"type": TypeManual, "name": "n", "version": "v1.0.0"}, ""},
		{"app_store without store", Spec{"type": TypeAppStore, "name": "n", "version": "v1.0.0"}, ErrorKindResolution},
		{"git without runner", Spec{"type": TypeGit, "path": "r.git", "version": "v1.0.0"}, ErrorKindResolution},
		{"git_branch without runner", Spec{"type": TypeGitBranch, "path": "r.git", "branch": "main", "version": "abc1234"}, ErrorKindResolution},
		{"upload without store", Spec{"type": TypeUpload, "entity_type": "E", "field": "f", "version": "1", "id": "9"}, ErrorKindResolution},
		{"installed is resolver territory", Spec{"type": TypeInstalledPath, "path": "/x"}, ErrorKindResolution},
		{"baked is resolver territory", Spec{"type": TypeBaked, "name": "basic", "version": "v1.0.0"}, ErrorKindResolution},
		{"invalid spec", Spec{"type": TypeAppStore, "name": "n"}, ErrorKindSpec},
		{"reserved type", Spec{"type": "perforce", "path": "//depot"}, ErrorKindSpec},
	}

	for _, tc := range cases {
		transport, err := factory.New(tc.spec)
		if tc.wantErr == "" {
			if err != nil {
				t.Errorf("%s: New() failed: %v", tc.name, err)
			} else if transport == nil {
				t.Errorf("%s: New() returned nil transport", tc.name)
			}
			continue
		}
		if err == nil {
			t.Errorf("%s: New() succeeded, want %s error", tc.name, tc.wantErr)
			continue
		}
		if !IsKind(err, tc.wantErr) {
			t.Errorf("%s: error kind = %v, want %s", tc.name, err, tc.wantErr)
		}
	}
}

func TestFactoryNewFromURI(t *testing.T) {
	factory := NewFactory(testRoots(t), nil, nil, nil, testLogger())

	transport, err := factory.NewFromURI("sgtk:descriptor:manual?name=tools&version=v1.0.0")
	if err != nil {
		t.Fatalf("NewFromURI failed: %v", err)
	}
	if transport.SystemName() != "tools" || transport.Version() != "v1.0.0" {
		t.Errorf("unexpected transport identity: %s %s", transport.SystemName(), transport.Version())
	}

	if _, err := factory.NewFromURI("not a uri"); err == nil {
		t.Error("NewFromURI accepted garbage")
	}
}

// TestSearchOrderPrefersFallbacks tests that a shared read-only copy wins
// over the locally writable root.
func TestSearchOrderPrefersFallbacks(t *testing.T) {
	primary := t.TempDir()
	fallback := t.TempDir()
	roots := CacheRoots{Primary: primary, Fallbacks: []string{fallback}}

	primaryCopy := makeCachedArtifact(t, primary, "manual", "tools", "v1.0.0")
	fallbackCopy := makeCachedArtifact(t, fallback, "manual", "tools", "v1.0.0")
	_ = primaryCopy

	found := searchCachePaths(roots, filepath.Join("manual", "tools", "v1.0.0"))
	if found != fallbackCopy {
		t.Errorf("searchCachePaths = %q, want fallback copy %q", found, fallbackCopy)
	}
}

func TestCachedVersionsMergesRootsAndSkipsIncomplete(t *testing.T) {
	primary := t.TempDir()
	fallback := t.TempDir()
	roots := CacheRoots{Primary: primary, Fallbacks: []string{fallback}}

	makeCachedArtifact(t, primary, "manual", "tools", "v1.0.0")
	makeCachedArtifact(t, fallback, "manual", "tools", "v1.1.0")
	// Duplicate of a version that exists elsewhere: counted once.
	makeCachedArtifact(t, fallback, "manual", "tools", "v1.0.0")
	// In-progress download: excluded.
	if err := os.MkdirAll(filepath.Join(primary, "manual", "tools", "v2.0.0", metadataFolder), 0o755); err != nil {
		t.Fatal(err)
	}

	versions := cachedVersions(roots, filepath.Join("manual", "tools"))
	if len(versions) != 2 {
		t.Fatalf("cachedVersions = %v, want 2 entries", versions)
	}
	seen := map[string]bool{}
	for _, v := range versions {
		seen[v] = true
	}
	if !seen["v1.0.0"] || !seen["v1.1.0"] {
		t.Errorf("cachedVersions = %v, want v1.0.0 and v1.1.0", versions)
	}
}

func TestSystemNameFromPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"git@example.com:studio/tk-config.git", "tk-config"},
		{"https://example.com/studio/tk-config.git", "tk-config"},
		{"/studio/configs/dev-config", "dev-config"},
		{"/studio/configs/dev-config/", "dev-config"},
		{`C:\studio\tk-config.git`, "tk-config"},
	}

	for _, tc := range cases {
		if got := systemNameFromPath(tc.path); got != tc.want {
			t.Errorf("systemNameFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestPathTransport(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory(testRoots(t), nil, nil, nil, testLogger())

	transport, err := factory.New(Spec{"type": TypePath, "path": dir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if transport.Version() != VersionUndefined {
		t.Errorf("Version = %q, want %q", transport.Version(), VersionUndefined)
	}
	if transport.IsImmutable() {
		t.Error("path descriptor reported immutable")
	}
	if transport.LocalPath() != dir {
		t.Errorf("LocalPath = %q, want %q", transport.LocalPath(), dir)
	}

	// Downloading a literal path makes no sense.
	if err := transport.DownloadLocal(context.Background()); err == nil {
		t.Error("DownloadLocal succeeded for a path descriptor")
	}

	// A path descriptor is always its own latest.
	latest, err := transport.LatestVersion(context.Background(), "")
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest != transport {
		t.Error("LatestVersion did not return the transport itself")
	}
}

func TestPathTransportMissingFolder(t *testing.T) {
	factory := NewFactory(testRoots(t), nil, nil, nil, testLogger())
	transport, err := factory.New(Spec{"type": TypePath, "path": filepath.Join(t.TempDir(), "gone")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if transport.LocalPath() != "" {
		t.Error("LocalPath nonempty for a missing folder")
	}
	if _, err := transport.EnsureLocal(context.Background()); err == nil {
		t.Error("EnsureLocal succeeded for a missing folder")
	}
}

func TestManualTransport(t *testing.T) {
	roots := testRoots(t)
	factory := NewFactory(roots, nil, nil, nil, testLogger())

	transport, err := factory.New(Spec{"type": TypeManual, "name": "tools", "version": "v1.0.0"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Not staged yet: download has nothing to fetch from.
	if err := transport.DownloadLocal(context.Background()); err == nil {
		t.Error("DownloadLocal succeeded for an unstaged manual bundle")
	}

	// Stage the payload by hand, as this descriptor type assumes.
	makeCachedArtifact(t, roots.Primary, "manual", "tools", "v1.0.0")
	makeCachedArtifact(t, roots.Primary, "manual", "tools", "v1.2.0")

	if transport.LocalPath() == "" {
		t.Error("LocalPath empty for a staged manual bundle")
	}
	if err := transport.DownloadLocal(context.Background()); err != nil {
		t.Errorf("DownloadLocal failed for a staged bundle: %v", err)
	}

	cached, err := transport.LatestCachedVersion("")
	if err != nil {
		t.Fatalf("LatestCachedVersion failed: %v", err)
	}
	if cached == nil || cached.Version() != "v1.2.0" {
		t.Errorf("LatestCachedVersion = %v, want v1.2.0", cached)
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("STUDIO_ROOT", "/studio")
	if got := ExpandPath("$STUDIO_ROOT/configs"); got != filepath.Clean("/studio/configs") {
		t.Errorf("ExpandPath env = %q", got)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := ExpandPath("~/dev"); got != filepath.Join(home, "dev") {
		t.Errorf("ExpandPath home = %q", got)
	}
}
