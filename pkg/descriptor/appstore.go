package descriptor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
)

// Record-store entity names for the app-store registry.
const (
	appStoreBundleEntity  = "AppStoreBundle"
	appStoreVersionEntity = "AppStoreBundleVersion"
)

// Environment switches for the app-store backend.
const (
	// EnvDisableAppStore disables all app-store network access when set.
	EnvDisableAppStore = "SGTK_DISABLE_APPSTORE"

	// EnvAppStoreQAMode relaxes the exclusion of versions flagged "bad",
	// for QA of not-yet-promoted releases. "deprecated" stays excluded.
	EnvAppStoreQAMode = "SGTK_APP_STORE_QA_MODE"
)

// appStoreTransport resolves artifacts published in the hosted app-store
// registry. Payloads are fetched via the record store's attachment
// primitive; cache paths follow <root>/app_store/<name>/<version>.
type appStoreTransport struct {
	spec    Spec
	roots   CacheRoots
	store   recordstore.Client
	session *recordstore.Session
	logger  zerolog.Logger
}

func newAppStoreTransport(spec Spec, roots CacheRoots, store recordstore.Client, session *recordstore.Session, logger zerolog.Logger) *appStoreTransport {
	return &appStoreTransport{spec: spec, roots: roots, store: store, session: session, logger: logger}
}

func (t *appStoreTransport) Spec() Spec { return t.spec }

func (t *appStoreTransport) SystemName() string { return t.spec["name"] }

func (t *appStoreTransport) Version() string { return t.spec["version"] }

func (t *appStoreTransport) IsImmutable() bool { return true }

func (t *appStoreTransport) cacheRelative() string {
	return filepath.Join("app_store", t.SystemName(), t.Version())
}

func (t *appStoreTransport) LocalPath() string {
	return searchCachePaths(t.roots, t.cacheRelative())
}

func (t *appStoreTransport) EnsureLocal(ctx context.Context) (string, error) {
	return ensureLocal(ctx, t)
}

func (t *appStoreTransport) DownloadLocal(ctx context.Context) error {
	if os.Getenv(EnvDisableAppStore) != "" {
		return NewResolutionError("app store access is disabled via "+EnvDisableAppStore, nil).WithDescriptor(t.spec.URI()).WithOp("download")
	}
	target := filepath.Join(t.roots.Primary, t.cacheRelative())
	return downloadAtomic(ctx, t.spec, t.roots, target, t.logger, func(ctx context.Context, tmpDir string) error {
		attachmentID, err := t.versionAttachment(ctx)
		if err != nil {
			return err
		}
		return t.store.DownloadAttachment(ctx, attachmentID, tmpDir)
	})
}

// versionAttachment looks up the payload attachment id for this exact
// bundle name and version.
func (t *appStoreTransport) versionAttachment(ctx context.Context) (int, error) {
	entity, err := t.store.FindOne(ctx,
		appStoreVersionEntity,
		[]recordstore.Filter{
			{Field: "bundle_name", Op: "is", Value: t.SystemName()},
			{Field: "version", Op: "is", Value: t.Version()},
		},
		[]string{"id", "attachment_id"},
	)
	if err != nil {
		return 0, err
	}
	if entity == nil {
		return 0, NewResolutionError("version not found in the app store", nil).WithDescriptor(t.spec.URI())
	}
	attachmentID, ok := entity.Int("attachment_id")
	if !ok || attachmentID == 0 {
		return 0, NewResolutionError("app store version record carries no payload attachment", nil).WithDescriptor(t.spec.URI())
	}
	return attachmentID, nil
}

// LatestVersion queries the registry for the newest non-retired version of
// the bundle. Versions flagged "deprecated" are always excluded; versions
// flagged "bad" are excluded unless QA mode is enabled. With a constraint
// pattern the version matcher picks among the surviving candidates instead
// of taking the newest by creation time.
func (t *appStoreTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	if os.Getenv(EnvDisableAppStore) != "" {
		return nil, NewResolutionError("app store access is disabled via "+EnvDisableAppStore, nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}

	excluded := []any{"deprecated", "bad"}
	if os.Getenv(EnvAppStoreQAMode) != "" {
		excluded = []any{"deprecated"}
	}

	entities, err := t.store.Find(ctx,
		appStoreVersionEntity,
		[]recordstore.Filter{
			{Field: "bundle_name", Op: "is", Value: t.SystemName()},
			{Field: "status", Op: "not_in", Value: excluded},
		},
		[]string{"id", "version"},
		[]recordstore.SortKey{{Field: "created_at", Direction: "desc"}},
	)
	if err != nil {
		return nil, NewIOError("app store version query failed", err).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	if len(entities) == 0 {
		return nil, NewResolutionError("bundle has no usable versions in the app store", nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}

	var version string
	if constraint == "" {
		// Entities arrive newest first.
		version = entities[0].Str("version")
	} else {
		versions := make([]string, 0, len(entities))
		for _, entity := range entities {
			versions = append(versions, entity.Str("version"))
		}
		version, err = FindLatestVersion(versions, constraint)
		if err != nil {
			return nil, err
		}
		if version == "" {
			return nil, NewResolutionError("no app store version matches constraint "+constraint, nil).WithDescriptor(t.spec.URI()).WithOp("latest")
		}
	}

	spec := t.spec.Clone()
	spec["version"] = version
	return newAppStoreTransport(spec, t.roots, t.store, t.session, t.logger), nil
}

func (t *appStoreTransport) LatestCachedVersion(constraint string) (Transport, error) {
	versions := cachedVersions(t.roots, filepath.Join("app_store", t.SystemName()))
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
	return newAppStoreTransport(spec, t.roots, t.store, t.session, t.logger), nil
}

// HasRemoteAccess reports whether the registry is reachable: the app store
// is disabled via environment, unreachable without a configured session,
// and otherwise probed with a ping.
func (t *appStoreTransport) HasRemoteAccess(ctx context.Context) bool {
	if os.Getenv(EnvDisableAppStore) != "" {
		return false
	}
	if t.session == nil || t.session.BaseURL == "" {
		return false
	}
	return t.store.Ping(ctx) == nil
}

func (t *appStoreTransport) Copy(ctx context.Context, target string) error {
	return defaultCopy(ctx, t, target)
}
