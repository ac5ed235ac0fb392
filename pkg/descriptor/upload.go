package descriptor

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
)

// uploadTransport resolves artifacts stored as record attachments: the
// specifier names an owning entity and field, and the version token is the
// attachment id currently uploaded there. Cache paths follow
// <root>/sg_upload/v<attachment-id>.
type uploadTransport struct {
	spec   Spec
	roots  CacheRoots
	store  recordstore.Client
	logger zerolog.Logger
}

func newUploadTransport(spec Spec, roots CacheRoots, store recordstore.Client, logger zerolog.Logger) *uploadTransport {
	return &uploadTransport{spec: spec, roots: roots, store: store, logger: logger}
}

func (t *uploadTransport) Spec() Spec { return t.spec }

func (t *uploadTransport) SystemName() string {
	if name := t.spec["name"]; name != "" {
		return name
	}
	return t.spec["entity_type"] + "_" + t.spec["id"]
}

func (t *uploadTransport) Version() string { return t.spec["version"] }

func (t *uploadTransport) IsImmutable() bool { return true }

func (t *uploadTransport) attachmentID() (int, error) {
	id, err := strconv.Atoi(t.spec["version"])
	if err != nil {
		return 0, NewSpecError("attachment version token is not a numeric id", err).WithDescriptor(t.spec.URI())
	}
	return id, nil
}

func (t *uploadTransport) cacheRelative() string {
	return filepath.Join("sg_upload", "v"+t.spec["version"])
}

func (t *uploadTransport) LocalPath() string {
	return searchCachePaths(t.roots, t.cacheRelative())
}

func (t *uploadTransport) EnsureLocal(ctx context.Context) (string, error) {
	return ensureLocal(ctx, t)
}

// DownloadLocal fetches the attachment payload. The raw byte fetch is
// retried once on any failure: large binary payloads over flaky connections
// are the one place in the transport family that gets retry tolerance.
func (t *uploadTransport) DownloadLocal(ctx context.Context) error {
	attachmentID, err := t.attachmentID()
	if err != nil {
		return err
	}
	target := filepath.Join(t.roots.Primary, t.cacheRelative())
	return downloadAtomic(ctx, t.spec, t.roots, target, t.logger, func(ctx context.Context, tmpDir string) error {
		if err := t.store.DownloadAttachment(ctx, attachmentID, tmpDir); err != nil {
			t.logger.Warn().Err(err).
				Int("attachment_id", attachmentID).
				Msg("Attachment download failed, retrying once")
			return t.store.DownloadAttachment(ctx, attachmentID, tmpDir)
		}
		return nil
	})
}

// LatestVersion re-queries the owning record for its current attachment id
// and returns a new transport only when the id changed.
func (t *uploadTransport) LatestVersion(ctx context.Context, constraint string) (Transport, error) {
	if constraint != "" {
		t.logger.Warn().
			Str("constraint", constraint).
			Str("descriptor", t.spec.URI()).
			Msg("Version constraints are not supported for attachment descriptors, ignoring")
	}

	filters := []recordstore.Filter{}
	if t.spec["id"] != "" {
		id, err := strconv.Atoi(t.spec["id"])
		if err != nil {
			return nil, NewSpecError("entity id is not numeric", err).WithDescriptor(t.spec.URI())
		}
		filters = append(filters, recordstore.Filter{Field: "id", Op: "is", Value: id})
	} else {
		filters = append(filters, recordstore.Filter{Field: "code", Op: "is", Value: t.spec["name"]})
	}

	field := t.spec["field"]
	entity, err := t.store.FindOne(ctx, t.spec["entity_type"], filters, []string{"id", field})
	if err != nil {
		return nil, NewIOError("failed to query owning record", err).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	if entity == nil {
		return nil, NewResolutionError("owning record not found", nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}
	current, ok := entity.Int(field)
	if !ok || current == 0 {
		return nil, NewResolutionError("owning record carries no attachment in field "+field, nil).WithDescriptor(t.spec.URI()).WithOp("latest")
	}

	if strconv.Itoa(current) == t.spec["version"] {
		return t, nil
	}
	spec := t.spec.Clone()
	spec["version"] = strconv.Itoa(current)
	return newUploadTransport(spec, t.roots, t.store, t.logger), nil
}

func (t *uploadTransport) LatestCachedVersion(constraint string) (Transport, error) {
	if t.LocalPath() == "" {
		return nil, nil
	}
	return t, nil
}

func (t *uploadTransport) HasRemoteAccess(ctx context.Context) bool {
	return t.store.Ping(ctx) == nil
}

func (t *uploadTransport) Copy(ctx context.Context, target string) error {
	return defaultCopy(ctx, t, target)
}
