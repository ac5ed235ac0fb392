package descriptor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/fsutil"
	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

// metadataFolder is written inside each downloaded artifact. It is not
// dot-prefixed so a naive "rm -rf *" of the cache still removes it along
// with the payload instead of leaving a folder that looks complete.
const metadataFolder = "tk-metadata"

// completeMarker is the zero-byte file whose presence inside the metadata
// folder marks the download transaction as committed.
const completeMarker = "install_complete"

// fetchFunc populates tmpDir with the artifact payload. It is the only
// backend-specific part of the download algorithm.
type fetchFunc func(ctx context.Context, tmpDir string) error

// downloadAtomic fetches an artifact into target using the two-phase-commit-
// via-rename pattern that makes concurrent downloads of the same artifact
// by independent processes safe:
//
//  1. Fetch into a private temp dir under <primary>/tmp/<uuid>.
//  2. Write the metadata subfolder (download in progress, not committed).
//  3. Rename temp onto target. Success is followed by writing the
//     completion marker, the durable commit point.
//  4. A rename failure with the target already present means another
//     process committed first: discard our temp dir and succeed.
//  5. A genuine rename failure (cross-device, file lock) falls back to
//     copy-then-delete, writing the marker before the source is deleted.
//
// Duplicate concurrent downloads are tolerated, never prevented; at least
// one writer wins and no reader ever observes a half-written artifact as
// complete.
func downloadAtomic(ctx context.Context, spec Spec, roots CacheRoots, target string, logger zerolog.Logger, fetch fetchFunc) error {
	tel := telemetry.FromTelemetryContext(ctx)
	if existsLocal(target) {
		// Idempotent: nothing to do.
		if tel != nil {
			tel.Metrics.RecordCacheLookup(spec.Type(), "hit")
		}
		return nil
	}
	if tel != nil {
		tel.Metrics.RecordCacheLookup(spec.Type(), "miss")
	}
	return telemetry.RecordDownloadOperation(ctx, spec.Type(), spec.URI(), spec["name"], target, func() error {
		return stageAndCommit(ctx, spec, roots, target, logger, fetch)
	})
}

// stageAndCommit is the uninstrumented forward path: fetch into a staging
// folder and rename it into the cache.
func stageAndCommit(ctx context.Context, spec Spec, roots CacheRoots, target string, logger zerolog.Logger, fetch fetchFunc) error {
	tmpDir := filepath.Join(roots.TempRoot(), uuid.NewString())
	if err := fsutil.EnsureFolder(tmpDir); err != nil {
		return NewIOError("failed to create download staging folder", err).WithDescriptor(spec.URI()).WithOp("download")
	}
	if err := fsutil.EnsureFolder(filepath.Dir(target)); err != nil {
		fsutil.BestEffortRemove(tmpDir, logger)
		return NewIOError("failed to create cache folder", err).WithDescriptor(spec.URI()).WithOp("download")
	}

	if err := fetch(ctx, tmpDir); err != nil {
		fsutil.BestEffortRemove(tmpDir, logger)
		return NewIOError("failed to fetch artifact", err).WithDescriptor(spec.URI()).WithOp("download")
	}

	// Mark the payload as in-progress before it can become visible at the
	// target path.
	metadataPath := filepath.Join(tmpDir, metadataFolder)
	if err := fsutil.EnsureFolder(metadataPath); err != nil {
		fsutil.BestEffortRemove(tmpDir, logger)
		return NewIOError("failed to write download metadata", err).WithDescriptor(spec.URI()).WithOp("download")
	}

	if err := os.Rename(tmpDir, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			// Another resolver committed this version first. Discard our
			// staging folder and report success.
			logger.Debug().Str("target", target).Msg("Target already populated by a concurrent download, discarding staging folder")
			fsutil.BestEffortRemove(tmpDir, logger)
			return nil
		}

		// Genuine OS-level rename failure: fall back to a copy. The copy
		// is the documented non-atomic window; the marker is written
		// before the source is deleted so a crash mid-copy never hides
		// the in-progress metadata folder.
		logger.Debug().Err(err).Str("target", target).Msg("Atomic rename failed, falling back to copy")
		if copyErr := fsutil.CopyTree(tmpDir, target, nil); copyErr != nil {
			fsutil.BestEffortRemove(target, logger)
			fsutil.BestEffortRemove(tmpDir, logger)
			return NewIOError("failed to copy artifact into cache", copyErr).WithDescriptor(spec.URI()).WithOp("download")
		}
		if markErr := writeCompleteMarker(target); markErr != nil {
			fsutil.BestEffortRemove(target, logger)
			fsutil.BestEffortRemove(tmpDir, logger)
			return NewIOError("failed to commit download", markErr).WithDescriptor(spec.URI()).WithOp("download")
		}
		fsutil.BestEffortRemove(tmpDir, logger)
		return nil
	}

	if err := writeCompleteMarker(target); err != nil {
		return NewIOError("failed to commit download", err).WithDescriptor(spec.URI()).WithOp("download")
	}
	return nil
}

func writeCompleteMarker(artifactPath string) error {
	marker := filepath.Join(artifactPath, metadataFolder, completeMarker)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return err
	}
	return f.Close()
}

// existsLocal reports whether the artifact folder holds a complete payload.
// Three states are distinguished: no folder means absent; a folder without
// the metadata subfolder is a pre-existing legacy cache layout and assumed
// complete; a metadata subfolder without the completion marker is an
// in-progress download and therefore not locally available.
func existsLocal(artifactPath string) bool {
	info, err := os.Stat(artifactPath)
	if err != nil || !info.IsDir() {
		return false
	}
	metadataPath := filepath.Join(artifactPath, metadataFolder)
	if _, err := os.Stat(metadataPath); err != nil {
		// Legacy layout without transaction metadata.
		return true
	}
	_, err = os.Stat(filepath.Join(metadataPath, completeMarker))
	return err == nil
}
