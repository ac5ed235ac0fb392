package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

// coreFallbackSpec is the hardcoded "latest approved core" sentinel used
// when a configuration does not declare which core runtime it needs.
var coreFallbackSpec = descriptor.Spec{"type": descriptor.TypeAppStore, "name": "tk-core"}

// CachedConfiguration is a configuration materialized from a descriptor
// into a managed root. Its payload lives in the bundle cache and is copied
// into place by Update.
type CachedConfiguration struct {
	path       string
	desc       *descriptor.Descriptor
	factory    *descriptor.Factory
	store      recordstore.Client
	session    *recordstore.Session
	meta       PipelineConfigMetadata
	interp     string
	recordID   int
	logger     zerolog.Logger
}

// NewCachedConfiguration binds a configuration root to its target
// descriptor. recordID is the owning record id, 0 for unmanaged
// configurations. interpreter is the path the launcher scripts bind to.
func NewCachedConfiguration(
	path string,
	desc *descriptor.Descriptor,
	factory *descriptor.Factory,
	store recordstore.Client,
	session *recordstore.Session,
	meta PipelineConfigMetadata,
	interpreter string,
	recordID int,
	logger zerolog.Logger,
) *CachedConfiguration {
	return &CachedConfiguration{
		path:     path,
		desc:     desc,
		factory:  factory,
		store:    store,
		session:  session,
		meta:     meta,
		interp:   interpreter,
		recordID: recordID,
		logger:   logger.With().Str("component", "cached-configuration").Logger(),
	}
}

// Path returns the configuration root.
func (c *CachedConfiguration) Path() string { return c.path }

// Descriptor returns the target config descriptor.
func (c *CachedConfiguration) Descriptor() *descriptor.Descriptor { return c.desc }

// Status compares the on-disk stamp against the target descriptor. A
// mutable target (dev or path descriptor) always reports DIFFERENT even
// when the stamp matches, because its payload can change without a version
// bump.
func (c *CachedConfiguration) Status() (Status, error) {
	if _, err := os.Stat(filepath.Join(c.path, "config", "info.yml")); err != nil {
		return StatusMissing, nil
	}

	stamp, err := ReadDescriptorStamp(c.path)
	if err != nil {
		if descriptor.IsKind(err, descriptor.ErrorKindStale) {
			c.logger.Warn().Err(err).Str("path", c.path).Msg("Descriptor stamp is unreadable")
			return StatusInvalid, nil
		}
		return StatusInvalid, err
	}
	if stamp == nil {
		return StatusMissing, nil
	}

	if stamp.DeployGeneration != DeployGeneration {
		return StatusDifferent, nil
	}
	if !stamp.ConfigDescriptor.Equal(c.desc.Spec()) {
		return StatusDifferent, nil
	}
	if !c.desc.IsImmutable() {
		return StatusDifferent, nil
	}
	return StatusUpToDate, nil
}

// Update drives the backup-copy-stamp-core sequence with rollback:
//
//  1. Ensure the scaffold exists.
//  2. Back up the current config and install/core folders.
//  3. Copy the new config payload into place.
//  4. Emit the metadata files, including the descriptor stamp.
//  5. Resolve and install the core runtime the configuration declares.
//  6. On failure, restore the backups; a first-ever install with nothing to
//     restore escalates to a fatal bootstrap error.
//  7. Always regenerate the launcher command files.
//  8. Re-verify the owning record's stored path fields.
func (c *CachedConfiguration) Update(ctx context.Context) (err error) {
	ctx = telemetry.WithUpdateContext(ctx, c.meta.Name, c.path, c.desc.Spec().URI())
	defer func() { telemetry.EndUpdateContext(ctx, c.meta.Name, err) }()
	tel := telemetry.FromTelemetryContext(ctx)

	if err := NewWriter(c.path, c.logger).EnsureScaffold(); err != nil {
		return err
	}
	writer := NewWriter(c.path, c.logger)

	configBackup, coreBackup, err := writer.BackupConfigCore()
	if err != nil {
		return err
	}
	if tel != nil && (configBackup != "" || coreBackup != "") {
		tel.Metrics.RecordBackupCreated()
		_ = tel.Events.PublishBackupCreated(c.meta.Name, configBackup)
	}

	defer func() {
		// The launchers are regenerated on both the success and failure
		// paths so they always match the interpreter configuration.
		if launcherErr := writer.RegenerateLaunchers(c.interp); launcherErr != nil {
			c.logger.Warn().Err(launcherErr).Msg("Could not regenerate launcher scripts")
		}
	}()

	if err := c.install(ctx, writer); err != nil {
		if tel != nil && (configBackup != "" || coreBackup != "") {
			tel.Metrics.RecordRollback()
			_ = tel.Events.PublishRollback(c.meta.Name, configBackup)
		}
		return c.rollback(writer, configBackup, coreBackup, err)
	}

	if c.recordID != 0 {
		if verifyErr := c.verifyRecordPaths(ctx); verifyErr != nil {
			c.logger.Warn().Err(verifyErr).Int("record_id", c.recordID).Msg("Could not verify record path fields")
		}
	}
	return nil
}

// install performs the forward path of the update transaction.
func (c *CachedConfiguration) install(ctx context.Context, writer *Writer) error {
	configPath := filepath.Join(c.path, "config")
	if err := c.desc.Copy(ctx, configPath); err != nil {
		return err
	}

	if err := writer.WriteInstallLocation(c.path, c.path, c.path); err != nil {
		return err
	}
	if err := writer.WriteDescriptorStamp(c.desc.Spec()); err != nil {
		return err
	}
	if err := writer.WriteConnectionInfo(c.session); err != nil {
		return err
	}
	if err := writer.WritePipelineConfigFile(c.meta); err != nil {
		return err
	}
	if err := c.writeStorageRoots(ctx, writer); err != nil {
		return err
	}

	coreSpec, err := c.coreSpec(configPath)
	if err != nil {
		return err
	}
	if err := writer.WriteCoreDescriptorFile(coreSpec); err != nil {
		return err
	}
	return c.installCore(ctx, coreSpec)
}

// storageEntity is the record-store entity type holding named storage
// root definitions.
const storageEntity = "LocalStorage"

// writeStorageRoots resolves the storage names the configuration manifest
// requires against the record store and emits them as roots.yml. A
// required storage the store does not define fails the install.
func (c *CachedConfiguration) writeStorageRoots(ctx context.Context, writer *Writer) error {
	manifest, err := c.desc.Manifest(ctx)
	if err != nil {
		return err
	}

	roots := map[string]map[string]string{}
	for _, name := range manifest.RequiredStorages {
		entity, err := c.store.FindOne(ctx,
			storageEntity,
			[]recordstore.Filter{{Field: "code", Op: "is", Value: name}},
			[]string{"id", "code", "linux_path", "mac_path", "windows_path"},
		)
		if err != nil {
			return descriptor.NewIOError("failed to query storage roots", err)
		}
		if entity == nil {
			return descriptor.NewResolutionError(
				fmt.Sprintf("configuration requires storage %q which is not defined in the record store", name), nil)
		}
		roots[name] = map[string]string{
			"linux_path":   entity.Str("linux_path"),
			"mac_path":     entity.Str("mac_path"),
			"windows_path": entity.Str("windows_path"),
		}
	}
	return writer.WriteRootsFile(roots)
}

// coreSpec reads the core location the configuration payload declares,
// falling back to the latest-approved-core sentinel.
func (c *CachedConfiguration) coreSpec(configPath string) (descriptor.Spec, error) {
	declared, err := readDeclaredCore(configPath)
	if err != nil {
		return nil, err
	}
	if declared != nil {
		return declared, nil
	}
	c.logger.Debug().Msg("Configuration declares no core, using latest approved core")
	return coreFallbackSpec.Clone(), nil
}

// installCore resolves, fetches and copies the core runtime into
// install/core. A core spec without a version token tracks latest.
func (c *CachedConfiguration) installCore(ctx context.Context, spec descriptor.Spec) error {
	transport, err := c.factory.New(spec)
	if err != nil {
		return err
	}
	coreDesc := descriptor.NewDescriptor(descriptor.TypeTagCore, transport)
	if spec["version"] == "" {
		coreDesc, err = coreDesc.FindLatestVersion(ctx, "")
		if err != nil {
			return err
		}
	}
	if _, err := coreDesc.EnsureLocal(ctx); err != nil {
		return err
	}
	return coreDesc.Copy(ctx, filepath.Join(c.path, "install", "core"))
}

// rollback restores the backups captured before the faulty install. When
// there was nothing to back up (first-ever install failing), the scaffold
// is in an unknown half-written state and the failure escalates.
func (c *CachedConfiguration) rollback(writer *Writer, configBackup, coreBackup string, cause error) error {
	c.logger.Warn().Err(cause).Str("path", c.path).Msg("Configuration update failed, rolling back")

	if configBackup == "" && coreBackup == "" {
		return descriptor.NewFilesystemError(
			"initial configuration install failed and no backup exists to restore; the scaffold at "+c.path+" is in an undefined state",
			cause,
		)
	}

	if err := writer.RestoreBackup(configBackup, filepath.Join(c.path, "config")); err != nil {
		c.logger.Error().Err(err).Msg("Rollback of the config folder failed")
		return descriptor.NewFilesystemError("update failed and the config folder could not be restored", cause)
	}
	if err := writer.RestoreBackup(coreBackup, filepath.Join(c.path, "install", "core")); err != nil {
		c.logger.Error().Err(err).Msg("Rollback of the core folder failed")
		return descriptor.NewFilesystemError("update failed and the core folder could not be restored", cause)
	}
	return cause
}

// verifyRecordPaths conservatively syncs the owning record's per-OS path
// fields: read first, write only the fields that differ.
func (c *CachedConfiguration) verifyRecordPaths(ctx context.Context) error {
	entity, err := c.store.FindOne(ctx,
		"PipelineConfiguration",
		[]recordstore.Filter{{Field: "id", Op: "is", Value: c.recordID}},
		[]string{"id", "linux_path", "mac_path", "windows_path"},
	)
	if err != nil {
		return err
	}
	if entity == nil {
		return descriptor.NewStaleError("owning configuration record no longer exists", nil)
	}

	update := recordstore.Entity{}
	for _, field := range []string{"linux_path", "mac_path", "windows_path"} {
		if entity.Str(field) != c.path {
			update[field] = c.path
		}
	}
	if len(update) == 0 {
		return nil
	}
	_, err = c.store.Update(ctx, "PipelineConfiguration", c.recordID, update)
	return err
}

// readDeclaredCore parses config payload's core binding, if present.
func readDeclaredCore(configPath string) (descriptor.Spec, error) {
	return readCoreLocationFile(filepath.Join(configPath, "core", "core_api.yml"))
}
