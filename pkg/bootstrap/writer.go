package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/fsutil"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
)

// generatedHeader is prepended to every emitted metadata file.
const generatedHeader = "# This file was auto generated by the pipelinekit bootstrap. Please do not modify by hand.\n"

// Writer is the filesystem-transaction primitive behind configuration
// updates: scaffold creation, backup-and-swap of the config and core
// folders, and metadata file emission. It is stateless beyond its bound
// target path.
type Writer struct {
	path   string
	logger zerolog.Logger
}

// NewWriter creates a writer bound to a configuration root.
func NewWriter(path string, logger zerolog.Logger) *Writer {
	return &Writer{path: path, logger: logger.With().Str("component", "config-writer").Logger()}
}

// Path returns the configuration root the writer is bound to.
func (w *Writer) Path() string { return w.path }

func (w *Writer) configPath() string { return filepath.Join(w.path, "config") }

func (w *Writer) corePath() string { return filepath.Join(w.path, "install", "core") }

// EnsureScaffold creates the configuration folder structure. Idempotent;
// empty directories receive placeholder files so they survive naive
// version-control round trips.
func (w *Writer) EnsureScaffold() error {
	folders := []string{
		w.path,
		filepath.Join(w.path, "cache"),
		filepath.Join(w.path, "install"),
		filepath.Join(w.path, "install", "config.backup"),
		filepath.Join(w.path, "install", "core.backup"),
	}
	for _, folder := range folders {
		if err := fsutil.EnsureFolder(folder); err != nil {
			return descriptor.NewFilesystemError("failed to create configuration scaffold", err)
		}
	}
	for _, folder := range []string{
		filepath.Join(w.path, "install", "config.backup"),
		filepath.Join(w.path, "install", "core.backup"),
	} {
		if err := fsutil.WritePlaceholder(folder); err != nil {
			return descriptor.NewFilesystemError("failed to create configuration scaffold", err)
		}
	}
	return nil
}

// BackupConfigCore renames the current config and install/core folders into
// timestamped backup folders, returning their new locations ("" when
// nothing existed to back up). This is a plain rename, not commit-protected:
// concurrent updaters of the same root are out of contract.
func (w *Writer) BackupConfigCore() (configBackup, coreBackup string, err error) {
	configBackup, err = w.backupFolder(w.configPath(), filepath.Join(w.path, "install", "config.backup"))
	if err != nil {
		return "", "", err
	}
	coreBackup, err = w.backupFolder(w.corePath(), filepath.Join(w.path, "install", "core.backup"))
	if err != nil {
		return configBackup, "", err
	}
	return configBackup, coreBackup, nil
}

// backupFolder moves source into a timestamped folder under backupRoot,
// counter-suffixing on timestamp collisions.
func (w *Writer) backupFolder(source, backupRoot string) (string, error) {
	if _, statErr := os.Stat(source); statErr != nil {
		return "", nil
	}
	stamp := time.Now().Format("20060102_150405")
	target := filepath.Join(backupRoot, stamp)
	for counter := 1; ; counter++ {
		if _, statErr := os.Stat(target); statErr != nil {
			break
		}
		target = filepath.Join(backupRoot, fmt.Sprintf("%s.%d", stamp, counter))
	}
	if err := fsutil.EnsureFolder(backupRoot); err != nil {
		return "", descriptor.NewFilesystemError("failed to create backup folder", err)
	}
	if err := os.Rename(source, target); err != nil {
		return "", descriptor.NewFilesystemError("failed to move "+source+" into backup", err)
	}
	w.logger.Debug().Str("source", source).Str("backup", target).Msg("Backed up folder")
	return target, nil
}

// RestoreBackup moves a backup folder captured by BackupConfigCore back
// into place, clearing whatever partially-written state occupies the
// destination first.
func (w *Writer) RestoreBackup(backup, destination string) error {
	if backup == "" {
		return nil
	}
	if err := os.RemoveAll(destination); err != nil {
		return descriptor.NewFilesystemError("failed to clear "+destination+" during rollback", err)
	}
	if err := os.Rename(backup, destination); err != nil {
		return descriptor.NewFilesystemError("failed to restore backup "+backup, err)
	}
	return nil
}

// writeMetadataFile emits one metadata file via delete-then-recreate with
// the standard header. Files are never appended to.
func (w *Writer) writeMetadataFile(path string, payload any) error {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return descriptor.NewFilesystemError("failed to serialize "+filepath.Base(path), err)
	}
	if err := fsutil.EnsureFolder(filepath.Dir(path)); err != nil {
		return descriptor.NewFilesystemError("failed to create folder for "+filepath.Base(path), err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return descriptor.NewFilesystemError("failed to replace "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append([]byte(generatedHeader), data...), 0o664); err != nil {
		return descriptor.NewFilesystemError("failed to write "+filepath.Base(path), err)
	}
	return nil
}

// descriptorStamp is the persisted record of the last successful update,
// compared against the target descriptor on status checks.
type descriptorStamp struct {
	DeployGeneration int             `yaml:"deploy_generation"`
	ConfigDescriptor descriptor.Spec `yaml:"config_descriptor"`
}

// WriteDescriptorStamp records the deploy generation and the exact location
// specifier that was installed.
func (w *Writer) WriteDescriptorStamp(spec descriptor.Spec) error {
	return w.writeMetadataFile(
		filepath.Join(w.path, "cache", "descriptor_info.yml"),
		descriptorStamp{DeployGeneration: DeployGeneration, ConfigDescriptor: spec},
	)
}

// WriteInstallLocation records the per-OS roots of this installation.
func (w *Writer) WriteInstallLocation(linuxPath, macPath, windowsPath string) error {
	return w.writeMetadataFile(
		filepath.Join(w.path, "config", "core", "install_location.yml"),
		map[string]string{
			"Linux":   linuxPath,
			"Darwin":  macPath,
			"Windows": windowsPath,
		},
	)
}

// WriteConnectionInfo records the remote-service host and proxy the
// configuration was installed against.
func (w *Writer) WriteConnectionInfo(session *recordstore.Session) error {
	payload := map[string]string{"host": session.BaseURL}
	if session.Proxy != "" {
		payload["http_proxy"] = session.Proxy
	}
	return w.writeMetadataFile(filepath.Join(w.path, "config", "core", "shotgun.yml"), payload)
}

// PipelineConfigMetadata is the identity block written into the pipeline
// configuration file.
type PipelineConfigMetadata struct {
	ID                 int      `yaml:"pc_id"`
	Name               string   `yaml:"pc_name"`
	ProjectID          int      `yaml:"project_id"`
	ProjectName        string   `yaml:"project_name"`
	PluginID           string   `yaml:"plugin_id,omitempty"`
	BundleCacheRoots   []string `yaml:"bundle_cache_fallback_roots"`
	UseLocalStorages   bool     `yaml:"use_shotgun_path_cache"`
	SourceDescriptor   string   `yaml:"source_descriptor"`
}

// WritePipelineConfigFile records ids, names, and the cache fallback roots.
func (w *Writer) WritePipelineConfigFile(meta PipelineConfigMetadata) error {
	return w.writeMetadataFile(filepath.Join(w.path, "config", "core", "pipeline_configuration.yml"), meta)
}

// WriteRootsFile records the storage roots declared by the configuration
// manifest as resolved against the record store.
func (w *Writer) WriteRootsFile(roots map[string]map[string]string) error {
	return w.writeMetadataFile(filepath.Join(w.path, "config", "core", "roots.yml"), roots)
}

// WriteCoreDescriptorFile records which core runtime the configuration is
// bound to.
func (w *Writer) WriteCoreDescriptorFile(spec descriptor.Spec) error {
	return w.writeMetadataFile(
		filepath.Join(w.path, "config", "core", "core_api.yml"),
		map[string]descriptor.Spec{"location": spec},
	)
}

// platformName is the capitalized platform token used in interpreter file
// names.
func platformName() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	default:
		return "Linux"
	}
}

// WriteInterpreterFile records the interpreter the launcher scripts bind
// to for the current platform.
func (w *Writer) WriteInterpreterFile(interpreterPath string) error {
	path := filepath.Join(w.path, "config", "core", fmt.Sprintf("interpreter_%s.cfg", platformName()))
	if err := fsutil.EnsureFolder(filepath.Dir(path)); err != nil {
		return descriptor.NewFilesystemError("failed to create folder for interpreter file", err)
	}
	if err := os.WriteFile(path, []byte(interpreterPath+"\n"), 0o664); err != nil {
		return descriptor.NewFilesystemError("failed to write interpreter file", err)
	}
	return nil
}

// RegenerateLaunchers rewrites the launcher command files bound to the
// interpreter configuration. Regenerated on every update attempt, success
// or failure, so the scripts never point at a runtime that moved.
func (w *Writer) RegenerateLaunchers(interpreterPath string) error {
	if err := w.WriteInterpreterFile(interpreterPath); err != nil {
		return err
	}
	script := fmt.Sprintf("#!/bin/sh\nexec \"%s\" \"%s\" \"$@\"\n",
		interpreterPath, filepath.Join(w.corePath(), "scripts", "launch.py"))
	launcher := filepath.Join(w.path, "tank")
	if err := os.WriteFile(launcher, []byte(script), 0o775); err != nil {
		return descriptor.NewFilesystemError("failed to write launcher script", err)
	}
	batch := fmt.Sprintf("@echo off\r\n\"%s\" \"%s\" %%*\r\n",
		interpreterPath, filepath.Join(w.corePath(), "scripts", "launch.py"))
	if err := os.WriteFile(filepath.Join(w.path, "tank.bat"), []byte(batch), 0o775); err != nil {
		return descriptor.NewFilesystemError("failed to write launcher batch file", err)
	}
	return nil
}

// ReadDescriptorStamp loads the stamp recorded by the last successful
// update. Returns (nil, nil) when no stamp exists yet.
func ReadDescriptorStamp(configRoot string) (*descriptorStamp, error) {
	data, err := os.ReadFile(filepath.Join(configRoot, "cache", "descriptor_info.yml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, descriptor.NewFilesystemError("failed to read descriptor stamp", err)
	}
	var stamp descriptorStamp
	if err := yaml.Unmarshal(data, &stamp); err != nil {
		return nil, descriptor.NewStaleError("descriptor stamp is not parseable", err)
	}
	return &stamp, nil
}
