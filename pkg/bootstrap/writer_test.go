package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pipelinekit/pipelinekit/pkg/descriptor"
	"github.com/pipelinekit/pipelinekit/pkg/recordstore"
	"github.com/pipelinekit/pipelinekit/pkg/telemetry"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// newTestTelemetry builds a quiet telemetry stack with a synchronous event
// subscriber. The returned func filters collected events by type.
func newTestTelemetry(t *testing.T) (*telemetry.Telemetry, func(eventType string) []telemetry.Event) {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "fatal"
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to build telemetry: %v", err)
	}
	var events []telemetry.Event
	tel.Events.Subscribe(func(event telemetry.Event) { events = append(events, event) }, nil)
	return tel, func(eventType string) []telemetry.Event {
		var out []telemetry.Event
		for _, event := range events {
			if event.Type == eventType {
				out = append(out, event)
			}
		}
		return out
	}
}

func TestEnsureScaffold(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site", "Primary")
	writer := NewWriter(root, testLogger())

	if err := writer.EnsureScaffold(); err != nil {
		t.Fatalf("EnsureScaffold failed: %v", err)
	}
	// Idempotent.
	if err := writer.EnsureScaffold(); err != nil {
		t.Fatalf("second EnsureScaffold failed: %v", err)
	}

	for _, folder := range []string{
		"cache",
		"install",
		filepath.Join("install", "config.backup"),
		filepath.Join("install", "core.backup"),
	} {
		info, err := os.Stat(filepath.Join(root, folder))
		if err != nil || !info.IsDir() {
			t.Errorf("scaffold folder %s missing: %v", folder, err)
		}
	}
	for _, folder := range []string{
		filepath.Join("install", "config.backup"),
		filepath.Join("install", "core.backup"),
	} {
		if _, err := os.Stat(filepath.Join(root, folder, "placeholder")); err != nil {
			t.Errorf("placeholder missing in %s: %v", folder, err)
		}
	}
}

// populateInstall drops marker files into the config and install/core folders
// so backups can be told apart from fresh installs.
func populateInstall(t *testing.T, root, marker string) {
	t.Helper()
	for _, dir := range []string{
		filepath.Join(root, "config"),
		filepath.Join(root, "install", "core"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, marker), []byte(marker), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBackupConfigCore(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	if err := writer.EnsureScaffold(); err != nil {
		t.Fatal(err)
	}
	populateInstall(t, root, "generation1")

	configBackup, coreBackup, err := writer.BackupConfigCore()
	if err != nil {
		t.Fatalf("BackupConfigCore failed: %v", err)
	}
	if configBackup == "" || coreBackup == "" {
		t.Fatalf("backup locations empty: %q %q", configBackup, coreBackup)
	}

	// The live folders moved out of the way.
	if _, err := os.Stat(filepath.Join(root, "config")); !os.IsNotExist(err) {
		t.Error("config folder still present after backup")
	}
	if _, err := os.Stat(filepath.Join(root, "install", "core")); !os.IsNotExist(err) {
		t.Error("core folder still present after backup")
	}

	// The payload survived inside the backups.
	if _, err := os.Stat(filepath.Join(configBackup, "generation1")); err != nil {
		t.Errorf("config backup payload missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(coreBackup, "generation1")); err != nil {
		t.Errorf("core backup payload missing: %v", err)
	}
}

func TestBackupConfigCoreNothingInstalled(t *testing.T) {
	writer := NewWriter(t.TempDir(), testLogger())

	configBackup, coreBackup, err := writer.BackupConfigCore()
	if err != nil {
		t.Fatalf("BackupConfigCore failed: %v", err)
	}
	if configBackup != "" || coreBackup != "" {
		t.Errorf("backups reported for an empty root: %q %q", configBackup, coreBackup)
	}
}

// TestBackupFoldersAreDistinct rapidly re-creates and re-backs-up the same
// folder; the counter suffix must keep every generation.
func TestBackupFoldersAreDistinct(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	if err := writer.EnsureScaffold(); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		populateInstall(t, root, fmt.Sprintf("generation%d", i))
		configBackup, _, err := writer.BackupConfigCore()
		if err != nil {
			t.Fatalf("backup %d failed: %v", i, err)
		}
		if seen[configBackup] {
			t.Fatalf("backup location %s reused", configBackup)
		}
		seen[configBackup] = true
	}

	entries, err := os.ReadDir(filepath.Join(root, "install", "config.backup"))
	if err != nil {
		t.Fatal(err)
	}
	dirs := 0
	for _, entry := range entries {
		if entry.IsDir() {
			dirs++
		}
	}
	if dirs != 3 {
		t.Errorf("backup generations on disk = %d, want 3", dirs)
	}
}

func TestRestoreBackup(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	if err := writer.EnsureScaffold(); err != nil {
		t.Fatal(err)
	}
	populateInstall(t, root, "good")

	configBackup, _, err := writer.BackupConfigCore()
	if err != nil {
		t.Fatal(err)
	}

	// A half-written replacement occupies the destination.
	broken := filepath.Join(root, "config")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, "partial"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writer.RestoreBackup(configBackup, broken); err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(broken, "good")); err != nil {
		t.Errorf("restored payload missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(broken, "partial")); !os.IsNotExist(err) {
		t.Error("partial state survived the restore")
	}

	// An empty backup token is a no-op.
	if err := writer.RestoreBackup("", broken); err != nil {
		t.Errorf("empty restore errored: %v", err)
	}
}

func TestDescriptorStampRoundTrip(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	spec := descriptor.Spec{"type": "app_store", "name": "tk-config-basic", "version": "v1.5.0"}

	if err := writer.WriteDescriptorStamp(spec); err != nil {
		t.Fatalf("WriteDescriptorStamp failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "cache", "descriptor_info.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# This file was auto generated") {
		t.Error("stamp file missing the generated header")
	}

	stamp, err := ReadDescriptorStamp(root)
	if err != nil {
		t.Fatalf("ReadDescriptorStamp failed: %v", err)
	}
	if stamp == nil {
		t.Fatal("stamp not found after write")
	}
	if stamp.DeployGeneration != DeployGeneration {
		t.Errorf("DeployGeneration = %d, want %d", stamp.DeployGeneration, DeployGeneration)
	}
	if !stamp.ConfigDescriptor.Equal(spec) {
		t.Errorf("ConfigDescriptor = %v, want %v", stamp.ConfigDescriptor, spec)
	}
}

func TestReadDescriptorStampMissing(t *testing.T) {
	stamp, err := ReadDescriptorStamp(t.TempDir())
	if err != nil {
		t.Fatalf("ReadDescriptorStamp failed: %v", err)
	}
	if stamp != nil {
		t.Errorf("stamp = %v for an empty root", stamp)
	}
}

func TestReadDescriptorStampGarbage(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "cache", "descriptor_info.yml"), []byte("{{{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadDescriptorStamp(root)
	if !descriptor.IsKind(err, descriptor.ErrorKindStale) {
		t.Errorf("error = %v, want stale error", err)
	}
}

func TestWriteCoreDescriptorFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	spec := descriptor.Spec{"type": "app_store", "name": "tk-core", "version": "v0.20.6"}

	if err := writer.WriteCoreDescriptorFile(spec); err != nil {
		t.Fatalf("WriteCoreDescriptorFile failed: %v", err)
	}

	parsed, err := readCoreLocationFile(filepath.Join(root, "config", "core", "core_api.yml"))
	if err != nil {
		t.Fatalf("readCoreLocationFile failed: %v", err)
	}
	if !parsed.Equal(spec) {
		t.Errorf("core location = %v, want %v", parsed, spec)
	}
}

func TestReadCoreLocationFileAbsent(t *testing.T) {
	spec, err := readCoreLocationFile(filepath.Join(t.TempDir(), "core_api.yml"))
	if err != nil || spec != nil {
		t.Errorf("absent core file: spec=%v err=%v, want nil nil", spec, err)
	}
}

func TestWriteConnectionInfo(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())
	session := &recordstore.Session{BaseURL: "https://mysite.example.com", Proxy: "proxy:8080"}

	if err := writer.WriteConnectionInfo(session); err != nil {
		t.Fatalf("WriteConnectionInfo failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "config", "core", "shotgun.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "https://mysite.example.com") || !strings.Contains(string(data), "proxy:8080") {
		t.Errorf("connection info incomplete:\n%s", data)
	}
}

func TestRegenerateLaunchers(t *testing.T) {
	root := t.TempDir()
	writer := NewWriter(root, testLogger())

	if err := writer.RegenerateLaunchers("/usr/bin/python3"); err != nil {
		t.Fatalf("RegenerateLaunchers failed: %v", err)
	}

	for _, file := range []string{"tank", "tank.bat"} {
		data, err := os.ReadFile(filepath.Join(root, file))
		if err != nil {
			t.Fatalf("launcher %s missing: %v", file, err)
		}
		if !strings.Contains(string(data), "/usr/bin/python3") {
			t.Errorf("launcher %s does not reference the interpreter:\n%s", file, data)
		}
	}

	var interpreterFile string
	switch runtime.GOOS {
	case "windows":
		interpreterFile = "interpreter_Windows.cfg"
	case "darwin":
		interpreterFile = "interpreter_Darwin.cfg"
	default:
		interpreterFile = "interpreter_Linux.cfg"
	}
	data, err := os.ReadFile(filepath.Join(root, "config", "core", interpreterFile))
	if err != nil {
		t.Fatalf("interpreter file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != "/usr/bin/python3" {
		t.Errorf("interpreter file = %q", data)
	}
}
