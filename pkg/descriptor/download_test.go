package descriptor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

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

func testRoots(t *testing.T) CacheRoots {
	t.Helper()
	return CacheRoots{Primary: t.TempDir()}
}

func writeFetchPayload(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write payload file: %v", err)
	}
}

func TestDownloadAtomicHappyPath(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")

	err := downloadAtomic(context.Background(), spec, roots, target, testLogger(), func(ctx context.Context, tmpDir string) error {
		writeFetchPayload(t, tmpDir, "payload.txt", "contents")
		return nil
	})
	if err != nil {
		t.Fatalf("downloadAtomic failed: %v", err)
	}

	// Payload landed
	if _, err := os.Stat(filepath.Join(target, "payload.txt")); err != nil {
		t.Errorf("payload missing from target: %v", err)
	}
	// Commit marker present
	marker := filepath.Join(target, metadataFolder, completeMarker)
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("completion marker missing: %v", err)
	}
	if !existsLocal(target) {
		t.Error("existsLocal = false after a committed download")
	}
	// Staging area cleaned up
	entries, _ := os.ReadDir(roots.TempRoot())
	if len(entries) != 0 {
		t.Errorf("staging folder not empty after download: %v", entries)
	}
}

func TestDownloadAtomicIdempotent(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")

	fetchCalls := 0
	fetch := func(ctx context.Context, tmpDir string) error {
		fetchCalls++
		writeFetchPayload(t, tmpDir, "payload.txt", "contents")
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := downloadAtomic(context.Background(), spec, roots, target, testLogger(), fetch); err != nil {
			t.Fatalf("downloadAtomic run %d failed: %v", i, err)
		}
	}
	if fetchCalls != 1 {
		t.Errorf("fetch called %d times, want 1", fetchCalls)
	}
}

// TestDownloadAtomicConcurrentWinner simulates losing the commit race: the
// target appears while our fetch is in flight. The download must succeed
// without disturbing the winner's artifact.
func TestDownloadAtomicConcurrentWinner(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")

	err := downloadAtomic(context.Background(), spec, roots, target, testLogger(), func(ctx context.Context, tmpDir string) error {
		// Another process commits the artifact mid-fetch.
		if err := os.MkdirAll(filepath.Join(target, metadataFolder), 0o755); err != nil {
			return err
		}
		writeFetchPayload(t, target, "winner.txt", "theirs")
		if err := writeCompleteMarker(target); err != nil {
			return err
		}
		writeFetchPayload(t, tmpDir, "loser.txt", "ours")
		return nil
	})
	if err != nil {
		t.Fatalf("downloadAtomic failed after losing the race: %v", err)
	}

	// The winner's payload survives untouched.
	if _, err := os.Stat(filepath.Join(target, "winner.txt")); err != nil {
		t.Errorf("winner payload missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "loser.txt")); err == nil {
		t.Error("loser payload leaked into the committed artifact")
	}
	// Our staging folder was discarded.
	entries, _ := os.ReadDir(roots.TempRoot())
	if len(entries) != 0 {
		t.Errorf("staging folder not cleaned after losing the race: %v", entries)
	}
}

func TestDownloadAtomicFetchFailure(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")

	err := downloadAtomic(context.Background(), spec, roots, target, testLogger(), func(ctx context.Context, tmpDir string) error {
		return os.ErrPermission
	})
	if err == nil {
		t.Fatal("downloadAtomic succeeded despite fetch failure")
	}
	if !IsKind(err, ErrorKindIO) {
		t.Errorf("error kind = %v, want io", err)
	}
	if _, statErr := os.Stat(target); statErr == nil {
		t.Error("target exists despite fetch failure")
	}
	entries, _ := os.ReadDir(roots.TempRoot())
	if len(entries) != 0 {
		t.Errorf("staging folder not cleaned after fetch failure: %v", entries)
	}
}

func TestExistsLocalStates(t *testing.T) {
	base := t.TempDir()

	// Absent: no folder.
	if existsLocal(filepath.Join(base, "nope")) {
		t.Error("existsLocal = true for a missing folder")
	}

	// Legacy-complete: folder without the metadata subfolder.
	legacy := filepath.Join(base, "legacy")
	if err := os.MkdirAll(legacy, 0o755); err != nil {
		t.Fatal(err)
	}
	if !existsLocal(legacy) {
		t.Error("existsLocal = false for a legacy artifact without metadata")
	}

	// In-progress: metadata subfolder without the completion marker.
	partial := filepath.Join(base, "partial")
	if err := os.MkdirAll(filepath.Join(partial, metadataFolder), 0o755); err != nil {
		t.Fatal(err)
	}
	if existsLocal(partial) {
		t.Error("existsLocal = true for an uncommitted download")
	}

	// Committed: marker present.
	if err := writeCompleteMarker(partial); err != nil {
		t.Fatal(err)
	}
	if !existsLocal(partial) {
		t.Error("existsLocal = false for a committed download")
	}

	// A plain file at the artifact path is not an artifact.
	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if existsLocal(file) {
		t.Error("existsLocal = true for a regular file")
	}
}

func TestDownloadAtomicPublishesProgressEvents(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")
	tel, eventsOf := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	fetch := func(ctx context.Context, tmpDir string) error {
		writeFetchPayload(t, tmpDir, "payload.txt", "contents")
		return nil
	}
	if err := downloadAtomic(ctx, spec, roots, target, testLogger(), fetch); err != nil {
		t.Fatalf("downloadAtomic failed: %v", err)
	}

	if got := eventsOf(telemetry.EventTypeDownloadStarted); len(got) != 1 {
		t.Fatalf("download started events = %d, want 1", len(got))
	}
	completed := eventsOf(telemetry.EventTypeDownloadCompleted)
	if len(completed) != 1 {
		t.Fatalf("download completed events = %d, want 1", len(completed))
	}
	if completed[0].DescriptorURI != spec.URI() {
		t.Errorf("completed event descriptor = %q, want %q", completed[0].DescriptorURI, spec.URI())
	}
	if completed[0].Data["path"] != target {
		t.Errorf("completed event path = %v, want %s", completed[0].Data["path"], target)
	}

	// A cache hit publishes nothing.
	if err := downloadAtomic(ctx, spec, roots, target, testLogger(), fetch); err != nil {
		t.Fatalf("second downloadAtomic failed: %v", err)
	}
	if got := eventsOf(telemetry.EventTypeDownloadStarted); len(got) != 1 {
		t.Errorf("cache hit still published a download event (%d total)", len(got))
	}
}

func TestDownloadAtomicPublishesFailureEvent(t *testing.T) {
	roots := testRoots(t)
	spec := Spec{"type": TypeManual, "name": "bundle", "version": "v1.0.0"}
	target := filepath.Join(roots.Primary, "manual", "bundle", "v1.0.0")
	tel, eventsOf := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	err := downloadAtomic(ctx, spec, roots, target, testLogger(), func(ctx context.Context, tmpDir string) error {
		return os.ErrPermission
	})
	if err == nil {
		t.Fatal("downloadAtomic succeeded despite a failing fetch")
	}
	if got := eventsOf(telemetry.EventTypeDownloadFailed); len(got) != 1 {
		t.Errorf("download failed events = %d, want 1", len(got))
	}
	if got := eventsOf(telemetry.EventTypeDownloadCompleted); len(got) != 0 {
		t.Errorf("failed download still published completion (%d events)", len(got))
	}
}
