// Package fsutil provides the filesystem primitives shared by the
// descriptor cache and the configuration writer: idempotent folder
// creation, recursive copy with a skip list, move with copy fallback, and
// best-effort deletion.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultSkipList is the set of folder and file names excluded from artifact
// copies unless a backend explicitly needs them (version-control backends
// include their metadata folder).
var DefaultSkipList = []string{
	".git", ".svn", ".hg", "__MACOSX", ".DS_Store", "tk-metadata",
}

// EnsureFolder creates the directory and any missing parents. A folder that
// already exists is not an error, so concurrent creators are tolerated.
func EnsureFolder(path string) error {
	if err := os.MkdirAll(path, 0o775); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// CopyTree recursively copies src into dst, skipping any entry whose name
// appears in skip. dst is created if needed. Symlinks are recreated rather
// than followed.
func CopyTree(src, dst string, skip []string) error {
	skipSet := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipSet[name] = true
	}
	return copyTree(src, dst, skipSet)
}

func copyTree(src, dst string, skip map[string]bool) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("copy source %s is not a directory", src)
	}
	if err := os.MkdirAll(dst, 0o775); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	for _, entry := range entries {
		if skip[entry.Name()] {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", srcPath, err)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", dstPath, err)
			}
		case entry.IsDir():
			if err := copyTree(srcPath, dstPath, skip); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

// MoveFolder renames src to dst, falling back to copy-then-delete when the
// rename fails for OS-level reasons (cross-device moves, file locks). The
// fallback is not atomic; callers that need transactional semantics must
// layer their own commit marker on top.
func MoveFolder(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyTree(src, dst, nil); err != nil {
		return fmt.Errorf("move fallback copy failed: %w", err)
	}
	return os.RemoveAll(src)
}

// BestEffortRemove deletes path and everything under it, logging failures
// instead of raising. Used for temp-directory cleanup where an orphaned
// folder is preferable to masking the original error.
func BestEffortRemove(path string, logger zerolog.Logger) {
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Could not clean up folder")
	}
}

// WritePlaceholder drops a small placeholder file into a directory so that
// otherwise-empty scaffold folders survive version-control round trips.
func WritePlaceholder(dir string) error {
	path := filepath.Join(dir, "placeholder")
	content := "The placeholder file ensures this folder is tracked even while empty.\n"
	if err := os.WriteFile(path, []byte(content), 0o664); err != nil {
		return fmt.Errorf("failed to write placeholder in %s: %w", dir, err)
	}
	return nil
}
