// Package fsutil holds the filesystem primitives the install pipeline relies
// on: recursive copies with exclusions and uniquely named temp directories.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempPrefix names every temp directory created by the install pipeline so
// that orphans can be swept later.
const TempPrefix = "qwen-ext-"

// DefaultExcludes are entries never carried into an installed extension.
var DefaultExcludes = []string{"node_modules", ".DS_Store"}

// CopyDir recursively copies src to dst, skipping entries whose base name is
// listed in exclude. Symlinks pointing inside src are recreated as relative
// links; symlinks leaving src and other special files are skipped with a
// warning.
func CopyDir(src, dst string, exclude ...string) error {
	c := &copier{root: filepath.Clean(src), skip: make(map[string]bool, len(exclude))}
	for _, name := range exclude {
		c.skip[name] = true
	}
	return c.copyDir(c.root, dst)
}

type copier struct {
	root string
	skip map[string]bool
}

func (c *copier) copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if c.skip[entry.Name()] {
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.IsDir():
			if err := c.copyDir(srcPath, dstPath); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := CopyFile(srcPath, dstPath); err != nil {
				return err
			}
		case entry.Type()&fs.ModeSymlink != 0:
			c.copyLink(srcPath, dstPath)
		default:
			slog.Warn("skipping special file", "component", "fsutil", "path", srcPath)
		}
	}

	return nil
}

// copyLink recreates the symlink at srcPath under dstPath when its target
// stays inside the copied tree.
func (c *copier) copyLink(srcPath, dstPath string) {
	target, err := os.Readlink(srcPath)
	if err != nil {
		slog.Warn("skipping unreadable symlink", "component", "fsutil", "path", srcPath, "error", err)
		return
	}
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(srcPath), target)
	}
	if !IsWithin(resolved, c.root) {
		slog.Warn("skipping symlink leaving the source tree", "component", "fsutil", "path", srcPath, "target", target)
		return
	}
	rel, err := filepath.Rel(filepath.Dir(srcPath), resolved)
	if err != nil {
		slog.Warn("skipping symlink", "component", "fsutil", "path", srcPath, "error", err)
		return
	}
	if err := os.Symlink(rel, dstPath); err != nil {
		slog.Warn("failed to recreate symlink", "component", "fsutil", "path", dstPath, "target", rel, "error", err)
	}
}

// CopyFile copies a single file from src to dst, preserving permissions.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, srcInfo.Mode().Perm())
}

// ReplaceDir removes dst (if present) and copies src into its place.
func ReplaceDir(src, dst string, exclude ...string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("removing %s: %w", dst, err)
	}
	if err := CopyDir(src, dst, exclude...); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}

// MkdirTemp creates a uniquely named directory under the system temp dir.
// purpose is embedded in the name for easier debugging.
func MkdirTemp(purpose string) (string, error) {
	dir, err := os.MkdirTemp("", TempPrefix+purpose+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}
	return dir, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsWithin reports whether path is dir itself or nested inside it.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// SweepTemp removes pipeline temp directories under root older than maxAge.
// It returns the number of directories removed. Errors on individual entries
// are ignored.
func SweepTemp(root string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", root, err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.RemoveAll(filepath.Join(root, entry.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}
