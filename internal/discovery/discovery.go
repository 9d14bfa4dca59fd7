// Package discovery enumerates the Ruby source files of a workspace. The
// walk streams results through a callback so large trees never materialize
// in memory, applies a case-insensitive deny-list, and skips symlink cycles
// with a recorded warning instead of failing the walk.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileInfo describes one discovered source file.
type FileInfo struct {
	Path string
	Size int64
}

// defaultExcludes are directory names skipped regardless of configuration:
// version control, dependency caches, and build output.
var defaultExcludes = []string{
	".git", ".svn", ".hg",
	"vendor", "node_modules",
	"tmp", "log", "coverage", "pkg", ".bundle",
}

// rubyExtensions lists the file extensions treated as Ruby source.
var rubyExtensions = map[string]bool{
	".rb":      true,
	".rake":    true,
	".gemspec": true,
	".ru":      true,
}

// Walker discovers source files under a root. Restartable: each Walk starts
// from scratch with a fresh cycle-detection set.
type Walker struct {
	root     string
	excludes []string
	warnings []string
}

// NewWalker creates a Walker with the default deny-list plus any extra
// exclude patterns (matched case-insensitively against directory names).
func NewWalker(root string, exclude []string) *Walker {
	excludes := make([]string, 0, len(defaultExcludes)+len(exclude))
	for _, e := range defaultExcludes {
		excludes = append(excludes, strings.ToLower(e))
	}
	for _, e := range exclude {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			excludes = append(excludes, e)
		}
	}
	return &Walker{root: root, excludes: excludes}
}

// Warnings returns the non-fatal problems recorded by the last Walk, such as
// skipped symlink cycles.
func (w *Walker) Warnings() []string { return w.warnings }

// Walk streams every matching file to fn in deterministic (lexical) order.
// Returning a non-nil error from fn stops the walk.
func (w *Walker) Walk(fn func(FileInfo) error) error {
	w.warnings = w.warnings[:0]
	visited := make(map[fileID]bool)
	return w.walkDir(w.root, visited, fn)
}

// fileID identifies a directory across symlinks.
type fileID struct {
	dev uint64
	ino uint64
}

func (w *Walker) walkDir(dir string, visited map[fileID]bool, fn func(FileInfo) error) error {
	if id, ok := statID(dir); ok {
		if visited[id] {
			w.warnings = append(w.warnings, "symlink cycle at "+dir+", skipped")
			return nil
		}
		visited[id] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.warnings = append(w.warnings, "unreadable directory "+dir+", skipped")
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(dir, name)
		if entry.IsDir() || isSymlinkDir(entry, path) {
			if w.excluded(name) {
				continue
			}
			if err := w.walkDir(path, visited, fn); err != nil {
				return err
			}
			continue
		}
		if !rubyExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := fn(FileInfo{Path: path, Size: info.Size()}); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) excluded(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, ".") && lower != "." {
		return true
	}
	for _, e := range w.excludes {
		if lower == e {
			return true
		}
	}
	return false
}

func isSymlinkDir(entry fs.DirEntry, path string) bool {
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func statID(path string) (fileID, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileID{}, false
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}, false
	}
	return fileID{dev: uint64(sys.Dev), ino: uint64(sys.Ino)}, true
}
