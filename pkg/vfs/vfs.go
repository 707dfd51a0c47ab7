// Package vfs holds the in-memory file representation passed between the
// extraction and packing pipelines.
package vfs

import (
	"os"
	"path/filepath"
	"strings"
)

// VirtualFile is a path plus its full contents.
type VirtualFile struct {
	Path  string
	Bytes []byte
}

// Read loads a file from disk.
func Read(path string) (VirtualFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return VirtualFile{}, err
	}
	return VirtualFile{Path: path, Bytes: b}, nil
}

// WithPath returns a copy of f that points to path.
func (f VirtualFile) WithPath(path string) VirtualFile {
	f.Path = path
	return f
}

// Ext returns the lowercase extension of the file without the dot.
func (f VirtualFile) Ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Path), "."))
}

// Write stores the file on disk, creating parent directories.
func (f VirtualFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(f.Path, f.Bytes, 0o644)
}

// ReplaceExt swaps the last extension of path for ext ("" strips it).
func ReplaceExt(path, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if ext == "" {
		return base
	}
	return base + "." + ext
}
