// Package szs converts between .szs/.arc files and their directory trees.
// An .szs file is a RARC archive compressed with Yaz0; .arc files hold the
// archive uncompressed.
package szs

import (
	"fmt"

	"github.com/falk/cube-go/pkg/rarc"
	"github.com/falk/cube-go/pkg/vfs"
	"github.com/falk/cube-go/pkg/yaz0"
)

// Unwrap returns the raw RARC bytes of data, decompressing Yaz0 if needed.
func Unwrap(data []byte) ([]byte, error) {
	if !yaz0.IsCompressed(data) {
		return data, nil
	}
	arc, err := yaz0.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("szs: %w", err)
	}
	return arc, nil
}

// Extract returns every file in the archive with its path relative to the
// archive root. File contents alias the (decompressed) archive buffer.
func Extract(data []byte) ([]vfs.VirtualFile, error) {
	arc, err := Unwrap(data)
	if err != nil {
		return nil, err
	}
	files, err := rarc.Decode(arc)
	if err != nil {
		return nil, fmt.Errorf("szs: %w", err)
	}
	out := make([]vfs.VirtualFile, len(files))
	for i, f := range files {
		out[i] = vfs.VirtualFile{Path: f.Path, Bytes: f.Data}
	}
	return out, nil
}

// Pack builds a RARC archive from dir and optionally compresses it.
func Pack(dir string, compress bool, quality int) ([]byte, error) {
	arc, err := rarc.Encode(dir)
	if err != nil {
		return nil, err
	}
	if !compress {
		return arc, nil
	}
	return yaz0.Compress(arc, quality), nil
}
