// Package cube drives extraction and packing of GameCube files. Formats are
// chosen by file extension and nested containers are unpacked recursively.
package cube

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/falk/cube-go/pkg/bmg"
	"github.com/falk/cube-go/pkg/bti"
	"github.com/falk/cube-go/pkg/gcm"
	"github.com/falk/cube-go/pkg/szs"
	"github.com/falk/cube-go/pkg/vfs"
	"github.com/falk/cube-go/pkg/zstd"
)

// ErrNoOutput is returned when extracting a file produced nothing to write.
var ErrNoOutput = errors.New("cube: no output files")

// ExtractOptions selects the conversions applied while extracting.
type ExtractOptions struct {
	// BTI converts textures to PNG.
	BTI bool
	// BMG converts message archives to JSON.
	BMG bool
	// SZSPreserveExtension keeps the archive extension on the folder its
	// contents are extracted into.
	SZSPreserveExtension bool
	// BTIScale enlarges exported textures. Values below 2 keep the
	// original size.
	BTIScale int
	// Workers bounds how many disc entries are extracted at once. Zero
	// uses one worker per CPU.
	Workers int

	Logger   *slog.Logger
	Progress Progress
}

// DefaultExtractOptions returns the options used when none are configured.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{BMG: true, BTIScale: 1}
}

func (o ExtractOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Extract converts file into the files it holds. Containers are unpacked and
// their contents extracted in turn; unknown formats are returned unchanged.
func Extract(file vfs.VirtualFile, opts ExtractOptions) ([]vfs.VirtualFile, error) {
	x := &extractor{opts: opts, log: opts.logger()}
	return x.extract(file)
}

type extractor struct {
	opts ExtractOptions
	log  *slog.Logger
}

func (x *extractor) extract(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	switch file.Ext() {
	case "iso", "gcm":
		return x.disc(file)
	case "szs", "arc":
		return x.archive(file)
	case "bti":
		if x.opts.BTI {
			return x.texture(file)
		}
	case "bmg":
		if x.opts.BMG {
			return x.messages(file)
		}
	case zstd.Ext:
		return x.zst(file)
	}
	return []vfs.VirtualFile{file}, nil
}

func (x *extractor) disc(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	d, err := gcm.Open(bytes.NewReader(file.Bytes), int64(len(file.Bytes)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	x.log.Debug("opened disc", "path", file.Path, "game", d.Header.GameID, "title", d.Header.Title, "files", len(d.Files()))

	// Discs nested inside this one extract without reporting progress.
	inner := &extractor{opts: x.opts, log: x.log}
	inner.opts.Progress = nil

	entries := d.Files()
	results, err := runOrdered(len(entries), x.opts.Workers, x.opts.Progress, func(i int) ([]vfs.VirtualFile, error) {
		data, err := d.ReadFile(entries[i])
		if err != nil {
			return nil, err
		}
		out, err := inner.extract(vfs.VirtualFile{Path: entries[i].Path, Bytes: data})
		if err != nil {
			x.log.Error("couldn't extract", "path", entries[i].Path, "err", err)
			return nil, nil
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}

	var extracted []vfs.VirtualFile
	for _, files := range results {
		extracted = append(extracted, files...)
	}
	x.log.Info("extracted", "path", file.Path, "files", len(extracted))
	return extracted, nil
}

func (x *extractor) archive(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	folder := file.Path
	if !x.opts.SZSPreserveExtension {
		folder = vfs.ReplaceExt(folder, "")
	}
	contents, err := szs.Extract(file.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}

	var extracted []vfs.VirtualFile
	for _, sub := range contents {
		sub = sub.WithPath(filepath.Join(folder, filepath.FromSlash(sub.Path)))
		files, err := x.extract(sub)
		if err != nil {
			x.log.Error("couldn't extract", "path", sub.Path, "err", err)
			continue
		}
		extracted = append(extracted, files...)
	}
	x.log.Info("extracted", "path", file.Path, "files", len(extracted))
	return extracted, nil
}

func (x *extractor) texture(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	img, err := bti.Decode(file.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	var buf bytes.Buffer
	if err := bti.EncodePNG(&buf, bti.Scale(img, x.opts.BTIScale)); err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	out := vfs.VirtualFile{Path: vfs.ReplaceExt(file.Path, "bti.png"), Bytes: buf.Bytes()}
	x.log.Info("extracted", "path", file.Path, "out", out.Path, "width", img.Width, "height", img.Height)
	return []vfs.VirtualFile{out}, nil
}

func (x *extractor) messages(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	archive, err := bmg.ReadWithLogger(file.Bytes, x.log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	out := vfs.VirtualFile{Path: vfs.ReplaceExt(file.Path, "bmg.json"), Bytes: data}
	x.log.Info("extracted", "path", file.Path, "out", out.Path)
	return []vfs.VirtualFile{out}, nil
}

func (x *extractor) zst(file vfs.VirtualFile) ([]vfs.VirtualFile, error) {
	data, err := zstd.Decompress(file.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file.Path, err)
	}
	return x.extract(vfs.VirtualFile{Path: vfs.ReplaceExt(file.Path, ""), Bytes: data})
}

// ExtractToDisk extracts every file in paths and writes the results.
//
// A single result is written to out, or to its own path when out is empty.
// Several results are placed in the folder out, or in a folder named after
// the input without its extension unless they already live there. With more
// than one input, out is always a folder holding one entry per input.
func ExtractToDisk(paths []string, out string, opts ExtractOptions) error {
	log := opts.logger()
	for _, path := range paths {
		if err := extractFile(path, out, len(paths) > 1, opts, log); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(path, out string, multi bool, opts ExtractOptions, log *slog.Logger) error {
	file, err := vfs.Read(path)
	if err != nil {
		return err
	}
	files, err := Extract(file, opts)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%s: %w", path, ErrNoOutput)
	}

	folder := vfs.ReplaceExt(path, "")
	if len(files) == 1 {
		f := files[0]
		switch {
		case multi && out != "":
			f = f.WithPath(filepath.Join(out, filepath.Base(f.Path)))
		case out != "":
			f = f.WithPath(out)
		}
		log.Debug("writing file", "path", f.Path)
		return f.Write()
	}

	parent := out
	if multi && out != "" {
		parent = filepath.Join(out, filepath.Base(folder))
	}
	if parent == "" && !allUnder(files, folder) {
		parent = folder
	}
	for _, f := range files {
		if parent != "" {
			f = f.WithPath(filepath.Join(parent, relativeTo(f.Path, path, folder)))
		}
		log.Debug("writing file", "path", f.Path)
		if err := f.Write(); err != nil {
			return err
		}
	}
	return nil
}

// under reports whether p is dir or lies inside it, comparing whole path
// components.
func under(p, dir string) bool {
	p, dir = filepath.Clean(p), filepath.Clean(dir)
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

func allUnder(files []vfs.VirtualFile, dir string) bool {
	for _, f := range files {
		if !under(f.Path, dir) {
			return false
		}
	}
	return true
}

// relativeTo strips the input path or its extraction folder from p. Paths
// that came out of a disc are already relative and are kept.
func relativeTo(p string, prefixes ...string) string {
	for _, prefix := range prefixes {
		if under(p, prefix) {
			if rel, err := filepath.Rel(prefix, p); err == nil {
				return rel
			}
		}
	}
	return p
}
