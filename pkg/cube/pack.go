package cube

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/falk/cube-go/pkg/bmg"
	"github.com/falk/cube-go/pkg/szs"
	"github.com/falk/cube-go/pkg/vfs"
	"github.com/falk/cube-go/pkg/yaz0"
	"github.com/falk/cube-go/pkg/zstd"
)

// PackOptions controls how files are packed back into game formats.
type PackOptions struct {
	// DeleteOriginals removes each source once its packed form is written.
	DeleteOriginals bool
	// Yaz0Compress compresses archives packed as szs.
	Yaz0Compress bool
	// Yaz0Quality trades speed for ratio, see yaz0.Compress.
	Yaz0Quality int
	// ArcExtension renames packed archives, e.g. "carc".
	ArcExtension string
	// Zstd wraps the packed result in a Zstandard frame. Files packed
	// inside a directory tree are left unwrapped.
	Zstd      bool
	ZstdLevel int

	Logger *slog.Logger
}

// DefaultPackOptions returns the options used when none are configured.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		Yaz0Compress: true,
		Yaz0Quality:  yaz0.MaxQuality,
		ZstdLevel:    zstd.DefaultLevel,
	}
}

func (o PackOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// archiveFormat is the format a top-level directory is packed into when no
// output path names one.
func (o PackOptions) archiveFormat() string {
	if o.Yaz0Compress {
		return "szs"
	}
	return "arc"
}

// Pack packs path into its game format and writes the result to out, or next
// to path when out is empty. The format comes from the extension of out or is
// guessed from path: JSON files become BMG archives and a directory becomes
// an RARC archive. The children of a directory are packed first, so message
// JSON inside an archive tree is converted before the tree is archived.
// Nested directories are never archived on their own.
func Pack(path, out string, opts PackOptions) error {
	p := &packer{opts: opts, log: opts.logger()}
	return p.pack(path, out, true)
}

type packer struct {
	opts PackOptions
	log  *slog.Logger
}

func (p *packer) pack(path, out string, top bool) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := p.pack(filepath.Join(path, e.Name()), "", false); err != nil {
				return err
			}
		}
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(out), "."))
	if format == "" {
		format = p.guessFormat(path, st.IsDir(), top)
	}
	file, ok, err := p.encode(path, format)
	if err != nil {
		return fmt.Errorf("packing %s: %w", path, err)
	}
	if !ok {
		return nil
	}
	if p.opts.Zstd && top {
		file = vfs.VirtualFile{Path: file.Path + "." + zstd.Ext, Bytes: zstd.Compress(file.Bytes, p.opts.ZstdLevel)}
	}
	if out != "" {
		file = file.WithPath(out)
	}

	p.log.Info("packed", "path", path, "out", file.Path, "size", len(file.Bytes))
	if err := file.Write(); err != nil {
		return err
	}

	if p.opts.DeleteOriginals {
		p.log.Debug("deleting original", "path", path)
		if st.IsDir() {
			return os.RemoveAll(path)
		}
		return os.Remove(path)
	}
	return nil
}

func (p *packer) guessFormat(path string, dir, top bool) string {
	if dir {
		if top {
			return p.opts.archiveFormat()
		}
		return ""
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, "json"):
		return "bmg"
	case strings.HasSuffix(lower, "png") && top:
		return "bti"
	}
	return ""
}

// encode returns the packed form of path. ok is false when the format is not
// one that can be packed.
func (p *packer) encode(path, format string) (vfs.VirtualFile, bool, error) {
	switch format {
	case "szs", "arc":
		compress := p.opts.Yaz0Compress && format == "szs"
		data, err := szs.Pack(path, compress, p.opts.Yaz0Quality)
		if err != nil {
			return vfs.VirtualFile{}, false, err
		}
		dir := filepath.Clean(path)
		if base := filepath.Base(dir); base == "." || base == ".." {
			if dir, err = filepath.Abs(dir); err != nil {
				return vfs.VirtualFile{}, false, err
			}
		}
		dest := vfs.ReplaceExt(dir, "arc")
		if compress {
			dest = vfs.ReplaceExt(dest, "szs")
		}
		if p.opts.ArcExtension != "" {
			dest = vfs.ReplaceExt(dest, strings.TrimPrefix(p.opts.ArcExtension, "."))
		}
		return vfs.VirtualFile{Path: dest, Bytes: data}, true, nil

	case "bmg":
		src, err := vfs.Read(path)
		if err != nil {
			return vfs.VirtualFile{}, false, err
		}
		archive, err := bmg.ParseJSON(src.Bytes)
		if err != nil {
			return vfs.VirtualFile{}, false, err
		}
		archive.SetLogger(p.log)
		dest := vfs.ReplaceExt(vfs.ReplaceExt(path, ""), "bmg")
		return vfs.VirtualFile{Path: dest, Bytes: archive.Write()}, true, nil

	case "bti":
		p.log.Warn("packing textures is not supported", "path", path)
	}
	return vfs.VirtualFile{}, false, nil
}
