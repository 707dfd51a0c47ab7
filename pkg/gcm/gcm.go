// Package gcm reads files out of GameCube disc images.
package gcm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/falk/cube-go/pkg/binutil"
	"github.com/falk/cube-go/pkg/vfs"
)

const (
	Magic      uint32 = 0xC2339F3D
	HeaderSize        = 0x440

	magicOffset     = 0x1C
	titleOffset     = 0x20
	titleSize       = 0x3E0
	fstOffsetOffset = 0x424
	fstSizeOffset   = 0x428

	fstEntrySize = 12
	flagDir      = 1
)

var (
	ErrInvalidMagic = errors.New("gcm: not a GameCube disc image")
	ErrCorruptFST   = errors.New("gcm: corrupt file system table")
)

// Header holds the disc fields needed to locate the file system table.
type Header struct {
	GameID    string
	MakerCode string
	DiscID    uint8
	Version   uint8
	Title     string
	FSTOffset uint32
	FSTSize   uint32
}

// Entry is a file in the disc file system.
type Entry struct {
	Path   string
	Offset uint32
	Size   uint32
}

// Disc is an opened disc image.
type Disc struct {
	Header Header
	r      io.ReaderAt
	size   int64
	files  []Entry
}

func readAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func cleanString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// Open validates the disc header and reads the file system table.
func Open(r io.ReaderAt, size int64) (*Disc, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: image is %d bytes", ErrInvalidMagic, size)
	}
	hdr, err := readAt(r, 0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: read header: %w", err)
	}
	if magic, _ := binutil.U32(hdr, magicOffset); magic != Magic {
		return nil, fmt.Errorf("%w: magic 0x%08X", ErrInvalidMagic, magic)
	}

	d := &Disc{r: r, size: size}
	d.Header = Header{
		GameID:    cleanString(hdr[0:4]),
		MakerCode: cleanString(hdr[4:6]),
		DiscID:    hdr[6],
		Version:   hdr[7],
		Title:     cleanString(hdr[titleOffset : titleOffset+titleSize]),
	}
	d.Header.FSTOffset, _ = binutil.U32(hdr, fstOffsetOffset)
	d.Header.FSTSize, _ = binutil.U32(hdr, fstSizeOffset)

	if int64(d.Header.FSTOffset)+int64(d.Header.FSTSize) > size {
		return nil, fmt.Errorf("%w: table at 0x%X+0x%X past end of image", ErrCorruptFST, d.Header.FSTOffset, d.Header.FSTSize)
	}
	fst, err := readAt(r, int64(d.Header.FSTOffset), int(d.Header.FSTSize))
	if err != nil {
		return nil, fmt.Errorf("gcm: read file system table: %w", err)
	}
	if d.files, err = parseFST(fst); err != nil {
		return nil, err
	}
	return d, nil
}

type fstEntry struct {
	dir        bool
	nameOffset uint32
	offset     uint32
	length     uint32
}

func parseFST(fst []byte) ([]Entry, error) {
	if len(fst) < fstEntrySize {
		return nil, fmt.Errorf("%w: missing root entry", ErrCorruptFST)
	}
	count, _ := binutil.U32(fst, 8)
	if count == 0 || uint64(count)*fstEntrySize > uint64(len(fst)) {
		return nil, fmt.Errorf("%w: %d entries in 0x%X bytes", ErrCorruptFST, count, len(fst))
	}
	entries := make([]fstEntry, count)
	for i := range entries {
		b := fst[i*fstEntrySize:]
		ident, _ := binutil.U32(b, 0)
		entries[i] = fstEntry{dir: ident>>24 == flagDir, nameOffset: ident & 0xFFFFFF}
		entries[i].offset, _ = binutil.U32(b, 4)
		entries[i].length, _ = binutil.U32(b, 8)
	}
	t := fstTable{entries: entries, names: fst[int(count)*fstEntrySize:]}
	var files []Entry
	if err := t.walk(0, int(count), "", &files); err != nil {
		return nil, err
	}
	return files, nil
}

type fstTable struct {
	entries []fstEntry
	names   []byte
}

// walk lists the children of the directory entry at dirIndex, whose subtree
// ends before end. Files of a directory come before its subdirectories.
func (t *fstTable) walk(dirIndex, end int, dir string, files *[]Entry) error {
	type subdir struct {
		index, end int
		path       string
	}
	var dirs []subdir
	for i := dirIndex + 1; i < end; {
		e := t.entries[i]
		name, err := binutil.CString(t.names, int(e.nameOffset))
		if err != nil {
			return fmt.Errorf("%w: name of entry %d: %v", ErrCorruptFST, i, err)
		}
		if !binutil.ValidName(name) {
			return fmt.Errorf("%w: entry %d has name %q", ErrCorruptFST, i, name)
		}
		p := path.Join(dir, name)
		if !e.dir {
			*files = append(*files, Entry{Path: p, Offset: e.offset, Size: e.length})
			i++
			continue
		}
		next := int(e.length)
		if next <= i || next > end {
			return fmt.Errorf("%w: directory %q ends at entry %d", ErrCorruptFST, p, next)
		}
		dirs = append(dirs, subdir{index: i, end: next, path: p})
		i = next
	}
	for _, d := range dirs {
		if err := t.walk(d.index, d.end, d.path, files); err != nil {
			return err
		}
	}
	return nil
}

// Files returns every file on the disc.
func (d *Disc) Files() []Entry {
	return d.files
}

// ReadFile reads the contents of e.
func (d *Disc) ReadFile(e Entry) ([]byte, error) {
	if int64(e.Offset)+int64(e.Size) > d.size {
		return nil, fmt.Errorf("gcm: %s at 0x%X+0x%X past end of image", e.Path, e.Offset, e.Size)
	}
	data, err := readAt(d.r, int64(e.Offset), int(e.Size))
	if err != nil {
		return nil, fmt.Errorf("gcm: read %s: %w", e.Path, err)
	}
	return data, nil
}

// ReadAll reads every file on the disc in Files order.
func (d *Disc) ReadAll() ([]vfs.VirtualFile, error) {
	out := make([]vfs.VirtualFile, 0, len(d.files))
	for _, e := range d.files {
		data, err := d.ReadFile(e)
		if err != nil {
			return nil, err
		}
		out = append(out, vfs.VirtualFile{Path: e.Path, Bytes: data})
	}
	return out, nil
}
