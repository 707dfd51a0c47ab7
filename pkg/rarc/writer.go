package rarc

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/falk/cube-go/pkg/binutil"
)

// rootNameOffset is where the root directory name starts in the string
// table, right after ".\0" and "..\0".
const rootNameOffset = 5

// NameHash is the 16-bit name hash stored next to nodes and file entries.
func NameHash(name string) uint16 {
	var h uint16
	for i := 0; i < len(name); i++ {
		h = h*3 + uint16(name[i])
	}
	return h
}

// ShortName returns the 4 byte node identifier for a directory name:
// uppercase ASCII, truncated or padded with zero bytes.
func ShortName(name string) [4]byte {
	var s [4]byte
	for i := 0; i < len(s) && i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		s[i] = c
	}
	return s
}

// Builder accumulates nodes, entries, names and file data before the
// archive is serialized by Bytes.
type Builder struct {
	nodes       []Node
	entries     []FileEntry
	stringTable []byte
	data        []byte
	fileCount   int

	dirStart int
}

// NewBuilder starts an archive whose root directory is called rootName.
func NewBuilder(rootName string) *Builder {
	b := &Builder{}
	b.stringTable = append(b.stringTable, ".\x00..\x00"...)
	b.stringTable = append(b.stringTable, rootName...)
	b.stringTable = append(b.stringTable, 0)
	b.nodes = append(b.nodes, Node{
		ShortName:  [4]byte{'R', 'O', 'O', 'T'},
		NameOffset: rootNameOffset,
		NameHash:   NameHash(rootName),
		Name:       rootName,
	})
	return b
}

func (b *Builder) addName(name string) uint32 {
	off := uint32(len(b.stringTable))
	b.stringTable = append(b.stringTable, name...)
	b.stringTable = append(b.stringTable, 0)
	return off
}

// BeginDir marks the start of the entry range of the next directory.
func (b *Builder) BeginDir() {
	b.dirStart = len(b.entries)
}

// AddFile appends a file entry and its contents to the current directory.
func (b *Builder) AddFile(name string, contents []byte) {
	b.entries = append(b.entries, FileEntry{
		Index:      uint16(b.fileCount),
		NameHash:   NameHash(name),
		Type:       TypeFile,
		NameOffset: b.addName(name),
		DataOffset: uint32(len(b.data)),
		DataSize:   uint32(len(contents)),
		Name:       name,
	})
	b.fileCount++
	b.data = append(b.data, contents...)
}

// AddDir appends a directory entry to the current directory and allocates a
// node for it. The new node index is returned.
func (b *Builder) AddDir(name string) int {
	node := len(b.nodes)
	off := b.addName(name)
	b.entries = append(b.entries, FileEntry{
		Index:      0xFFFF,
		NameHash:   NameHash(name),
		Type:       TypeDirectory,
		NameOffset: off,
		DataOffset: uint32(node),
		DataSize:   DirectorySize,
		Name:       name,
	})
	b.nodes = append(b.nodes, Node{
		ShortName:  ShortName(name),
		NameHash:   NameHash(name),
		NameOffset: off,
		Name:       name,
	})
	return node
}

// EndDir appends the "." and ".." entries of node and assigns it the
// entries added since BeginDir. parent is -1 for the root.
func (b *Builder) EndDir(node, parent int) {
	parentIndex := uint32(NoParent)
	if parent >= 0 {
		parentIndex = uint32(parent)
	}
	b.entries = append(b.entries, FileEntry{
		Index:      uint16(len(b.entries)),
		NameHash:   NameHash("."),
		Type:       TypeDirectory,
		NameOffset: 0,
		DataOffset: uint32(node),
		DataSize:   DirectorySize,
		Name:       ".",
	})
	b.entries = append(b.entries, FileEntry{
		Index:      uint16(len(b.entries)),
		NameHash:   NameHash(".."),
		Type:       TypeDirectory,
		NameOffset: 2,
		DataOffset: parentIndex,
		DataSize:   DirectorySize,
		Name:       "..",
	})
	b.nodes[node].FirstFileIndex = uint32(b.dirStart)
	b.nodes[node].FileCount = uint16(len(b.entries) - b.dirStart)
}

// Bytes serializes the archive: header, info block, node table, file entry
// table, string table padded to 32 bytes, then file data.
func (b *Builder) Bytes() ([]byte, error) {
	strs := binutil.PadTo(append([]byte(nil), b.stringTable...), 32)
	if len(strs) > 0xFFFF {
		return nil, fmt.Errorf("rarc: string table is 0x%X bytes, entries can only address 0xFFFF", len(strs))
	}
	if len(b.entries) > 0xFFFF || b.fileCount > 0xFFFF {
		return nil, fmt.Errorf("rarc: %d entries exceed the 16-bit entry index", len(b.entries))
	}

	nodeListOffset := uint32(InfoSize)
	entryListOffset := nodeListOffset + uint32(len(b.nodes)*NodeSize)
	stringTableOffset := entryListOffset + uint32(len(b.entries)*EntrySize)
	dataOffset := stringTableOffset + uint32(len(strs))
	fileLength := HeaderSize + dataOffset + uint32(len(b.data))

	out := make([]byte, 0, fileLength)
	out = append(out, Magic...)
	out = binutil.PutU32(out, fileLength)
	out = binutil.PutU32(out, HeaderSize)
	out = binutil.PutU32(out, dataOffset)
	out = binutil.PutU32(out, uint32(len(b.data)))
	out = binutil.PutU32(out, uint32(len(b.data)))
	out = binutil.PutU32(out, 0)
	out = binutil.PutU32(out, 0)

	out = binutil.PutU32(out, uint32(len(b.nodes)))
	out = binutil.PutU32(out, nodeListOffset)
	out = binutil.PutU32(out, uint32(len(b.entries)))
	out = binutil.PutU32(out, entryListOffset)
	out = binutil.PutU32(out, uint32(len(strs)))
	out = binutil.PutU32(out, stringTableOffset)
	out = binutil.PutU16(out, uint16(b.fileCount))
	out = append(out, make([]byte, 6)...)

	for _, n := range b.nodes {
		out = append(out, n.ShortName[:]...)
		out = binutil.PutU32(out, n.NameOffset)
		out = binutil.PutU16(out, n.NameHash)
		out = binutil.PutU16(out, n.FileCount)
		out = binutil.PutU32(out, n.FirstFileIndex)
	}
	for _, e := range b.entries {
		out = binutil.PutU16(out, e.Index)
		out = binutil.PutU16(out, e.NameHash)
		out = binutil.PutU16(out, e.Type)
		out = binutil.PutU16(out, uint16(e.NameOffset))
		out = binutil.PutU32(out, e.DataOffset)
		out = binutil.PutU32(out, e.DataSize)
		out = binutil.PutU32(out, 0)
	}
	out = append(out, strs...)
	out = append(out, b.data...)
	return out, nil
}

// EncodeFS packs the tree rooted at "." of fsys. Directories are walked
// breadth first with entries in lexical order, so node indices follow the
// order in which directories are discovered.
func EncodeFS(fsys fs.FS, rootName string) ([]byte, error) {
	type pending struct {
		dir    string
		node   int
		parent int
	}

	b := NewBuilder(rootName)
	queue := []pending{{dir: ".", node: 0, parent: -1}}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		// fs.ReadDir returns entries sorted by name.
		dirEntries, err := fs.ReadDir(fsys, d.dir)
		if err != nil {
			return nil, err
		}
		b.BeginDir()
		for _, de := range dirEntries {
			p := path.Join(d.dir, de.Name())
			if de.IsDir() {
				child := b.AddDir(de.Name())
				queue = append(queue, pending{dir: p, node: child, parent: d.node})
				continue
			}
			contents, err := fs.ReadFile(fsys, p)
			if err != nil {
				return nil, err
			}
			b.AddFile(de.Name(), contents)
		}
		b.EndDir(d.node, d.parent)
	}
	return b.Bytes()
}

// Encode packs the directory at dir. The archive root is named after the
// directory itself.
func Encode(dir string) ([]byte, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}
	return EncodeFS(os.DirFS(abs), filepath.Base(abs))
}
