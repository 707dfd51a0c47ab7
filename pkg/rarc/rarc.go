// Package rarc reads and writes RARC archives, the directory containers used
// by GameCube and Wii titles (usually wrapped in Yaz0 as .szs).
//
// An archive flattens a directory tree into a node table (one record per
// directory) and a file entry table in which each node owns a contiguous
// range. Every range carries synthetic "." and ".." entries pointing back at
// the node itself and at its parent.
package rarc

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/falk/cube-go/pkg/binutil"
)

const (
	Magic      = "RARC"
	HeaderSize = 0x20
	InfoSize   = 0x20
	NodeSize   = 0x10
	EntrySize  = 0x14

	// Type flags of a file entry, stored as a big-endian u16.
	TypeFile      = 0x1100
	TypeDirectory = 0x0200

	// NoParent is stored in the ".." entry of the root node.
	NoParent = 0xFFFFFFFF
	// DirectorySize is the data size stored for directory entries.
	DirectorySize = 16
)

var ErrNotADirectory = errors.New("rarc: can only pack directories")

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	HeaderMagicMismatch ErrorKind = iota
	StructuralMetadataMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case HeaderMagicMismatch:
		return "header magic mismatch"
	case StructuralMetadataMismatch:
		return "structural metadata mismatch"
	}
	return "unknown"
}

// ParseError reports the field of a RARC file that failed validation.
type ParseError struct {
	Kind     ErrorKind
	Field    string
	Expected any
	Found    any
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rarc: %s: %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("rarc: %s: %s: expected %v, found %v", e.Kind, e.Field, e.Expected, e.Found)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header is the leading 0x20 byte block. Offsets are absolute.
type Header struct {
	FileLength   uint32
	HeaderLength uint32
	DataOffset   uint32
	DataLength   uint32
	// DataLengthCopy repeats DataLength.
	DataLengthCopy uint32
}

// InfoBlock follows the header. Offsets are absolute.
type InfoBlock struct {
	NodeCount         uint32
	NodeListOffset    uint32
	EntryCount        uint32
	EntryListOffset   uint32
	StringTableLength uint32
	StringTableOffset uint32
	// FileCount counts entries that are files rather than directories.
	FileCount uint16
}

// Node describes one directory.
type Node struct {
	ShortName      [4]byte
	NameHash       uint16
	NameOffset     uint32
	FileCount      uint16
	FirstFileIndex uint32

	Name string
}

// FileEntry is one record of the file entry table. For directories
// DataOffset holds a node index, for files an offset into the data section.
type FileEntry struct {
	Index      uint16
	NameHash   uint16
	Type       uint16
	NameOffset uint32
	DataOffset uint32
	DataSize   uint32

	Name string
}

func (e FileEntry) IsDir() bool {
	return e.Type&TypeDirectory != 0
}

func (e FileEntry) isSpecial() bool {
	return e.Name == "." || e.Name == ".."
}

// File is a decoded archive member. Data aliases the archive buffer.
type File struct {
	Path string
	Data []byte
}

// Archive is a parsed RARC file.
type Archive struct {
	Header      Header
	Info        InfoBlock
	Nodes       []Node
	Entries     []FileEntry
	StringTable []byte

	raw []byte
}

// Parse validates the header of data and decodes the node and entry tables.
func Parse(data []byte) (*Archive, error) {
	if len(data) < HeaderSize+InfoSize {
		return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: "file length", Expected: fmt.Sprintf(">= %d", HeaderSize+InfoSize), Found: len(data)}
	}
	if string(data[:4]) != Magic {
		return nil, &ParseError{Kind: HeaderMagicMismatch, Field: "magic", Expected: Magic, Found: fmt.Sprintf("%q", data[:4])}
	}

	u32 := func(off int) uint32 {
		v, _ := binutil.U32(data, off)
		return v
	}

	var h Header
	h.FileLength = u32(0x04)
	if h.FileLength != uint32(len(data)) {
		return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: "file length", Expected: len(data), Found: h.FileLength}
	}
	h.HeaderLength = u32(0x08)
	if h.HeaderLength != HeaderSize {
		return nil, &ParseError{Kind: HeaderMagicMismatch, Field: "header length", Expected: HeaderSize, Found: h.HeaderLength}
	}
	if reserved := u32(0x1C); reserved != 0 {
		return nil, &ParseError{Kind: HeaderMagicMismatch, Field: "reserved 0x1C", Expected: 0, Found: reserved}
	}
	h.DataOffset = u32(0x0C) + HeaderSize
	h.DataLength = u32(0x10)
	h.DataLengthCopy = u32(0x14)

	var info InfoBlock
	info.NodeCount = u32(HeaderSize)
	info.NodeListOffset = u32(HeaderSize+0x04) + HeaderSize
	info.EntryCount = u32(HeaderSize + 0x08)
	info.EntryListOffset = u32(HeaderSize+0x0C) + HeaderSize
	info.StringTableLength = u32(HeaderSize + 0x10)
	info.StringTableOffset = u32(HeaderSize+0x14) + HeaderSize
	fc, _ := binutil.U16(data, HeaderSize+0x18)
	info.FileCount = fc

	strs, err := binutil.Bytes(data, int(info.StringTableOffset), int(info.StringTableLength))
	if err != nil {
		return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: "string table", Err: err}
	}

	a := &Archive{
		Header:      h,
		Info:        info,
		StringTable: strs,
		raw:         data,
	}

	nodes, err := binutil.Bytes(data, int(info.NodeListOffset), int(info.NodeCount)*NodeSize)
	if err != nil {
		return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: "node table", Err: err}
	}
	a.Nodes = make([]Node, info.NodeCount)
	for i := range a.Nodes {
		if err := a.Nodes[i].read(nodes[i*NodeSize:], strs); err != nil {
			return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: fmt.Sprintf("node %d", i), Err: err}
		}
	}

	entries, err := binutil.Bytes(data, int(info.EntryListOffset), int(info.EntryCount)*EntrySize)
	if err != nil {
		return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: "file entry table", Err: err}
	}
	a.Entries = make([]FileEntry, info.EntryCount)
	for i := range a.Entries {
		if err := a.Entries[i].read(entries[i*EntrySize:], strs); err != nil {
			return nil, &ParseError{Kind: StructuralMetadataMismatch, Field: fmt.Sprintf("file entry %d", i), Err: err}
		}
	}

	return a, nil
}

func (n *Node) read(b, strs []byte) error {
	copy(n.ShortName[:], b[0:4])
	n.NameOffset, _ = binutil.U32(b, 0x4)
	n.NameHash, _ = binutil.U16(b, 0x8)
	n.FileCount, _ = binutil.U16(b, 0xA)
	n.FirstFileIndex, _ = binutil.U32(b, 0xC)

	name, err := binutil.CString(strs, int(n.NameOffset))
	if err != nil {
		return err
	}
	n.Name = name
	return nil
}

func (e *FileEntry) read(b, strs []byte) error {
	e.Index, _ = binutil.U16(b, 0x0)
	e.NameHash, _ = binutil.U16(b, 0x2)
	e.Type, _ = binutil.U16(b, 0x4)
	typeAndName, _ := binutil.U32(b, 0x4)
	e.NameOffset = typeAndName & 0x00FFFFFF
	e.DataOffset, _ = binutil.U32(b, 0x8)
	e.DataSize, _ = binutil.U32(b, 0xC)

	name, err := binutil.CString(strs, int(e.NameOffset))
	if err != nil {
		return err
	}
	e.Name = name
	return nil
}

// NodeEntries returns the file entry range owned by node i.
func (a *Archive) NodeEntries(i int) ([]FileEntry, error) {
	if i < 0 || i >= len(a.Nodes) {
		return nil, fmt.Errorf("rarc: node index %d out of range (%d nodes)", i, len(a.Nodes))
	}
	n := a.Nodes[i]
	first := int(n.FirstFileIndex)
	end := first + int(n.FileCount)
	if end > len(a.Entries) {
		return nil, fmt.Errorf("rarc: node %d owns entries [%d, %d) but only %d exist", i, first, end, len(a.Entries))
	}
	return a.Entries[first:end], nil
}

// Parent returns the node index stored in the ".." entry of node i, or
// NoParent for the root.
func (a *Archive) Parent(i int) (uint32, error) {
	entries, err := a.NodeEntries(i)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() && e.Name == ".." {
			return e.DataOffset, nil
		}
	}
	return 0, fmt.Errorf("rarc: node %d has no \"..\" entry", i)
}

// Files walks the tree from the root node and returns every file with its
// slash-separated path. Directories are visited depth-first in entry order.
func (a *Archive) Files() ([]File, error) {
	if len(a.Nodes) == 0 {
		return nil, nil
	}
	var files []File
	visited := make([]bool, len(a.Nodes))
	if err := a.walk(0, "", visited, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (a *Archive) walk(node int, dir string, visited []bool, files *[]File) error {
	if visited[node] {
		return fmt.Errorf("rarc: node %d reached twice", node)
	}
	visited[node] = true

	entries, err := a.NodeEntries(node)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.isSpecial() {
			continue
		}
		if !binutil.ValidName(e.Name) {
			return &ParseError{Kind: StructuralMetadataMismatch, Field: "entry name", Expected: "a single path element", Found: strconv.Quote(e.Name)}
		}
		p := path.Join(dir, e.Name)
		if e.IsDir() {
			if int(e.DataOffset) >= len(a.Nodes) {
				return fmt.Errorf("rarc: directory %q points at node %d of %d", p, e.DataOffset, len(a.Nodes))
			}
			if err := a.walk(int(e.DataOffset), p, visited, files); err != nil {
				return err
			}
			continue
		}
		start := int(a.Header.DataOffset) + int(e.DataOffset)
		data, err := binutil.Bytes(a.raw, start, int(e.DataSize))
		if err != nil {
			return fmt.Errorf("rarc: data of %q: %w", p, err)
		}
		*files = append(*files, File{Path: p, Data: data})
	}
	return nil
}

// Decode parses data and returns its files.
func Decode(data []byte) ([]File, error) {
	a, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return a.Files()
}
