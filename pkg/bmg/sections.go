package bmg

import (
	"fmt"

	"github.com/falk/cube-go/pkg/binutil"
)

const (
	MagicINF1 = "INF1"
	MagicDAT1 = "DAT1"
	MagicMID1 = "MID1"

	sectionHeaderSize = 8
	indexHeaderSize   = 0x10
	idHeaderSize      = 0x10
)

// Section is one block of a BMG file. Size is the declared byte length
// including the 8 byte magic and length prefix.
type Section interface {
	Magic() string
	Size() uint32
	appendTo(out []byte) []byte
}

func appendSectionHeader(out []byte, magic string, size uint32) []byte {
	out = append(out, magic...)
	return binutil.PutU32(out, size)
}

// IndexEntry is one INF1 record.
type IndexEntry struct {
	TextOffset uint32
	Attributes []byte
}

// IndexTable is the INF1 section. EntrySize is the table's record width in
// bytes (4 byte text offset plus attributes); entries appended after a wider
// one keep their own attribute length.
type IndexTable struct {
	size         uint32
	EntrySize    uint16
	FileID       uint16
	DefaultColor uint8
	Unknown      uint8
	Entries      []IndexEntry
	tail         []byte
}

func newIndexTable() *IndexTable {
	return &IndexTable{size: indexHeaderSize, EntrySize: 4}
}

func readIndexTable(b []byte) (*IndexTable, error) {
	if len(b) < indexHeaderSize {
		return nil, fmt.Errorf("%w: INF1 header", ErrTruncated)
	}
	count, _ := binutil.U16(b, 0x8)
	t := &IndexTable{
		size:         uint32(len(b)),
		DefaultColor: b[0xE],
		Unknown:      b[0xF],
	}
	t.EntrySize, _ = binutil.U16(b, 0xA)
	t.FileID, _ = binutil.U16(b, 0xC)
	if t.EntrySize < 4 {
		return nil, fmt.Errorf("bmg: INF1 entry size %d is smaller than a text offset", t.EntrySize)
	}

	off := indexHeaderSize
	t.Entries = make([]IndexEntry, count)
	for i := range t.Entries {
		rec, err := binutil.Bytes(b, off, int(t.EntrySize))
		if err != nil {
			return nil, fmt.Errorf("%w: INF1 entry %d: %v", ErrTruncated, i, err)
		}
		t.Entries[i].TextOffset, _ = binutil.U32(rec, 0)
		t.Entries[i].Attributes = append([]byte(nil), rec[4:]...)
		off += int(t.EntrySize)
	}
	t.tail = append([]byte(nil), b[off:]...)
	return t, nil
}

func (t *IndexTable) Magic() string { return MagicINF1 }
func (t *IndexTable) Size() uint32  { return t.size }

func (t *IndexTable) add(textOffset uint32, attrs []byte) {
	t.EntrySize = max(t.EntrySize, uint16(len(attrs))+4)
	t.size += uint32(t.EntrySize)
	t.Entries = append(t.Entries, IndexEntry{TextOffset: textOffset, Attributes: attrs})
}

func (t *IndexTable) appendTo(out []byte) []byte {
	out = appendSectionHeader(out, MagicINF1, t.size)
	out = binutil.PutU16(out, uint16(len(t.Entries)))
	out = binutil.PutU16(out, t.EntrySize)
	out = binutil.PutU16(out, t.FileID)
	out = append(out, t.DefaultColor, t.Unknown)
	for _, e := range t.Entries {
		out = binutil.PutU32(out, e.TextOffset)
		out = append(out, e.Attributes...)
	}
	return append(out, t.tail...)
}

// StringPool is the DAT1 section: encoded, null-terminated message text.
type StringPool struct {
	Strings []byte
}

func (p *StringPool) Magic() string { return MagicDAT1 }
func (p *StringPool) Size() uint32  { return uint32(sectionHeaderSize + len(p.Strings)) }

func (p *StringPool) appendTo(out []byte) []byte {
	out = appendSectionHeader(out, MagicDAT1, p.Size())
	return append(out, p.Strings...)
}

// MessageID identifies a message independently of its index position.
type MessageID struct {
	ID    uint32 `json:"id"`
	SubID uint8  `json:"sub_id"`
}

func (id MessageID) packed() uint32 {
	return id.ID<<8 | uint32(id.SubID)
}

// MessageIDTable is the MID1 section.
type MessageIDTable struct {
	Format   uint8
	Info     uint8
	IDs      []MessageID
	reserved uint32
	tail     []byte
}

func readMessageIDTable(b []byte) (*MessageIDTable, error) {
	if len(b) < idHeaderSize {
		return nil, fmt.Errorf("%w: MID1 header", ErrTruncated)
	}
	count, _ := binutil.U16(b, 0x8)
	t := &MessageIDTable{Format: b[0xA], Info: b[0xB]}
	t.reserved, _ = binutil.U32(b, 0xC)
	off := idHeaderSize
	t.IDs = make([]MessageID, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := binutil.U32(b, off)
		if err != nil {
			return nil, fmt.Errorf("%w: MID1 entry %d: %v", ErrTruncated, i, err)
		}
		t.IDs = append(t.IDs, MessageID{ID: v >> 8, SubID: uint8(v)})
		off += 4
	}
	t.tail = append([]byte(nil), b[off:]...)
	return t, nil
}

func (t *MessageIDTable) Magic() string { return MagicMID1 }

func (t *MessageIDTable) Size() uint32 {
	return uint32(idHeaderSize + 4*len(t.IDs) + len(t.tail))
}

func (t *MessageIDTable) appendTo(out []byte) []byte {
	out = appendSectionHeader(out, MagicMID1, t.Size())
	out = binutil.PutU16(out, uint16(len(t.IDs)))
	out = append(out, t.Format, t.Info)
	out = binutil.PutU32(out, t.reserved)
	for _, id := range t.IDs {
		out = binutil.PutU32(out, id.packed())
	}
	return append(out, t.tail...)
}

// UnknownSection is any block with an unrecognized magic, kept verbatim.
type UnknownSection struct {
	Tag  [4]byte
	Data []byte
}

func (s *UnknownSection) Magic() string { return string(s.Tag[:]) }
func (s *UnknownSection) Size() uint32  { return uint32(sectionHeaderSize + len(s.Data)) }

func (s *UnknownSection) appendTo(out []byte) []byte {
	out = append(out, s.Tag[:]...)
	out = binutil.PutU32(out, s.Size())
	return append(out, s.Data...)
}
