// Package bmg reads and writes BMG message archives.
//
// A BMG file is a 0x20 byte header followed by a sequence of sections: INF1
// (index table), DAT1 (string pool), an optional MID1 (message ids) and any
// number of sections this package does not interpret. Sections are kept in
// file order so that a decoded archive re-encodes to the same bytes.
package bmg

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/falk/cube-go/pkg/binutil"
)

const (
	Magic      = "MESGbmg1"
	HeaderSize = 0x20
	blockAlign = 32
)

var (
	ErrInvalidHeaderMagic = errors.New("bmg: invalid header magic")
	ErrTruncated          = errors.New("bmg: truncated file")
	ErrMessageIDRange     = errors.New("bmg: message id does not fit in 24 bits")
)

// MaxMessageID is the largest id a MID1 entry can hold.
const MaxMessageID = 1<<24 - 1

// Header is the fixed BMG file header. Under the Undefined encoding the
// FileSize slot holds the block count instead.
type Header struct {
	FileSize  uint32
	NumBlocks uint32
	Encoding  TextEncoding
	reserved  [HeaderSize - 0x11]byte
}

func (h *Header) appendTo(out []byte) []byte {
	out = append(out, Magic...)
	if h.Encoding.aligned() {
		out = binutil.PutU32(out, h.NumBlocks)
	} else {
		out = binutil.PutU32(out, h.FileSize)
	}
	out = binutil.PutU32(out, h.NumBlocks)
	out = append(out, uint8(h.Encoding))
	return append(out, h.reserved[:]...)
}

// Archive is a decoded BMG file. Index, Pool and IDs point at sections in
// the section list and are nil while the file lacks that section.
type Archive struct {
	Header   Header
	Sections []Section
	Index    *IndexTable
	Pool     *StringPool
	IDs      *MessageIDTable

	// trailer holds bytes past the last declared section.
	trailer []byte
	logger  *slog.Logger
}

// Message is the merged view of one INF1 entry, its DAT1 text and its MID1
// id. Attributes is the entry's attribute bytes in uppercase hex.
type Message struct {
	Text       string     `json:"message"`
	Index      *MessageID `json:"index"`
	Attributes string     `json:"attributes"`
}

// New returns an empty archive with INF1 and DAT1 sections.
func New(enc TextEncoding) *Archive {
	a := &Archive{
		Header: Header{FileSize: HeaderSize, NumBlocks: 2, Encoding: enc},
		Index:  newIndexTable(),
		Pool:   &StringPool{},
		logger: slog.Default(),
	}
	a.Sections = []Section{a.Index, a.Pool}
	a.updateFileSize()
	return a
}

// SetLogger replaces the logger used for section level debug output.
func (a *Archive) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	a.logger = l
}

// Read decodes a BMG file. All section bodies are copied out of data.
func Read(data []byte) (*Archive, error) {
	return ReadWithLogger(data, nil)
}

// ReadWithLogger is Read with an explicit logger; nil uses slog.Default.
func ReadWithLogger(data []byte, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs 0x%X bytes, have 0x%X", ErrTruncated, HeaderSize, len(data))
	}
	if !bytes.Equal(data[:8], []byte(Magic)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHeaderMagic, data[:8])
	}
	enc, err := EncodingFromByte(data[0x10])
	if err != nil {
		return nil, err
	}

	a := &Archive{logger: logger}
	a.Header.Encoding = enc
	a.Header.FileSize, _ = binutil.U32(data, 0x8)
	a.Header.NumBlocks, _ = binutil.U32(data, 0xC)
	copy(a.Header.reserved[:], data[0x11:HeaderSize])
	logger.Debug("read bmg header",
		"encoding", enc,
		"file_size", a.Header.FileSize,
		"blocks", a.Header.NumBlocks)

	off := HeaderSize
	for i := uint32(0); i < a.Header.NumBlocks; i++ {
		if enc.aligned() {
			off = binutil.AlignUp(off, blockAlign)
		}
		hdr, err := binutil.Bytes(data, off, sectionHeaderSize)
		if err != nil {
			return nil, fmt.Errorf("%w: section %d at 0x%X: %v", ErrTruncated, i, off, err)
		}
		size, _ := binutil.U32(hdr, 4)
		if size < sectionHeaderSize {
			return nil, fmt.Errorf("bmg: section %q at 0x%X declares size %d", hdr[:4], off, size)
		}
		body, err := binutil.Bytes(data, off, int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: section %q at 0x%X: %v", ErrTruncated, hdr[:4], off, err)
		}

		if err := a.readSection(body); err != nil {
			return nil, err
		}
		off += int(size)
	}
	if off < len(data) {
		a.trailer = append([]byte(nil), data[off:]...)
	}
	return a, nil
}

func (a *Archive) readSection(body []byte) error {
	magic := string(body[:4])
	var s Section
	switch magic {
	case MagicINF1:
		t, err := readIndexTable(body)
		if err != nil {
			return err
		}
		a.Index = t
		s = t
		a.logger.Debug("read bmg index table", "size", len(body), "messages", len(t.Entries), "entry_size", t.EntrySize)
	case MagicDAT1:
		a.Pool = &StringPool{Strings: append([]byte(nil), body[sectionHeaderSize:]...)}
		s = a.Pool
		a.logger.Debug("read bmg string pool", "size", len(body))
	case MagicMID1:
		t, err := readMessageIDTable(body)
		if err != nil {
			return err
		}
		a.IDs = t
		s = t
		a.logger.Debug("read bmg message id table", "size", len(body), "messages", len(t.IDs))
	default:
		u := &UnknownSection{Data: append([]byte(nil), body[sectionHeaderSize:]...)}
		copy(u.Tag[:], body[:4])
		s = u
		a.logger.Debug("read unknown bmg section", "magic", magic, "size", len(body))
	}
	a.Sections = append(a.Sections, s)
	return nil
}

// Write serializes the archive. Sections are padded to 32 byte boundaries
// under the Undefined encoding and packed back to back otherwise.
func (a *Archive) Write() []byte {
	out := make([]byte, 0, max(int(a.Header.FileSize), HeaderSize))
	out = a.Header.appendTo(out)
	for _, s := range a.Sections {
		if a.Header.Encoding.aligned() {
			out = binutil.PadTo(out, blockAlign)
		}
		out = s.appendTo(out)
	}
	return append(out, a.trailer...)
}

// Messages decodes every index entry with its text and id.
func (a *Archive) Messages() ([]Message, error) {
	if a.Index == nil {
		return nil, nil
	}
	var pool []byte
	if a.Pool != nil {
		pool = a.Pool.Strings
	}
	msgs := make([]Message, len(a.Index.Entries))
	for i, e := range a.Index.Entries {
		if int(e.TextOffset) >= len(pool) {
			return nil, fmt.Errorf("%w: message %d text offset 0x%X past string pool", ErrTruncated, i, e.TextOffset)
		}
		text, err := DecodeText(pool[e.TextOffset:], a.Header.Encoding)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs[i] = Message{Text: text, Attributes: binutil.Hex(e.Attributes)}
		if a.IDs != nil && i < len(a.IDs.IDs) {
			id := a.IDs.IDs[i]
			msgs[i].Index = &id
		}
	}
	return msgs, nil
}

// AddMessage appends a message to the index table and string pool, and to
// the id table when the message carries an id.
func (a *Archive) AddMessage(m Message) error {
	if m.Index != nil && m.Index.ID > MaxMessageID {
		return fmt.Errorf("%w: 0x%X", ErrMessageIDRange, m.Index.ID)
	}
	attrs, err := binutil.ParseHex(m.Attributes)
	if err != nil {
		return fmt.Errorf("bmg: message attributes %q: %w", m.Attributes, err)
	}
	encoded, err := EncodeText(m.Text, a.Header.Encoding)
	if err != nil {
		return err
	}

	index, pool := a.indexTable(), a.stringPool()
	index.add(uint32(len(pool.Strings)), attrs)
	pool.Strings = append(pool.Strings, encoded...)
	if m.Index != nil {
		t := a.idTable()
		t.IDs = append(t.IDs, *m.Index)
	}
	a.updateFileSize()
	return nil
}

func (a *Archive) updateFileSize() {
	size := uint32(HeaderSize)
	for _, s := range a.Sections {
		size += s.Size()
	}
	a.Header.FileSize = size
}

func (a *Archive) addSection(s Section) {
	a.Sections = append(a.Sections, s)
	a.Header.NumBlocks++
}

func (a *Archive) indexTable() *IndexTable {
	if a.Index == nil {
		a.Index = newIndexTable()
		a.addSection(a.Index)
	}
	return a.Index
}

func (a *Archive) stringPool() *StringPool {
	if a.Pool == nil {
		a.Pool = &StringPool{}
		a.addSection(a.Pool)
	}
	return a.Pool
}

// idTable returns the MID1 section, creating it on first use.
func (a *Archive) idTable() *MessageIDTable {
	if a.IDs == nil {
		a.IDs = &MessageIDTable{}
		a.addSection(a.IDs)
	}
	return a.IDs
}

func (a *Archive) SetFileID(id uint16)         { a.indexTable().FileID = id }
func (a *Archive) SetDefaultColor(color uint8) { a.indexTable().DefaultColor = color }
func (a *Archive) SetMessageIDFormat(f uint8)  { a.idTable().Format = f }
func (a *Archive) SetMessageIDInfo(info uint8) { a.idTable().Info = info }
