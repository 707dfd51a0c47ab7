// Package binutil holds the big-endian byte helpers shared by the GameCube codecs.
package binutil

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrOutOfBounds = errors.New("read out of bounds")

func check(b []byte, off, n int) error {
	if off < 0 || n < 0 || off > len(b) || len(b)-off < n {
		return fmt.Errorf("%w: %d bytes at 0x%X (buffer is 0x%X bytes)", ErrOutOfBounds, n, off, len(b))
	}
	return nil
}

// Bytes returns b[off:off+n] or an error if the range is not inside b.
func Bytes(b []byte, off, n int) ([]byte, error) {
	if err := check(b, off, n); err != nil {
		return nil, err
	}
	return b[off : off+n : off+n], nil
}

func U8(b []byte, off int) (uint8, error) {
	if err := check(b, off, 1); err != nil {
		return 0, err
	}
	return b[off], nil
}

func U16(b []byte, off int) (uint16, error) {
	if err := check(b, off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[off:]), nil
}

func U32(b []byte, off int) (uint32, error) {
	if err := check(b, off, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[off:]), nil
}

func U64(b []byte, off int) (uint64, error) {
	if err := check(b, off, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[off:]), nil
}

func PutU16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

func PutU32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func PutU64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

// CString reads a null-terminated string starting at off.
func CString(b []byte, off int) (string, error) {
	if err := check(b, off, 0); err != nil {
		return "", err
	}
	end := off
	for end < len(b) && b[end] != 0 {
		end++
	}
	if end == len(b) {
		return "", fmt.Errorf("%w: unterminated string at 0x%X", ErrOutOfBounds, off)
	}
	return string(b[off:end]), nil
}

// ValidName reports whether name can be stored as a single path element:
// it is not empty, "." or "..", and holds no path separator.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Hex encodes b as uppercase hex without separators.
func Hex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// ParseHex decodes a hex string of either case.
func ParseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	return b, nil
}

// PadTo appends zero bytes until len(buf) is a multiple of n.
func PadTo(buf []byte, n int) []byte {
	for len(buf)%n != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// AlignUp rounds v up to a multiple of n, which must be a power of two.
func AlignUp(v, n int) int {
	return (v + n - 1) &^ (n - 1)
}
