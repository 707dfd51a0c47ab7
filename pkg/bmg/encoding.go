package bmg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"

	"github.com/falk/cube-go/pkg/binutil"
)

// TextEncoding is the header's declared string pool encoding.
type TextEncoding uint8

const (
	// Undefined is used by older GameCube titles and decodes as CP1252.
	Undefined TextEncoding = iota
	CP1252
	UTF16
	ShiftJIS
	UTF8
)

var encodingNames = [...]string{"Undefined", "CP1252", "UTF16", "ShiftJIS", "UTF8"}

// EscapeChar starts an inline control sequence in message text.
const EscapeChar = 0x1A

var ErrMalformedEscape = errors.New("bmg: malformed escape sequence")

// InvalidTextEncodingError reports an encoding byte outside the known values.
type InvalidTextEncodingError struct {
	Byte uint8
}

func (e InvalidTextEncodingError) Error() string {
	return fmt.Sprintf("bmg: unrecognized text encoding byte 0x%02X", e.Byte)
}

// EncodingFromByte maps a header encoding byte to a TextEncoding.
func EncodingFromByte(b uint8) (TextEncoding, error) {
	if int(b) >= len(encodingNames) {
		return 0, InvalidTextEncodingError{Byte: b}
	}
	return TextEncoding(b), nil
}

func (e TextEncoding) String() string {
	if int(e) < len(encodingNames) {
		return encodingNames[e]
	}
	return fmt.Sprintf("TextEncoding(%d)", uint8(e))
}

func (e TextEncoding) MarshalText() ([]byte, error) {
	if int(e) >= len(encodingNames) {
		return nil, InvalidTextEncodingError{Byte: uint8(e)}
	}
	return []byte(encodingNames[e]), nil
}

func (e *TextEncoding) UnmarshalText(text []byte) error {
	for i, name := range encodingNames {
		if string(text) == name {
			*e = TextEncoding(i)
			return nil
		}
	}
	return fmt.Errorf("bmg: unknown text encoding %q", text)
}

// CodepointSize is the width in bytes of one code unit in the string pool.
func (e TextEncoding) CodepointSize() int {
	if e == UTF16 {
		return 2
	}
	return 1
}

// aligned reports whether sections start on 32 byte boundaries.
func (e TextEncoding) aligned() bool {
	return e == Undefined
}

func (e TextEncoding) codec() encoding.Encoding {
	switch e {
	case UTF16:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case ShiftJIS:
		return japanese.ShiftJIS
	case UTF8:
		return unicode.UTF8
	default:
		return windows1252{}
	}
}

func (e TextEncoding) codepoint(data []byte, off int) (uint16, error) {
	if e.CodepointSize() == 2 {
		return binutil.U16(data, off)
	}
	v, err := binutil.U8(data, off)
	return uint16(v), err
}

func (e TextEncoding) appendCodepoint(out []byte, c uint16) []byte {
	if e.CodepointSize() == 2 {
		return binutil.PutU16(out, c)
	}
	return append(out, byte(c))
}

// DecodeText reads one null-terminated message starting at data[0]. Escape
// sequences are rendered inline as EscapeChar, the decimal payload length,
// "0x" and the payload in uppercase hex.
func DecodeText(data []byte, enc TextEncoding) (string, error) {
	cs := enc.CodepointSize()
	dec := enc.codec().NewDecoder()

	var sb strings.Builder
	flush := func(run []byte) error {
		if len(run) == 0 {
			return nil
		}
		text, err := dec.Bytes(run)
		if err != nil {
			return fmt.Errorf("bmg: decode %s text: %w", enc, err)
		}
		sb.Write(text)
		return nil
	}

	start, off := 0, 0
	for {
		c, err := enc.codepoint(data, off)
		if err != nil {
			return "", fmt.Errorf("bmg: unterminated message: %w", err)
		}
		switch c {
		case 0:
			if err := flush(data[start:off]); err != nil {
				return "", err
			}
			return sb.String(), nil
		case EscapeChar:
			if err := flush(data[start:off]); err != nil {
				return "", err
			}
			tagLen, err := binutil.U8(data, off+cs)
			if err != nil {
				return "", fmt.Errorf("%w: missing tag length at 0x%X", ErrMalformedEscape, off)
			}
			if int(tagLen) < cs+1 {
				return "", fmt.Errorf("%w: tag length %d at 0x%X", ErrMalformedEscape, tagLen, off)
			}
			payload, err := binutil.Bytes(data, off+cs+1, int(tagLen)-cs-1)
			if err != nil {
				return "", fmt.Errorf("%w: payload at 0x%X: %v", ErrMalformedEscape, off, err)
			}
			sb.WriteByte(EscapeChar)
			sb.WriteString(strconv.Itoa(len(payload)))
			sb.WriteString("0x")
			sb.WriteString(binutil.Hex(payload))
			off += int(tagLen)
			start = off
		default:
			off += cs
		}
	}
}

// EncodeText is the inverse of DecodeText. The result carries its terminator.
func EncodeText(text string, enc TextEncoding) ([]byte, error) {
	cs := enc.CodepointSize()
	encoder := enc.codec().NewEncoder()

	var out []byte
	for len(text) > 0 {
		if text[0] != EscapeChar {
			n := strings.IndexByte(text, EscapeChar)
			if n < 0 {
				n = len(text)
			}
			b, err := encoder.Bytes([]byte(text[:n]))
			if err != nil {
				return nil, fmt.Errorf("bmg: encode %s text %q: %w", enc, text[:n], err)
			}
			out = append(out, b...)
			text = text[n:]
			continue
		}

		payload, rest, err := parseEscape(text[1:])
		if err != nil {
			return nil, err
		}
		tagLen := len(payload) + 1 + cs
		if tagLen > 0xFF {
			return nil, fmt.Errorf("%w: payload of %d bytes is too long", ErrMalformedEscape, len(payload))
		}
		out = enc.appendCodepoint(out, EscapeChar)
		out = append(out, byte(tagLen))
		out = append(out, payload...)
		text = rest
	}
	return enc.appendCodepoint(out, 0), nil
}

// parseEscape reads "<n>0x<hex>" and returns the payload and the text after it.
func parseEscape(s string) ([]byte, string, error) {
	sep := strings.Index(s, "0x")
	if sep <= 0 {
		return nil, "", fmt.Errorf("%w: %q", ErrMalformedEscape, truncate(s))
	}
	n, err := strconv.Atoi(s[:sep])
	if err != nil || n < 0 {
		return nil, "", fmt.Errorf("%w: bad length %q", ErrMalformedEscape, s[:sep])
	}
	hexStart := sep + 2
	if len(s)-hexStart < n*2 {
		return nil, "", fmt.Errorf("%w: want %d payload bytes in %q", ErrMalformedEscape, n, truncate(s))
	}
	payload, err := binutil.ParseHex(s[hexStart : hexStart+n*2])
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedEscape, err)
	}
	return payload, s[hexStart+n*2:], nil
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
