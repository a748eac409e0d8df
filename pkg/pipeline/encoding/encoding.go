package encoding

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Name identifies a supported text encoding.
type Name string

const (
	UTF8   Name = "utf-8"
	CP1252 Name = "cp1252"
	CP437  Name = "cp437"
)

// Fallback is the superset single-byte encoding applied when no candidate
// matches: every byte value decodes under cp437, so decoding cannot fail.
const Fallback = CP437

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cp1252 leaves five byte values undefined.
var cp1252Undefined = [256]bool{0x81: true, 0x8D: true, 0x8F: true, 0x90: true, 0x9D: true}

// Normalize maps a declared encoding string onto a supported Name.
func Normalize(s string) (Name, bool) {
	switch s {
	case "utf-8", "utf8", "UTF-8", "UTF8":
		return UTF8, true
	case "cp1252", "CP1252", "windows-1252", "latin1":
		return CP1252, true
	case "cp437", "CP437":
		return CP437, true
	}
	return "", false
}

// Sniff inspects a byte sample and returns a best-guess encoding with a
// confidence in [0,1]. It never fails: input matching no candidate yields
// the fallback encoding at zero confidence. Pure function of the sample.
func Sniff(sample []byte) (Name, float64) {
	if len(sample) == 0 {
		return UTF8, 0
	}
	if bytes.HasPrefix(sample, utf8BOM) {
		return UTF8, 1
	}
	if utf8.Valid(sample) {
		for _, b := range sample {
			if b >= 0x80 {
				// Multi-byte sequences rarely validate by accident.
				return UTF8, 1
			}
		}
		// Pure ASCII decodes identically under every candidate.
		return UTF8, 0.8
	}
	ok := true
	for _, b := range sample {
		if cp1252Undefined[b] {
			ok = false
			break
		}
	}
	if ok {
		return CP1252, 0.6
	}
	return Fallback, 0
}

// Decode converts raw bytes in enc to UTF-8 text. UTF-8 and cp1252 inputs
// that violate the encoding return an error so callers can fall back to
// sniffing; cp437 accepts any byte.
func Decode(raw []byte, enc Name) ([]byte, error) {
	switch enc {
	case UTF8:
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("decode utf-8: invalid byte sequence")
		}
		return raw, nil
	case CP1252:
		for i, b := range raw {
			if cp1252Undefined[b] {
				return nil, fmt.Errorf("decode cp1252: undefined byte 0x%02X at offset %d", b, i)
			}
		}
		return charmap.Windows1252.NewDecoder().Bytes(raw)
	case CP437:
		return charmap.CodePage437.NewDecoder().Bytes(raw)
	}
	return nil, fmt.Errorf("decode: unsupported encoding %q", enc)
}
