// Package ucs2 converts between UTF-8 and UCS-2 for FAT long filenames,
// and provides the shared path-splitting helper both engines use for
// path resolution.
//
// The codec supports only 1-, 2-, and 3-byte UTF-8 sequences, since
// those are exactly the code points that fit in a single UCS-2 code
// unit; a 4-byte sequence would need a surrogate pair to represent on
// the UCS-2 side, which the on-disk long-name format doesn't support,
// so it fails with IllegalByteSequence instead.
package ucs2

import (
	"encoding/binary"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kosfs/kosfs/fserr"
)

var order = binary.LittleEndian

// ToUCS2 converts a NUL-terminated-free UTF-8 string into UCS-2 code
// units (2 bytes each, little-endian, as stored on disk in VFAT
// long-name records). It rejects any code point requiring a surrogate
// pair (>= 0x10000) with fserr.IllegalByteSequence.
func ToUCS2(s string) ([]uint16, error) {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r == utf8.RuneError {
			return nil, fserr.IllegalByteSequence
		}
		if r >= 0x10000 {
			return nil, fserr.IllegalByteSequence
		}
		out = append(out, uint16(r))
	}
	return out, nil
}

// FromUCS2 converts UCS-2 code units back to a UTF-8 string. Values in
// the surrogate range (0xD800-0xDFFF) are not supported and are
// replaced with U+FFFD.
func FromUCS2(units []uint16) string {
	buf := make([]byte, 0, len(units)*3)
	var tmp [utf8.UTFMax]byte
	for _, u := range units {
		r := rune(u)
		if r >= 0xD800 && r <= 0xDFFF {
			r = utf8.RuneError
		}
		n := utf8.EncodeRune(tmp[:], r)
		buf = append(buf, tmp[:n]...)
	}
	return string(buf)
}

// EncodeUnitLE appends the little-endian bytes of one UCS-2 code unit
// to dst.
func EncodeUnitLE(dst []byte, u uint16) {
	order.PutUint16(dst, u)
}

// DecodeUnitLE reads one little-endian UCS-2 code unit from src.
func DecodeUnitLE(src []byte) uint16 {
	return order.Uint16(src)
}

var caser = cases.Lower(language.Und)

// ToLower lowercases a UTF-8 string for case-insensitive long-name
// comparison. Uses golang.org/x/text/cases with the undetermined
// language rather than a hand-rolled towlower table, so it folds all of
// Unicode, not only the ASCII and Latin-1 range ToLowerUnits covers.
func ToLower(s string) string {
	return caser.String(s)
}

// ToLowerUnits lowercases a slice of UCS-2 code units in place and
// returns it, folding only code points below 0x100 (ASCII + Latin-1
// supplement); ASCII lowering is required for correct comparisons,
// and folding the Latin-1 supplement too costs nothing extra here.
func ToLowerUnits(units []uint16) []uint16 {
	for i, u := range units {
		if u < 0x100 {
			units[i] = uint16(toLowerASCIIRange(rune(u)))
		}
	}
	return units
}

func toLowerASCIIRange(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	if r >= 0xC0 && r <= 0xDE && r != 0xD7 {
		return r + 0x20
	}
	return r
}
