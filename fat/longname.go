package fat

import (
	"strings"

	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/ucs2"
)

// unitsPerLongEntry is the number of UCS-2 code units packed into one
// VFAT long-name directory record (5 + 6 + 2).
const unitsPerLongEntry = 13

const (
	offLfnOrd     = 0x00
	offLfnName1   = 0x01 // 5 units
	offLfnAttr    = 0x0B
	offLfnType    = 0x0C
	offLfnChksum  = 0x0D
	offLfnName2   = 0x0E // 6 units
	offLfnFstClus = 0x1A
	offLfnName3   = 0x1C // 2 units
)

const lfnLastFlag = 0x40

// lfnChecksum computes the short-name checksum VFAT long-name entries
// are linked to, per the standard algorithm every FAT implementation
// uses.
func lfnChecksum(shortName [11]byte) byte {
	var sum byte
	for _, c := range shortName {
		sum = (sum>>1 | sum<<7) + c
	}
	return sum
}

// encodeLongNameEntries packs units into the on-disk sequence of VFAT
// records, returned in storage order: the highest ordinal (marked with
// lfnLastFlag) first, counting down to ordinal 1, matching how a
// directory scan must write them so dir.go's insertion loop can
// lay them out immediately before the short entry they describe.
func encodeLongNameEntries(units []uint16, checksum byte) [][direntSize]byte {
	n := (len(units) + unitsPerLongEntry - 1) / unitsPerLongEntry
	if n == 0 {
		n = 1
	}
	padded := make([]uint16, n*unitsPerLongEntry)
	for i := range padded {
		if i < len(units) {
			padded[i] = units[i]
		} else if i == len(units) {
			padded[i] = 0x0000
		} else {
			padded[i] = 0xFFFF
		}
	}

	out := make([][direntSize]byte, n)
	for i := 0; i < n; i++ {
		ord := uint8(n - i)
		var buf [direntSize]byte
		flag := uint8(0)
		if i == 0 {
			flag = lfnLastFlag
		}
		buf[offLfnOrd] = ord | flag
		buf[offLfnAttr] = attrLongName
		buf[offLfnType] = 0
		buf[offLfnChksum] = checksum
		chunk := padded[(n-1-i)*unitsPerLongEntry : (n-i)*unitsPerLongEntry]
		putUnits(buf[offLfnName1:offLfnName1+10], chunk[0:5])
		putUnits(buf[offLfnName2:offLfnName2+12], chunk[5:11])
		putUnits(buf[offLfnName3:offLfnName3+4], chunk[11:13])
		order.PutUint16(buf[offLfnFstClus:], 0)
		out[i] = buf
	}
	return out
}

func putUnits(dst []byte, units []uint16) {
	for i, u := range units {
		ucs2.EncodeUnitLE(dst[i*2:], u)
	}
}

func getUnits(src []byte, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = ucs2.DecodeUnitLE(src[i*2:])
	}
	return out
}

// decodeLongNameEntry extracts one record's ordinal, last-entry flag,
// checksum, and 13 code units (trailing 0x0000/0xFFFF padding
// included; the caller trims it once the final entry's terminator is
// found).
func decodeLongNameEntry(buf []byte) (ord uint8, last bool, checksum byte, units []uint16) {
	raw := buf[offLfnOrd]
	ord = raw &^ lfnLastFlag
	last = raw&lfnLastFlag != 0
	checksum = buf[offLfnChksum]
	units = make([]uint16, 0, unitsPerLongEntry)
	units = append(units, getUnits(buf[offLfnName1:offLfnName1+10], 5)...)
	units = append(units, getUnits(buf[offLfnName2:offLfnName2+12], 6)...)
	units = append(units, getUnits(buf[offLfnName3:offLfnName3+4], 2)...)
	return
}

// trimLongNameUnits trims at the first 0x0000 terminator, or at the
// full slice length if the chain exactly filled its last record.
func trimLongNameUnits(units []uint16) []uint16 {
	for i, u := range units {
		if u == 0x0000 {
			return units[:i]
		}
	}
	return units
}

var shortNameInvalid = " \"*+,./:;<=>?[\\]|\x00\x01\x02\x03\x04\x05\x06\x07\x08\x09\x0a\x0b\x0c\x0d\x0e\x0f"

func shortNameCharOK(b byte) bool {
	if b < 0x20 && b != 0x05 {
		return false
	}
	return !strings.ContainsRune(shortNameInvalid, rune(b))
}

// needsLongName reports whether name cannot be represented exactly by
// an 8.3 short entry (wrong case pattern aside, which this engine
// always treats as needing a long name since NT's case-bit trick is
// out of scope).
func needsLongName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	_, _, ok := split83(name)
	return !ok
}

func split83(name string) (base, ext string, ok bool) {
	parts := strings.SplitN(name, ".", 2)
	base = parts[0]
	if len(parts) == 2 {
		ext = parts[1]
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 || strings.Contains(ext, ".") {
		return base, ext, false
	}
	for i := 0; i < len(base); i++ {
		if !shortNameCharOK(base[i]) || (base[i] >= 'a' && base[i] <= 'z') {
			return base, ext, false
		}
	}
	for i := 0; i < len(ext); i++ {
		if !shortNameCharOK(ext[i]) || (ext[i] >= 'a' && ext[i] <= 'z') {
			return base, ext, false
		}
	}
	return base, ext, true
}

func join83(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func rebuild83(base, ext string) string { return join83(base, ext) }

// encodeShortName83 packs base/ext (already validated upper-case 8.3
// components) into the raw 11-byte space-padded name field.
func encodeShortName83(base, ext string) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[0:8], base)
	copy(raw[8:11], ext)
	if raw[0] == direntFreeMarker {
		raw[0] = 0x05
	}
	return raw
}

// synthesizeShortName builds an 8.3 alias for a long name that cannot
// be represented directly, using the "first 6 chars + ~N" numeric-tail
// scheme. collision is called with candidate raw name bytes and must
// report whether that exact 11-byte short name is already in use in
// the target directory. If every numeric tail up to ~999999 collides,
// it reports fserr.NoSpace rather than fabricating a name that was
// never checked against the directory.
func synthesizeShortName(longName string, collision func([11]byte) bool) ([11]byte, error) {
	upper := strings.ToUpper(ucs2.ToLower(longName))
	base, ext := splitLongBaseExt(upper)
	base = sanitize83Component(base, 8)
	ext = sanitize83Component(ext, 3)
	if base == "" {
		base = "_"
	}

	stem := base
	if len(stem) > 8 {
		stem = stem[:8]
	}
	for n := 1; n < 1_000_000; n++ {
		tail := numericTail(n)
		keep := 8 - len(tail)
		if keep > len(stem) {
			keep = len(stem)
		}
		if keep < 0 {
			keep = 0
		}
		candidateBase := stem
		if len(candidateBase) > keep {
			candidateBase = candidateBase[:keep]
		}
		candidateBase += tail
		candidate := encodeShortName83(candidateBase, ext)
		if !collision(candidate) {
			return candidate, nil
		}
	}
	return [11]byte{}, fserr.NoSpace
}

func numericTail(n int) string {
	digits := itoa(n)
	return "~" + digits
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func splitLongBaseExt(s string) (base, ext string) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func sanitize83Component(s string, max int) string {
	var b strings.Builder
	for i := 0; i < len(s) && b.Len() < max; i++ {
		c := s[i]
		if c == ' ' || c == '.' {
			continue
		}
		if shortNameCharOK(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
