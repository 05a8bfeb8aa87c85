package fat

import (
	"time"

	"github.com/kosfs/kosfs/fserr"
)

// Short (8.3) directory entry layout, 32 bytes.
const (
	direntSize = 32

	offName      = 0x00 // 11 bytes, space-padded 8.3
	offAttr      = 0x0B
	offNTRes     = 0x0C
	offCrtTenth  = 0x0D
	offCrtTime   = 0x0E
	offCrtDate   = 0x10
	offLstAccDt  = 0x12
	offFstClusHi = 0x14
	offWrtTime   = 0x16
	offWrtDate   = 0x18
	offFstClusLo = 0x1A
	offFileSize  = 0x1C
)

// Attribute bits.
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLongName  = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

// Name[0] sentinel values.
const (
	direntFree       = 0x00 // this entry and all following are free
	direntFreeMarker = 0xE5 // this entry is free; later entries may be live
)

// shortDirent is a decoded view over one 32-byte directory record.
type shortDirent struct {
	nameRaw  [11]byte
	attr     uint8
	ntRes    uint8
	fstClus  uint32
	fileSize uint32
	crtDate  uint16
	crtTime  uint16
	wrtDate  uint16
	wrtTime  uint16
}

func (d *shortDirent) isDir() bool    { return d.attr&attrDirectory != 0 }
func (d *shortDirent) isVolume() bool { return d.attr&attrVolumeID != 0 }
func (d *shortDirent) isLFN() bool    { return d.attr&attrLongName == attrLongName }

func decodeShortDirent(buf []byte) shortDirent {
	var d shortDirent
	copy(d.nameRaw[:], buf[offName:offName+11])
	d.attr = buf[offAttr]
	d.ntRes = buf[offNTRes]
	hi := uint32(order.Uint16(buf[offFstClusHi:]))
	lo := uint32(order.Uint16(buf[offFstClusLo:]))
	d.fstClus = hi<<16 | lo
	d.fileSize = order.Uint32(buf[offFileSize:])
	d.crtDate = order.Uint16(buf[offCrtDate:])
	d.crtTime = order.Uint16(buf[offCrtTime:])
	d.wrtDate = order.Uint16(buf[offWrtDate:])
	d.wrtTime = order.Uint16(buf[offWrtTime:])
	return d
}

func encodeShortDirent(buf []byte, d *shortDirent) {
	copy(buf[offName:offName+11], d.nameRaw[:])
	buf[offAttr] = d.attr
	buf[offNTRes] = d.ntRes
	order.PutUint16(buf[offFstClusHi:], uint16(d.fstClus>>16))
	order.PutUint16(buf[offFstClusLo:], uint16(d.fstClus))
	order.PutUint32(buf[offFileSize:], d.fileSize)
	order.PutUint16(buf[offCrtDate:], d.crtDate)
	order.PutUint16(buf[offCrtTime:], d.crtTime)
	order.PutUint16(buf[offWrtDate:], d.wrtDate)
	order.PutUint16(buf[offWrtTime:], d.wrtTime)
	order.PutUint16(buf[offLstAccDt:], d.crtDate)
	buf[offCrtTenth] = 0
}

// fatDateTime packs a time.Time into the FAT date/time bitfields:
// date = (year-1980)<<9 | month<<5 | day, time =
// hour<<11 | minute<<5 | (second/2).
func fatDateTime(t time.Time) (date, tm uint16) {
	y := t.Year() - 1980
	if y < 0 {
		y = 0
	}
	date = uint16(y<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	tm = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
	return
}

var errEndOfDirectory = fserr.Wrap(fserr.NoEntry, "fat: end of directory")
