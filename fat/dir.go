package fat

import (
	"time"

	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/ucs2"
)

// DirEntry is one resolved directory member, long name already
// assembled from its VFAT chain (or taken from the short name when no
// chain is present).
type DirEntry struct {
	Name         string
	IsDir        bool
	Size         uint32
	FirstCluster uint32
	Attr         uint8
}

// entryLoc names the directory slots occupied by one entry (its LFN
// chain, if any, plus its short entry), needed to remove or rewrite it
// later without re-searching by name.
type entryLoc struct {
	loc      dirLoc
	startAbs uint32 // first LFN slot, or the short slot if there is no chain
	shortAbs uint32 // the short entry's own slot
}

// slotWalker iterates the 32-byte slots of a directory one at a time,
// transparently crossing record (sector/cluster) boundaries via a
// dirCursor.
type slotWalker struct {
	fs        *FS
	cur       *dirCursor
	perRecord int
	localIdx  int
	absIdx    uint32
	buf       []byte
}

func (fs *FS) newSlotWalker(loc dirLoc) (*slotWalker, error) {
	cur := fs.newDirCursor(loc)
	w := &slotWalker{fs: fs, cur: cur, perRecord: cur.entriesPerRecord()}
	buf, err := cur.record()
	if err != nil {
		return nil, err
	}
	w.buf = buf
	return w, nil
}

func (w *slotWalker) slot() []byte {
	return w.buf[w.localIdx*direntSize : w.localIdx*direntSize+direntSize]
}

func (w *slotWalker) markDirty() error { return w.cur.markDirty() }

// next advances to the following slot without growing the directory;
// ok is false once the chain/extent is exhausted.
func (w *slotWalker) next() (bool, error) {
	w.localIdx++
	w.absIdx++
	if w.localIdx < w.perRecord {
		return true, nil
	}
	w.localIdx = 0
	ok, err := w.cur.advance()
	if err != nil || !ok {
		return false, err
	}
	buf, err := w.cur.record()
	if err != nil {
		return false, err
	}
	w.buf = buf
	return true, nil
}

// grow extends the directory by one record and positions the walker at
// its first (zeroed) slot.
func (w *slotWalker) grow() error {
	if err := w.cur.grow(); err != nil {
		return err
	}
	buf, err := w.cur.record()
	if err != nil {
		return err
	}
	w.buf = buf
	w.localIdx = 0
	return nil
}

// readdir returns every live member of the directory at loc, assembling
// VFAT long names and skipping free slots and volume-label entries.
func (fs *FS) readdir(loc dirLoc) ([]DirEntry, error) {
	var out []DirEntry
	var pendingUnits []uint16
	var pendingChecksum byte
	var haveLFN bool

	w, err := fs.newSlotWalker(loc)
	if err != nil {
		return nil, err
	}
	for {
		slot := w.slot()
		switch slot[0] {
		case direntFree:
			goto done
		case direntFreeMarker:
			pendingUnits, haveLFN = nil, false
		default:
			if slot[offAttr] == attrLongName {
				ord, last, checksum, units := decodeLongNameEntry(slot)
				if last {
					pendingUnits = make([]uint16, int(ord&^lfnLastFlag)*unitsPerLongEntry)
					pendingChecksum = checksum
					haveLFN = true
				}
				if haveLFN && ord >= 1 && int(ord)*unitsPerLongEntry <= len(pendingUnits) {
					copy(pendingUnits[(int(ord)-1)*unitsPerLongEntry:], units)
				}
			} else {
				d := decodeShortDirent(slot)
				if !d.isVolume() {
					name := shortNameToString(d.nameRaw)
					if haveLFN && lfnChecksum(d.nameRaw) == pendingChecksum {
						name = ucs2.FromUCS2(trimLongNameUnits(pendingUnits))
					}
					if name != "." && name != ".." {
						out = append(out, DirEntry{
							Name:         name,
							IsDir:        d.isDir(),
							Size:         d.fileSize,
							FirstCluster: d.fstClus,
							Attr:         d.attr,
						})
					}
				}
				pendingUnits, haveLFN = nil, false
			}
		}
		ok, err := w.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
done:
	return out, nil
}

func shortNameToString(raw [11]byte) string {
	base := trimTrailingSpace(raw[0:8])
	ext := trimTrailingSpace(raw[8:11])
	if base == "" {
		return ""
	}
	if len(base) > 0 && base[0] == 0x05 {
		base = string(rune(direntFreeMarker)) + base[1:]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func trimTrailingSpace(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return string(b[:i])
}

// lookup searches loc for name, case-insensitively, returning its
// decoded short entry and slot location.
func (fs *FS) lookup(loc dirLoc, name string) (shortDirent, entryLoc, error) {
	target := ucs2.ToLower(name)

	var pendingUnits []uint16
	var pendingChecksum byte
	var haveLFN bool
	var chainStart uint32

	w, err := fs.newSlotWalker(loc)
	if err != nil {
		return shortDirent{}, entryLoc{}, err
	}
	for {
		slot := w.slot()
		switch slot[0] {
		case direntFree:
			return shortDirent{}, entryLoc{}, fserr.NoEntry
		case direntFreeMarker:
			pendingUnits, haveLFN = nil, false
		default:
			if slot[offAttr] == attrLongName {
				ord, last, checksum, units := decodeLongNameEntry(slot)
				if last {
					pendingUnits = make([]uint16, int(ord&^lfnLastFlag)*unitsPerLongEntry)
					pendingChecksum = checksum
					haveLFN = true
					chainStart = w.absIdx
				}
				if haveLFN && ord >= 1 && int(ord)*unitsPerLongEntry <= len(pendingUnits) {
					copy(pendingUnits[(int(ord)-1)*unitsPerLongEntry:], units)
				}
			} else {
				d := decodeShortDirent(slot)
				if !d.isVolume() {
					candidate := shortNameToString(d.nameRaw)
					if haveLFN && lfnChecksum(d.nameRaw) == pendingChecksum {
						candidate = ucs2.FromUCS2(trimLongNameUnits(pendingUnits))
					}
					start := w.absIdx
					if haveLFN {
						start = chainStart
					}
					if ucs2.ToLower(candidate) == target {
						return d, entryLoc{loc: loc, startAbs: start, shortAbs: w.absIdx}, nil
					}
				}
				pendingUnits, haveLFN = nil, false
			}
		}
		ok, err := w.next()
		if err != nil {
			return shortDirent{}, entryLoc{}, err
		}
		if !ok {
			return shortDirent{}, entryLoc{}, fserr.NoEntry
		}
	}
}

// isDirEmpty reports whether the directory at cluster contains only
// "." and "..", the precondition rmdir requires.
func (fs *FS) isDirEmpty(cluster uint32) (bool, error) {
	entries, err := fs.readdir(clusterDirLoc(cluster))
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// addEntry inserts a new directory member named name with the given
// attributes, first cluster and size, returning the slot location of
// the entry it wrote. It synthesizes an 8.3 short name (with a numeric
// tail on collision) and a VFAT long-name chain when name does not fit
// an 8.3 pattern exactly.
func (fs *FS) addEntry(loc dirLoc, name string, attr uint8, firstCluster, size uint32, when time.Time) (entryLoc, error) {
	if fs.readOnly {
		return entryLoc{}, fserr.ReadOnlyFilesystem
	}
	if len(name) == 0 {
		return entryLoc{}, fserr.InvalidArgument
	}

	var shortRaw [11]byte
	var longUnits []uint16
	if needsLongName(name) {
		units, err := ucs2.ToUCS2(name)
		if err != nil {
			return entryLoc{}, err
		}
		if len(units) > 255 {
			return entryLoc{}, fserr.NameTooLong
		}
		longUnits = units
		shortRaw, err = synthesizeShortName(name, func(candidate [11]byte) bool {
			_, _, err := fs.lookup(loc, shortNameToString(candidate))
			return err == nil
		})
		if err != nil {
			return entryLoc{}, err
		}
	} else {
		base, ext, _ := split83(name)
		shortRaw = encodeShortName83(base, ext)
	}

	if _, _, err := fs.lookup(loc, name); err == nil {
		return entryLoc{}, fserr.Exists
	}

	nLFN := 0
	if len(longUnits) > 0 {
		nLFN = (len(longUnits) + unitsPerLongEntry - 1) / unitsPerLongEntry
	}
	need := nLFN + 1

	startAbs, w, err := fs.findFreeRun(loc, need)
	if err != nil {
		return entryLoc{}, err
	}

	if nLFN > 0 {
		checksum := lfnChecksum(shortRaw)
		records := encodeLongNameEntries(longUnits, checksum)
		for _, rec := range records {
			copy(w.slot(), rec[:])
			if err := w.markDirty(); err != nil {
				return entryLoc{}, err
			}
			if _, err := w.next(); err != nil {
				return entryLoc{}, err
			}
		}
	}

	date, tm := fatDateTime(when)
	d := shortDirent{
		nameRaw:  shortRaw,
		attr:     attr,
		fstClus:  firstCluster,
		fileSize: size,
		crtDate:  date,
		crtTime:  tm,
		wrtDate:  date,
		wrtTime:  tm,
	}
	encodeShortDirent(w.slot(), &d)
	if err := w.markDirty(); err != nil {
		return entryLoc{}, err
	}
	shortAbs := startAbs + uint32(nLFN)

	return entryLoc{loc: loc, startAbs: startAbs, shortAbs: shortAbs}, nil
}

// findFreeRun locates (growing the directory if necessary) a run of n
// contiguous free slots, returning the absolute index of the first
// slot and a walker positioned there. Both a never-used slot (0x00,
// and everything after it up to the first growth) and a slot freed by
// a prior removeEntry (0xE5) count as free.
func (fs *FS) findFreeRun(loc dirLoc, n int) (uint32, *slotWalker, error) {
	w, err := fs.newSlotWalker(loc)
	if err != nil {
		return 0, nil, err
	}
	runStart := uint32(0)
	runLen := 0

	for {
		free := w.slot()[0] == direntFree || w.slot()[0] == direntFreeMarker
		if free {
			if runLen == 0 {
				runStart = w.absIdx
			}
			runLen++
			if runLen == n {
				return fs.seekWalker(loc, runStart)
			}
		} else {
			runLen = 0
		}
		ok, err := w.next()
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			if err := w.grow(); err != nil {
				return 0, nil, err
			}
		}
	}
}

// seekWalker returns a freshly positioned walker at absolute slot idx.
func (fs *FS) seekWalker(loc dirLoc, idx uint32) (uint32, *slotWalker, error) {
	w, err := fs.newSlotWalker(loc)
	if err != nil {
		return 0, nil, err
	}
	for w.absIdx < idx {
		ok, err := w.next()
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, fserr.Wrap(fserr.CorruptFilesystem, "fat: free run vanished")
		}
	}
	return idx, w, nil
}

// removeEntry frees every slot an entry occupies (its LFN chain plus
// its short entry) by marking them 0xE5.
func (fs *FS) removeEntry(e entryLoc) error {
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	w, err := fs.newSlotWalker(e.loc)
	if err != nil {
		return err
	}
	for w.absIdx < e.startAbs {
		ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			return fserr.Wrap(fserr.CorruptFilesystem, "fat: entry vanished")
		}
	}
	for {
		w.slot()[0] = direntFreeMarker
		if err := w.markDirty(); err != nil {
			return err
		}
		if w.absIdx == e.shortAbs {
			break
		}
		ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// writeShortDirent rewrites the short entry at e.shortAbs in place,
// used by file writes that update size/first-cluster and by rename's
// metadata-preserving move.
func (fs *FS) writeShortDirent(e entryLoc, d *shortDirent) error {
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	w, err := fs.newSlotWalker(e.loc)
	if err != nil {
		return err
	}
	for w.absIdx < e.shortAbs {
		ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			return fserr.Wrap(fserr.CorruptFilesystem, "fat: entry vanished")
		}
	}
	encodeShortDirent(w.slot(), d)
	return w.markDirty()
}

// initSubdirCluster writes "." and ".." entries into a freshly
// allocated, zeroed directory cluster.
func (fs *FS) initSubdirCluster(cluster, parentCluster uint32, when time.Time) error {
	buf, err := fs.dataCache.Get(int64(cluster))
	if err != nil {
		return err
	}
	date, tm := fatDateTime(when)
	dot := shortDirent{nameRaw: encodeShortName83(".", ""), attr: attrDirectory, fstClus: cluster, crtDate: date, crtTime: tm, wrtDate: date, wrtTime: tm}
	dotdot := shortDirent{nameRaw: encodeShortName83("..", ""), attr: attrDirectory, fstClus: parentCluster, crtDate: date, crtTime: tm, wrtDate: date, wrtTime: tm}
	encodeShortDirent(buf[0:direntSize], &dot)
	encodeShortDirent(buf[direntSize:2*direntSize], &dotdot)
	return fs.dataCache.MarkDirty(int64(cluster))
}
