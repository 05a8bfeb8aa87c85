package fat

import "github.com/kosfs/kosfs/fserr"

// dirLoc names where a directory's entries live: either a fixed run of
// raw sectors (the FAT12/16 root directory, which predates clusters)
// or a cluster chain (every subdirectory, and the FAT32 root). This is
// an explicit sum type rather than a "top bit of the cluster number
// selects raw sector mode" trick, so the two cases can't be confused
// by an ordinary arithmetic mistake on the cluster number.
type dirLoc struct {
	raw          bool
	firstCluster uint32 // valid when !raw
	rawFirstSect uint32 // valid when raw
	rawSectors   uint32 // valid when raw
}

func clusterDirLoc(cluster uint32) dirLoc { return dirLoc{firstCluster: cluster} }

func (fs *FS) rootDirLoc() dirLoc {
	if fs.fsType == FAT32 {
		return clusterDirLoc(fs.rootCluster)
	}
	return dirLoc{raw: true, rawFirstSect: fs.rootDirFirstSect, rawSectors: fs.rootDirSectors}
}

// dirCursor walks the sequence of fixed-size records making up one
// directory, transparently crossing cluster-chain links (or stopping
// at the end of the root's fixed sector run), independent of any
// single fixed-size I/O window.
type dirCursor struct {
	fs  *FS
	loc dirLoc

	// raw mode
	sector      uint32
	sectorsLeft uint32

	// cluster mode
	cluster uint32
}

func (fs *FS) newDirCursor(loc dirLoc) *dirCursor {
	c := &dirCursor{fs: fs, loc: loc}
	if loc.raw {
		c.sector = loc.rawFirstSect
		c.sectorsLeft = loc.rawSectors
	} else {
		c.cluster = loc.firstCluster
	}
	return c
}

func (c *dirCursor) entriesPerRecord() int {
	if c.loc.raw {
		return int(c.fs.bytesPerSector) / direntSize
	}
	return c.fs.ClusterSize() / direntSize
}

// record returns the buffer backing the cursor's current position.
func (c *dirCursor) record() ([]byte, error) {
	if c.loc.raw {
		if c.sectorsLeft == 0 {
			return nil, errEndOfDirectory
		}
		return c.fs.sectorCache.Get(int64(c.sector))
	}
	if c.cluster < firstDataCluster {
		return nil, errEndOfDirectory
	}
	return c.fs.dataCache.Get(int64(c.cluster))
}

func (c *dirCursor) markDirty() error {
	if c.loc.raw {
		return c.fs.sectorCache.MarkDirty(int64(c.sector))
	}
	return c.fs.dataCache.MarkDirty(int64(c.cluster))
}

// advance moves to the next record, returning ok=false when the
// directory's fixed extent (raw mode) or cluster chain (cluster mode)
// is exhausted.
func (c *dirCursor) advance() (bool, error) {
	if c.loc.raw {
		c.sector++
		c.sectorsLeft--
		return c.sectorsLeft > 0, nil
	}
	next, err := c.fs.readEntry(c.cluster)
	if err != nil {
		return false, err
	}
	if c.fs.isEOC(next) || next == clusterFree {
		return false, nil
	}
	c.cluster = next
	return true, nil
}

// grow extends a cluster-backed directory by one more cluster,
// zero-filled, and moves the cursor onto it. Raw-mode (root) growth is
// impossible — the root directory's size is fixed at format time — and
// reports NoSpace: a full FAT12/16 root cannot be enlarged.
func (c *dirCursor) grow() error {
	if c.loc.raw {
		return fserr.NoSpace
	}
	next, err := c.fs.appendCluster(c.cluster)
	if err != nil {
		return err
	}
	c.cluster = next
	return nil
}
