package codexfs

import (
	"fmt"
	"log"
)

// Compressed regular-file read path. The file's extent table lives in
// the inode meta region; compressed block i of the file occupies the
// device block blk_id+i. Each extent maps a range of file offsets to
// an offset inside the decompressed window of its block.

// findExtent returns the index of the covering extent for file offset
// off: the largest i with extents[i].off <= off.
func findExtent(extents []extent, off uint32) (int, error) {
	for i := len(extents) - 1; i >= 0; i-- {
		if extents[i].off <= off {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no extent covers offset %d", ErrCorrupted, off)
}

// loadExtents reads and validates the full extent table of a
// compressed regular file.
func (ino *Inode) loadExtents() ([]extent, error) {
	n := int(ino.Blks)
	tbl, err := ino.sb.readData(ino.sb.nidToInodeMetaAddr(ino.Nid), int64(n*ExtentSize))
	if err != nil {
		return nil, err
	}
	extents := make([]extent, n)
	for i := range extents {
		extents[i] = extentAt(tbl, i)
		if i > 0 && extents[i].off <= extents[i-1].off {
			log.Printf("codexfs: extent table not ascending @ nid %d", ino.Nid)
			return nil, ErrCorrupted
		}
	}
	return extents, nil
}

// readAtCompressed serves a range of a compressed regular file. The
// caller has already clamped p to the file size.
func (ino *Inode) readAtCompressed(p []byte, off int64) (int, error) {
	sb := ino.sb
	bsz := int(sb.BlockSize())

	extents, err := ino.loadExtents()
	if err != nil {
		return 0, err
	}

	idx, err := findExtent(extents, uint32(off))
	if err != nil {
		return 0, err
	}

	buf := sb.metaBuf()
	defer buf.release()

	pos := uint32(off)
	n := 0
	for n < len(p) {
		if idx >= len(extents) {
			return n, fmt.Errorf("%w: read past extent table @ nid %d", ErrCorrupted, ino.Nid)
		}
		e := extents[idx]

		blk, err := buf.bread(sb.blkIDToAddr(ino.BlkID + uint32(idx)))
		if err != nil {
			return n, err
		}
		if len(blk) > bsz {
			blk = blk[:bsz]
		}

		window, err := decompressBlock(blk, Window)
		if err != nil {
			return n, err
		}

		// bytes this extent can still contribute from pos on
		bound := ino.Size
		if idx < len(extents)-1 {
			bound = extents[idx+1].off
		}
		start := pos - e.off
		if bound <= e.off+start {
			return n, fmt.Errorf("%w: empty extent %d @ nid %d", ErrCorrupted, idx, ino.Nid)
		}
		cnt := int(bound - e.off - start)
		if cnt > len(p)-n {
			cnt = len(p) - n
		}

		from := int(e.fragOff + start)
		if from+cnt > len(window) {
			return n, fmt.Errorf("%w: extent %d outside decompressed window @ nid %d", ErrCorrupted, idx, ino.Nid)
		}
		copy(p[n:], window[from:from+cnt])

		n += cnt
		pos += uint32(cnt)
		idx++
	}
	return n, nil
}
