package codexfs

import (
	"io/fs"
	"log"
)

// Name lookup over the sorted on-disk dirent layout. Directory blocks
// are globally sorted by name, so lookup first binary-searches the
// blocks by their first (smallest) name, then binary-searches the
// dirents of the candidate block. Both levels resume comparisons past
// the common prefix already established on the bracket's low and high
// sides, so long runs of similar names don't get rescanned from the
// start on every probe.

// dirnamecmp compares the lookup name qn against the on-disk name dn,
// which may be zero-padded and need not be NUL-terminated. matched is
// the number of leading bytes already known equal; it is updated for
// the caller. Returns 0 on equality, 1 when qn sorts after dn, -1
// otherwise.
func dirnamecmp(qn, dn []byte, matched *int) int {
	i := *matched
	for i < len(dn) && dn[i] != 0 {
		if i >= len(qn) {
			// qn ended first, so it sorts before dn
			*matched = i
			return -1
		}
		if qn[i] != dn[i] {
			*matched = i
			if qn[i] > dn[i] {
				return 1
			}
			return -1
		}
		i++
	}
	*matched = i
	if i == len(qn) {
		return 0
	}
	return 1
}

// dirBlock is one decoded directory block under lookup.
type dirBlock struct {
	data     []byte
	ndirents int
	maxsize  int64
}

// loadDirBlock reads logical block blkIdx of the directory.
func (ino *Inode) loadDirBlock(blkIdx int) (*dirBlock, error) {
	sb := ino.sb
	bsz := int64(sb.BlockSize())
	dbstart := int64(blkIdx) * bsz

	maxsize := int64(ino.Size) - dbstart
	if maxsize > bsz {
		maxsize = bsz
	}
	if maxsize < DirentSize {
		return nil, ErrCorrupted
	}

	data, err := sb.readData(sb.nidToInodeMetaAddr(ino.Nid)+dbstart, maxsize)
	if err != nil {
		return nil, err
	}

	nameoff0 := int64(direntAt(data, 0).nameoff)
	if nameoff0 < DirentSize || nameoff0 >= maxsize {
		log.Printf("codexfs: corrupted dir block %d @ nid %d", blkIdx, ino.Nid)
		return nil, ErrCorrupted
	}

	return &dirBlock{
		data:     data,
		ndirents: int(nameoff0 / DirentSize),
		maxsize:  maxsize,
	}, nil
}

// name returns the name bytes of dirent idx within the block, bounded
// by the next dirent's nameoff (or the block tail for the last one).
// The returned slice may include zero padding; dirnamecmp stops at it.
func (db *dirBlock) name(idx int) ([]byte, error) {
	de := direntAt(db.data, idx)
	nameoff := int64(de.nameoff)
	if nameoff < DirentSize || nameoff >= db.maxsize {
		return nil, fs.ErrInvalid
	}
	end := db.maxsize
	if idx+1 < db.ndirents {
		end = int64(direntAt(db.data, idx+1).nameoff)
		if end <= nameoff || end > db.maxsize {
			return nil, fs.ErrInvalid
		}
	}
	return db.data[nameoff:end], nil
}

// findTargetBlock binary-searches the directory's blocks for the one
// that may contain name, comparing against each probed block's first
// name. A zero diff means the first dirent itself is the match.
func (ino *Inode) findTargetBlock(name []byte) (*dirBlock, bool, error) {
	bsz := int64(ino.sb.BlockSize())
	nblocks := int((int64(ino.Size) + bsz - 1) / bsz)

	head, back := 0, nblocks-1
	startprfx, endprfx := 0, 0
	var candidate *dirBlock

	for head <= back {
		mid := head + (back-head)/2
		db, err := ino.loadDirBlock(mid)
		if err != nil {
			return nil, false, err
		}

		dname, err := db.name(0)
		if err != nil {
			log.Printf("codexfs: corrupted dir block %d @ nid %d", mid, ino.Nid)
			return nil, false, ErrCorrupted
		}

		matched := min(startprfx, endprfx)
		diff := dirnamecmp(name, dname, &matched)
		if diff == 0 {
			return db, true, nil
		}
		if diff < 0 {
			back = mid - 1
			endprfx = matched
			continue
		}
		head = mid + 1
		startprfx = matched
		candidate = db
	}

	if candidate == nil {
		return nil, false, fs.ErrNotExist
	}
	return candidate, false, nil
}

// findTargetDirent binary-searches the dirents of a block. The first
// dirent was already ruled out by the block-level search.
func (db *dirBlock) findTargetDirent(name []byte) (int, error) {
	head, back := 1, db.ndirents-1
	startprfx, endprfx := 0, 0

	for head <= back {
		mid := head + (back-head)/2
		dname, err := db.name(mid)
		if err != nil {
			return 0, ErrCorrupted
		}

		matched := min(startprfx, endprfx)
		diff := dirnamecmp(name, dname, &matched)
		if diff == 0 {
			return mid, nil
		}
		if diff > 0 {
			head = mid + 1
			startprfx = matched
		} else {
			back = mid - 1
			endprfx = matched
		}
	}
	return 0, fs.ErrNotExist
}

// LookupEntry searches the directory for name and returns the matching
// entry's nid and file type, or fs.ErrNotExist.
func (ino *Inode) LookupEntry(name string) (uint64, FileType, error) {
	if !ino.IsDir() {
		return 0, 0, ErrNotDirectory
	}
	if len(name) > NameLen {
		return 0, 0, ErrNameTooLong
	}
	if ino.Size == 0 || len(name) == 0 {
		return 0, 0, fs.ErrNotExist
	}

	qn := []byte(name)
	db, exact, err := ino.findTargetBlock(qn)
	if err != nil {
		return 0, 0, err
	}

	idx := 0
	if !exact {
		idx, err = db.findTargetDirent(qn)
		if err != nil {
			return 0, 0, err
		}
	}

	de := direntAt(db.data, idx)
	return de.nid, de.ftype, nil
}

// LookupRelativeInode searches the directory for name and returns the
// matching inode.
func (ino *Inode) LookupRelativeInode(name string) (*Inode, error) {
	nid, _, err := ino.LookupEntry(name)
	if err != nil {
		return nil, err
	}
	return ino.sb.GetInode(nid)
}
