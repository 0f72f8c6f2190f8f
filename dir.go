package codexfs

import (
	"bytes"
	"io"
	"io/fs"
	"log"
)

// Directory data is a contiguous byte range starting at the inode meta
// address. Each filesystem block of that range holds a run of sorted
// 12-byte dirents followed by the name area; de[0].nameoff doubles as
// the dirent count times 12.

// IterDirents walks the directory's entries starting at byte position
// pos (12 per entry, block-aligned gaps at block ends) and calls emit
// for each. Iteration stops early when emit returns false. It returns
// the position at which iteration stopped.
func (ino *Inode) IterDirents(pos int64, emit func(name string, nid uint64, ftype FileType) bool) (int64, error) {
	if !ino.IsDir() {
		return pos, ErrNotDirectory
	}

	sb := ino.sb
	bsz := int64(sb.BlockSize())
	size := int64(ino.Size)
	metaAddr := sb.nidToInodeMetaAddr(ino.Nid)

	ofs := pos & (bsz - 1)
	initial := true

	for pos < size {
		dbstart := pos - ofs
		maxsize := size - dbstart
		if maxsize > bsz {
			maxsize = bsz
		}

		blk, err := sb.readData(metaAddr+dbstart, maxsize)
		if err != nil {
			return pos, err
		}

		nameoff0 := int64(direntAt(blk, 0).nameoff)
		if nameoff0 < DirentSize || nameoff0 >= maxsize {
			log.Printf("codexfs: invalid de[0].nameoff %d @ nid %d", nameoff0, ino.Nid)
			return pos, ErrCorrupted
		}

		// resuming at an arbitrary position lands mid-dirent; round up
		if initial {
			initial = false
			ofs = (ofs + DirentSize - 1) / DirentSize * DirentSize
			pos = dbstart + ofs
		}

		ndirents := int(nameoff0 / DirentSize)
		for idx := int(ofs / DirentSize); idx < ndirents; idx++ {
			de := direntAt(blk, idx)
			name, err := direntName(blk, idx, ndirents, maxsize)
			if err != nil {
				log.Printf("codexfs: bogus dirent @ nid %d: %s", ino.Nid, err)
				return pos, ErrCorrupted
			}
			if !emit(name, de.nid, de.ftype) {
				return pos, nil
			}
			pos += DirentSize
		}

		pos = dbstart + maxsize
		ofs = 0
	}
	return pos, nil
}

// direntName extracts the name of dirent idx from a directory block of
// maxsize valid bytes holding ndirents entries. The name of the last
// entry runs to the first NUL or the end of the block.
func direntName(blk []byte, idx, ndirents int, maxsize int64) (string, error) {
	de := direntAt(blk, idx)
	nameoff := int64(de.nameoff)

	var namelen int64
	if idx+1 < ndirents {
		namelen = int64(direntAt(blk, idx+1).nameoff) - nameoff
	} else {
		if nameoff >= maxsize {
			return "", fs.ErrInvalid
		}
		tail := blk[nameoff:maxsize]
		if z := bytes.IndexByte(tail, 0); z >= 0 {
			namelen = int64(z)
		} else {
			namelen = int64(len(tail))
		}
	}

	if namelen <= 0 || namelen > NameLen || nameoff+namelen > maxsize {
		return "", fs.ErrInvalid
	}
	return string(blk[nameoff : nameoff+namelen]), nil
}

// dirReader provides sequential fs.DirEntry access to a directory
// inode, remembering its position between ReadDir calls.
type dirReader struct {
	ino *Inode
	pos int64
}

// direntry implements fs.DirEntry for a single directory entry.
type direntry struct {
	name string
	typ  FileType
	nid  uint64
	sb   *Superblock
}

func (ino *Inode) dirReader() *dirReader {
	return &dirReader{ino: ino}
}

// ReadDir returns up to n entries, or all remaining entries when
// n <= 0, in on-disk (byte-ascending name) order.
func (dr *dirReader) ReadDir(n int) ([]fs.DirEntry, error) {
	var res []fs.DirEntry

	pos, err := dr.ino.IterDirents(dr.pos, func(name string, nid uint64, ftype FileType) bool {
		if name == "." || name == ".." {
			// present on disk, never surfaced through io/fs
			return true
		}
		if n > 0 && len(res) >= n {
			// not consumed, re-emitted on the next call
			return false
		}
		res = append(res, &direntry{name: name, typ: ftype, nid: nid, sb: dr.ino.sb})
		return true
	})
	if err != nil {
		return nil, err
	}
	dr.pos = pos

	if n > 0 && len(res) == 0 {
		return nil, io.EOF
	}
	return res, nil
}

func (de *direntry) Name() string {
	return de.name
}

func (de *direntry) IsDir() bool {
	return de.typ == FTDir
}

func (de *direntry) Type() fs.FileMode {
	return de.typ.Mode()
}

func (de *direntry) Info() (fs.FileInfo, error) {
	found, err := de.sb.GetInode(de.nid)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: de.name, ino: found}, nil
}
