package codexfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"log"
)

// Inode is the in-memory descriptor of an on-disk inode record. It is
// populated once by GetInode and immutable afterwards.
type Inode struct {
	sb *Superblock

	Nid   uint64
	Mode  uint16 // on-disk mode bits, type and permissions
	Nlink uint16
	Size  uint32
	Ino   uint32
	Uid   uint16
	Gid   uint16

	// BlkID is the starting block of the file's data: first data byte
	// for plain regular files, first compressed block otherwise.
	BlkID uint32

	// Blks is the extent table length for compressed regular files.
	Blks uint16

	// BlkOff is the data offset within BlkID for plain regular files.
	BlkOff uint32

	// SymTarget caches the symlink target when it fits in the page
	// holding the inode's meta region (fast symlink).
	SymTarget []byte
}

// GetInode returns the inode descriptor for nid, fetching and decoding
// the on-disk record on first use.
func (sb *Superblock) GetInode(nid uint64) (*Inode, error) {
	sb.inoIdxL.RLock()
	ino, ok := sb.inoIdx[nid]
	sb.inoIdxL.RUnlock()
	if ok {
		return ino, nil
	}

	ino, err := sb.readInode(nid)
	if err != nil {
		return nil, err
	}

	sb.inoIdxL.Lock()
	if prev, ok := sb.inoIdx[nid]; ok {
		ino = prev
	} else {
		sb.inoIdx[nid] = ino
	}
	sb.inoIdxL.Unlock()
	return ino, nil
}

func (sb *Superblock) readInode(nid uint64) (*Inode, error) {
	buf := sb.metaBuf()
	defer buf.release()

	b, err := buf.bread(sb.nidToInodeAddr(nid))
	if err != nil {
		return nil, err
	}
	if len(b) < InodeSize {
		return nil, io.ErrUnexpectedEOF
	}

	var raw rawInode
	if err := binary.Read(bytes.NewReader(b[:InodeSize]), binary.LittleEndian, &raw); err != nil {
		return nil, err
	}

	ino := &Inode{
		sb:    sb,
		Nid:   nid,
		Mode:  raw.Mode,
		Nlink: raw.Nlink,
		Size:  raw.Size,
		Ino:   raw.Ino,
		Uid:   raw.Uid,
		Gid:   raw.Gid,
		BlkID: raw.BlkID,
	}

	switch raw.Mode & S_IFMT {
	case S_IFREG:
		if sb.Flags.Has(FlagCompressed) {
			ino.Blks = uint16(raw.Union)
			if ino.Size > 0 && ino.Blks == 0 {
				log.Printf("codexfs: compressed inode @ nid %d has no extents", nid)
				return nil, ErrCorrupted
			}
		} else {
			ino.BlkOff = raw.Union
		}
	case S_IFDIR:
	case S_IFLNK:
		if err := ino.cacheSymlink(&buf); err != nil {
			return nil, err
		}
	case S_IFCHR, S_IFBLK, S_IFIFO, S_IFSOCK:
		// the format carries no device numbers; rdev is zero
	default:
		log.Printf("codexfs: unknown mode %o @ nid %d", raw.Mode, nid)
		return nil, ErrCorrupted
	}

	return ino, nil
}

// cacheSymlink caches the symlink target on the descriptor when the
// whole target lies within the page holding the inode's meta region.
func (ino *Inode) cacheSymlink(buf *metaBuf) error {
	size := int64(ino.Size)
	if size == 0 || size > pageSize {
		return nil
	}
	addr := ino.sb.nidToInodeMetaAddr(ino.Nid)
	if (addr >> pageShift) != ((addr + size - 1) >> pageShift) {
		// crosses a page, resolve on demand instead
		return nil
	}
	b, err := buf.bread(addr)
	if err != nil {
		return err
	}
	if int64(len(b)) < size {
		return io.ErrUnexpectedEOF
	}
	ino.SymTarget = append([]byte(nil), b[:size]...)
	return nil
}

// FileType returns the dirent file type byte matching this inode's mode.
func (ino *Inode) FileType() FileType {
	return unixToFileType(ino.Mode)
}

// FileMode returns this inode's mode as a fs.FileMode.
func (ino *Inode) FileMode() fs.FileMode {
	return UnixToMode(ino.Mode)
}

// IsDir returns true when this inode is a directory.
func (ino *Inode) IsDir() bool {
	return ino.Mode&S_IFMT == S_IFDIR
}

// IsSymlink returns true when this inode is a symbolic link.
func (ino *Inode) IsSymlink() bool {
	return ino.Mode&S_IFMT == S_IFLNK
}

// IsRegular returns true when this inode is a regular file.
func (ino *Inode) IsRegular() bool {
	return ino.Mode&S_IFMT == S_IFREG
}

// StatBlocks returns the number of 512-byte sectors attributed to the
// inode, counting whole filesystem blocks.
func (ino *Inode) StatBlocks() uint64 {
	bsz := uint64(ino.sb.BlockSize())
	nblk := (uint64(ino.Size) + bsz - 1) / bsz
	return nblk * (bsz / 512)
}

// Readlink returns the symlink target.
func (ino *Inode) Readlink() ([]byte, error) {
	if !ino.IsSymlink() {
		return nil, fs.ErrInvalid
	}
	if ino.SymTarget != nil || ino.Size == 0 {
		return append([]byte(nil), ino.SymTarget...), nil
	}
	return ino.sb.readData(ino.sb.nidToInodeMetaAddr(ino.Nid), int64(ino.Size))
}

// ReadAt serves bytes of a regular file. It implements io.ReaderAt;
// reads past the end of the file are truncated and return io.EOF.
func (ino *Inode) ReadAt(p []byte, off int64) (int, error) {
	if !ino.IsRegular() {
		return 0, fs.ErrInvalid
	}
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= int64(ino.Size) {
		return 0, io.EOF
	}

	short := false
	if off+int64(len(p)) > int64(ino.Size) {
		p = p[:int64(ino.Size)-off]
		short = true
	}

	var n int
	var err error
	if ino.sb.Flags.Has(FlagCompressed) {
		n, err = ino.readAtCompressed(p, off)
	} else {
		n, err = ino.readAtPlain(p, off)
	}
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

// readAtPlain serves a range of an uncompressed regular file, whose
// bytes live contiguously at blk_id*B + blk_off on the device.
func (ino *Inode) readAtPlain(p []byte, off int64) (int, error) {
	sb := ino.sb
	bsz := int64(sb.BlockSize())
	addr := sb.blkIDToAddr(ino.BlkID) + int64(ino.BlkOff) + off

	buf := sb.metaBuf()
	defer buf.release()

	n := 0
	for n < len(p) {
		b, err := buf.bread(addr)
		if err != nil {
			return n, err
		}
		// stop at the block boundary so every step goes through the
		// address arithmetic
		step := bsz - int64(sb.addrToBlkOff(addr))
		if step > int64(len(b)) {
			step = int64(len(b))
		}
		if step > int64(len(p)-n) {
			step = int64(len(p) - n)
		}
		copy(p[n:], b[:step])
		n += int(step)
		addr += step
	}
	return n, nil
}
