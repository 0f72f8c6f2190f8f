package codexfs

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"log"
	"sync"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Superblock is the runtime descriptor of a mounted codexfs image. It
// is immutable once New returns and implements fs.FS (see codexfs.go).
type Superblock struct {
	fs     io.ReaderAt
	closer io.Closer // set when we own the underlying file

	Magic     uint32
	Checksum  uint32
	BlkszBits uint8
	RootNid   uint64
	Inos      uint32
	IslotBits uint8
	Blocks    uint32
	Flags     Flags

	rootIno *Inode

	// inode descriptor cache, populated on first fetch
	inoIdx  map[uint64]*Inode
	inoIdxL sync.RWMutex
}

// New reads and validates the superblock of the image backed by src
// and returns a mounted filesystem handle.
func New(src io.ReaderAt, opts ...Option) (*Superblock, error) {
	sb := &Superblock{
		fs:     src,
		inoIdx: make(map[uint64]*Inode),
	}

	head := make([]byte, SuperblockSize)
	if _, err := src.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(sb); err != nil {
			return nil, err
		}
	}

	root, err := sb.GetInode(sb.RootNid)
	if err != nil {
		return nil, err
	}
	if !root.IsDir() {
		log.Printf("codexfs: root inode @ nid %d is not a directory (mode %o)", sb.RootNid, root.Mode)
		return nil, ErrInvalidSuper
	}
	sb.rootIno = root

	return sb, nil
}

// UnmarshalBinary decodes and validates a 128-byte superblock record.
func (sb *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < SuperblockSize {
		return io.ErrUnexpectedEOF
	}

	var raw rawSuperblock
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return err
	}

	if raw.Magic != Magic {
		return ErrInvalidFile
	}
	if raw.BlkszBits < 9 || raw.BlkszBits > pageShift {
		log.Printf("codexfs: blkszbits %d isn't supported", raw.BlkszBits)
		return ErrInvalidSuper
	}

	// A zero checksum means the builder did not checksum the image;
	// any other value must match.
	if raw.Checksum != 0 {
		if sum := superblockChecksum(data[:SuperblockSize]); sum != raw.Checksum {
			log.Printf("codexfs: superblock checksum mismatch, got 0x%x want 0x%x", sum, raw.Checksum)
			return ErrInvalidSuper
		}
	}

	sb.Magic = raw.Magic
	sb.Checksum = raw.Checksum
	sb.BlkszBits = raw.BlkszBits
	sb.RootNid = raw.RootNid
	sb.Inos = raw.Inos
	sb.IslotBits = InodeSlotBits // slot size is fixed at 32 bytes
	sb.Blocks = raw.Blocks
	sb.Flags = Flags(raw.Flags)

	return nil
}

// superblockChecksum computes the CRC32C of a superblock record with
// the checksum field taken as zero.
func superblockChecksum(data []byte) uint32 {
	cp := make([]byte, SuperblockSize)
	copy(cp, data)
	cp[4], cp[5], cp[6], cp[7] = 0, 0, 0, 0
	return crc32.Checksum(cp, castagnoli)
}

// Close releases the underlying file if this Superblock was created
// via Open.
func (sb *Superblock) Close() error {
	if sb.closer != nil {
		return sb.closer.Close()
	}
	return nil
}

// Option configures a Superblock while it is being opened.
type Option func(sb *Superblock) error
