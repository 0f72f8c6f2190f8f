package codexfs

// Address arithmetic over the two shift widths carried by the
// superblock. The read path converts device byte addresses, block ids
// and node ids through these helpers. The image writer, which has no
// Superblock, does its own shifts and masks.

// BlockSize returns the filesystem block size in bytes.
func (sb *Superblock) BlockSize() uint32 {
	return 1 << sb.BlkszBits
}

// addrToBlkID returns the block id containing byte address addr.
func (sb *Superblock) addrToBlkID(addr int64) uint32 {
	return uint32(addr >> sb.BlkszBits)
}

// addrToBlkOff returns the offset of byte address addr within its block.
func (sb *Superblock) addrToBlkOff(addr int64) uint32 {
	return uint32(addr) & (sb.BlockSize() - 1)
}

// blkIDToAddr returns the byte address of the first byte of block id.
func (sb *Superblock) blkIDToAddr(id uint32) int64 {
	return int64(id) << sb.BlkszBits
}

// nidToInodeAddr returns the byte address of the inode record for nid.
func (sb *Superblock) nidToInodeAddr(nid uint64) int64 {
	return int64(nid << sb.IslotBits)
}

// nidToInodeMetaAddr returns the byte address of the meta region that
// follows the inode record: directory data, symlink target or extent
// table, depending on the inode type.
func (sb *Superblock) nidToInodeMetaAddr(nid uint64) int64 {
	return int64((nid + 1) << sb.IslotBits)
}
