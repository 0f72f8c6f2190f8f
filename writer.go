package codexfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"sort"
)

// Writer creates codexfs filesystem images.
// It builds the filesystem tree in memory and streams the final image
// to an io.Writer when Finalize() is called.
//
// Image layout: the superblock occupies bytes 0..127 (inode slots
// 0..3); inode records and their meta regions (directory data, symlink
// targets, extent tables) are packed at 32-byte slots from offset 128;
// file data follows in a block-aligned data area. With compression
// enabled every regular file is chunked into windows, each window
// stored as one micro-LZMA block, right-aligned with a zero pad.
type Writer struct {
	w io.Writer

	blkszBits uint8
	compress  bool
	window    uint32

	// Default source filesystem (captured by Add() into each inode)
	srcFS fs.FS

	root     *writerInode
	inodes   []*writerInode
	inodeMap map[string]*writerInode // path -> inode mapping
}

// writerInode represents an inode being built in memory.
type writerInode struct {
	path string
	name string

	mode      fs.FileMode
	size      uint64
	uid, gid  uint16
	nlink     uint16
	symTarget string

	// Source filesystem for reading file data
	srcFS fs.FS

	// For directories
	entries []*writerInode
	parent  *writerInode
	dirents []writerDirent // computed during layout

	// Layout (filled during Finalize)
	nid      uint64
	metaSize int64
	blkID    uint32
	blkOff   uint32
	blks     uint16
}

// writerDirent is one directory entry under construction; node
// resolves to the entry's nid once slots are assigned.
type writerDirent struct {
	name  string
	node  *writerInode
	ftype FileType
}

// WriterOption configures a Writer
type WriterOption func(*Writer) error

// WithBlockSize sets the filesystem block size (default: 4096).
func WithBlockSize(size uint32) WriterOption {
	return func(w *Writer) error {
		if size < 512 || size > pageSize || size&(size-1) != 0 {
			return fmt.Errorf("unsupported block size %d", size)
		}
		bits := uint8(0)
		for uint32(1)<<bits < size {
			bits++
		}
		w.blkszBits = bits
		return nil
	}
}

// WithCompression stores regular-file data as micro-LZMA compressed
// blocks and sets the COMPRESSED superblock flag.
func WithCompression() WriterOption {
	return func(w *Writer) error {
		w.compress = true
		return nil
	}
}

// WithCompressionWindow overrides the plaintext window carried by one
// compressed block (default and maximum: 64 KiB).
func WithCompressionWindow(window uint32) WriterOption {
	return func(w *Writer) error {
		if window == 0 || window > Window {
			return fmt.Errorf("unsupported compression window %d", window)
		}
		w.window = window
		return nil
	}
}

// NewWriter creates a new codexfs writer that will write to w.
// The filesystem is built in memory and written when Finalize() is called.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	writer := &Writer{
		w:         w,
		blkszBits: 12,
		window:    Window,
		inodeMap:  make(map[string]*writerInode),
	}

	writer.root = &writerInode{
		path:  ".",
		mode:  fs.ModeDir | 0755,
		nlink: 2,
	}
	writer.inodes = append(writer.inodes, writer.root)

	for _, opt := range opts {
		if err := opt(writer); err != nil {
			return nil, err
		}
	}

	return writer, nil
}

// SetSourceFS sets the default source filesystem to read file data
// from. It may be called multiple times to add files from different
// filesystems.
func (w *Writer) SetSourceFS(srcFS fs.FS) {
	w.srcFS = srcFS
}

// readLinkFS is the subset of fs-with-symlinks the writer needs.
type readLinkFS interface {
	ReadLink(name string) (string, error)
}

// Add adds a file or directory to the filesystem.
// This method is compatible with fs.WalkDirFunc, allowing it to be used directly
// with fs.WalkDir:
//
//	err := fs.WalkDir(srcFS, ".", writer.Add)
//
// The actual file data is not written until Finalize() is called.
func (w *Writer) Add(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}

	// Skip root (already created)
	if path == "." || path == "" {
		w.inodeMap["."] = w.root
		w.inodeMap[""] = w.root
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}
	if len(info.Name()) > NameLen {
		return fmt.Errorf("%w: %q", ErrNameTooLong, info.Name())
	}

	inode := &writerInode{
		path:  path,
		name:  info.Name(),
		mode:  info.Mode(),
		size:  uint64(info.Size()),
		nlink: 1,
		srcFS: w.srcFS,
	}

	// Extract uid/gid from info.Sys() if available
	if sys := info.Sys(); sys != nil {
		if statT, ok := sys.(interface {
			Uid() uint32
			Gid() uint32
		}); ok {
			inode.uid = uint16(statT.Uid())
			inode.gid = uint16(statT.Gid())
		}
	}

	switch {
	case info.Mode().IsDir():
		inode.nlink = 2
		inode.size = 0
	case info.Mode()&fs.ModeSymlink != 0:
		fsys, ok := inode.srcFS.(readLinkFS)
		if !ok {
			return fmt.Errorf("source filesystem cannot read symlink %q", path)
		}
		target, err := fsys.ReadLink(path)
		if err != nil {
			return fmt.Errorf("failed to read symlink %q: %w", path, err)
		}
		inode.symTarget = target
		inode.size = uint64(len(target))
	case info.Mode().IsRegular():
	default:
		// special file, no data
		inode.size = 0
	}

	parent := w.inodeMap[getParentPath(path)]
	if parent == nil {
		return fmt.Errorf("parent directory not found for %q", path)
	}
	inode.parent = parent
	parent.entries = append(parent.entries, inode)
	if inode.mode.IsDir() {
		parent.nlink++
	}

	w.inodes = append(w.inodes, inode)
	w.inodeMap[path] = inode
	return nil
}

// getParentPath returns the parent directory path
func getParentPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Finalize computes the image layout, writes every inode, directory
// block, extent table and data block, and streams the complete image
// to the underlying writer.
func (w *Writer) Finalize() error {
	bsz := int64(1) << w.blkszBits

	// assemble and sort directory entries; dirents on disk are in
	// ascending byte order of name
	for _, ino := range w.inodes {
		if !ino.mode.IsDir() {
			continue
		}
		parent := ino.parent
		if parent == nil {
			parent = ino // root's ".." points at itself
		}
		dirents := []writerDirent{
			{name: ".", node: ino, ftype: FTDir},
			{name: "..", node: parent, ftype: FTDir},
		}
		for _, child := range ino.entries {
			dirents = append(dirents, writerDirent{
				name:  child.name,
				node:  child,
				ftype: modeToFileType(child.mode),
			})
		}
		sort.Slice(dirents, func(i, j int) bool {
			return dirents[i].name < dirents[j].name
		})
		ino.dirents = dirents
		ino.size = uint64(direntBlocksSize(dirents, bsz))
	}

	// slot layout: assign nids and meta-region space
	cur := int64(SuperblockSize)
	for _, ino := range w.inodes {
		switch {
		case ino.mode.IsDir():
			ino.metaSize = int64(ino.size)
		case ino.mode&fs.ModeSymlink != 0:
			ino.metaSize = int64(ino.size)
		case ino.mode.IsRegular() && w.compress:
			ino.blks = uint16(w.windowCount(ino.size))
			ino.metaSize = int64(ino.blks) * ExtentSize
		}
		ino.nid = uint64(cur >> InodeSlotBits)
		cur += InodeSize + ino.metaSize
		cur = roundUp(cur, InodeSize)
	}

	// data layout
	dataStart := roundUp(cur, bsz)
	dcur := dataStart
	for _, ino := range w.inodes {
		if !ino.mode.IsRegular() {
			continue
		}
		if w.compress {
			dcur = roundUp(dcur, bsz)
			ino.blkID = uint32(dcur >> w.blkszBits)
			dcur += int64(ino.blks) * bsz
		} else {
			ino.blkID = uint32(dcur >> w.blkszBits)
			ino.blkOff = uint32(dcur & (bsz - 1))
			dcur += int64(ino.size)
		}
	}
	total := roundUp(dcur, bsz)

	image := make([]byte, total)

	// render inode records and meta regions
	for _, ino := range w.inodes {
		if err := w.renderInode(image, ino, bsz); err != nil {
			return err
		}
	}

	// render data blocks
	for _, ino := range w.inodes {
		if !ino.mode.IsRegular() {
			continue
		}
		if err := w.renderData(image, ino, bsz); err != nil {
			return err
		}
	}

	// superblock, checksum last
	sb := image[:SuperblockSize]
	binary.LittleEndian.PutUint32(sb[0:], Magic)
	sb[8] = w.blkszBits
	binary.LittleEndian.PutUint64(sb[9:], w.root.nid)
	binary.LittleEndian.PutUint32(sb[17:], uint32(len(w.inodes)))
	sb[21] = InodeSlotBits
	binary.LittleEndian.PutUint32(sb[22:], uint32(total>>w.blkszBits))
	if w.compress {
		sb[26] = uint8(FlagCompressed)
	}
	binary.LittleEndian.PutUint32(sb[4:], superblockChecksum(sb))

	_, err := w.w.Write(image)
	return err
}

// windowCount returns the number of compression windows (and thus
// compressed blocks and extents) for a file of the given size.
func (w *Writer) windowCount(size uint64) uint64 {
	n := (size + uint64(w.window) - 1) / uint64(w.window)
	if n == 0 {
		n = 1
	}
	return n
}

// renderInode writes the 32-byte inode record and its meta region.
func (w *Writer) renderInode(image []byte, ino *writerInode, bsz int64) error {
	rec := image[int64(ino.nid)<<InodeSlotBits:]
	binary.LittleEndian.PutUint16(rec[0:], ModeToUnix(ino.mode))
	binary.LittleEndian.PutUint16(rec[2:], ino.nlink)
	binary.LittleEndian.PutUint32(rec[4:], uint32(ino.size))
	binary.LittleEndian.PutUint32(rec[8:], uint32(ino.nid))
	binary.LittleEndian.PutUint16(rec[12:], ino.uid)
	binary.LittleEndian.PutUint16(rec[14:], ino.gid)
	binary.LittleEndian.PutUint32(rec[16:], ino.blkID)
	if ino.mode.IsRegular() && w.compress {
		binary.LittleEndian.PutUint32(rec[20:], uint32(ino.blks))
	} else {
		binary.LittleEndian.PutUint32(rec[20:], ino.blkOff)
	}

	meta := image[(int64(ino.nid)+1)<<InodeSlotBits:]
	switch {
	case ino.mode.IsDir():
		encodeDirentBlocks(meta, ino.dirents, bsz)
	case ino.mode&fs.ModeSymlink != 0:
		copy(meta, ino.symTarget)
	case ino.mode.IsRegular() && w.compress:
		for i := uint64(0); i < uint64(ino.blks); i++ {
			binary.LittleEndian.PutUint32(meta[i*ExtentSize:], uint32(i*uint64(w.window)))
			binary.LittleEndian.PutUint32(meta[i*ExtentSize+4:], 0)
		}
	}
	return nil
}

// renderData writes a regular file's data area: raw bytes when plain,
// one micro-LZMA block per window when compressed.
func (w *Writer) renderData(image []byte, ino *writerInode, bsz int64) error {
	if ino.srcFS == nil {
		return fmt.Errorf("no source filesystem for %q", ino.path)
	}
	data, err := fs.ReadFile(ino.srcFS, ino.path)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", ino.path, err)
	}
	if uint64(len(data)) != ino.size {
		return fmt.Errorf("size of %q changed during build", ino.path)
	}

	addr := (int64(ino.blkID) << w.blkszBits) + int64(ino.blkOff)
	if !w.compress {
		copy(image[addr:], data)
		return nil
	}

	for i := uint64(0); i < uint64(ino.blks); i++ {
		window := data
		if len(window) > int(w.window) {
			window = window[:w.window]
		}
		data = data[len(window):]

		stream, err := compressBlock(window)
		if err != nil {
			return err
		}
		if int64(len(stream)) > bsz {
			return fmt.Errorf("compressed window of %q does not fit a %d-byte block", ino.path, bsz)
		}
		// right-align in the block; the zero prefix is the pad the
		// reader strips
		blk := image[addr+int64(i)*bsz : addr+int64(i+1)*bsz]
		copy(blk[int64(len(blk))-int64(len(stream)):], stream)
	}
	return nil
}

// direntBlocksSize returns the on-disk directory size for the sorted
// entries: full blocks for all but the last dirent block.
func direntBlocksSize(dirents []writerDirent, bsz int64) int64 {
	var size int64
	for i, blk := 0, 0; i < len(dirents); blk++ {
		n, used := direntBlockFit(dirents[i:], bsz)
		i += n
		if blk > 0 {
			size = roundUp(size, bsz)
		}
		size += used
	}
	return size
}

// direntBlockFit returns how many of the given dirents fit in one
// block, and the bytes they use.
func direntBlockFit(dirents []writerDirent, bsz int64) (int, int64) {
	used := int64(0)
	n := 0
	for _, de := range dirents {
		need := DirentSize + int64(len(de.name))
		if used+need > bsz {
			break
		}
		used += need
		n++
	}
	return n, used
}

// encodeDirentBlocks renders the sorted dirents into out, one
// filesystem block at a time.
func encodeDirentBlocks(out []byte, dirents []writerDirent, bsz int64) {
	pos := int64(0)
	for i := 0; i < len(dirents); {
		n, _ := direntBlockFit(dirents[i:], bsz)
		if i > 0 {
			pos = roundUp(pos, bsz)
		}
		blk := dirents[i : i+n]

		nameoff := int64(n) * DirentSize
		for j, de := range blk {
			o := pos + int64(j)*DirentSize
			binary.LittleEndian.PutUint64(out[o:], de.node.nid)
			binary.LittleEndian.PutUint16(out[o+8:], uint16(nameoff))
			out[o+10] = uint8(de.ftype)
			copy(out[pos+nameoff:], de.name)
			nameoff += int64(len(de.name))
		}
		pos += nameoff
		i += n
	}
}

func roundUp(x, align int64) int64 {
	return (x + align - 1) &^ (align - 1)
}
