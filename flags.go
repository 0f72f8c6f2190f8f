package codexfs

import "strings"

// Flags is the filesystem feature flags byte of the superblock.
type Flags uint8

const (
	// FlagCompressed indicates regular-file data is stored as
	// micro-LZMA compressed blocks. Directories and symlinks are
	// always stored plain in the inode meta region.
	FlagCompressed Flags = 1 << iota
)

func (f Flags) String() string {
	var opt []string

	if f&FlagCompressed != 0 {
		opt = append(opt, "COMPRESSED")
	}

	return strings.Join(opt, "|")
}

func (f Flags) Has(what Flags) bool {
	return f&what == what
}
