package codexfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidFile is returned when the image does not start with a codexfs superblock
	ErrInvalidFile = errors.New("invalid file, codexfs magic not found")

	// ErrInvalidSuper is returned when the superblock is corrupted or carries
	// values this implementation cannot handle (block size, checksum, root inode)
	ErrInvalidSuper = errors.New("invalid codexfs superblock")

	// ErrCorrupted is returned when an on-disk invariant is violated during
	// decode: bogus dirents, extent ordering, LZMA framing, unknown mode bits
	ErrCorrupted = errors.New("corrupted codexfs image")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	// This prevents infinite loops in symlink resolution
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// ErrNameTooLong is returned when a caller-provided name exceeds NameLen bytes
	ErrNameTooLong = errors.New("file name too long")
)
