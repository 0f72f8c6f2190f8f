//go:build fuse

package codexfs

import (
	"context"
	"io/fs"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// FUSE bindings for serving a mounted image through go-fuse's raw
// API. Node ids are nids; the host mounts the root at nid 1 semantics
// by asking for RootNid itself.

func (ino *Inode) Lookup(ctx context.Context, name string) (uint64, error) {
	res, err := ino.LookupRelativeInode(name)
	if err != nil {
		return 0, err
	}
	return res.Nid, nil
}

func (ino *Inode) Open(flags uint32) (uint32, error) {
	// read-only filesystem, tell fuse to keep the cache
	return fuse.FOPEN_KEEP_CACHE, nil
}

func (ino *Inode) OpenDir() (uint32, error) {
	if ino.IsDir() {
		return fuse.FOPEN_KEEP_CACHE, nil
	}
	return 0, fs.ErrInvalid
}

// FillAttr fills a fuse.Attr with this inode's metadata.
func (ino *Inode) FillAttr(attr *fuse.Attr) error {
	attr.Ino = ino.Nid
	attr.Size = uint64(ino.Size)
	attr.Blocks = ino.StatBlocks()
	attr.Mode = uint32(ino.Mode)
	attr.Nlink = uint32(ino.Nlink)
	attr.Blksize = ino.sb.BlockSize()
	attr.Owner.Uid = uint32(ino.Uid)
	attr.Owner.Gid = uint32(ino.Gid)
	// the format records no timestamps
	return nil
}

// fillEntry fills a fuse.EntryOut structure with the appropriate information
func (ino *Inode) fillEntry(entry *fuse.EntryOut) {
	entry.NodeId = ino.Nid
	entry.Attr.Ino = entry.NodeId
	ino.FillAttr(&entry.Attr)
	entry.SetEntryTimeout(time.Second)
	entry.SetAttrTimeout(time.Second)
}

// ReadDir emits directory entries starting at the fuse offset, which
// counts dirents (12 bytes of directory data each).
func (ino *Inode) ReadDir(input *fuse.ReadIn, out *fuse.DirEntryList, plus bool) error {
	if !ino.IsDir() {
		return fs.ErrInvalid
	}

	pos := int64(input.Offset) * DirentSize
	_, err := ino.IterDirents(pos, func(name string, nid uint64, ftype FileType) bool {
		child, err := ino.sb.GetInode(nid)
		if err != nil {
			return false
		}
		if !plus {
			return out.Add(0, name, nid, uint32(child.Mode))
		}
		entry := out.AddDirLookupEntry(fuse.DirEntry{Mode: uint32(child.Mode), Name: name, Ino: nid})
		if entry == nil {
			return false
		}
		child.fillEntry(entry)
		return true
	})
	return err
}
