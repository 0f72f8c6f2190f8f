// Package codexfs reads (and builds) codexfs images: a read-only,
// block-addressable filesystem format with a compact on-disk layout
// and optional per-file LZMA compression. An open image implements
// io/fs interfaces so it can be walked, globbed and read like any
// other Go filesystem.
package codexfs

import (
	"io/fs"
	"os"
	"strings"
)

// maxSymlinkDepth bounds symlink expansion during path resolution.
const maxSymlinkDepth = 40

var (
	_ fs.FS        = (*Superblock)(nil)
	_ fs.ReadDirFS = (*Superblock)(nil)
	_ fs.StatFS    = (*Superblock)(nil)
)

// Open opens a codexfs image file and mounts it.
func Open(name string, opts ...Option) (*Superblock, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	sb, err := New(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	sb.closer = f
	return sb, nil
}

// Root returns the root directory inode.
func (sb *Superblock) Root() *Inode {
	return sb.rootIno
}

// FindInode resolves a slash-separated path to an inode. Symlinks in
// intermediate components are always followed; nofollow controls
// whether a symlink in the final component is followed too.
func (sb *Superblock) FindInode(name string, nofollow bool) (*Inode, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}

	cur := sb.rootIno
	var rest []string
	if name != "." {
		rest = strings.Split(name, "/")
	}

	redirects := 0
	for len(rest) > 0 {
		comp := rest[0]
		rest = rest[1:]
		if comp == "" || comp == "." {
			continue
		}
		if !cur.IsDir() {
			return nil, ErrNotDirectory
		}

		next, err := cur.LookupRelativeInode(comp)
		if err != nil {
			return nil, err
		}

		if next.IsSymlink() && (len(rest) > 0 || !nofollow) {
			redirects++
			if redirects > maxSymlinkDepth {
				return nil, ErrTooManySymlinks
			}
			target, err := next.Readlink()
			if err != nil {
				return nil, err
			}
			t := string(target)
			if strings.HasPrefix(t, "/") {
				cur = sb.rootIno
				t = strings.TrimLeft(t, "/")
			}
			if t != "" {
				rest = append(strings.Split(t, "/"), rest...)
			}
			continue
		}
		cur = next
	}
	return cur, nil
}

// Open implements fs.FS, resolving symlinks along the way.
func (sb *Superblock) Open(name string) (fs.File, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return ino.OpenFile(name), nil
}

// ReadDir implements fs.ReadDirFS. The "." and ".." entries present on
// disk are not returned.
func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}

	res, err := ino.dirReader().ReadDir(-1)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return res, nil
}

// Stat implements fs.StatFS, following symlinks.
func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileinfo{name: basename(name), ino: ino}, nil
}

// Lstat returns file information without following a symlink in the
// final path component.
func (sb *Superblock) Lstat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return &fileinfo{name: basename(name), ino: ino}, nil
}

// ReadLink returns the target of the named symbolic link.
func (sb *Superblock) ReadLink(name string) (string, error) {
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	target, err := ino.Readlink()
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	return string(target), nil
}

func basename(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
