package codexfs

import "io"

// metaBuf is a single-slot page cache over the backing device. It
// holds at most one page at a time; reading an offset inside the held
// page is free, anything else drops the page and fetches the one
// containing the requested offset. Metadata access patterns (adjacent
// dirents in one block, successive extent records) make one slot
// enough.
//
// A metaBuf is stack-scoped: created per operation, never shared, and
// released on every exit path.
type metaBuf struct {
	src  io.ReaderAt
	page []byte // current page, may be short at end of image
	idx  int64  // page index of the held page, -1 when empty
}

func (sb *Superblock) metaBuf() metaBuf {
	return metaBuf{src: sb.fs, idx: -1}
}

// bread returns the cached bytes starting at byte offset off and
// running to the end of the page containing it, fetching the page
// first if it is not the one currently held.
func (b *metaBuf) bread(off int64) ([]byte, error) {
	idx := off >> pageShift
	if b.idx != idx {
		b.release()
		page := make([]byte, pageSize)
		n, err := b.src.ReadAt(page, idx<<pageShift)
		if err != nil && !(err == io.EOF && n > 0) {
			return nil, err
		}
		b.page = page[:n]
		b.idx = idx
	}
	po := int(off & (pageSize - 1))
	if po >= len(b.page) {
		return nil, io.ErrUnexpectedEOF
	}
	return b.page[po:], nil
}

// release drops the held page. Idempotent.
func (b *metaBuf) release() {
	b.page = nil
	b.idx = -1
}

// readData returns a freshly allocated buffer holding length bytes
// starting at byte address addr, copied page by page through a
// metaBuf. Used for whole-object reads: a full extent table, a whole
// directory block.
func (sb *Superblock) readData(addr, length int64) ([]byte, error) {
	out := make([]byte, length)
	buf := sb.metaBuf()
	defer buf.release()

	pos := int64(0)
	for pos < length {
		b, err := buf.bread(addr + pos)
		if err != nil {
			return nil, err
		}
		pos += int64(copy(out[pos:], b))
	}
	return out, nil
}
