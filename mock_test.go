package codexfs_test

import (
	"bytes"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/KarpelesLab/codexfs"
)

// linkFS is a fstest.MapFS that can also read symlink targets, which
// the image writer needs. A symlink is a MapFile with fs.ModeSymlink
// set and the target as Data.
type linkFS struct {
	fstest.MapFS
}

func (l linkFS) ReadLink(name string) (string, error) {
	f, ok := l.MapFS[name]
	if !ok || f.Mode&fs.ModeSymlink == 0 {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	return string(f.Data), nil
}

// buildImage builds a codexfs image from src and returns its bytes.
func buildImage(t *testing.T, src fs.FS, opts ...codexfs.WriterOption) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := codexfs.NewWriter(&buf, opts...)
	if err != nil {
		t.Fatalf("failed to create writer: %s", err)
	}
	w.SetSourceFS(src)
	if err := fs.WalkDir(src, ".", w.Add); err != nil {
		t.Fatalf("failed to add source tree: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("failed to finalize image: %s", err)
	}
	return buf.Bytes()
}

// openImage mounts an in-memory image.
func openImage(t *testing.T, img []byte) *codexfs.Superblock {
	t.Helper()

	sb, err := codexfs.New(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("failed to open image: %s", err)
	}
	return sb
}

// mockReader implements io.ReaderAt and can be used to simulate
// errors or invalid data for testing error handling
type mockReader struct {
	data   []byte
	errAt  int64
	errMsg error
}

func (m *mockReader) ReadAt(p []byte, off int64) (int, error) {
	if m.errMsg != nil && off >= m.errAt {
		return 0, m.errMsg
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readCounter counts device reads, to bound lookup probe costs.
type readCounter struct {
	r io.ReaderAt
	n int
}

func (c *readCounter) ReadAt(p []byte, off int64) (int, error) {
	c.n++
	return c.r.ReadAt(p, off)
}
