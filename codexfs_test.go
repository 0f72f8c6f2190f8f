package codexfs_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/KarpelesLab/codexfs"
)

func s256(buf []byte) string {
	hash := sha256.Sum256(buf)
	return hex.EncodeToString(hash[:])
}

func patternData(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*31 + i/256)
	}
	return buf
}

func TestCodexfs(t *testing.T) {
	big := patternData(10000)
	src := linkFS{fstest.MapFS{
		"a":          &fstest.MapFile{Data: []byte("helloworld"), Mode: 0644},
		"b/c.txt":    &fstest.MapFile{Data: big, Mode: 0644},
		"b/sub/deep": &fstest.MapFile{Data: []byte("deep file"), Mode: 0600},
		"empty":      &fstest.MapFile{Data: nil, Mode: 0644},
		"emptydir":   &fstest.MapFile{Mode: fs.ModeDir | 0755},
		"s":          &fstest.MapFile{Data: []byte("a"), Mode: fs.ModeSymlink | 0777},
		"t20":        &fstest.MapFile{Data: []byte("path/to/target/fileX"), Mode: fs.ModeSymlink | 0777},
	}}

	cfs := openImage(t, buildImage(t, src))
	defer cfs.Close()

	data, err := fs.ReadFile(cfs, "a")
	if err != nil {
		t.Errorf("failed to read a: %s", err)
	} else if string(data) != "helloworld" {
		t.Errorf("invalid content for a: %q", data)
	}

	data, err = fs.ReadFile(cfs, "b/c.txt")
	if err != nil {
		t.Errorf("failed to read b/c.txt: %s", err)
	} else if s256(data) != s256(big) {
		t.Errorf("invalid hash for b/c.txt")
	}

	// glob exercises readdir
	res, err := fs.Glob(cfs, "b/*")
	if err != nil {
		t.Errorf("failed to glob b/*: %s", err)
	} else if len(res) != 2 || res[0] != "b/c.txt" || res[1] != "b/sub" {
		t.Errorf("bad response for glob b/*: %v", res)
	}

	st, err := fs.Stat(cfs, "b/c.txt")
	if err != nil {
		t.Errorf("failed to stat b/c.txt: %s", err)
	} else if st.Size() != int64(len(big)) {
		t.Errorf("bad file size on stat b/c.txt: %d", st.Size())
	}

	// stat vs lstat on a symlink
	st, err = fs.Stat(cfs, "s")
	if err != nil {
		t.Errorf("failed to stat s: %s", err)
	} else if st.Mode()&fs.ModeSymlink != 0 {
		t.Errorf("stat(s) should have followed the symlink")
	}

	st, err = cfs.Lstat("s")
	if err != nil {
		t.Errorf("failed to lstat s: %s", err)
	} else if st.Mode()&fs.ModeSymlink == 0 {
		t.Errorf("lstat(s) should have returned a symlink")
	}

	// reading through a symlink
	data, err = fs.ReadFile(cfs, "s")
	if err != nil {
		t.Errorf("failed to read through symlink s: %s", err)
	} else if string(data) != "helloworld" {
		t.Errorf("invalid content through symlink s: %q", data)
	}

	// symlink target of length 20
	target, err := cfs.ReadLink("t20")
	if err != nil {
		t.Errorf("failed to readlink t20: %s", err)
	} else if target != "path/to/target/fileX" {
		t.Errorf("invalid target for t20: %q", target)
	}

	// empty file
	data, err = fs.ReadFile(cfs, "empty")
	if err != nil {
		t.Errorf("failed to read empty: %s", err)
	} else if len(data) != 0 {
		t.Errorf("expected empty content, got %d bytes", len(data))
	}

	// lookup miss
	if _, err = fs.Stat(cfs, "c"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("stat of missing file returned unexpected err=%v", err)
	}

	// walking through a non-directory
	if _, err = fs.ReadFile(cfs, "a/foo"); !errors.Is(err, codexfs.ErrNotDirectory) {
		t.Errorf("readfile a/foo returned unexpected err=%v", err)
	}

	// oversized lookup name
	long := bytes.Repeat([]byte{'x'}, 300)
	if _, err = fs.Stat(cfs, string(long)); !errors.Is(err, codexfs.ErrNameTooLong) {
		t.Errorf("stat of oversized name returned unexpected err=%v", err)
	}

	// readdir order is ascending byte order of name
	entries, err := cfs.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to readdir .: %s", err)
	}
	want := []string{"a", "b", "empty", "emptydir", "s", "t20"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d root entries, got %d", len(want), len(entries))
	}
	for i, de := range entries {
		if de.Name() != want[i] {
			t.Errorf("root entry %d is %q, expected %q", i, de.Name(), want[i])
		}
	}

	// directory metadata
	st, err = fs.Stat(cfs, "b")
	if err != nil {
		t.Errorf("failed to stat b: %s", err)
	} else if !st.IsDir() {
		t.Errorf("stat(b) did not return a directory")
	}
}

func TestRangeReads(t *testing.T) {
	src := linkFS{fstest.MapFS{
		"f": &fstest.MapFile{Data: []byte("helloworld"), Mode: 0644},
	}}
	cfs := openImage(t, buildImage(t, src))
	defer cfs.Close()

	f, err := cfs.Open("f")
	if err != nil {
		t.Fatalf("failed to open f: %s", err)
	}
	defer f.Close()
	ra := f.(io.ReaderAt)

	buf := make([]byte, 10)
	n, err := ra.ReadAt(buf, 0)
	if n != 10 || (err != nil && err != io.EOF) {
		t.Errorf("ReadAt(0,10) = %d, %v", n, err)
	}
	if string(buf[:n]) != "helloworld" {
		t.Errorf("ReadAt(0,10) = %q", buf[:n])
	}

	n, err = ra.ReadAt(buf[:5], 5)
	if n != 5 || (err != nil && err != io.EOF) {
		t.Errorf("ReadAt(5,5) = %d, %v", n, err)
	}
	if string(buf[:5]) != "world" {
		t.Errorf("ReadAt(5,5) = %q", buf[:5])
	}

	// reading past the end truncates
	n, err = ra.ReadAt(buf, 7)
	if n != 3 || err != io.EOF {
		t.Errorf("ReadAt(7,10) = %d, %v, expected 3, EOF", n, err)
	}
	if string(buf[:n]) != "rld" {
		t.Errorf("ReadAt(7,10) = %q", buf[:n])
	}

	// reading at the end returns nothing
	n, err = ra.ReadAt(buf, 10)
	if n != 0 || err != io.EOF {
		t.Errorf("ReadAt(10,10) = %d, %v, expected 0, EOF", n, err)
	}

	// repeated reads return identical bytes
	one := make([]byte, 6)
	two := make([]byte, 6)
	if _, err := ra.ReadAt(one, 2); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %s", err)
	}
	if _, err := ra.ReadAt(two, 2); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %s", err)
	}
	if !bytes.Equal(one, two) {
		t.Errorf("repeated reads disagree: %q vs %q", one, two)
	}
}

// TestFSConformance runs the stdlib io/fs conformance suite against a
// built image.
func TestFSConformance(t *testing.T) {
	src := linkFS{fstest.MapFS{
		"a":           &fstest.MapFile{Data: []byte("helloworld"), Mode: 0644},
		"dir/file1":   &fstest.MapFile{Data: patternData(5000), Mode: 0644},
		"dir/file2":   &fstest.MapFile{Data: []byte("two"), Mode: 0644},
		"dir/sub/f3":  &fstest.MapFile{Data: []byte("three"), Mode: 0644},
		"z/last.file": &fstest.MapFile{Data: []byte("zzz"), Mode: 0644},
	}}
	cfs := openImage(t, buildImage(t, src))
	defer cfs.Close()

	if err := fstest.TestFS(cfs, "a", "dir/file1", "dir/file2", "dir/sub/f3", "z/last.file"); err != nil {
		t.Errorf("fstest.TestFS failed: %s", err)
	}
}

// TestBigdir spans the directory over several blocks and checks that
// lookup stays a two-level binary search rather than a scan.
func TestBigdir(t *testing.T) {
	files := fstest.MapFS{}
	for c := 'a'; c <= 'z'; c++ {
		for i := 0; i < 10; i++ {
			name := "bigdir/" + string(c) + "-file-" + string(rune('0'+i))
			files[name] = &fstest.MapFile{Data: []byte(name), Mode: 0644}
		}
	}
	img := buildImage(t, linkFS{files}, codexfs.WithBlockSize(512))

	counter := &readCounter{r: bytes.NewReader(img)}
	cfs, err := codexfs.New(counter)
	if err != nil {
		t.Fatalf("failed to open image: %s", err)
	}
	defer cfs.Close()

	// every present name resolves to the right file
	for name := range files {
		data, err := fs.ReadFile(cfs, name)
		if err != nil {
			t.Fatalf("failed to read %s: %s", name, err)
		}
		if string(data) != name {
			t.Errorf("invalid content for %s: %q", name, data)
		}
	}

	// absent names miss
	for _, name := range []string{"bigdir/a-file-x", "bigdir/zz", "bigdir/0"} {
		if _, err := fs.Stat(cfs, name); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("stat %s returned unexpected err=%v", name, err)
		}
	}

	// a single lookup probes O(log blocks) blocks, not all of them
	dir, err := cfs.FindInode("bigdir", false)
	if err != nil {
		t.Fatalf("failed to find bigdir: %s", err)
	}
	counter.n = 0
	nid, ftype, err := dir.LookupEntry("n-file-5")
	if err != nil {
		t.Fatalf("lookup n-file-5: %s", err)
	}
	if ftype != codexfs.FTFile || nid == 0 {
		t.Errorf("lookup n-file-5 = (%d, %s)", nid, ftype)
	}
	if counter.n > 12 {
		t.Errorf("lookup issued %d device reads, expected a handful", counter.n)
	}

	// raw iteration emits names in non-decreasing byte order,
	// including the . and .. entries
	var prev string
	count := 0
	if _, err := dir.IterDirents(0, func(name string, nid uint64, ftype codexfs.FileType) bool {
		if name < prev {
			t.Errorf("dirent %q out of order after %q", name, prev)
		}
		prev = name
		count++
		return true
	}); err != nil {
		t.Fatalf("IterDirents: %s", err)
	}
	if count != 260+2 {
		t.Errorf("expected 262 dirents, got %d", count)
	}
}

func TestSuperblockErrors(t *testing.T) {
	src := linkFS{fstest.MapFS{
		"a": &fstest.MapFile{Data: []byte("x"), Mode: 0644},
	}}
	img := buildImage(t, src)

	// sanity: pristine image opens
	cfs := openImage(t, img)
	cfs.Close()

	// bad magic
	bad := append([]byte(nil), img...)
	bad[0] ^= 0xff
	if _, err := codexfs.New(bytes.NewReader(bad)); !errors.Is(err, codexfs.ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile for bad magic, got %v", err)
	}

	// unsupported block size
	bad = append([]byte(nil), img...)
	bad[8] = 20
	if _, err := codexfs.New(bytes.NewReader(bad)); !errors.Is(err, codexfs.ErrInvalidSuper) {
		t.Errorf("expected ErrInvalidSuper for bad blkszbits, got %v", err)
	}

	// checksum mismatch (corrupt a reserved superblock byte)
	bad = append([]byte(nil), img...)
	bad[100] ^= 0xff
	if _, err := codexfs.New(bytes.NewReader(bad)); !errors.Is(err, codexfs.ErrInvalidSuper) {
		t.Errorf("expected ErrInvalidSuper for checksum mismatch, got %v", err)
	}

	// truncated image
	if _, err := codexfs.New(bytes.NewReader(img[:64])); err == nil {
		t.Errorf("expected error opening truncated image")
	}

	// device error while reading the superblock
	mock := &mockReader{data: img, errAt: 0, errMsg: io.ErrUnexpectedEOF}
	if _, err := codexfs.New(mock); err == nil {
		t.Errorf("expected error from failing device")
	}
}

func TestFlags(t *testing.T) {
	if s := codexfs.FlagCompressed.String(); s != "COMPRESSED" {
		t.Errorf("FlagCompressed.String() = %q", s)
	}
	if s := codexfs.Flags(0).String(); s != "" {
		t.Errorf("Flags(0).String() = %q", s)
	}
	if !codexfs.FlagCompressed.Has(codexfs.FlagCompressed) {
		t.Errorf("Has(FlagCompressed) = false")
	}
	if codexfs.Flags(0).Has(codexfs.FlagCompressed) {
		t.Errorf("zero flags claim COMPRESSED")
	}
}
