package codexfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Compressed regular-file blocks carry a headerless micro-LZMA
// stream, right-aligned inside the device block with zero padding in
// front. The stream is a classic LZMA stream minus its 13-byte header,
// with the properties byte stashed in the stream's leading control
// byte (which is always zero in a fresh stream). The decoder scans
// past the pad, rebuilds the header and hands the result to the lzma
// package.
const (
	// DictSize is the LZMA dictionary size used for every block.
	DictSize = 1024 * 1024

	// Window is the maximum plaintext produced by one compressed
	// block.
	Window = 64 * 1024

	lzmaHeaderLen = 13
)

// fixupInSize strips the zero-prefix pad from a compressed block and
// returns the remaining stream. An all-zero block is corrupt.
func fixupInSize(data []byte) ([]byte, error) {
	pad := 0
	for pad < len(data) && data[pad] == 0 {
		pad++
	}
	if pad == len(data) {
		return nil, fmt.Errorf("%w: compressed block contains no data", ErrCorrupted)
	}
	return data[pad:], nil
}

// decompressBlock decodes one compressed block into a window of at
// most outSize bytes. data is the raw device block including the
// leading zero pad.
func decompressBlock(data []byte, outSize int) ([]byte, error) {
	stream, err := fixupInSize(data)
	if err != nil {
		return nil, err
	}

	// Rebuild the classic header: the properties byte travels as the
	// first stream byte, the uncompressed size is unknown (the stream
	// carries an end marker).
	hdr := make([]byte, lzmaHeaderLen)
	hdr[0] = stream[0]
	binary.LittleEndian.PutUint32(hdr[1:], DictSize)
	for i := 5; i < lzmaHeaderLen; i++ {
		hdr[i] = 0xff
	}
	body := make([]byte, len(stream))
	copy(body[1:], stream[1:]) // body[0] is the zero control byte

	r, err := lzma.ReaderConfig{DictCap: DictSize}.NewReader(
		io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: lzma init: %v", ErrCorrupted, err)
	}

	out := make([]byte, outSize+1)
	n, err := io.ReadFull(r, out)
	switch {
	case err == nil:
		// more data than the window permits
		return nil, fmt.Errorf("%w: decompressed block exceeds %d bytes", ErrCorrupted, outSize)
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		return out[:n], nil
	default:
		return nil, fmt.Errorf("%w: lzma decode: %v", ErrCorrupted, err)
	}
}

// compressBlock encodes plain into a headerless micro-LZMA stream
// suitable for decompressBlock. Used by the image writer.
func compressBlock(plain []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := lzma.WriterConfig{
		DictCap:      DictSize,
		SizeInHeader: false,
		EOSMarker:    true,
	}.NewWriter(&b)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	raw := b.Bytes()
	if len(raw) <= lzmaHeaderLen {
		return nil, fmt.Errorf("lzma: short stream (%d bytes)", len(raw))
	}
	stream := raw[lzmaHeaderLen:]
	if stream[0] != 0 || raw[0] == 0 {
		return nil, fmt.Errorf("lzma: unexpected framing (control 0x%x, props 0x%x)", stream[0], raw[0])
	}
	stream[0] = raw[0] // stash the properties byte
	return stream, nil
}
