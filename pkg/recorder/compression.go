package recorder

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm to use
type CompressionType int

const (
	// NoCompression indicates no compression
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

// DefaultCompression is the default compression algorithm
var DefaultCompression = ZstdCompression

// zstdMagic starts every zstd frame
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// NewCompressedWriter returns a writer that compresses data before writing
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}
	return zstd.NewWriter(w)
}

// NewCompressedReader returns a reader that decompresses data after reading
func NewCompressedReader(r io.Reader, compressionType CompressionType) (io.ReadCloser, error) {
	if compressionType == NoCompression {
		return io.NopCloser(r), nil
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// CloseCompressedWriter closes the compressed writer if needed
func CloseCompressedWriter(w io.Writer, compressionType CompressionType) error {
	if compressionType == NoCompression {
		return nil
	}
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}

// EndFrame completes the current zstd frame and starts a new one on dst, so
// everything written so far decodes on its own. Frames concatenate.
func EndFrame(w io.Writer, dst io.Writer) error {
	zw, ok := w.(*zstd.Encoder)
	if !ok {
		return nil
	}
	if err := zw.Close(); err != nil {
		return err
	}
	zw.Reset(dst)
	return nil
}

// DetectCompression peeks at the start of r and reports how it is compressed.
// The returned reader yields the full stream, peeked bytes included.
func DetectCompression(r io.Reader) (io.Reader, CompressionType, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, NoCompression, err
	}
	if bytes.Equal(head, zstdMagic) {
		return br, ZstdCompression, nil
	}
	return br, NoCompression, nil
}
