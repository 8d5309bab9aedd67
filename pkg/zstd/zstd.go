package zstd

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Shared stateless decoder for whole-blob decompression.
var decoder, _ = zstd.NewReader(nil)

// Decompress decompresses a complete Zstd frame.
func Decompress(src []byte) ([]byte, error) {
	return decoder.DecodeAll(src, nil)
}

// DecompressInto decompresses src, reusing dst's capacity.
func DecompressInto(dst, src []byte) ([]byte, error) {
	return decoder.DecodeAll(src, dst[:0])
}

// NewStreamReader wraps r in a streaming Zstd decoder. Close releases its
// goroutines.
func NewStreamReader(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
}
