package ncz

import (
	"context"
	"fmt"
	"io"

	"github.com/falk/switch-tools-go/pkg/crypto"
	"github.com/falk/switch-tools-go/pkg/zstd"
)

// flushBufferSize is the stream-mode re-encryption granularity.
const flushBufferSize = 512 * 1024

// Result summarizes one decompressed NCZ.
type Result struct {
	// NcaSize is the size of the reconstructed NCA handed to the sink.
	NcaSize int64

	Sections    []NczSectionEntry
	BlockHeader *NczBlockHeader
}

// Decompress streams the NCA encoded in an NCZ container to sink: the
// 0x4000-byte header verbatim, then the zstd payload decompressed and
// re-encrypted section by section. Bytes reach the sink in strictly
// increasing NCA order; the full NCA is never held in memory. On error the
// sink may have received a prefix which the caller must discard.
func Decompress(ctx context.Context, src io.ReaderAt, srcSize int64, sink io.Writer) (*Result, error) {
	header := make([]byte, NcaFullHeaderSize)
	if _, err := src.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("ncz: read header: %w", err)
	}

	sections, next, err := readSections(src)
	if err != nil {
		return nil, err
	}

	blockHeader, dataStart, err := readBlockHeader(src, next)
	if err != nil {
		return nil, err
	}

	result := &Result{Sections: sections, BlockHeader: blockHeader}
	if blockHeader != nil {
		result.NcaSize = NcaFullHeaderSize + int64(blockHeader.DecompressedSize)
	} else {
		for _, s := range sections {
			if end := int64(s.Offset + s.Size); end > result.NcaSize {
				result.NcaSize = end
			}
		}
	}

	w := &sinkWriter{ctx: ctx, sink: sink}
	if err := w.write(header); err != nil {
		return nil, err
	}

	if blockHeader != nil {
		err = emitBlocks(src, dataStart, blockHeader, sections, w)
	} else {
		err = emitStream(src, dataStart, srcSize, sections, w)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// sinkWriter serializes all sink access: it checks cancellation before every
// write and refuses further writes once one has failed.
type sinkWriter struct {
	ctx    context.Context
	sink   io.Writer
	failed bool
}

func (w *sinkWriter) write(p []byte) error {
	if w.failed {
		return ErrSinkWrite
	}
	if err := w.ctx.Err(); err != nil {
		w.failed = true
		return err
	}
	if _, err := w.sink.Write(p); err != nil {
		w.failed = true
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return nil
}

// emitBlocks handles block mode: each block is independently stored or
// zstd-compressed, decided by comparing sizes.
func emitBlocks(src io.ReaderAt, dataStart int64, h *NczBlockHeader, sections []NczSectionEntry, w *sinkWriter) error {
	cur := dataStart
	written := int64(NcaFullHeaderSize)
	remaining := h.DecompressedSize

	for i, compressedSize := range h.CompressedSizes {
		expected := h.BlockSize()
		if remaining < expected {
			expected = remaining
		}

		raw := make([]byte, compressedSize)
		if _, err := src.ReadAt(raw, cur); err != nil {
			return fmt.Errorf("ncz: read block %d: %w", i, err)
		}
		cur += int64(compressedSize)

		var plain []byte
		if uint64(compressedSize) < expected {
			var err error
			plain, err = zstd.Decompress(raw)
			if err != nil {
				return fmt.Errorf("ncz: zstd block %d: %w", i, err)
			}
			if uint64(len(plain)) != expected {
				return fmt.Errorf("%w: block %d decompressed to %d bytes, want %d", ErrFieldRange, i, len(plain), expected)
			}
		} else if uint64(compressedSize) == expected {
			plain = raw
		} else {
			return fmt.Errorf("%w: block %d larger than its decompressed size", ErrFieldRange, i)
		}

		if err := reencrypt(plain, written, sections); err != nil {
			return err
		}
		if err := w.write(plain); err != nil {
			return err
		}

		written += int64(len(plain))
		remaining -= expected
	}
	return nil
}

// emitStream handles stream mode: one continuous zstd stream re-encrypted
// through a fixed flush buffer.
func emitStream(src io.ReaderAt, dataStart, srcSize int64, sections []NczSectionEntry, w *sinkWriter) error {
	dec, err := zstd.NewStreamReader(io.NewSectionReader(src, dataStart, srcSize-dataStart))
	if err != nil {
		return fmt.Errorf("ncz: zstd stream: %w", err)
	}
	defer dec.Close()

	buf := make([]byte, flushBufferSize)
	written := int64(NcaFullHeaderSize)

	for {
		n, err := io.ReadFull(dec, buf)
		if n > 0 {
			chunk := buf[:n]
			if err := reencrypt(chunk, written, sections); err != nil {
				return err
			}
			if err := w.write(chunk); err != nil {
				return err
			}
			written += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ncz: zstd stream: %w", err)
		}
	}
}

// reencrypt applies each covering section's AES-CTR to chunk in place. A
// chunk may span several sections; offsets outside every section fail.
func reencrypt(chunk []byte, offset int64, sections []NczSectionEntry) error {
	for len(chunk) > 0 {
		sec := findSection(sections, uint64(offset))
		if sec == nil {
			return fmt.Errorf("%w %#x", ErrNoSection, offset)
		}

		n := sec.Offset + sec.Size - uint64(offset)
		if n > uint64(len(chunk)) {
			n = uint64(len(chunk))
		}

		if sec.CryptoType >= 3 {
			if err := crypto.CTRCrypt(chunk[:n], sec.CryptoKey[:], sec.CryptoCounter[:], offset); err != nil {
				return err
			}
		}

		chunk = chunk[n:]
		offset += int64(n)
	}
	return nil
}

func findSection(sections []NczSectionEntry, offset uint64) *NczSectionEntry {
	for i := range sections {
		s := &sections[i]
		if offset >= s.Offset && offset < s.Offset+s.Size {
			return s
		}
	}
	return nil
}
