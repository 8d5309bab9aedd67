package ncz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNCZSECT  = "NCZESECT"
	MagicNCZBLOCK = "NCZBLOCK"

	// NcaFullHeaderSize is the uncompressable NCA prefix carried verbatim.
	NcaFullHeaderSize = 0x4000

	sectionHeaderSize = 0x10
	sectionEntrySize  = 0x40
	blockHeaderSize   = 24

	blockSizeExpMin = 14
	blockSizeExpMax = 32
)

var (
	// ErrNotNcz is returned when the section table magic is absent.
	ErrNotNcz = errors.New("ncz: not an NCZ container")

	// ErrFieldRange is returned when a parsed field is outside its legal range.
	ErrFieldRange = errors.New("ncz: field out of range")

	// ErrNoSection is returned when re-encryption hits an offset no section covers.
	ErrNoSection = errors.New("ncz: no section for offset")

	// ErrSinkWrite wraps a sink write failure; no further writes are issued.
	ErrSinkWrite = errors.New("ncz: sink write failed")
)

// NczSectionEntry describes one encrypted region of the reconstructed NCA.
type NczSectionEntry struct {
	Offset        uint64
	Size          uint64
	CryptoType    uint64
	CryptoKey     [16]byte
	CryptoCounter [16]byte
}

// NczBlockHeader is the optional block-compression index.
type NczBlockHeader struct {
	Version          uint8
	Type             uint8
	BlockSizeExp     uint8
	BlockCount       uint32
	DecompressedSize uint64

	// CompressedSizes holds one entry per block.
	CompressedSizes []uint32
}

// BlockSize returns the decompressed size of a full block.
func (h *NczBlockHeader) BlockSize() uint64 {
	return 1 << h.BlockSizeExp
}

// readSections parses the NCZESECT table at offset 0x4000 and returns the
// entries plus the offset of whatever follows them.
func readSections(r io.ReaderAt) ([]NczSectionEntry, int64, error) {
	header := make([]byte, sectionHeaderSize)
	if _, err := r.ReadAt(header, NcaFullHeaderSize); err != nil {
		return nil, 0, err
	}

	if string(header[0:8]) != MagicNCZSECT {
		return nil, 0, fmt.Errorf("%w: bad section magic %q", ErrNotNcz, header[0:8])
	}
	count := binary.LittleEndian.Uint64(header[8:])

	raw := make([]byte, int(count)*sectionEntrySize)
	if _, err := r.ReadAt(raw, NcaFullHeaderSize+sectionHeaderSize); err != nil {
		return nil, 0, err
	}

	sections := make([]NczSectionEntry, count)
	for i := range sections {
		rec := raw[i*sectionEntrySize:]
		sections[i].Offset = binary.LittleEndian.Uint64(rec[0x00:])
		sections[i].Size = binary.LittleEndian.Uint64(rec[0x08:])
		sections[i].CryptoType = binary.LittleEndian.Uint64(rec[0x10:])
		// 0x18 is padding.
		copy(sections[i].CryptoKey[:], rec[0x20:0x30])
		copy(sections[i].CryptoCounter[:], rec[0x30:0x40])
	}

	next := int64(NcaFullHeaderSize + sectionHeaderSize + len(raw))
	return sections, next, nil
}

// readBlockHeader probes offset for an NCZBLOCK header. A magic mismatch
// means stream mode and returns (nil, offset, nil): the probed bytes belong
// to the zstd stream.
func readBlockHeader(r io.ReaderAt, offset int64) (*NczBlockHeader, int64, error) {
	probe := make([]byte, blockHeaderSize)
	if _, err := r.ReadAt(probe, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, offset, nil
		}
		return nil, 0, err
	}

	if string(probe[0:8]) != MagicNCZBLOCK {
		return nil, offset, nil
	}

	h := &NczBlockHeader{
		Version:          probe[8],
		Type:             probe[9],
		BlockSizeExp:     probe[11],
		BlockCount:       binary.LittleEndian.Uint32(probe[12:]),
		DecompressedSize: binary.LittleEndian.Uint64(probe[16:]),
	}

	if h.Version != 2 {
		return nil, 0, fmt.Errorf("%w: block header version %d", ErrFieldRange, h.Version)
	}
	if h.Type != 1 {
		return nil, 0, fmt.Errorf("%w: block header type %d", ErrFieldRange, h.Type)
	}
	if h.BlockSizeExp < blockSizeExpMin || h.BlockSizeExp > blockSizeExpMax {
		return nil, 0, fmt.Errorf("%w: block size exponent %d", ErrFieldRange, h.BlockSizeExp)
	}

	sizesRaw := make([]byte, int(h.BlockCount)*4)
	if _, err := r.ReadAt(sizesRaw, offset+blockHeaderSize); err != nil {
		return nil, 0, err
	}
	h.CompressedSizes = make([]uint32, h.BlockCount)
	for i := range h.CompressedSizes {
		h.CompressedSizes[i] = binary.LittleEndian.Uint32(sizesRaw[i*4:])
	}

	next := offset + blockHeaderSize + int64(len(sizesRaw))
	return h, next, nil
}
