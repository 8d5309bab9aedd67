package fs

import (
	"encoding/binary"
	"fmt"
)

// CNMT -> https://switchbrew.org/wiki/CNMT

const (
	ContentMetaTypeApplication = 0x80

	// Content record types.
	CnmtContentMeta             = 0
	CnmtContentProgram          = 1
	CnmtContentData             = 2
	CnmtContentControl          = 3
	CnmtContentHtmlDocument     = 4
	CnmtContentLegalInformation = 5

	cnmtHeaderSize         = 0x20
	cnmtExtendedHeaderSize = 0x10
	cnmtRecordSize         = 0x38
	cnmtDigestSize         = 0x20
)

// CnmtContent describes one NCA referenced by the content meta. NcaId is the
// first 16 bytes of Hash.
type CnmtContent struct {
	Hash []byte
	Size uint64
	Type byte
}

// BuildCnmt emits an Application packaged-content-meta record table.
func BuildCnmt(titleId uint64, titleVersion uint32, contents []CnmtContent) ([]byte, error) {
	out := make([]byte, cnmtHeaderSize+cnmtExtendedHeaderSize+len(contents)*cnmtRecordSize+cnmtDigestSize)

	binary.LittleEndian.PutUint64(out[0x00:], titleId)
	binary.LittleEndian.PutUint32(out[0x08:], titleVersion)
	out[0x0C] = ContentMetaTypeApplication
	binary.LittleEndian.PutUint16(out[0x0E:], cnmtExtendedHeaderSize)
	binary.LittleEndian.PutUint16(out[0x10:], uint16(len(contents)))

	// Extended application header: the patch title id, rest zero.
	binary.LittleEndian.PutUint64(out[cnmtHeaderSize:], titleId+0x800)

	for i, c := range contents {
		if len(c.Hash) != 0x20 {
			return nil, fmt.Errorf("%w: content hash must be 32 bytes", ErrFieldRange)
		}
		if c.Size >= 1<<48 {
			return nil, fmt.Errorf("%w: content size %#x exceeds 48 bits", ErrFieldRange, c.Size)
		}

		rec := out[cnmtHeaderSize+cnmtExtendedHeaderSize+i*cnmtRecordSize:]
		copy(rec[0x00:0x20], c.Hash)
		copy(rec[0x20:0x30], c.Hash[:0x10])
		binary.LittleEndian.PutUint32(rec[0x30:], uint32(c.Size))
		binary.LittleEndian.PutUint16(rec[0x34:], uint16(c.Size>>32))
		rec[0x36] = c.Type
		rec[0x37] = 0 // id offset
	}

	// Trailing 0x20-byte digest stays zero.
	return out, nil
}

// ParseCnmt reads back a packaged content meta, for inspection.
func ParseCnmt(data []byte) (titleId uint64, titleVersion uint32, contents []CnmtContent, err error) {
	if len(data) < cnmtHeaderSize+cnmtDigestSize {
		return 0, 0, nil, fmt.Errorf("%w: cnmt too short", ErrFieldRange)
	}

	titleId = binary.LittleEndian.Uint64(data[0x00:])
	titleVersion = binary.LittleEndian.Uint32(data[0x08:])
	extendedSize := binary.LittleEndian.Uint16(data[0x0E:])
	count := binary.LittleEndian.Uint16(data[0x10:])

	recordsStart := uint64(cnmtHeaderSize) + uint64(extendedSize)
	if recordsStart+uint64(count)*cnmtRecordSize+cnmtDigestSize > uint64(len(data)) {
		return 0, 0, nil, fmt.Errorf("%w: cnmt record table out of bounds", ErrFieldRange)
	}

	for i := uint16(0); i < count; i++ {
		rec := data[recordsStart+uint64(i)*cnmtRecordSize:]

		hash := make([]byte, 0x20)
		copy(hash, rec[0x00:0x20])
		size := uint64(binary.LittleEndian.Uint32(rec[0x30:])) |
			uint64(binary.LittleEndian.Uint16(rec[0x34:]))<<32

		contents = append(contents, CnmtContent{
			Hash: hash,
			Size: size,
			Type: rec[0x36],
		})
	}
	return titleId, titleVersion, contents, nil
}
