package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/switch-tools-go/pkg/crypto"
)

const (
	MagicIVFC = "IVFC"

	IvfcHeaderSize = 0xE0
	ivfcBlockSize  = 0x4000
	ivfcBlockLog2  = 0x0E
	ivfcHashLevels = 5
)

// Ivfc holds the integrity data for one RomFS section: the 0xE0 header and
// the five hash levels, top-down, each padded to the 0x4000 block size. The
// section body is the concatenation of HashLevels followed by the data.
type Ivfc struct {
	Header     []byte
	HashLevels [ivfcHashLevels][]byte
	DataLen    uint64
}

// BuildIvfc hashes data bottom-up into five SHA-256 levels over 0x4000-byte
// blocks and assembles the IVFC header. data must already be padded to a
// 0x4000 boundary.
func BuildIvfc(data []byte) (*Ivfc, error) {
	if len(data) == 0 || len(data)%ivfcBlockSize != 0 {
		return nil, fmt.Errorf("%w: ivfc input must be a non-empty multiple of 0x4000", ErrMisaligned)
	}

	ivfc := &Ivfc{DataLen: uint64(len(data))}

	// Level 5 hashes the data; each level above hashes the one below.
	level := data
	for i := ivfcHashLevels - 1; i >= 0; i-- {
		numBlocks := (len(level) + ivfcBlockSize - 1) / ivfcBlockSize
		hashes := make([]byte, alignUp(uint64(numBlocks)*0x20, ivfcBlockSize))
		for j := 0; j < numBlocks; j++ {
			start := j * ivfcBlockSize
			end := start + ivfcBlockSize
			if end > len(level) {
				end = len(level)
			}
			copy(hashes[j*0x20:], crypto.Sha256(level[start:end]))
		}
		ivfc.HashLevels[i] = hashes
		level = hashes
	}

	masterHash := crypto.Sha256(ivfc.HashLevels[0])

	header := make([]byte, IvfcHeaderSize)
	copy(header[0x00:], MagicIVFC)
	binary.LittleEndian.PutUint32(header[0x04:], 0x20000)
	binary.LittleEndian.PutUint32(header[0x08:], 0x20) // master hash size
	binary.LittleEndian.PutUint32(header[0x0C:], ivfcHashLevels+2)

	// Six level descriptors: five hash levels then the data level, with
	// cumulative logical offsets. The data descriptor carries the true
	// (unpadded) data length.
	var logicalOffset uint64
	for i := 0; i < ivfcHashLevels+1; i++ {
		size := ivfc.DataLen
		if i < ivfcHashLevels {
			size = uint64(len(ivfc.HashLevels[i]))
		}

		desc := header[0x10+i*0x18:]
		binary.LittleEndian.PutUint64(desc[0x00:], logicalOffset)
		binary.LittleEndian.PutUint64(desc[0x08:], size)
		binary.LittleEndian.PutUint32(desc[0x10:], ivfcBlockLog2)

		logicalOffset += size
	}

	copy(header[0xC0:], masterHash)
	ivfc.Header = header
	return ivfc, nil
}

// SectionData returns the RomFS section body: hash levels 1..5 followed by
// the data itself.
func (i *Ivfc) SectionData(data []byte) []byte {
	var out []byte
	for _, level := range i.HashLevels {
		out = append(out, level...)
	}
	return append(out, data...)
}

// MasterHash returns the SHA-256 of the padded level-1 output.
func (i *Ivfc) MasterHash() []byte {
	return i.Header[0xC0:0xE0]
}
