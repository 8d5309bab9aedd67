package fs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/switch-tools-go/pkg/crypto"
)

func TestBuildIvfcHeader(t *testing.T) {
	data := bytes.Repeat([]byte{0xC3}, 0x8000)
	ivfc, err := BuildIvfc(data)
	require.NoError(t, err)

	h := ivfc.Header
	require.Len(t, h, 0xE0)
	assert.Equal(t, "IVFC", string(h[0:4]))
	assert.Equal(t, uint32(0x20000), binary.LittleEndian.Uint32(h[0x04:]))
	assert.Equal(t, uint32(0x20), binary.LittleEndian.Uint32(h[0x08:]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(h[0x0C:]))

	// Level descriptors: cumulative offsets, 0x4000-padded sizes, and the
	// unpadded data length in the last descriptor.
	var offset uint64
	for i := 0; i < 6; i++ {
		desc := h[0x10+i*0x18:]
		assert.Equal(t, offset, binary.LittleEndian.Uint64(desc[0x00:]), "level %d offset", i+1)

		size := binary.LittleEndian.Uint64(desc[0x08:])
		if i < 5 {
			assert.Equal(t, uint64(len(ivfc.HashLevels[i])), size)
		} else {
			assert.Equal(t, uint64(len(data)), size)
		}
		assert.Equal(t, uint32(0x0E), binary.LittleEndian.Uint32(desc[0x10:]))
		offset += size
	}
}

func TestIvfcMasterHash(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 0x4000)
	ivfc, err := BuildIvfc(data)
	require.NoError(t, err)

	assert.Equal(t, crypto.Sha256(ivfc.HashLevels[0]), ivfc.MasterHash())
}

func TestIvfcLevelChain(t *testing.T) {
	// Two data blocks: level 5 holds both hashes, zero padded to 0x4000.
	data := append(bytes.Repeat([]byte{1}, 0x4000), bytes.Repeat([]byte{2}, 0x4000)...)
	ivfc, err := BuildIvfc(data)
	require.NoError(t, err)

	level5 := ivfc.HashLevels[4]
	require.Len(t, level5, 0x4000)
	assert.Equal(t, crypto.Sha256(data[:0x4000]), level5[0x00:0x20])
	assert.Equal(t, crypto.Sha256(data[0x4000:]), level5[0x20:0x40])
	assert.Equal(t, make([]byte, 0x4000-0x40), level5[0x40:])

	// Every level above hashes the padded level below.
	for i := 3; i >= 0; i-- {
		assert.Equal(t, crypto.Sha256(ivfc.HashLevels[i+1]), ivfc.HashLevels[i][0:0x20])
	}
}

func TestIvfcSectionData(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 0x4000)
	ivfc, err := BuildIvfc(data)
	require.NoError(t, err)

	section := ivfc.SectionData(data)
	want := 5*0x4000 + len(data)
	assert.Len(t, section, want)
	assert.Equal(t, data, section[5*0x4000:])
}

func TestIvfcMisaligned(t *testing.T) {
	_, err := BuildIvfc(make([]byte, 0x100))
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = BuildIvfc(nil)
	assert.ErrorIs(t, err, ErrMisaligned)
}
