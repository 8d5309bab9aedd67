package fs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCnmt(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAB}, 0x20)
	out, err := BuildCnmt(0x0100000000001000, 0, []CnmtContent{
		{Hash: hash, Size: 0x100000, Type: CnmtContentProgram},
	})
	require.NoError(t, err)

	assert.Len(t, out, 0x88)

	assert.Equal(t, uint64(0x0100000000001000), binary.LittleEndian.Uint64(out[0x00:]))
	assert.Equal(t, byte(ContentMetaTypeApplication), out[0x0C])
	assert.Equal(t, uint16(0x10), binary.LittleEndian.Uint16(out[0x0E:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(out[0x10:]))

	// Extended application header: patch title id.
	assert.Equal(t, uint64(0x0100000000001800), binary.LittleEndian.Uint64(out[0x20:]))

	rec := out[0x30:]
	assert.Equal(t, hash, rec[0x00:0x20])
	assert.Equal(t, hash[:0x10], rec[0x20:0x30])
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0x00}, rec[0x30:0x34])
	assert.Equal(t, []byte{0x00, 0x00}, rec[0x34:0x36])
	assert.Equal(t, byte(CnmtContentProgram), rec[0x36])
	assert.Equal(t, byte(0), rec[0x37])

	// Trailing digest stays zero.
	assert.Equal(t, make([]byte, 0x20), out[0x68:])
}

func TestCnmtSizeRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{1}, 0x20)
	for _, size := range []uint64{0, 1, 0x100000, 0xFFFFFFFF, 0x123456789A, 0xFFFFFFFFFFFF} {
		out, err := BuildCnmt(0x0100000000001000, 7, []CnmtContent{
			{Hash: hash, Size: size, Type: CnmtContentControl},
		})
		require.NoError(t, err)

		titleId, version, contents, err := ParseCnmt(out)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0100000000001000), titleId)
		assert.Equal(t, uint32(7), version)
		require.Len(t, contents, 1)
		assert.Equal(t, size, contents[0].Size)
		assert.Equal(t, byte(CnmtContentControl), contents[0].Type)
	}
}

func TestCnmtSizeOverflow(t *testing.T) {
	hash := bytes.Repeat([]byte{1}, 0x20)
	_, err := BuildCnmt(0x0100000000001000, 0, []CnmtContent{
		{Hash: hash, Size: 1 << 48, Type: CnmtContentProgram},
	})
	assert.ErrorIs(t, err, ErrFieldRange)
}

func TestCnmtBadHashLength(t *testing.T) {
	_, err := BuildCnmt(0x0100000000001000, 0, []CnmtContent{
		{Hash: []byte{1, 2, 3}, Size: 1, Type: CnmtContentProgram},
	})
	assert.ErrorIs(t, err, ErrFieldRange)
}
