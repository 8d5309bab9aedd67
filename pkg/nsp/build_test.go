package nsp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/switch-tools-go/pkg/fs"
	"github.com/falk/switch-tools-go/pkg/keys"
)

const testKeys = `
header_key    = 2e36cc55157a351090a73e7ae77cf581f69b0b6e48fb066c984879a6ed7d2e96
master_key_00 = c2caaff089b9aed55694876055271c7d
aes_kek_generation_source       = 4d870986c45d20722fba1053da92e8a9
aes_key_generation_source       = 89615ee05c31b6805fe58f3da24f7aa8
key_area_key_application_source = 7f59971e629f36a13098066f2144c30d
`

const testTitleId = 0x0100000000001000

func testNpdm() []byte {
	npdm := make([]byte, 0x700)
	copy(npdm, fs.MagicMETA)
	binary.LittleEndian.PutUint32(npdm[0x70:], 0x400) // ACI0
	binary.LittleEndian.PutUint32(npdm[0x78:], 0x80)  // ACID
	copy(npdm[0x400:], fs.MagicACI0)
	binary.LittleEndian.PutUint64(npdm[0x410:], testTitleId)
	copy(npdm[0x280:], fs.MagicACID)
	return npdm
}

func testOptions() Options {
	return Options{
		KeysText: testKeys,
		ExeFs: map[string][]byte{
			"main.npdm": testNpdm(),
			"main":      bytes.Repeat([]byte{0x90}, 0x800),
		},
		Control: map[string][]byte{
			"control.nacp":             make([]byte, 0x4000),
			"icon_AmericanEnglish.dat": bytes.Repeat([]byte{0xAA}, 0x200),
		},
	}
}

func TestBuildMinimal(t *testing.T) {
	result, err := Build(testOptions())
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("%016x", uint64(testTitleId)), result.TitleId)
	assert.Equal(t, result.TitleId+".nsp", result.Filename)
	require.Len(t, result.NcaIds, 3) // program, control, meta

	files, _, err := fs.OpenPfs0(bytes.NewReader(result.Nsp))
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, result.NcaIds[0]+".nca", files[0].Name)
	assert.Equal(t, result.NcaIds[1]+".nca", files[1].Name)
	assert.Equal(t, result.NcaIds[2]+".cnmt.nca", files[2].Name)
}

func TestBuildNcaContentTypes(t *testing.T) {
	opts := testOptions()
	opts.RomFs = fs.RomFsFromMap(map[string][]byte{"romdata.bin": bytes.Repeat([]byte{5}, 0x100)})

	result, err := Build(opts)
	require.NoError(t, err)

	keySet, err := keys.ParseText(testKeys, 0)
	require.NoError(t, err)

	files, dataStart, err := fs.OpenPfs0(bytes.NewReader(result.Nsp))
	require.NoError(t, err)

	wantTypes := []byte{fs.NcaContentProgram, fs.NcaContentControl, fs.NcaContentMeta}
	for i, f := range files {
		start := dataStart + int64(f.Entry.DataOffset)
		nca := result.Nsp[start : start+int64(f.Entry.DataSize)]

		info, err := fs.InspectNcaHeader(nca, keySet)
		require.NoError(t, err, f.Name)
		assert.Equal(t, wantTypes[i], info.ContentType, f.Name)
		assert.Equal(t, uint64(len(nca)), info.ContentSize, f.Name)
		assert.Equal(t, uint64(testTitleId), info.TitleId, f.Name)
	}
}

func TestBuildMetaCnmt(t *testing.T) {
	opts := testOptions()
	opts.Plaintext = true

	result, err := Build(opts)
	require.NoError(t, err)

	files, dataStart, err := fs.OpenPfs0(bytes.NewReader(result.Nsp))
	require.NoError(t, err)
	metaEntry := files[len(files)-1]

	start := dataStart + int64(metaEntry.Entry.DataOffset)
	meta := result.Nsp[start : start+int64(metaEntry.Entry.DataSize)]

	// With plaintext sections, the meta body holds the 0x200-padded hash
	// table followed by the CNMT's PFS0 wrapper.
	body := meta[0xC00:]
	cnmtPfs0 := body[0x200:]

	inner, innerData, err := fs.OpenPfs0(bytes.NewReader(cnmtPfs0))
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, fmt.Sprintf("Application_%016x.cnmt", uint64(testTitleId)), inner[0].Name)

	cnmt := cnmtPfs0[innerData : innerData+int64(inner[0].Entry.DataSize)]
	titleId, _, contents, err := fs.ParseCnmt(cnmt)
	require.NoError(t, err)
	assert.Equal(t, uint64(testTitleId), titleId)
	require.Len(t, contents, 2)

	assert.Equal(t, byte(fs.CnmtContentProgram), contents[0].Type)
	assert.Equal(t, byte(fs.CnmtContentControl), contents[1].Type)

	// Records carry each NCA's hash prefix as its id and the exact size.
	for i, c := range contents {
		assert.Equal(t, files[i].Entry.DataSize, c.Size)
		assert.Equal(t, fmt.Sprintf("%x", c.Hash[:16])+".nca", files[i].Name)
	}
}

func TestBuildWithManuals(t *testing.T) {
	opts := testOptions()
	opts.HtmlDoc = fs.RomFsFromMap(map[string][]byte{"index.html": []byte("<html/>")})
	opts.LegalInfo = fs.RomFsFromMap(map[string][]byte{"legal.xml": []byte("<legal/>")})

	result, err := Build(opts)
	require.NoError(t, err)
	assert.Len(t, result.NcaIds, 5)

	files, _, err := fs.OpenPfs0(bytes.NewReader(result.Nsp))
	require.NoError(t, err)
	assert.Len(t, files, 5)
}

func TestBuildMissingInputs(t *testing.T) {
	opts := testOptions()
	delete(opts.ExeFs, "main.npdm")
	_, err := Build(opts)
	assert.ErrorIs(t, err, fs.ErrMissingInput)

	opts = testOptions()
	delete(opts.Control, "control.nacp")
	_, err = Build(opts)
	assert.ErrorIs(t, err, fs.ErrMissingInput)

	opts = testOptions()
	delete(opts.Control, "icon_AmericanEnglish.dat")
	_, err = Build(opts)
	assert.ErrorIs(t, err, fs.ErrMissingInput)

	opts = testOptions()
	opts.KeysText = ""
	_, err = Build(opts)
	assert.ErrorIs(t, err, fs.ErrMissingInput)
}

func TestBuildDoesNotMutateInputs(t *testing.T) {
	opts := testOptions()
	opts.TitleName = "Patched"
	npdmBefore := append([]byte(nil), opts.ExeFs["main.npdm"]...)
	nacpBefore := append([]byte(nil), opts.Control["control.nacp"]...)

	_, err := Build(opts)
	require.NoError(t, err)

	assert.Equal(t, npdmBefore, opts.ExeFs["main.npdm"])
	assert.Equal(t, nacpBefore, opts.Control["control.nacp"])
}

func TestBuildToMatchesBuild(t *testing.T) {
	result, err := Build(testOptions())
	require.NoError(t, err)

	var buf seekBuffer
	streamed, err := BuildTo(&buf, testOptions())
	require.NoError(t, err)

	assert.Equal(t, result.NcaIds, streamed.NcaIds)

	files, _, err := fs.OpenPfs0(bytes.NewReader(buf.data))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

type seekBuffer struct {
	data []byte
	pos  int64
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = offset
	case 1:
		b.pos += offset
	case 2:
		b.pos = int64(len(b.data)) + offset
	}
	return b.pos, nil
}
