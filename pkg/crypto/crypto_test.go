package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func xtsTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := hex.DecodeString("00112233445566778899AABBCCDDEEFFAABBCCDDEEFF00112233445566778899")
	require.NoError(t, err)
	return key
}

func rampPlaintext(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestXTSEncryptSector0(t *testing.T) {
	out, err := XTSEncryptSectors(rampPlaintext(512), xtsTestKey(t), 512, 0)
	require.NoError(t, err)

	want, _ := hex.DecodeString("7575d42fde6b2f7190ff26861970b889b0f7d93951047e4913017c4a6dd4a1cc")
	assert.Equal(t, want, out[:32])
}

func TestXTSEncryptSector1(t *testing.T) {
	out, err := XTSEncryptSectors(rampPlaintext(512), xtsTestKey(t), 512, 1)
	require.NoError(t, err)

	want, _ := hex.DecodeString("d573fc38797f8affbe2bd3b104b0ef085667c568fed42c7773f8e936e780d1f5")
	assert.Equal(t, want, out[:32])
}

func TestXTSRoundTrip(t *testing.T) {
	key := xtsTestKey(t)
	data := rampPlaintext(0xC00)

	enc, err := XTSEncryptSectors(data, key, 0x200, 0)
	require.NoError(t, err)
	require.NotEqual(t, data, enc)

	dec, err := XTSDecryptSectors(enc, key, 0x200, 0)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestXTSDeterministic(t *testing.T) {
	key := xtsTestKey(t)
	data := rampPlaintext(1024)

	a, err := XTSEncryptSectors(data, key, 512, 7)
	require.NoError(t, err)
	b, err := XTSEncryptSectors(data, key, 512, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestXTSSectorOffsetMatters(t *testing.T) {
	key := xtsTestKey(t)
	data := rampPlaintext(512)

	a, err := XTSEncryptSectors(data, key, 512, 0)
	require.NoError(t, err)
	b, err := XTSEncryptSectors(data, key, 512, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestXTSMisaligned(t *testing.T) {
	key := xtsTestKey(t)

	_, err := XTSEncryptSectors(make([]byte, 100), key, 512, 0)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = XTSEncryptSectors(make([]byte, 512), key, 24, 0)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = XTSEncryptSectors(make([]byte, 512), key[:16], 512, 0)
	assert.ErrorIs(t, err, ErrKeyLength)
}

func TestGFMul2(t *testing.T) {
	tweak := make([]byte, 16)
	tweak[0] = 0x01
	mul2(tweak)

	want := make([]byte, 16)
	want[0] = 0x02
	assert.Equal(t, want, tweak)

	// Carry out of the top bit applies the 0x87 reduction.
	tweak = make([]byte, 16)
	tweak[15] = 0x80
	mul2(tweak)

	want = make([]byte, 16)
	want[0] = 0x87
	assert.Equal(t, want, tweak)
}

func TestECBRoundTrip(t *testing.T) {
	key := rampPlaintext(16)
	data := rampPlaintext(64)

	enc, err := ECBEncrypt(data, key)
	require.NoError(t, err)

	dec, err := ECBDecrypt(enc, key)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestECBMisaligned(t *testing.T) {
	_, err := ECBEncrypt(make([]byte, 17), rampPlaintext(16))
	assert.ErrorIs(t, err, ErrMisaligned)
}

func TestCTROffsetContinuity(t *testing.T) {
	key := rampPlaintext(16)
	iv := make([]byte, 16)
	data := rampPlaintext(256)

	// Encrypting as one run or as two runs split at a 16-byte boundary
	// must produce the same stream.
	whole := append([]byte(nil), data...)
	require.NoError(t, CTRCrypt(whole, key, iv, 0x4000))

	split := append([]byte(nil), data...)
	require.NoError(t, CTRCrypt(split[:128], key, iv, 0x4000))
	require.NoError(t, CTRCrypt(split[128:], key, iv, 0x4000+128))

	assert.Equal(t, whole, split)

	// And CTR is symmetric.
	require.NoError(t, CTRCrypt(whole, key, iv, 0x4000))
	assert.Equal(t, data, whole)
}

func TestPssSignAndVerify(t *testing.T) {
	payload := rampPlaintext(0x200)

	sig, err := PssSign(payload)
	require.NoError(t, err)
	assert.Len(t, sig, 256)

	require.NoError(t, PssVerify(payload, sig))

	// Tampered payload fails verification.
	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 1
	assert.Error(t, PssVerify(tampered, sig))
}

func TestPublicModulus(t *testing.T) {
	mod, err := PublicModulus()
	require.NoError(t, err)
	assert.Len(t, mod, 256)
	assert.False(t, bytes.Equal(mod, make([]byte, 256)))
}
