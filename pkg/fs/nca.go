package fs

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/falk/switch-tools-go/pkg/crypto"
	"github.com/falk/switch-tools-go/pkg/keys"
)

//https://switchbrew.org/wiki/NCA

const (
	NcaHeaderSize = 0xC00 // NCA header structure size
	MediaSize     = 0x200 // Sector/media unit size
	MagicNCA3     = "NCA3"

	// Content types
	NcaContentProgram = 0
	NcaContentMeta    = 1
	NcaContentControl = 2
	NcaContentManual  = 3

	// Crypto types from FS header
	CryptoTypeNone = 1
	CryptoTypeXTS  = 2
	CryptoTypeCTR  = 3

	// Hash table block sizes per section kind.
	ExeFsBlockSize = 0x10000
	LogoBlockSize  = 0x1000
	MetaBlockSize  = 0x1000

	fsHeaderSize = 0x200
	maxSections  = 4
)

// NcaSection is one section body plus its finished FS header, ready for
// assembly.
type NcaSection struct {
	data      []byte
	fsHeader  [fsHeaderSize]byte
	cryptType byte
}

// PaddedSize returns the section size rounded up to media units.
func (s *NcaSection) PaddedSize() uint64 {
	return alignUp(uint64(len(s.data)), MediaSize)
}

// NewPfs0Section wraps a PFS0 into a hashed NCA section: the SHA-256 block
// hash table followed by the archive, with the PFS0 superblock in the FS
// header. cryptType is CryptoTypeCTR for encrypted sections, CryptoTypeNone
// for the logo.
func NewPfs0Section(pfs0 []byte, blockSize uint32, cryptType byte) *NcaSection {
	table, hashDataLen := CreatePfs0HashTable(pfs0, blockSize)
	masterHash := CalculatePfs0MasterHash(table, hashDataLen)

	s := &NcaSection{
		data:      append(append([]byte{}, table...), pfs0...),
		cryptType: cryptType,
	}

	h := s.fsHeader[:]
	binary.LittleEndian.PutUint16(h[0x00:], 2) // version
	h[0x02] = 1                                // fs type: PFS0
	h[0x03] = 2                                // hash type: hierarchical SHA-256

	// PFS0 superblock.
	sb := h[0x08:]
	copy(sb[0x00:0x20], masterHash)
	binary.LittleEndian.PutUint32(sb[0x20:], blockSize)
	binary.LittleEndian.PutUint32(sb[0x24:], 2)
	binary.LittleEndian.PutUint64(sb[0x28:], 0)                  // hash table offset
	binary.LittleEndian.PutUint64(sb[0x30:], hashDataLen)        // hash table size
	binary.LittleEndian.PutUint64(sb[0x38:], uint64(len(table))) // pfs0 offset
	binary.LittleEndian.PutUint64(sb[0x40:], uint64(len(pfs0)))  // pfs0 size

	return s
}

// NewRomFsSection builds the IVFC tree over a RomFS image and wraps it into
// an NCA section: hash levels 1..5 followed by the image, with the IVFC
// header as the superblock. The image is padded to 0x4000 first.
func NewRomFsSection(romfs []byte) (*NcaSection, error) {
	padded := append([]byte{}, romfs...)
	padded = append(padded, make([]byte, alignUp(uint64(len(romfs)), 0x4000)-uint64(len(romfs)))...)

	ivfc, err := BuildIvfc(padded)
	if err != nil {
		return nil, err
	}

	s := &NcaSection{
		data:      ivfc.SectionData(padded),
		cryptType: CryptoTypeCTR,
	}

	h := s.fsHeader[:]
	binary.LittleEndian.PutUint16(h[0x00:], 2) // version
	h[0x02] = 0                                // fs type: RomFS
	h[0x03] = 3                                // hash type: hierarchical IVFC
	copy(h[0x08:], ivfc.Header)

	return s, nil
}

// NcaOptions configures BuildNca.
type NcaOptions struct {
	ContentType byte
	TitleId     uint64
	SdkVersion  uint32

	// KeyGeneration is 1-based (1 = generation 0 keys).
	KeyGeneration int

	// KeyAreaKey is the plaintext per-NCA body key placed in key-area
	// slot 2 before the area is sealed.
	KeyAreaKey []byte

	Keys *keys.KeySet

	// Plaintext skips section body encryption (sections keep their
	// declared crypt type).
	Plaintext bool

	// Sign writes an RSA-PSS signature over the header's signed region.
	Sign bool
}

// Nca is a finished content archive.
type Nca struct {
	Data []byte
	Hash []byte // SHA-256 of the encrypted envelope
}

// Id returns the NCA id: lower-hex of the first half of the hash.
func (n *Nca) Id() string {
	return hex.EncodeToString(n.Hash[:16])
}

// Size returns the envelope length.
func (n *Nca) Size() uint64 {
	return uint64(len(n.Data))
}

// BuildNca assembles, signs and encrypts a content archive from its
// sections. Section bodies are placed after the 0xC00 header in order, each
// padded to media units.
func BuildNca(sections []*NcaSection, opts NcaOptions) (*Nca, error) {
	if len(sections) == 0 || len(sections) > maxSections {
		return nil, fmt.Errorf("%w: nca wants 1..4 sections, got %d", ErrFieldRange, len(sections))
	}
	if opts.KeyGeneration < 1 || opts.KeyGeneration > keys.NumGenerations {
		return nil, fmt.Errorf("%w: key generation %d", ErrFieldRange, opts.KeyGeneration)
	}
	if len(opts.KeyAreaKey) != 16 {
		return nil, fmt.Errorf("%w: key area key must be 16 bytes", ErrFieldRange)
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("%w: key set", ErrMissingInput)
	}

	headerKey := opts.Keys.HeaderKey()
	if headerKey == nil {
		return nil, fmt.Errorf("%w: header_key not derivable from key set", ErrMissingInput)
	}
	keyAreaKek := opts.Keys.KeyAreaKey(opts.KeyGeneration-1, keys.KeyAreaApplication)
	if keyAreaKek == nil {
		return nil, fmt.Errorf("%w: key_area_key_application for generation %d", ErrMissingInput, opts.KeyGeneration)
	}

	// Section offsets and total size.
	offsets := make([]uint64, len(sections))
	total := uint64(NcaHeaderSize)
	for i, s := range sections {
		offsets[i] = total
		total += s.PaddedSize()
	}

	envelope := make([]byte, total)
	for i, s := range sections {
		copy(envelope[offsets[i]:], s.data)
	}

	// Main header fields.
	copy(envelope[0x200:], MagicNCA3)
	envelope[0x204] = 0 // distribution: download
	envelope[0x205] = opts.ContentType
	if opts.KeyGeneration == 1 {
		envelope[0x206] = 0
	} else {
		envelope[0x206] = 2
	}
	envelope[0x207] = 0 // key area encryption key index
	binary.LittleEndian.PutUint64(envelope[0x208:], total)
	binary.LittleEndian.PutUint64(envelope[0x210:], opts.TitleId)
	binary.LittleEndian.PutUint32(envelope[0x21C:], opts.SdkVersion)
	if opts.KeyGeneration > 2 {
		envelope[0x220] = byte(opts.KeyGeneration)
	}

	// Section entries: media-unit ranges, one per section.
	for i, s := range sections {
		entry := envelope[0x240+i*0x10:]
		binary.LittleEndian.PutUint32(entry[0x00:], uint32(offsets[i]/MediaSize))
		binary.LittleEndian.PutUint32(entry[0x04:], uint32((offsets[i]+s.PaddedSize())/MediaSize))
		entry[0x08] = 1
	}

	// FS headers, then their hashes. The crypt type and section counter
	// must be in place before hashing.
	for i, s := range sections {
		fsh := envelope[0x400+i*fsHeaderSize : 0x400+(i+1)*fsHeaderSize]
		copy(fsh, s.fsHeader[:])
		fsh[0x04] = s.cryptType
		binary.LittleEndian.PutUint32(fsh[0x140:], uint32(i))

		copy(envelope[0x280+i*0x20:], crypto.Sha256(fsh))
	}

	// Plaintext body key into key-area slot 2.
	copy(envelope[0x320:0x330], opts.KeyAreaKey)

	if opts.Sign {
		sig, err := crypto.PssSign(envelope[0x200:0x400])
		if err != nil {
			return nil, err
		}
		copy(envelope[0x100:0x200], sig)
	}

	// Section bodies: AES-CTR keyed by the body key, counter seeded from
	// the section counter and the byte offset within the NCA.
	if !opts.Plaintext {
		for i, s := range sections {
			if s.cryptType != CryptoTypeCTR {
				continue
			}
			iv := sectionIv(envelope[0x400+i*fsHeaderSize+0x140 : 0x400+i*fsHeaderSize+0x148])
			body := envelope[offsets[i] : offsets[i]+s.PaddedSize()]
			if err := crypto.CTRCrypt(body, opts.KeyAreaKey, iv, int64(offsets[i])); err != nil {
				return nil, err
			}
		}
	}

	// Seal the key area, then the whole header.
	sealed, err := crypto.ECBEncrypt(envelope[0x300:0x340], keyAreaKek)
	if err != nil {
		return nil, err
	}
	copy(envelope[0x300:0x340], sealed)

	encHeader, err := crypto.XTSEncryptSectors(envelope[:NcaHeaderSize], headerKey, MediaSize, 0)
	if err != nil {
		return nil, err
	}
	copy(envelope, encHeader)

	return &Nca{
		Data: envelope,
		Hash: crypto.Sha256(envelope),
	}, nil
}

// sectionIv builds the 16-byte CTR base from the 8-byte section counter:
// the counter bytes reversed into the top half, block number below.
func sectionIv(counter []byte) []byte {
	iv := make([]byte, 16)
	for i := 0; i < 8; i++ {
		iv[i] = counter[7-i]
	}
	return iv
}

// NcaHeaderInfo is the decrypted summary of a finished NCA's header.
type NcaHeaderInfo struct {
	ContentType   byte
	ContentSize   uint64
	TitleId       uint64
	SdkVersion    uint32
	KeyGeneration byte
	SectionCount  int
}

// InspectNcaHeader decrypts and parses the header of a finished NCA, for
// inspection tooling.
func InspectNcaHeader(encrypted []byte, set *keys.KeySet) (*NcaHeaderInfo, error) {
	if len(encrypted) < NcaHeaderSize {
		return nil, fmt.Errorf("%w: nca shorter than header", ErrFieldRange)
	}
	headerKey := set.HeaderKey()
	if headerKey == nil {
		return nil, fmt.Errorf("%w: header_key", ErrMissingInput)
	}

	header, err := crypto.XTSDecryptSectors(encrypted[:NcaHeaderSize], headerKey, MediaSize, 0)
	if err != nil {
		return nil, err
	}

	if string(header[0x200:0x204]) != MagicNCA3 {
		return nil, fmt.Errorf("%w: expected NCA3, got %q", ErrInvalidMagic, header[0x200:0x204])
	}

	info := &NcaHeaderInfo{
		ContentType:   header[0x205],
		ContentSize:   binary.LittleEndian.Uint64(header[0x208:]),
		TitleId:       binary.LittleEndian.Uint64(header[0x210:]),
		SdkVersion:    binary.LittleEndian.Uint32(header[0x21C:]),
		KeyGeneration: header[0x220],
	}
	for i := 0; i < maxSections; i++ {
		entry := header[0x240+i*0x10:]
		if binary.LittleEndian.Uint32(entry[0x00:]) == 0 && binary.LittleEndian.Uint32(entry[0x04:]) == 0 {
			continue
		}
		info.SectionCount++
	}
	return info, nil
}
