package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/falk/switch-tools-go/pkg/crypto"
)

const (
	MagicMETA = "META"
	MagicACI0 = "ACI0"
	MagicACID = "ACID"

	// Application title ids live in this range.
	TitleIdMin = 0x0100000000000000
	TitleIdMax = 0x0FFFFFFFFFFFFFFF
)

// NpdmOptions controls ProcessNpdm.
type NpdmOptions struct {
	// TitleIdOverride, when nonzero, is written back into the ACI0.
	TitleIdOverride uint64

	// PatchAcidKey replaces the ACID public modulus with the embedded
	// signing key's modulus.
	PatchAcidKey bool
}

// ProcessNpdm validates the META/ACI0/ACID structure of an NPDM, extracts
// (and optionally overrides) the title id, and optionally patches the ACID
// public key. npdm is modified in place.
func ProcessNpdm(npdm []byte, opts NpdmOptions) (titleId uint64, err error) {
	if len(npdm) < 0x80 {
		return 0, fmt.Errorf("%w: npdm shorter than META header", ErrFieldRange)
	}
	if string(npdm[0x00:0x04]) != MagicMETA {
		return 0, fmt.Errorf("%w: npdm META", ErrInvalidMagic)
	}

	aci0Offset := binary.LittleEndian.Uint32(npdm[0x70:])
	acidOffset := binary.LittleEndian.Uint32(npdm[0x78:])

	if uint64(aci0Offset)+0x18 > uint64(len(npdm)) {
		return 0, fmt.Errorf("%w: npdm ACI0 offset", ErrFieldRange)
	}
	if string(npdm[aci0Offset:aci0Offset+4]) != MagicACI0 {
		return 0, fmt.Errorf("%w: npdm ACI0", ErrInvalidMagic)
	}

	if uint64(acidOffset)+0x204 > uint64(len(npdm)) {
		return 0, fmt.Errorf("%w: npdm ACID offset", ErrFieldRange)
	}
	if string(npdm[acidOffset+0x200:acidOffset+0x204]) != MagicACID {
		return 0, fmt.Errorf("%w: npdm ACID", ErrInvalidMagic)
	}

	titleId = binary.LittleEndian.Uint64(npdm[aci0Offset+0x10:])
	if opts.TitleIdOverride != 0 {
		titleId = opts.TitleIdOverride
		binary.LittleEndian.PutUint64(npdm[aci0Offset+0x10:], titleId)
	}

	if titleId < TitleIdMin || titleId > TitleIdMax {
		return 0, fmt.Errorf("%w: title id %016x outside application range", ErrFieldRange, titleId)
	}

	if opts.PatchAcidKey {
		modulus, err := crypto.PublicModulus()
		if err != nil {
			return 0, err
		}
		copy(npdm[acidOffset+0x100:acidOffset+0x200], modulus)
	}

	return titleId, nil
}
