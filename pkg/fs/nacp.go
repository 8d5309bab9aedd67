package fs

import (
	"bytes"
	"fmt"
)

// NACP -> https://switchbrew.org/wiki/NACP

const (
	nacpTitleSlots     = 12
	nacpSlotStride     = 0x300
	nacpTitleSlotSize  = 0x200
	nacpPublisherSize  = 0x100
	nacpLogoHandling   = 0x30F1
	nacpMinimumSize    = 0x4000
)

// NacpPatch describes the in-place edits applied to a control.nacp.
type NacpPatch struct {
	// Title and Publisher, when non-empty, overwrite every localization
	// slot. Raw UTF-8, truncated to the slot size minus the terminator.
	Title     string
	Publisher string

	// SetLogoHandlingAuto zeroes the LogoHandling byte.
	SetLogoHandlingAuto bool
}

// PatchNacp edits nacp in place.
func PatchNacp(nacp []byte, patch NacpPatch) error {
	if len(nacp) < nacpMinimumSize {
		return fmt.Errorf("%w: control.nacp shorter than %#x bytes", ErrFieldRange, nacpMinimumSize)
	}

	if patch.SetLogoHandlingAuto {
		nacp[nacpLogoHandling] = 0
	}

	for i := 0; i < nacpTitleSlots; i++ {
		if patch.Title != "" {
			writeNacpString(nacp[i*nacpSlotStride:], nacpTitleSlotSize, patch.Title)
		}
		if patch.Publisher != "" {
			writeNacpString(nacp[i*nacpSlotStride+nacpTitleSlotSize:], nacpPublisherSize, patch.Publisher)
		}
	}
	return nil
}

// writeNacpString fills a fixed slot with a zero-padded UTF-8 string,
// clamped one byte short of the slot.
func writeNacpString(slot []byte, size int, value string) {
	raw := []byte(value)
	if len(raw) > size-1 {
		raw = raw[:size-1]
	}
	copy(slot[:size], raw)
	for i := len(raw); i < size; i++ {
		slot[i] = 0
	}
}

// NacpTitle reads back the title and publisher of a localization slot.
func NacpTitle(nacp []byte, slot int) (title, publisher string, err error) {
	if slot < 0 || slot >= nacpTitleSlots {
		return "", "", fmt.Errorf("%w: nacp slot %d", ErrFieldRange, slot)
	}
	if len(nacp) < nacpMinimumSize {
		return "", "", fmt.Errorf("%w: control.nacp shorter than %#x bytes", ErrFieldRange, nacpMinimumSize)
	}

	base := slot * nacpSlotStride
	title = readNacpString(nacp[base : base+nacpTitleSlotSize])
	publisher = readNacpString(nacp[base+nacpTitleSlotSize : base+nacpTitleSlotSize+nacpPublisherSize])
	return title, publisher, nil
}

func readNacpString(slot []byte) string {
	if i := bytes.IndexByte(slot, 0); i >= 0 {
		slot = slot[:i]
	}
	return string(slot)
}
