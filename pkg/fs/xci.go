package fs

import (
	"fmt"
	"io"
)

const (
	MagicHEAD = "HEAD"

	xciMagicOffset = 0x100

	// The root HFS0 usually sits at 0xF000; older dumps place it at
	// 0x10000.
	xciRootOffset         = 0xF000
	xciRootOffsetFallback = 0x10000
)

// XciFile locates one file of the secure partition within the image.
type XciFile struct {
	Name   string
	Offset int64
	Size   uint64
}

// Xci is the parsed locator of a gamecard image: the root partitions and the
// secure partition's file map.
type Xci struct {
	RootPartitions []Hfs0File
	Secure         []XciFile
}

// OpenXci validates the gamecard header and walks root HFS0 partitions,
// surfacing the "secure" partition as the primary file map.
func OpenXci(r io.ReaderAt) (*Xci, error) {
	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, xciMagicOffset); err != nil {
		return nil, err
	}
	if string(magic) != MagicHEAD {
		return nil, fmt.Errorf("%w: expected HEAD, got %q", ErrInvalidMagic, magic)
	}

	rootOffset := int64(xciRootOffset)
	roots, rootDataStart, err := OpenHfs0(r, rootOffset)
	if err != nil {
		rootOffset = xciRootOffsetFallback
		roots, rootDataStart, err = OpenHfs0(r, rootOffset)
		if err != nil {
			return nil, fmt.Errorf("xci: root hfs0: %w", err)
		}
	}

	xci := &Xci{RootPartitions: roots}

	for _, root := range roots {
		if root.Name != "secure" {
			continue
		}

		secureOffset := rootDataStart + int64(root.Entry.DataOffset)
		files, dataStart, err := OpenHfs0(r, secureOffset)
		if err != nil {
			return nil, fmt.Errorf("xci: secure hfs0: %w", err)
		}
		for _, f := range files {
			xci.Secure = append(xci.Secure, XciFile{
				Name:   f.Name,
				Offset: dataStart + int64(f.Entry.DataOffset),
				Size:   f.Entry.DataSize,
			})
		}
	}

	return xci, nil
}
