package fs

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicHFS0 = "HFS0"

	hfs0HeaderSize = 0x10
	hfs0EntrySize  = 0x40
)

// Hfs0FileEntry is a PFS0-style entry extended with a per-entry SHA-256.
type Hfs0FileEntry struct {
	DataOffset uint64
	DataSize   uint64
	NameOffset uint32
	HashedSize uint32
	Reserved   uint64
	Hash       [0x20]byte
}

// Hfs0File pairs an entry with its resolved name.
type Hfs0File struct {
	Name  string
	Entry Hfs0FileEntry
}

// OpenHfs0 reads an HFS0 header at offset and returns the file entries plus
// the absolute offset where the data region starts.
func OpenHfs0(r io.ReaderAt, offset int64) ([]Hfs0File, int64, error) {
	header := make([]byte, hfs0HeaderSize)
	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, 0, err
	}

	if string(header[0:4]) != MagicHFS0 {
		return nil, 0, fmt.Errorf("%w: expected HFS0, got %q", ErrInvalidMagic, header[0:4])
	}
	numFiles := binary.LittleEndian.Uint32(header[0x4:])
	stringTableSize := binary.LittleEndian.Uint32(header[0x8:])

	entriesRaw := make([]byte, int(numFiles)*hfs0EntrySize)
	if _, err := r.ReadAt(entriesRaw, offset+hfs0HeaderSize); err != nil {
		return nil, 0, err
	}

	stringTable := make([]byte, stringTableSize)
	if _, err := r.ReadAt(stringTable, offset+hfs0HeaderSize+int64(len(entriesRaw))); err != nil {
		return nil, 0, err
	}

	files := make([]Hfs0File, numFiles)
	for i := range files {
		raw := entriesRaw[i*hfs0EntrySize:]

		var entry Hfs0FileEntry
		entry.DataOffset = binary.LittleEndian.Uint64(raw[0x00:])
		entry.DataSize = binary.LittleEndian.Uint64(raw[0x08:])
		entry.NameOffset = binary.LittleEndian.Uint32(raw[0x10:])
		entry.HashedSize = binary.LittleEndian.Uint32(raw[0x14:])
		copy(entry.Hash[:], raw[0x20:0x40])

		name, err := getName(stringTable, entry.NameOffset)
		if err != nil {
			return nil, 0, err
		}
		files[i] = Hfs0File{Name: name, Entry: entry}
	}

	dataStart := offset + hfs0HeaderSize + int64(len(entriesRaw)) + int64(stringTableSize)
	return files, dataStart, nil
}
