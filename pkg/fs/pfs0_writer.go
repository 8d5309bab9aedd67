package fs

import (
	"encoding/binary"
	"io"
)

// Pfs0Writer streams a PFS0 container to a seekable writer without holding
// the data region in memory. File names must be known up front; data is added
// in entry order and the header is written on Finish.
type Pfs0Writer struct {
	w           io.WriteSeeker
	stringTable []byte
	entries     []PFS0FileEntry
	headerSize  int64
	dataOffset  int64 // Current write position relative to data start
}

func NewPfs0Writer(w io.WriteSeeker, fileNames []string) (*Pfs0Writer, error) {
	// Calculate String Table
	stringTable := make([]byte, 0)
	nameOffsets := make([]uint32, len(fileNames))

	for i, name := range fileNames {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(name)...)
		stringTable = append(stringTable, 0) // Null terminator
	}

	// Prepare Entries
	entries := make([]PFS0FileEntry, len(fileNames))
	for i := range entries {
		entries[i].NameOffset = nameOffsets[i]
	}

	headerSize := int64(pfs0HeaderSize + len(entries)*pfs0EntrySize + len(stringTable))

	// Seek past the header; it is written last, once sizes are known.
	if _, err := w.Seek(headerSize, io.SeekStart); err != nil {
		return nil, err
	}

	return &Pfs0Writer{
		w:           w,
		stringTable: stringTable,
		entries:     entries,
		headerSize:  headerSize,
		dataOffset:  0,
	}, nil
}

// AddFile writes data for the i-th file.
// It assumes files are added in order.
func (w *Pfs0Writer) AddFile(index int, r io.Reader) error {
	w.entries[index].DataOffset = uint64(w.dataOffset)

	n, err := io.Copy(w.w, r)
	if err != nil {
		return err
	}
	w.entries[index].DataSize = uint64(n)
	w.dataOffset += n
	return nil
}

// Finish seeks back and writes the finalized header.
func (w *Pfs0Writer) Finish() error {
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	header := PFS0Header{
		NumFiles:        uint32(len(w.entries)),
		StringTableSize: uint32(len(w.stringTable)),
	}
	copy(header.Magic[:], MagicPFS0)

	if err := binary.Write(w.w, binary.LittleEndian, header); err != nil {
		return err
	}

	if err := binary.Write(w.w, binary.LittleEndian, w.entries); err != nil {
		return err
	}

	if _, err := w.w.Write(w.stringTable); err != nil {
		return err
	}

	return nil
}
