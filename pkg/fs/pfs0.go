package fs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/falk/switch-tools-go/pkg/crypto"
)

const (
	MagicPFS0 = "PFS0"

	pfs0HeaderSize = 0x10
	pfs0EntrySize  = 0x18
)

// PFS0Header represents the header of a PFS0 partition.
type PFS0Header struct {
	Magic           [4]byte
	NumFiles        uint32
	StringTableSize uint32
	Reserved        uint32
}

// PFS0FileEntry represents a file entry in the PFS0 header.
type PFS0FileEntry struct {
	DataOffset uint64
	DataSize   uint64
	NameOffset uint32
	Reserved   uint32
}

type Pfs0File struct {
	Name  string
	Entry PFS0FileEntry
}

// Pfs0Entry is one named blob handed to the PFS0 builder. Insertion order is
// preserved in the output container.
type Pfs0Entry struct {
	Name string
	Data []byte
}

// OpenPfs0 reads a PFS0 header and returns the file entries plus the offset
// where the data region starts.
func OpenPfs0(f io.Reader) ([]Pfs0File, int64, error) {
	var header PFS0Header
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, 0, err
	}

	if string(header.Magic[:]) != MagicPFS0 {
		return nil, 0, fmt.Errorf("%w: expected PFS0, got %q", ErrInvalidMagic, header.Magic)
	}

	entries := make([]PFS0FileEntry, header.NumFiles)
	if err := binary.Read(f, binary.LittleEndian, &entries); err != nil {
		return nil, 0, err
	}

	stringTable := make([]byte, header.StringTableSize)
	if _, err := io.ReadFull(f, stringTable); err != nil {
		return nil, 0, err
	}

	files := make([]Pfs0File, header.NumFiles)
	for i, entry := range entries {
		nameVal, err := getName(stringTable, entry.NameOffset)
		if err != nil {
			return nil, 0, err
		}
		files[i] = Pfs0File{
			Name:  nameVal,
			Entry: entry,
		}
	}

	// Data starts after Header + Entries + StringTable
	headerSize := int64(pfs0HeaderSize + len(entries)*pfs0EntrySize + len(stringTable))
	return files, headerSize, nil
}

// BuildPfs0 serializes the given files into a PFS0 container. The string
// table is padded to a 0x20 boundary; data follows with no per-file padding.
func BuildPfs0(files []Pfs0Entry) []byte {
	stringTable := make([]byte, 0)
	nameOffsets := make([]uint32, len(files))
	for i, f := range files {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(f.Name)...)
		stringTable = append(stringTable, 0)
	}
	stringTableSize := uint32(alignUp(uint64(len(stringTable)), 0x20))

	var dataSize uint64
	for _, f := range files {
		dataSize += uint64(len(f.Data))
	}

	out := make([]byte, 0, pfs0HeaderSize+len(files)*pfs0EntrySize+int(stringTableSize)+int(dataSize))
	out = append(out, MagicPFS0...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(files)))
	out = binary.LittleEndian.AppendUint32(out, stringTableSize)
	out = binary.LittleEndian.AppendUint32(out, 0)

	var offset uint64
	for i, f := range files {
		out = binary.LittleEndian.AppendUint64(out, offset)
		out = binary.LittleEndian.AppendUint64(out, uint64(len(f.Data)))
		out = binary.LittleEndian.AppendUint32(out, nameOffsets[i])
		out = binary.LittleEndian.AppendUint32(out, 0)
		offset += uint64(len(f.Data))
	}

	out = append(out, stringTable...)
	out = append(out, make([]byte, int(stringTableSize)-len(stringTable))...)

	for _, f := range files {
		out = append(out, f.Data...)
	}
	return out
}

// CreatePfs0HashTable hashes pfs0 in blockSize blocks (the trailing block is
// zero padded before hashing) and returns the table padded to 0x200 together
// with the unpadded hash data length. The padded length is the offset of the
// PFS0 inside its NCA section.
func CreatePfs0HashTable(pfs0 []byte, blockSize uint32) (table []byte, hashDataLen uint64) {
	numBlocks := (uint64(len(pfs0)) + uint64(blockSize) - 1) / uint64(blockSize)
	hashDataLen = numBlocks * 0x20

	table = make([]byte, alignUp(hashDataLen, 0x200))
	block := make([]byte, blockSize)
	for i := uint64(0); i < numBlocks; i++ {
		start := i * uint64(blockSize)
		end := start + uint64(blockSize)
		if end > uint64(len(pfs0)) {
			end = uint64(len(pfs0))
		}

		for j := range block {
			block[j] = 0
		}
		copy(block, pfs0[start:end])
		copy(table[i*0x20:], crypto.Sha256(block))
	}
	return table, hashDataLen
}

// CalculatePfs0MasterHash hashes the hash table itself, excluding padding.
func CalculatePfs0MasterHash(table []byte, hashDataLen uint64) []byte {
	return crypto.Sha256(table[:hashDataLen])
}

func getName(stringTable []byte, offset uint32) (string, error) {
	if offset >= uint32(len(stringTable)) {
		return "", fmt.Errorf("%w: name offset out of bounds", ErrFieldRange)
	}
	end := offset
	for end < uint32(len(stringTable)) && stringTable[end] != 0 {
		end++
	}
	return string(stringTable[offset:end]), nil
}
