package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/vorteil/vexport/pkg/vio"
)

// SparseReader reads hosted sparse extents (monolithicSparse and the
// per-extent files of twoGbMaxExtentSparse). The backing file is mapped
// read-only and may be shared across goroutines; every read hands out a
// fresh buffer.
type SparseReader struct {
	m        *vio.Mapping
	hdr      *Header
	gd       []uint32
	capacity int64
}

// IsSparse sniffs the first four bytes of a file for the sparse extent
// magic. Files too short to hold the magic are reported as not sparse.
func IsSparse(path string) (bool, error) {

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var magic [4]byte
	_, err = io.ReadFull(f, magic[:])
	if err != nil {
		return false, nil
	}

	return binary.LittleEndian.Uint32(magic[:]) == Magic, nil

}

// OpenSparse memory-maps a hosted sparse VMDK and loads its grain
// directory. StreamOptimized inputs (markers flag set) are rejected: that
// format is this package's output, not its input.
func OpenSparse(path string) (*SparseReader, error) {

	m, err := vio.MapFile(path)
	if err != nil {
		return nil, err
	}

	r, err := newSparseReader(m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	return r, nil

}

func newSparseReader(m *vio.Mapping) (*SparseReader, error) {

	hdr, err := parseHeader(m.Bytes())
	if err != nil {
		return nil, err
	}

	if hdr.Version > 3 {
		return nil, errf("unsupported sparse VMDK version: %d", hdr.Version)
	}

	if hdr.Flags&FlagMarkers != 0 {
		return nil, errf("streamOptimized VMDKs with markers are not supported for reading")
	}

	if hdr.GrainSize == 0 || hdr.NumGTEsPerGT == 0 {
		return nil, errf("invalid sparse header geometry")
	}

	grainsTotal := (hdr.Capacity + hdr.GrainSize - 1) / hdr.GrainSize
	numGDEntries := (grainsTotal + uint64(hdr.NumGTEsPerGT) - 1) / uint64(hdr.NumGTEsPerGT)

	gdOffset := int64(hdr.GDOffset) * SectorSize
	gdEnd := gdOffset + int64(numGDEntries)*TableRowSize
	if hdr.GDOffset == GDAtEnd || gdEnd > m.Size() {
		return nil, errf("grain directory extends beyond file")
	}

	gd := make([]uint32, numGDEntries)
	data := m.Bytes()
	for i := range gd {
		gd[i] = binary.LittleEndian.Uint32(data[gdOffset+int64(i)*TableRowSize:])
	}

	return &SparseReader{
		m:        m,
		hdr:      hdr,
		gd:       gd,
		capacity: int64(hdr.Capacity) * SectorSize,
	}, nil

}

// CapacityBytes returns the virtual disk capacity in bytes.
func (r *SparseReader) CapacityBytes() int64 {
	return r.capacity
}

// GrainSizeBytes returns the grain size in bytes.
func (r *SparseReader) GrainSizeBytes() int64 {
	return int64(r.hdr.GrainSize) * SectorSize
}

// ReadGrain returns the uncompressed contents of the grain at the given
// grain index. Unallocated grains read as zeros. The returned buffer is
// always exactly GrainSizeBytes long and owned by the caller.
func (r *SparseReader) ReadGrain(grainIndex int64) ([]byte, error) {

	grainBytes := int(r.GrainSizeBytes())
	gtesPerGT := int64(r.hdr.NumGTEsPerGT)

	gtIndex := grainIndex / gtesPerGT
	gteIndex := grainIndex % gtesPerGT

	if gtIndex >= int64(len(r.gd)) {
		return make([]byte, grainBytes), nil
	}

	gtOffsetSectors := r.gd[gtIndex]
	if gtOffsetSectors == 0 {
		return make([]byte, grainBytes), nil
	}

	data := r.m.Bytes()

	gteOffset := int64(gtOffsetSectors)*SectorSize + gteIndex*TableRowSize
	if gteOffset+TableRowSize > r.m.Size() {
		return nil, errf("grain table entry extends beyond file")
	}

	grainOffsetSectors := binary.LittleEndian.Uint32(data[gteOffset:])
	if grainOffsetSectors == 0 {
		return make([]byte, grainBytes), nil
	}

	grainOffset := int64(grainOffsetSectors) * SectorSize

	if r.hdr.Flags&FlagCompressed != 0 {
		return r.readCompressedGrain(grainOffset, grainBytes)
	}

	end := grainOffset + int64(grainBytes)
	if end > r.m.Size() {
		return nil, errf("grain extends beyond file")
	}

	out := make([]byte, grainBytes)
	copy(out, data[grainOffset:end])
	return out, nil

}

func (r *SparseReader) readCompressedGrain(offset int64, grainBytes int) ([]byte, error) {

	data := r.m.Bytes()

	if offset+12 > r.m.Size() {
		return nil, errf("compressed grain header extends beyond file")
	}

	compressedSize := int64(binary.LittleEndian.Uint32(data[offset+8:]))

	dataOffset := offset + 12
	if dataOffset+compressedSize > r.m.Size() {
		return nil, errf("compressed grain data extends beyond file")
	}

	return DecompressGrain(data[dataOffset:dataOffset+compressedSize], grainBytes)

}

// ReadAt implements io.ReaderAt over the virtual disk contents, assembling
// the requested range from grains and slicing across grain boundaries.
func (r *SparseReader) ReadAt(p []byte, off int64) (int, error) {

	if off >= r.capacity {
		return 0, io.EOF
	}

	n := len(p)
	if off+int64(n) > r.capacity {
		n = int(r.capacity - off)
	}

	grainBytes := r.GrainSizeBytes()

	read := 0
	for read < n {
		pos := off + int64(read)
		grainIndex := pos / grainBytes
		inGrain := int(pos % grainBytes)

		grain, err := r.ReadGrain(grainIndex)
		if err != nil {
			return read, err
		}

		read += copy(p[read:n], grain[inGrain:])
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil

}

// Chunks returns an iterator over successive chunkSize windows of the
// virtual disk. Windows need not align with grain boundaries; the final
// window may be short.
func (r *SparseReader) Chunks(chunkSize int64) *ChunkReader {
	return NewChunkReader(r, r.capacity, chunkSize)
}

// Close unmaps the backing file.
func (r *SparseReader) Close() error {
	return r.m.Close()
}
