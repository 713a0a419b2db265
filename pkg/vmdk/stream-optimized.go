package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
)

// StreamWriter assembles pre-compressed grains into a streamOptimized
// VMDK: header, compressed grains with grain markers, grain tables, grain
// directory, footer, and end-of-stream marker. It is append-only; grains
// must arrive in increasing LBA order and Finalize may be called exactly
// once.
type StreamWriter struct {
	w   io.Writer
	hdr *Header

	pos          int64
	grainOffsets map[int64]int64
	finalized    bool
}

// NewStreamWriter writes the stream header for a disk of the given capacity
// and returns a writer ready to accept grains.
func NewStreamWriter(w io.Writer, capacityBytes int64) (*StreamWriter, error) {

	hdr := new(Header)
	hdr.MagicNumber = Magic
	hdr.Version = 3
	hdr.Flags = streamFlags
	hdr.Capacity = uint64((capacityBytes + SectorSize - 1) / SectorSize)
	hdr.GrainSize = SectorsPerGrain
	hdr.NumGTEsPerGT = TableMaxRows
	hdr.GDOffset = GDAtEnd
	hdr.SingleEndLineChar = '\n'
	hdr.NonEndLineChar = ' '
	hdr.DoubleEndLineChar1 = '\r'
	hdr.DoubleEndLineChar2 = '\n'
	hdr.CompressAlgorithm = CompressDeflate

	x := &StreamWriter{
		w:            w,
		hdr:          hdr,
		grainOffsets: make(map[int64]int64),
	}

	err := x.write(headerBytes(hdr))
	if err != nil {
		return nil, errf("failed to write VMDK header: %v", err)
	}

	return x, nil

}

// CapacityBytes returns the disk capacity rounded up to whole sectors.
func (x *StreamWriter) CapacityBytes() int64 {
	return int64(x.hdr.Capacity) * SectorSize
}

// GrainSizeBytes returns the grain size in bytes.
func (x *StreamWriter) GrainSizeBytes() int64 {
	return int64(x.hdr.GrainSize) * SectorSize
}

func (x *StreamWriter) write(p []byte) error {
	n, err := x.w.Write(p)
	x.pos += int64(n)
	return err
}

func (x *StreamWriter) padToSector() error {
	remainder := x.pos % SectorSize
	if remainder == 0 {
		return nil
	}
	return x.write(make([]byte, SectorSize-remainder))
}

func (x *StreamWriter) writeMarker(markerType uint32, numSectors int64) error {
	m := &Marker{
		NumSectors: uint64(numSectors),
		Type:       markerType,
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, m)
	return x.write(buf.Bytes())
}

// WriteGrain writes one compressed grain at the given LBA (in sectors). The
// grain table entry records the sector containing the grain marker.
func (x *StreamWriter) WriteGrain(lba int64, compressed []byte) error {

	if x.finalized {
		return errf("write after finalize")
	}

	grainIndex := lba / int64(x.hdr.GrainSize)
	x.grainOffsets[grainIndex] = x.pos / SectorSize

	marker := &GrainMarker{
		LBA:  uint64(lba),
		Size: uint32(len(compressed)),
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, marker)

	err := x.write(buf.Bytes())
	if err != nil {
		return errf("failed to write grain marker: %v", err)
	}

	err = x.write(compressed)
	if err != nil {
		return errf("failed to write grain data: %v", err)
	}

	err = x.padToSector()
	if err != nil {
		return errf("failed to write grain padding: %v", err)
	}

	return nil

}

// Finalize writes the grain tables, grain directory, footer, and
// end-of-stream marker. Grain tables with no allocated grains are skipped
// and recorded as zero in the directory.
func (x *StreamWriter) Finalize() error {

	if x.finalized {
		return errf("already finalized")
	}
	x.finalized = true

	totalGrains := (int64(x.hdr.Capacity) + int64(x.hdr.GrainSize) - 1) / int64(x.hdr.GrainSize)
	numGTs := (totalGrains + TableMaxRows - 1) / TableMaxRows

	gtOffsets := make([]int64, 0, numGTs)

	for gtIndex := int64(0); gtIndex < numGTs; gtIndex++ {
		startGrain := gtIndex * TableMaxRows

		entries := make([]uint32, TableMaxRows)
		hasEntries := false
		for i := range entries {
			if offset, ok := x.grainOffsets[startGrain+int64(i)]; ok {
				entries[i] = uint32(offset)
				hasEntries = true
			}
		}

		if !hasEntries {
			gtOffsets = append(gtOffsets, 0)
			continue
		}

		err := x.writeMarker(MarkerGrainTable, TableSectors)
		if err != nil {
			return errf("failed to write GT marker: %v", err)
		}

		gtOffsets = append(gtOffsets, x.pos/SectorSize)

		err = x.writeTable(entries)
		if err != nil {
			return errf("failed to write grain table: %v", err)
		}
	}

	gdSectors := (numGTs*TableRowSize + SectorSize - 1) / SectorSize
	err := x.writeMarker(MarkerGrainDirectory, gdSectors)
	if err != nil {
		return errf("failed to write GD marker: %v", err)
	}

	gdOffset := x.pos / SectorSize

	gd := make([]uint32, numGTs)
	for i, offset := range gtOffsets {
		gd[i] = uint32(offset)
	}
	err = x.writeTable(gd)
	if err != nil {
		return errf("failed to write grain directory: %v", err)
	}

	err = x.writeMarker(MarkerFooter, 1)
	if err != nil {
		return errf("failed to write footer marker: %v", err)
	}

	footer := *x.hdr
	footer.GDOffset = uint64(gdOffset)
	err = x.write(headerBytes(&footer))
	if err != nil {
		return errf("failed to write footer: %v", err)
	}

	err = x.writeMarker(MarkerEOS, 0)
	if err != nil {
		return errf("failed to write EOS marker: %v", err)
	}

	if f, ok := x.w.(interface{ Flush() error }); ok {
		err = f.Flush()
		if err != nil {
			return errf("failed to flush VMDK: %v", err)
		}
	}

	return nil

}

func (x *StreamWriter) writeTable(entries []uint32) error {

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, entries)

	err := x.write(buf.Bytes())
	if err != nil {
		return err
	}

	return x.padToSector()

}

// GrainIndexes returns the allocated grain indexes in ascending order.
// Useful for inspection and tests.
func (x *StreamWriter) GrainIndexes() []int64 {
	indexes := make([]int64, 0, len(x.grainOffsets))
	for i := range x.grainOffsets {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	return indexes
}
