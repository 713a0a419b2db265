package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"path/filepath"
	"sort"

	"github.com/vorteil/vexport/pkg/vio"
)

// FlatReader exposes a flat extent file as a virtual byte sequence by
// mapping it read-only.
type FlatReader struct {
	m *vio.Mapping
}

// OpenFlat memory-maps a flat extent file.
func OpenFlat(path string) (*FlatReader, error) {

	m, err := vio.MapFile(path)
	if err != nil {
		return nil, err
	}

	return &FlatReader{m: m}, nil

}

// Size returns the file size in bytes.
func (r *FlatReader) Size() int64 {
	return r.m.Size()
}

// Bytes returns the raw mapped contents.
func (r *FlatReader) Bytes() []byte {
	return r.m.Bytes()
}

// ReadAt implements io.ReaderAt over the file contents.
func (r *FlatReader) ReadAt(p []byte, off int64) (int, error) {

	if off >= r.m.Size() {
		return 0, io.EOF
	}

	n := copy(p, r.m.Bytes()[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil

}

// Chunks returns an iterator over successive chunkSize windows of the file.
// An empty file yields zero chunks.
func (r *FlatReader) Chunks(chunkSize int64) *ChunkReader {
	return NewChunkReader(r, r.m.Size(), chunkSize)
}

// Close unmaps the backing file.
func (r *FlatReader) Close() error {
	return r.m.Close()
}

// extentReader is one member of a composite disk.
type extentReader struct {
	sizeBytes int64
	readAt    func(p []byte, off int64) (int, error)
	close     func() error
}

// CompositeReader presents a multi-extent disk (e.g. twoGbMaxExtentSparse
// or multi-extent flat) as a single logical byte sequence formed by virtual
// concatenation of the per-extent readers.
type CompositeReader struct {
	extents []extentReader
	// prefix[i] is the virtual byte offset at which extent i begins;
	// prefix[len(extents)] is the total size.
	prefix []int64
}

// OpenComposite builds a composite reader from a parsed descriptor. Extent
// filenames are resolved relative to dir. Flat and VMFS extents map their
// file range directly; sparse extents open a nested sparse reader; zero
// extents read as zeros without backing storage.
func OpenComposite(dir string, desc *Descriptor) (*CompositeReader, error) {

	c := new(CompositeReader)
	c.prefix = append(c.prefix, 0)

	var total int64
	for _, extent := range desc.Extents {
		r, err := openExtent(dir, extent)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.extents = append(c.extents, r)
		total += r.sizeBytes
		c.prefix = append(c.prefix, total)
	}

	return c, nil

}

func openExtent(dir string, extent Extent) (extentReader, error) {

	sizeBytes := extent.SizeSectors * SectorSize

	switch extent.Type {
	case ExtentZero:
		return extentReader{
			sizeBytes: sizeBytes,
			readAt: func(p []byte, off int64) (int, error) {
				for i := range p {
					p[i] = 0
				}
				return len(p), nil
			},
			close: func() error { return nil },
		}, nil

	case ExtentFlat, ExtentVmfs:
		m, err := vio.MapFile(filepath.Join(dir, extent.FileName))
		if err != nil {
			return extentReader{}, errf("missing flat extent '%s': %v", extent.FileName, err)
		}
		start := extent.Offset * SectorSize
		if start+sizeBytes > m.Size() {
			_ = m.Close()
			return extentReader{}, errf("flat extent '%s' extends beyond file", extent.FileName)
		}
		data := m.Bytes()[start : start+sizeBytes]
		return extentReader{
			sizeBytes: sizeBytes,
			readAt: func(p []byte, off int64) (int, error) {
				return copy(p, data[off:]), nil
			},
			close: m.Close,
		}, nil

	case ExtentSparse:
		r, err := OpenSparse(filepath.Join(dir, extent.FileName))
		if err != nil {
			return extentReader{}, err
		}
		return extentReader{
			sizeBytes: sizeBytes,
			readAt: func(p []byte, off int64) (int, error) {
				n, err := r.ReadAt(p, off)
				if err == io.EOF {
					err = nil
				}
				return n, err
			},
			close: r.Close,
		}, nil

	default:
		return extentReader{}, errf("unsupported extent type in composite disk: %d", extent.Type)
	}

}

// Size returns the total virtual size in bytes.
func (c *CompositeReader) Size() int64 {
	return c.prefix[len(c.prefix)-1]
}

// ReadAt implements io.ReaderAt over the concatenated extents. The extent
// containing a virtual offset is located by binary search over the
// cumulative prefix sums.
func (c *CompositeReader) ReadAt(p []byte, off int64) (int, error) {

	size := c.Size()
	if off >= size {
		return 0, io.EOF
	}

	n := len(p)
	if off+int64(n) > size {
		n = int(size - off)
	}

	read := 0
	for read < n {
		pos := off + int64(read)

		// First extent whose end lies beyond pos.
		i := sort.Search(len(c.extents), func(i int) bool {
			return c.prefix[i+1] > pos
		})

		local := pos - c.prefix[i]
		avail := c.extents[i].sizeBytes - local

		want := int64(n - read)
		if want > avail {
			want = avail
		}

		k, err := c.extents[i].readAt(p[read:read+int(want)], local)
		read += k
		if err != nil {
			return read, err
		}
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil

}

// Chunks returns an iterator over successive chunkSize windows of the
// composite disk.
func (c *CompositeReader) Chunks(chunkSize int64) *ChunkReader {
	return NewChunkReader(c, c.Size(), chunkSize)
}

// Close closes every extent reader.
func (c *CompositeReader) Close() error {
	var firstErr error
	for _, e := range c.extents {
		if err := e.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChunkReader iterates over fixed-size windows of a virtual byte sequence.
// The final window may be shorter than the chunk size.
type ChunkReader struct {
	src       io.ReaderAt
	size      int64
	chunkSize int64
	offset    int64
}

// NewChunkReader wraps any io.ReaderAt of known size.
func NewChunkReader(src io.ReaderAt, size, chunkSize int64) *ChunkReader {
	return &ChunkReader{
		src:       src,
		size:      size,
		chunkSize: chunkSize,
	}
}

// Count returns the total number of chunks the iterator will yield.
func (c *ChunkReader) Count() int {
	if c.size == 0 {
		return 0
	}
	return int((c.size + c.chunkSize - 1) / c.chunkSize)
}

// Next returns the next chunk, or io.EOF after the final chunk. The
// returned buffer is owned by the caller.
func (c *ChunkReader) Next() ([]byte, error) {

	if c.offset >= c.size {
		return nil, io.EOF
	}

	n := c.chunkSize
	if c.offset+n > c.size {
		n = c.size - c.offset
	}

	chunk := make([]byte, n)
	_, err := c.src.ReadAt(chunk, c.offset)
	if err != nil && err != io.EOF {
		return nil, err
	}

	c.offset += n
	return chunk, nil

}

// Collect drains the iterator into a slice of chunks.
func (c *ChunkReader) Collect() ([][]byte, error) {

	var chunks [][]byte
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

}
