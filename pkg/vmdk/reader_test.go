package vmdk

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func patternBytes(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(int(seed) + i%249)
	}
	return out
}

func TestOpenFlat(t *testing.T) {

	dir := t.TempDir()
	data := patternBytes(1000, 0)
	path := writeFile(t, dir, "flat.vmdk", data)

	r, err := OpenFlat(path)
	assert.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(1000), r.Size())
	assert.True(t, bytes.Equal(data, r.Bytes()))

}

func TestFlatChunks(t *testing.T) {

	dir := t.TempDir()
	data := patternBytes(1000, 3)
	path := writeFile(t, dir, "flat.vmdk", data)

	r, err := OpenFlat(path)
	assert.NoError(t, err)
	defer r.Close()

	chunker := r.Chunks(256)
	assert.Equal(t, 4, chunker.Count())

	chunks, err := chunker.Collect()
	assert.NoError(t, err)
	assert.Len(t, chunks, 4)
	assert.Len(t, chunks[3], 232)

	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}
	assert.True(t, bytes.Equal(data, joined))

}

func TestFlatEmptyFileYieldsNoChunks(t *testing.T) {

	dir := t.TempDir()
	path := writeFile(t, dir, "empty.vmdk", nil)

	r, err := OpenFlat(path)
	assert.NoError(t, err)
	defer r.Close()

	chunker := r.Chunks(256)
	assert.Equal(t, 0, chunker.Count())

	chunks, err := chunker.Collect()
	assert.NoError(t, err)
	assert.Empty(t, chunks)

}

func TestCompositeReaderConcatenation(t *testing.T) {

	dir := t.TempDir()

	a := patternBytes(2*SectorSize, 1)
	b := patternBytes(3*SectorSize, 7)
	writeFile(t, dir, "a-flat.vmdk", a)
	writeFile(t, dir, "b-flat.vmdk", b)

	desc, err := ParseDescriptor(`
RW 2 FLAT "a-flat.vmdk" 0
RW 1 ZERO "" 0
RW 3 FLAT "b-flat.vmdk" 0
`)
	assert.NoError(t, err)

	c, err := OpenComposite(dir, desc)
	assert.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(6*SectorSize), c.Size())

	want := append(append(append([]byte{}, a...), make([]byte, SectorSize)...), b...)

	chunks, err := c.Chunks(700).Collect()
	assert.NoError(t, err)

	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}
	assert.True(t, bytes.Equal(want, joined))

}

func TestCompositeReaderExtentOffset(t *testing.T) {

	dir := t.TempDir()

	file := append(make([]byte, SectorSize), patternBytes(SectorSize, 9)...)
	writeFile(t, dir, "data-flat.vmdk", file)

	desc, err := ParseDescriptor("RW 1 FLAT \"data-flat.vmdk\" 1\n")
	assert.NoError(t, err)

	c, err := OpenComposite(dir, desc)
	assert.NoError(t, err)
	defer c.Close()

	buf := make([]byte, SectorSize)
	_, err = c.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(file[SectorSize:], buf))

}

func TestCompositeReaderMissingExtent(t *testing.T) {

	desc, err := ParseDescriptor("RW 2048 FLAT \"missing-flat.vmdk\" 0\n")
	assert.NoError(t, err)

	_, err = OpenComposite(t.TempDir(), desc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing-flat.vmdk")

}

func TestCompositeReaderTruncatedExtent(t *testing.T) {

	dir := t.TempDir()
	writeFile(t, dir, "short-flat.vmdk", make([]byte, SectorSize))

	desc, err := ParseDescriptor("RW 4 FLAT \"short-flat.vmdk\" 0\n")
	assert.NoError(t, err)

	_, err = OpenComposite(dir, desc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extends beyond file")

}

func TestCompositeReaderSparseExtents(t *testing.T) {

	grain := testGrain()
	sparsePath := buildSparseFile(t, grain, FlagValidNewline, 1, false)
	dir := filepath.Dir(sparsePath)

	desc, err := ParseDescriptor(`
RW 256 SPARSE "disk.vmdk" 0
RW 256 ZERO "" 0
`)
	assert.NoError(t, err)

	c, err := OpenComposite(dir, desc)
	assert.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(512*SectorSize), c.Size())

	buf := make([]byte, GrainSize)
	_, err = c.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(grain, buf))

	// The zero extent region reads as zeros.
	_, err = c.ReadAt(buf, 2*GrainSize)
	assert.NoError(t, err)
	assert.Equal(t, make([]byte, GrainSize), buf)

}
