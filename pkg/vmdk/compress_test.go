package vmdk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressGrainRoundTrip(t *testing.T) {

	data := make([]byte, GrainSize)
	for i := range data {
		data[i] = byte(i % 251)
	}

	for _, level := range []int{CompressionFast, CompressionBalanced, CompressionMax} {
		compressed, err := CompressGrain(data, level)
		assert.NoError(t, err)
		assert.NotEmpty(t, compressed)

		restored, err := DecompressGrain(compressed, len(data))
		assert.NoError(t, err)
		assert.True(t, bytes.Equal(data, restored))
	}

}

func TestCompressGrainShrinksZeros(t *testing.T) {

	data := make([]byte, GrainSize)
	compressed, err := CompressGrain(data, CompressionBalanced)
	assert.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

}

func TestCompressGrainLevelOrdering(t *testing.T) {

	// Compressible but non-trivial input.
	data := make([]byte, GrainSize)
	for i := range data {
		data[i] = byte((i / 64) % 7)
	}

	fast, err := CompressGrain(data, CompressionFast)
	assert.NoError(t, err)
	balanced, err := CompressGrain(data, CompressionBalanced)
	assert.NoError(t, err)
	max, err := CompressGrain(data, CompressionMax)
	assert.NoError(t, err)

	assert.LessOrEqual(t, len(max), len(balanced))
	assert.LessOrEqual(t, len(balanced), len(fast))

}

func TestDecompressGrainGarbage(t *testing.T) {

	_, err := DecompressGrain([]byte{0xde, 0xad, 0xbe, 0xef}, GrainSize)
	assert.Error(t, err)

}
