package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compression levels accepted by CompressGrain.
const (
	CompressionFast     = 1
	CompressionBalanced = 6
	CompressionMax      = 9
)

// CompressGrain compresses data with raw DEFLATE (RFC 1951, no zlib
// wrapper) at the given level.
func CompressGrain(data []byte, level int) ([]byte, error) {

	buf := new(bytes.Buffer)

	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, errf("cannot create deflate writer: %v", err)
	}

	_, err = w.Write(data)
	if err != nil {
		return nil, errf("failed to compress grain: %v", err)
	}

	err = w.Close()
	if err != nil {
		return nil, errf("failed to finish compression: %v", err)
	}

	return buf.Bytes(), nil

}

// DecompressGrain inflates a raw DEFLATE payload into exactly size bytes.
func DecompressGrain(data []byte, size int) ([]byte, error) {

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out := make([]byte, size)
	_, err := io.ReadFull(r, out)
	if err != nil {
		return nil, errf("failed to decompress grain: %v", err)
	}

	return out, nil

}
