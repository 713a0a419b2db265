package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"os"
)

// Mapping is a read-only view of an entire file. On unix platforms it is
// backed by a private read-only memory map; elsewhere the file contents are read into
// memory. The byte slice returned by Bytes must not be written to and must
// not be used after Close.
type Mapping struct {
	path string
	data []byte
	size int64
	done func() error
}

// MapFile opens path read-only and maps its full contents. Empty files
// produce a valid mapping with a zero-length Bytes slice.
func MapFile(path string) (*Mapping, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if fi.Size() == 0 {
		return &Mapping{
			path: path,
			done: func() error { return nil },
		}, nil
	}

	data, done, err := mapFile(f, fi.Size())
	if err != nil {
		return nil, err
	}

	return &Mapping{
		path: path,
		data: data,
		size: fi.Size(),
		done: done,
	}, nil

}

// Bytes returns the mapped file contents.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the length of the mapped file in bytes.
func (m *Mapping) Size() int64 {
	return m.size
}

// Path returns the path the mapping was created from.
func (m *Mapping) Path() string {
	return m.path
}

// Close releases the mapping. Bytes slices taken from the mapping are invalid
// after this call.
func (m *Mapping) Close() error {
	m.data = nil
	return m.done()
}
