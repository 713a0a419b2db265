//go:build !unix

package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"os"
)

func mapFile(f *os.File, size int64) ([]byte, func() error, error) {

	data := make([]byte, size)
	_, err := io.ReadFull(f, data)
	if err != nil {
		return nil, nil, err
	}

	return data, func() error { return nil }, nil

}
