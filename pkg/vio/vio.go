package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"io"
)

type zeroesReader struct {
}

func (rdr *zeroesReader) Read(p []byte) (n int, err error) {

	if len(p) == 0 {
		return
	}
	p[0] = 0
	for bp := 1; bp < len(p); bp *= 2 {
		copy(p[bp:], p[:bp])
	}

	return len(p), nil
}

// Zeroes is an endless reader of zero bytes.
var Zeroes = io.Reader(&zeroesReader{})

// LazyReadCloser returns an io.ReadCloser that defers calling openFunc until
// the first Read and guarantees closeFunc is called no more than once.
func LazyReadCloser(openFunc func() (io.Reader, error),
	closeFunc func() error) io.ReadCloser {
	return &lazyReadCloser{
		openFunc:  openFunc,
		closeFunc: closeFunc,
	}
}

type lazyReadCloser struct {
	opened    bool
	closed    bool
	r         io.Reader
	openFunc  func() (io.Reader, error)
	closeFunc func() error
}

func (rc *lazyReadCloser) Read(p []byte) (n int, err error) {
	if rc.closed {
		err = errors.New("lazy readcloser is closed")
		return
	}

	if rc.r == nil {
		rc.r, err = rc.openFunc()
		if err != nil {
			return
		}
		rc.opened = true
	}

	return rc.r.Read(p)
}

func (rc *lazyReadCloser) Close() error {
	if rc.closed {
		return errors.New("lazy readcloser already closed")
	}
	rc.closed = true
	return rc.closeFunc()
}
