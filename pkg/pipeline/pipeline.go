package pipeline

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vorteil/vexport/pkg/vmdk"
)

// CompressionLevel selects the deflate effort for grain compression.
type CompressionLevel int

const (
	// Fast is deflate level 1.
	Fast CompressionLevel = iota
	// Balanced is deflate level 6.
	Balanced
	// Max is deflate level 9.
	Max
)

// DeflateLevel converts the level to the numeric deflate level.
func (l CompressionLevel) DeflateLevel() int {
	switch l {
	case Fast:
		return vmdk.CompressionFast
	case Max:
		return vmdk.CompressionMax
	default:
		return vmdk.CompressionBalanced
	}
}

// String returns the flag spelling of the level.
func (l CompressionLevel) String() string {
	switch l {
	case Fast:
		return "fast"
	case Max:
		return "max"
	default:
		return "balanced"
	}
}

// ParseCompressionLevel resolves a string into a CompressionLevel.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "balanced":
		return Balanced, nil
	case "fast":
		return Fast, nil
	case "max":
		return Max, nil
	default:
		return Balanced, fmt.Errorf("unrecognized compression level '%s'", s)
	}
}

// Error wraps the first chunk failure observed by a pipeline call.
type Error struct {
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	return "pipeline error: " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Config parameterizes a Pipeline.
type Config struct {
	// ChunkSize is the size of each work unit in bytes.
	ChunkSize int64
	// Level is the compression level handed to workers.
	Level CompressionLevel
	// Threads is the worker count; 0 means use the host CPU count.
	Threads int
}

// DefaultChunkSize is the standard work unit size (64 MiB).
const DefaultChunkSize = 64 * 1024 * 1024

// DefaultConfig returns a balanced configuration sized to the host.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
		Level:     Balanced,
		Threads:   0,
	}
}

// Func transforms one chunk. It receives the chunk index and data and
// returns the transformed bytes. It must be safe for concurrent use.
type Func func(index int, data []byte) ([]byte, error)

// Pipeline applies a pure function to an ordered sequence of chunks in
// parallel while preserving index order in the result. A call blocks until
// every chunk has produced a value or any one chunk has failed; on failure
// the first error observed is returned and partial results are discarded.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// ChunkSize returns the configured work unit size.
func (p *Pipeline) ChunkSize() int64 {
	return p.cfg.ChunkSize
}

// Level returns the configured compression level.
func (p *Pipeline) Level() CompressionLevel {
	return p.cfg.Level
}

func (p *Pipeline) workers() int {
	if p.cfg.Threads > 0 {
		return p.cfg.Threads
	}
	return runtime.NumCPU()
}

// Process runs fn over every chunk concurrently and returns the results in
// input order. An empty input returns an empty result without spawning any
// workers.
func (p *Pipeline) Process(chunks [][]byte, fn Func) ([][]byte, error) {
	return p.run(chunks, fn, nil)
}

// ProcessWithProgress behaves like Process but additionally updates tracker
// after each chunk completes, recording input and output byte counts.
func (p *Pipeline) ProcessWithProgress(chunks [][]byte, fn Func, tracker *ProgressTracker) ([][]byte, error) {
	return p.run(chunks, fn, tracker)
}

func (p *Pipeline) run(chunks [][]byte, fn Func, tracker *ProgressTracker) ([][]byte, error) {

	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([][]byte, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(p.workers())

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			out, err := fn(i, chunk)
			if err != nil {
				return &Error{
					Msg:   fmt.Sprintf("chunk %d: %v", i, err),
					Cause: err,
				}
			}
			results[i] = out
			if tracker != nil {
				tracker.Update(int64(len(chunk)), int64(len(out)))
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil

}
