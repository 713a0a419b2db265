package pipeline

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"sync"
)

// Progress is a point-in-time snapshot of pipeline throughput.
type Progress struct {
	TotalChunks     int
	ProcessedChunks int
	TotalBytes      int64
	ProcessedBytes  int64
	CompressedBytes int64
}

// PercentComplete returns completion by chunk count, or 100 when there is
// nothing to do.
func (p Progress) PercentComplete() float64 {
	if p.TotalChunks == 0 {
		return 100.0
	}
	return float64(p.ProcessedChunks) / float64(p.TotalChunks) * 100.0
}

// CompressionRatio returns compressed over processed bytes. A ratio below
// 1.0 means compression is effective. Returns 1.0 before any bytes have
// been processed.
func (p Progress) CompressionRatio() float64 {
	if p.ProcessedBytes == 0 {
		return 1.0
	}
	return float64(p.CompressedBytes) / float64(p.ProcessedBytes)
}

// ProgressTracker accumulates pipeline progress. It is the only mutable
// object shared between workers and is guarded by a mutex on every update.
type ProgressTracker struct {
	lock     sync.Mutex
	progress Progress
}

// NewProgressTracker creates a tracker expecting the given totals.
func NewProgressTracker(totalChunks int, totalBytes int64) *ProgressTracker {
	return &ProgressTracker{
		progress: Progress{
			TotalChunks: totalChunks,
			TotalBytes:  totalBytes,
		},
	}
}

// Update records one completed chunk.
func (t *ProgressTracker) Update(inputBytes, outputBytes int64) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.progress.ProcessedChunks++
	t.progress.ProcessedBytes += inputBytes
	t.progress.CompressedBytes += outputBytes
}

// Snapshot returns a copy of the current progress.
func (t *ProgressTracker) Snapshot() Progress {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.progress
}

// IsComplete reports whether every expected chunk has been processed.
func (t *ProgressTracker) IsComplete() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.progress.ProcessedChunks >= t.progress.TotalChunks
}
