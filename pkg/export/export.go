package export

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vorteil/vexport/pkg/elog"
	"github.com/vorteil/vexport/pkg/ova"
	"github.com/vorteil/vexport/pkg/ovf"
	"github.com/vorteil/vexport/pkg/pipeline"
	"github.com/vorteil/vexport/pkg/vmdk"
	"github.com/vorteil/vexport/pkg/vmx"
)

// DefaultChunkSize is the standard pipeline work unit size (64 MiB).
const DefaultChunkSize = pipeline.DefaultChunkSize

// IOError attaches a path to an underlying filesystem failure.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error: %v", e.Err)
	}
	return fmt.Sprintf("io error at '%s': %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Options parameterize an export.
type Options struct {
	// Compression selects the deflate effort for grain compression.
	Compression pipeline.CompressionLevel
	// ChunkSize is the pipeline work unit size in bytes. It is rounded up
	// to a whole number of grains. Zero means DefaultChunkSize.
	ChunkSize int64
	// Threads is the worker count; 0 means use the host CPU count.
	Threads int
	// Logger receives progress commentary; nil discards it.
	Logger elog.View
}

// DefaultOptions returns balanced compression with default sizing.
func DefaultOptions() Options {
	return Options{
		Compression: pipeline.Balanced,
		ChunkSize:   DefaultChunkSize,
	}
}

// FastOptions returns options optimized for speed.
func FastOptions() Options {
	opts := DefaultOptions()
	opts.Compression = pipeline.Fast
	return opts
}

// MaxCompressionOptions returns options optimized for output size.
func MaxCompressionOptions() Options {
	opts := DefaultOptions()
	opts.Compression = pipeline.Max
	return opts
}

func (o Options) normalized() Options {

	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}

	// Chunks must cover whole grains so every work unit compresses
	// independently.
	if o.ChunkSize%vmdk.GrainSize != 0 {
		o.ChunkSize = (o.ChunkSize/vmdk.GrainSize + 1) * vmdk.GrainSize
	}

	if o.Logger == nil {
		o.Logger = elog.Discard
	}

	return o

}

// Phase identifies the stage an export has reached.
type Phase int

const (
	PhaseParsing Phase = iota
	PhaseCompressing
	PhaseWriting
	PhaseFinalizing
	PhaseComplete
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseParsing:
		return "Parsing"
	case PhaseCompressing:
		return "Compressing"
	case PhaseWriting:
		return "Writing"
	case PhaseFinalizing:
		return "Finalizing"
	case PhaseComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Progress is delivered to the progress callback at phase transitions and
// per processed chunk.
type Progress struct {
	Phase          Phase
	BytesProcessed int64
	BytesTotal     int64
	// CurrentDisk is 1-indexed; 0 before the first disk.
	CurrentDisk int
	TotalDisks  int
}

// PercentComplete returns overall completion by bytes.
func (p Progress) PercentComplete() float64 {
	if p.BytesTotal == 0 {
		if p.Phase == PhaseComplete {
			return 100.0
		}
		return 0.0
	}
	return float64(p.BytesProcessed) / float64(p.BytesTotal) * 100.0
}

// ProgressFunc receives progress updates during an export.
type ProgressFunc func(Progress)

// DiskDetail summarizes one disk attached to a VM.
type DiskDetail struct {
	FileName   string
	SizeBytes  int64
	CreateType string
}

// VMInfo summarizes a VM without exporting it.
type VMInfo struct {
	Name          string
	GuestOS       string
	MemoryMiB     uint32
	NumCPUs       uint32
	Disks         []DiskDetail
	TotalDiskSize int64
}

// GetVMInfo parses a VMX file and probes its disks for their sizes and
// storage types.
func GetVMInfo(vmxPath string) (*VMInfo, error) {

	cfg, err := vmx.LoadFile(vmxPath)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(vmxPath)

	info := &VMInfo{
		Name:      cfg.DisplayName,
		GuestOS:   cfg.GuestOS,
		MemoryMiB: cfg.MemoryMiB,
		NumCPUs:   cfg.NumCPUs,
	}

	for _, disk := range cfg.Disks {
		detail, err := probeDisk(dir, disk.FileName)
		if err != nil {
			return nil, err
		}
		info.Disks = append(info.Disks, detail)
		info.TotalDiskSize += detail.SizeBytes
	}

	return info, nil

}

func probeDisk(dir, fileName string) (DiskDetail, error) {

	detail := DiskDetail{FileName: fileName}
	path := filepath.Join(dir, fileName)

	if _, err := os.Stat(path); err == nil {

		sparse, err := vmdk.IsSparse(path)
		if err != nil {
			return detail, &IOError{Path: path, Err: err}
		}

		if sparse {
			r, err := vmdk.OpenSparse(path)
			if err != nil {
				return detail, err
			}
			defer r.Close()
			detail.SizeBytes = r.CapacityBytes()
			detail.CreateType = "monolithicSparse"
			return detail, nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return detail, &IOError{Path: path, Err: err}
		}
		desc, err := vmdk.ParseDescriptor(string(content))
		if err != nil {
			return detail, err
		}
		detail.SizeBytes = desc.DiskSizeBytes()
		detail.CreateType = desc.CreateType
		return detail, nil

	}

	// No descriptor; fall back to a bare flat data file.
	flatPath := filepath.Join(dir, strings.Replace(fileName, ".vmdk", "-flat.vmdk", 1))
	if fi, err := os.Stat(flatPath); err == nil {
		detail.SizeBytes = fi.Size()
		detail.CreateType = "monolithicFlat"
		return detail, nil
	}

	detail.CreateType = "unknown"
	return detail, nil

}

// diskSource is a unified view over the reader variants of one disk.
type diskSource struct {
	chunks   *vmdk.ChunkReader
	capacity int64
	close    func() error
}

func openDisk(dir, fileName string, chunkSize int64) (*diskSource, error) {

	path := filepath.Join(dir, fileName)

	sparse, err := vmdk.IsSparse(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}

	if sparse {
		r, err := vmdk.OpenSparse(path)
		if err != nil {
			return nil, err
		}
		return &diskSource{
			chunks:   r.Chunks(chunkSize),
			capacity: r.CapacityBytes(),
			close:    r.Close,
		}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}

	desc, err := vmdk.ParseDescriptor(string(content))
	if err != nil {
		return nil, err
	}

	if len(desc.Extents) == 0 {
		return nil, &vmdk.Error{Msg: fmt.Sprintf("descriptor '%s' defines no extents", fileName)}
	}

	capacity := desc.DiskSizeBytes()

	// A single flat extent at offset zero maps straight onto its data
	// file; anything else goes through the composite reader.
	if len(desc.Extents) == 1 && desc.Extents[0].Type == vmdk.ExtentFlat && desc.Extents[0].Offset == 0 {
		flat, err := vmdk.OpenFlat(filepath.Join(dir, desc.Extents[0].FileName))
		if err != nil {
			return nil, &IOError{Path: filepath.Join(dir, desc.Extents[0].FileName), Err: err}
		}
		return &diskSource{
			chunks:   vmdk.NewChunkReader(flat, capacity, chunkSize),
			capacity: capacity,
			close:    flat.Close,
		}, nil
	}

	composite, err := vmdk.OpenComposite(dir, desc)
	if err != nil {
		return nil, err
	}

	return &diskSource{
		chunks:   vmdk.NewChunkReader(composite, capacity, chunkSize),
		capacity: capacity,
		close:    composite.Close,
	}, nil

}

// Export converts the VM described by vmxPath into an OVA at outputPath.
func Export(vmxPath, outputPath string, opts Options, progressFn ProgressFunc) error {

	opts = opts.normalized()
	log := opts.Logger

	report := func(p Progress) {
		if progressFn != nil {
			progressFn(p)
		}
	}

	cfg, err := vmx.LoadFile(vmxPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(vmxPath)

	info, err := GetVMInfo(vmxPath)
	if err != nil {
		return err
	}

	progress := Progress{
		Phase:      PhaseParsing,
		BytesTotal: info.TotalDiskSize,
		TotalDisks: len(cfg.Disks),
	}
	report(progress)
	log.Infof("exporting '%s': %d disk(s), %d bytes", cfg.DisplayName, len(cfg.Disks), info.TotalDiskSize)

	p := pipeline.New(pipeline.Config{
		ChunkSize: opts.ChunkSize,
		Level:     opts.Compression,
		Threads:   opts.Threads,
	})

	out, err := os.Create(outputPath)
	if err != nil {
		return &IOError{Path: outputPath, Err: err}
	}
	defer out.Close()

	archive := ova.NewWriter(out)

	var diskInfos []ovf.DiskInfo
	var vmdkBuffers [][]byte

	for diskIndex, disk := range cfg.Disks {

		progress.Phase = PhaseCompressing
		progress.CurrentDisk = diskIndex + 1
		report(progress)
		log.Debugf("compressing disk %d/%d: %s", diskIndex+1, len(cfg.Disks), disk.FileName)

		vmdkBytes, capacity, err := convertDisk(dir, disk.FileName, p, &progress, report)
		if err != nil {
			return err
		}

		vmdkBuffers = append(vmdkBuffers, vmdkBytes)
		diskInfos = append(diskInfos, ovf.DiskInfo{
			ID:            fmt.Sprintf("vmdisk%d", diskIndex+1),
			FileRef:       fmt.Sprintf("file%d", diskIndex+1),
			Href:          disk.FileName,
			CapacityBytes: capacity,
			FileSizeBytes: int64(len(vmdkBytes)),
		})
	}

	progress.Phase = PhaseWriting
	report(progress)

	for diskIndex, disk := range cfg.Disks {
		err = archive.AddFile(disk.FileName, vmdkBuffers[diskIndex])
		if err != nil {
			return err
		}
	}

	progress.Phase = PhaseFinalizing
	report(progress)

	builder := ovf.NewBuilder(cfg)
	ovfXML, err := builder.Build(diskInfos)
	if err != nil {
		return err
	}

	ovfName := ovf.SanitizeID(cfg.DisplayName) + ".ovf"
	err = archive.AddFile(ovfName, ovfXML)
	if err != nil {
		return err
	}

	err = archive.Finalize()
	if err != nil {
		return err
	}

	err = out.Close()
	if err != nil {
		return &IOError{Path: outputPath, Err: err}
	}

	progress.Phase = PhaseComplete
	progress.BytesProcessed = progress.BytesTotal
	report(progress)
	log.Printf("wrote %s", outputPath)

	return nil

}

// convertDisk reads one disk, compresses its grains in parallel, and
// returns the assembled streamOptimized VMDK along with the disk capacity.
func convertDisk(dir, fileName string, p *pipeline.Pipeline, progress *Progress, report ProgressFunc) ([]byte, int64, error) {

	src, err := openDisk(dir, fileName, p.ChunkSize())
	if err != nil {
		return nil, 0, err
	}
	defer src.close()

	chunks, err := src.chunks.Collect()
	if err != nil {
		return nil, 0, err
	}

	chunkSize := p.ChunkSize()
	level := p.Level().DeflateLevel()

	tracker := pipeline.NewProgressTracker(len(chunks), src.capacity)

	compressed, err := p.ProcessWithProgress(chunks, func(index int, data []byte) ([]byte, error) {
		return compressChunkGrains(int64(index)*chunkSize, data, level)
	}, tracker)
	if err != nil {
		return nil, 0, err
	}

	buf := new(bytes.Buffer)
	w, err := vmdk.NewStreamWriter(buf, src.capacity)
	if err != nil {
		return nil, 0, err
	}

	for i, frame := range compressed {
		err = writeGrainFrames(w, frame)
		if err != nil {
			return nil, 0, err
		}

		progress.BytesProcessed += int64(len(chunks[i]))
		report(*progress)
	}

	err = w.Finalize()
	if err != nil {
		return nil, 0, err
	}

	return buf.Bytes(), src.capacity, nil

}

// compressChunkGrains compresses one chunk grain by grain, producing a
// sequence of grain frames: LBA (8 bytes LE), payload length (4 bytes LE),
// payload. All-zero grains are skipped so they stay unallocated in the
// output; a short final grain is padded to a full grain first.
func compressChunkGrains(chunkOffsetBytes int64, data []byte, level int) ([]byte, error) {

	out := new(bytes.Buffer)
	grain := make([]byte, vmdk.GrainSize)

	for off := 0; off < len(data); off += vmdk.GrainSize {

		end := off + vmdk.GrainSize
		if end > len(data) {
			end = len(data)
		}

		n := copy(grain, data[off:end])
		for i := n; i < vmdk.GrainSize; i++ {
			grain[i] = 0
		}

		if allZero(grain) {
			continue
		}

		compressed, err := vmdk.CompressGrain(grain, level)
		if err != nil {
			return nil, err
		}

		lba := (chunkOffsetBytes + int64(off)) / vmdk.SectorSize

		var hdr [12]byte
		binary.LittleEndian.PutUint64(hdr[0:], uint64(lba))
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(compressed)))
		out.Write(hdr[:])
		out.Write(compressed)
	}

	return out.Bytes(), nil

}

// writeGrainFrames feeds the frames produced by compressChunkGrains into
// the stream writer in order.
func writeGrainFrames(w *vmdk.StreamWriter, frames []byte) error {

	for len(frames) > 0 {
		if len(frames) < 12 {
			return &vmdk.Error{Msg: "truncated grain frame"}
		}

		lba := int64(binary.LittleEndian.Uint64(frames[0:]))
		size := int64(binary.LittleEndian.Uint32(frames[8:]))

		if int64(len(frames)) < 12+size {
			return &vmdk.Error{Msg: "truncated grain frame payload"}
		}

		err := w.WriteGrain(lba, frames[12:12+size])
		if err != nil {
			return err
		}

		frames = frames[12+size:]
	}

	return nil

}

func allZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
