package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strconv"
	"strings"
)

// ExtentType enumerates the extent storage kinds a descriptor can reference.
type ExtentType int

const (
	ExtentFlat ExtentType = iota
	ExtentSparse
	ExtentZero
	ExtentVmfs
	ExtentVmfsSparse
	ExtentVmfsRdm
	ExtentVmfsRaw
)

func parseExtentType(s string) (ExtentType, error) {
	switch strings.ToUpper(s) {
	case "FLAT":
		return ExtentFlat, nil
	case "SPARSE":
		return ExtentSparse, nil
	case "ZERO":
		return ExtentZero, nil
	case "VMFS":
		return ExtentVmfs, nil
	case "VMFSSPARSE":
		return ExtentVmfsSparse, nil
	case "VMFSRDM":
		return ExtentVmfsRdm, nil
	case "VMFSRAW":
		return ExtentVmfsRaw, nil
	default:
		return 0, errf("unknown extent type: %s", s)
	}
}

// Extent is one extent line from a descriptor.
type Extent struct {
	// Access is "RW", "RDONLY", or "NOACCESS".
	Access string
	// SizeSectors is the extent length in 512-byte sectors.
	SizeSectors int64
	// Type is the extent storage kind.
	Type ExtentType
	// FileName is the extent file, which may contain whitespace.
	FileName string
	// Offset is the start of the extent data within its file, in sectors.
	Offset int64
}

// Descriptor is the parsed contents of a text VMDK descriptor.
type Descriptor struct {
	Version     int
	CID         uint32
	ParentCID   uint32
	CreateType  string
	Extents     []Extent
	Cylinders   int64
	Heads       int
	Sectors     int
	HWVersion   string
	AdapterType string
}

// DiskSizeSectors returns the total virtual disk size in sectors.
func (d *Descriptor) DiskSizeSectors() int64 {
	var total int64
	for _, e := range d.Extents {
		total += e.SizeSectors
	}
	return total
}

// DiskSizeBytes returns the total virtual disk size in bytes.
func (d *Descriptor) DiskSizeBytes() int64 {
	return d.DiskSizeSectors() * SectorSize
}

// ParseDescriptor parses a text VMDK descriptor. Unknown keys are ignored;
// unknown extent types are an error.
func ParseDescriptor(content string) (*Descriptor, error) {

	desc := &Descriptor{
		Version:   1,
		ParentCID: 0xffffffff,
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "RW ") || strings.HasPrefix(line, "RDONLY ") ||
			strings.HasPrefix(line, "NOACCESS ") {
			extent, err := parseExtentLine(line)
			if err != nil {
				return nil, err
			}
			desc.Extents = append(desc.Extents, extent)
			continue
		}

		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}

		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		if len(value) >= 2 && strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
			value = value[1 : len(value)-1]
		}

		var err error
		switch key {
		case "version":
			desc.Version, err = strconv.Atoi(value)
			if err != nil {
				return nil, errf("invalid version: %s", value)
			}
		case "CID":
			cid, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, errf("invalid CID: %s", value)
			}
			desc.CID = uint32(cid)
		case "parentCID":
			cid, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, errf("invalid parentCID: %s", value)
			}
			desc.ParentCID = uint32(cid)
		case "createType":
			desc.CreateType = value
		case "ddb.virtualHWVersion":
			desc.HWVersion = value
		case "ddb.geometry.cylinders":
			desc.Cylinders, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, errf("invalid cylinders: %s", value)
			}
		case "ddb.geometry.heads":
			desc.Heads, err = strconv.Atoi(value)
			if err != nil {
				return nil, errf("invalid heads: %s", value)
			}
		case "ddb.geometry.sectors":
			desc.Sectors, err = strconv.Atoi(value)
			if err != nil {
				return nil, errf("invalid sectors: %s", value)
			}
		case "ddb.adapterType":
			desc.AdapterType = value
		default:
			// Unknown keys are tolerated.
		}
	}

	return desc, nil

}

// parseExtentLine parses a line like:
//
//	RW 838860800 FLAT "TestVM-flat.vmdk" 0
//
// The filename is quoted and may contain spaces; the trailing offset is
// optional.
func parseExtentLine(line string) (Extent, error) {

	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Extent{}, errf("invalid extent line: %s", line)
	}

	access := fields[0]

	sizeSectors, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Extent{}, errf("invalid extent size: %s", fields[1])
	}

	extentType, err := parseExtentType(fields[2])
	if err != nil {
		return Extent{}, err
	}

	rest := strings.Join(fields[3:], " ")
	filename, offsetStr, err := parseQuotedFilenameAndOffset(rest)
	if err != nil {
		return Extent{}, err
	}

	var offset int64
	if offsetStr != "" {
		offset, err = strconv.ParseInt(offsetStr, 10, 64)
		if err != nil {
			return Extent{}, errf("invalid extent offset: %s", offsetStr)
		}
	}

	return Extent{
		Access:      access,
		SizeSectors: sizeSectors,
		Type:        extentType,
		FileName:    filename,
		Offset:      offset,
	}, nil

}

func parseQuotedFilenameAndOffset(s string) (string, string, error) {

	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "\"") {
		return "", "", errf("expected quoted filename, got: %s", s)
	}

	end := strings.Index(s[1:], "\"")
	if end < 0 {
		return "", "", errf("unclosed quote in: %s", s)
	}
	end++

	filename := s[1:end]
	offset := strings.TrimSpace(s[end+1:])

	return filename, offset, nil

}
