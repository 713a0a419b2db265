package vmx

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Defaults applied when a VMX file omits the corresponding key.
const (
	DefaultDisplayName = "Unnamed VM"
	DefaultGuestOS     = "other"
	DefaultMemoryMiB   = 1024
	DefaultNumCPUs     = 1
)

var controllerPrefixes = []string{"scsi", "ide", "nvme", "sata"}

// ParseError is returned when a VMX file cannot be read or is structurally
// invalid.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "vmx parse error: " + e.Msg
}

func errf(format string, x ...interface{}) error {
	return &ParseError{Msg: fmt.Sprintf(format, x...)}
}

// Disk describes a virtual disk attached to the VM.
type Disk struct {
	// FileName is the VMDK path as written in the VMX, relative to the VMX
	// directory.
	FileName string
	// Controller is the controller slot, e.g. "scsi0".
	Controller string
	// Unit is the unit number on the controller.
	Unit uint32
}

// NetworkAdapter describes a virtual NIC attached to the VM.
type NetworkAdapter struct {
	// Name is the VMX slot name, e.g. "ethernet0".
	Name string
	// VirtualDev is the device model ("e1000", "vmxnet3", ...) if set.
	VirtualDev string
	// NetworkName is the network label the adapter connects to, if set.
	NetworkName string
}

// Config is the parsed contents of a VMX file.
type Config struct {
	DisplayName string
	GuestOS     string
	MemoryMiB   uint32
	NumCPUs     uint32
	Disks       []Disk
	Networks    []NetworkAdapter

	// Raw preserves every key=value pair from the file.
	Raw map[string]string
}

// LoadFile reads and parses a VMX file.
func LoadFile(path string) (*Config, error) {

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errf("cannot read '%s': %v", path, err)
	}

	return Parse(string(data))

}

// Parse parses VMX content.
func Parse(content string) (*Config, error) {

	raw := parseKeyValuePairs(content)

	cfg := &Config{
		DisplayName: DefaultDisplayName,
		GuestOS:     DefaultGuestOS,
		MemoryMiB:   DefaultMemoryMiB,
		NumCPUs:     DefaultNumCPUs,
		Raw:         raw,
	}

	if s, ok := raw["displayName"]; ok {
		cfg.DisplayName = s
	}

	if s, ok := raw["guestOS"]; ok {
		cfg.GuestOS = s
	}

	if s, ok := raw["memsize"]; ok {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			cfg.MemoryMiB = uint32(n)
		}
	}

	if s, ok := raw["numvcpus"]; ok {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			cfg.NumCPUs = uint32(n)
		}
	}

	cfg.Disks = extractDisks(raw)
	cfg.Networks = extractNetworks(raw)

	return cfg, nil

}

func parseKeyValuePairs(content string) map[string]string {

	m := make(map[string]string)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
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

		m[key] = value
	}

	return m

}

func extractDisks(raw map[string]string) []Disk {

	var disks []Disk

	for key, value := range raw {
		if !strings.HasSuffix(key, ".fileName") {
			continue
		}

		// ISO images and other attachments share the fileName suffix.
		if !strings.HasSuffix(value, ".vmdk") {
			continue
		}

		slot := strings.TrimSuffix(key, ".fileName")

		matched := false
		for _, prefix := range controllerPrefixes {
			if strings.HasPrefix(slot, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		colon := strings.Index(slot, ":")
		if colon < 0 {
			continue
		}

		unit, err := strconv.ParseUint(slot[colon+1:], 10, 32)
		if err != nil {
			continue
		}

		if !strings.EqualFold(raw[slot+".present"], "TRUE") {
			continue
		}

		disks = append(disks, Disk{
			FileName:   value,
			Controller: slot[:colon],
			Unit:       uint32(unit),
		})
	}

	sort.SliceStable(disks, func(i, j int) bool {
		if disks[i].Controller != disks[j].Controller {
			return disks[i].Controller < disks[j].Controller
		}
		return disks[i].Unit < disks[j].Unit
	})

	return disks

}

func extractNetworks(raw map[string]string) []NetworkAdapter {

	var names []string

	for key, value := range raw {
		if strings.HasPrefix(key, "ethernet") && strings.HasSuffix(key, ".present") &&
			strings.EqualFold(value, "TRUE") {
			names = append(names, strings.TrimSuffix(key, ".present"))
		}
	}

	sort.Strings(names)

	var adapters []NetworkAdapter
	for _, name := range names {
		adapters = append(adapters, NetworkAdapter{
			Name:        name,
			VirtualDev:  raw[name+".virtualDev"],
			NetworkName: raw[name+".networkName"],
		})
	}

	return adapters

}
