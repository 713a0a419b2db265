package ovf

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/xml"
	"fmt"

	"github.com/vorteil/vexport/pkg/vmx"
)

// Namespace URIs and the streamOptimized disk format identifier.
const (
	NamespaceOVF  = "http://schemas.dmtf.org/ovf/envelope/1"
	NamespaceRASD = "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_ResourceAllocationSettingData"
	NamespaceVSSD = "http://schemas.dmtf.org/wbem/wscim/1/cim-schema/2/CIM_VirtualSystemSettingData"
	NamespaceVMW  = "http://www.vmware.com/schema/ovf"
	NamespaceXSI  = "http://www.w3.org/2001/XMLSchema-instance"

	DiskFormatStreamOptimized = "http://www.vmware.com/interfaces/specifications/vmdk.html#streamOptimized"
)

const xmlHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"

// Resource types from the DMTF CIM schema.
const (
	resourceTypeCPU            = 3
	resourceTypeMemory         = 4
	resourceTypeSCSIController = 6
	resourceTypeEthernet       = 10
	resourceTypeDisk           = 17
)

// Error is an OVF generation failure. Build returns it when the envelope
// cannot be marshalled.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return "ovf error: " + e.Msg
}

// DiskInfo describes one generated VMDK for the descriptor.
type DiskInfo struct {
	// ID is the DiskSection identifier, e.g. "vmdisk1".
	ID string
	// FileRef names the References entry, e.g. "file1".
	FileRef string
	// Href is the archived filename of the VMDK.
	Href string
	// CapacityBytes is the virtual disk capacity.
	CapacityBytes int64
	// FileSizeBytes is the archived VMDK file size.
	FileSizeBytes int64
}

// Envelope is the OVF 1.0 document root.
type Envelope struct {
	XMLName xml.Name `xml:"ovf:Envelope"`

	XmlnsOVF  string `xml:"xmlns:ovf,attr"`
	XmlnsRASD string `xml:"xmlns:rasd,attr"`
	XmlnsVSSD string `xml:"xmlns:vssd,attr"`
	XmlnsVMW  string `xml:"xmlns:vmw,attr"`
	XmlnsXSI  string `xml:"xmlns:xsi,attr"`

	References     References     `xml:"ovf:References"`
	DiskSection    DiskSection    `xml:"ovf:DiskSection"`
	NetworkSection NetworkSection `xml:"ovf:NetworkSection"`
	VirtualSystem  VirtualSystem  `xml:"ovf:VirtualSystem"`
}

type References struct {
	Files []File `xml:"ovf:File"`
}

type File struct {
	Href string `xml:"ovf:href,attr"`
	ID   string `xml:"ovf:id,attr"`
	Size int64  `xml:"ovf:size,attr"`
}

type DiskSection struct {
	Info  string `xml:"ovf:Info"`
	Disks []Disk `xml:"ovf:Disk"`
}

type Disk struct {
	Capacity                int64  `xml:"ovf:capacity,attr"`
	CapacityAllocationUnits string `xml:"ovf:capacityAllocationUnits,attr"`
	DiskID                  string `xml:"ovf:diskId,attr"`
	FileRef                 string `xml:"ovf:fileRef,attr"`
	Format                  string `xml:"ovf:format,attr"`
}

type NetworkSection struct {
	Info     string    `xml:"ovf:Info"`
	Networks []Network `xml:"ovf:Network"`
}

type Network struct {
	Name        string `xml:"ovf:name,attr"`
	Description string `xml:"ovf:Description"`
}

type VirtualSystem struct {
	ID              string                 `xml:"ovf:id,attr"`
	Info            string                 `xml:"ovf:Info"`
	Name            string                 `xml:"ovf:Name"`
	OperatingSystem OperatingSystemSection `xml:"ovf:OperatingSystemSection"`
	VirtualHardware VirtualHardwareSection `xml:"ovf:VirtualHardwareSection"`
}

type OperatingSystemSection struct {
	ID          int    `xml:"ovf:id,attr"`
	OSType      string `xml:"vmw:osType,attr"`
	Info        string `xml:"ovf:Info"`
	Description string `xml:"ovf:Description"`
}

type VirtualHardwareSection struct {
	Info   string `xml:"ovf:Info"`
	System System `xml:"ovf:System"`
	Items  []Item `xml:"ovf:Item"`
}

type System struct {
	ElementName             string `xml:"vssd:ElementName"`
	InstanceID              int    `xml:"vssd:InstanceID"`
	VirtualSystemIdentifier string `xml:"vssd:VirtualSystemIdentifier"`
	VirtualSystemType       string `xml:"vssd:VirtualSystemType"`
}

// Item is a CIM resource allocation entry. Field order follows the
// alphabetical element ordering the RASD schema requires.
type Item struct {
	Address             string `xml:"rasd:Address,omitempty"`
	AddressOnParent     string `xml:"rasd:AddressOnParent,omitempty"`
	AllocationUnits     string `xml:"rasd:AllocationUnits,omitempty"`
	AutomaticAllocation *bool  `xml:"rasd:AutomaticAllocation,omitempty"`
	Connection          string `xml:"rasd:Connection,omitempty"`
	Description         string `xml:"rasd:Description,omitempty"`
	ElementName         string `xml:"rasd:ElementName"`
	HostResource        string `xml:"rasd:HostResource,omitempty"`
	InstanceID          int    `xml:"rasd:InstanceID"`
	Parent              int    `xml:"rasd:Parent,omitempty"`
	ResourceSubType     string `xml:"rasd:ResourceSubType,omitempty"`
	ResourceType        int    `xml:"rasd:ResourceType"`
	VirtualQuantity     int64  `xml:"rasd:VirtualQuantity,omitempty"`
}

// Builder generates OVF descriptors from parsed VMX configuration.
type Builder struct {
	cfg *vmx.Config

	// MapGuestOS resolves guestOS identifiers; defaults to MapGuestOS.
	MapGuestOS GuestOSMapper
}

// NewBuilder creates a Builder for the given configuration.
func NewBuilder(cfg *vmx.Config) *Builder {
	return &Builder{
		cfg:        cfg,
		MapGuestOS: MapGuestOS,
	}
}

// Build produces the complete OVF XML document for the given disks.
func (b *Builder) Build(disks []DiskInfo) ([]byte, error) {

	env := &Envelope{
		XmlnsOVF:  NamespaceOVF,
		XmlnsRASD: NamespaceRASD,
		XmlnsVSSD: NamespaceVSSD,
		XmlnsVMW:  NamespaceVMW,
		XmlnsXSI:  NamespaceXSI,
	}

	for _, disk := range disks {
		env.References.Files = append(env.References.Files, File{
			Href: disk.Href,
			ID:   disk.FileRef,
			Size: disk.FileSizeBytes,
		})
	}

	env.DiskSection.Info = "Virtual disk information"
	for _, disk := range disks {
		env.DiskSection.Disks = append(env.DiskSection.Disks, Disk{
			Capacity:                disk.CapacityBytes,
			CapacityAllocationUnits: "byte",
			DiskID:                  disk.ID,
			FileRef:                 disk.FileRef,
			Format:                  DiskFormatStreamOptimized,
		})
	}

	env.NetworkSection.Info = "Network configuration"
	if len(b.cfg.Networks) == 0 {
		env.NetworkSection.Networks = []Network{{
			Name:        "VM Network",
			Description: "The VM Network",
		}}
	} else {
		for _, adapter := range b.cfg.Networks {
			name := adapter.NetworkName
			if name == "" {
				name = "VM Network"
			}
			env.NetworkSection.Networks = append(env.NetworkSection.Networks, Network{
				Name:        name,
				Description: fmt.Sprintf("The %s network", name),
			})
		}
	}

	env.VirtualSystem = b.virtualSystem(disks)

	body, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("cannot marshal envelope: %v", err)}
	}

	return append([]byte(xmlHeader), append(body, '\n')...), nil

}

func (b *Builder) virtualSystem(disks []DiskInfo) VirtualSystem {

	mapOS := b.MapGuestOS
	if mapOS == nil {
		mapOS = MapGuestOS
	}
	osID, osType := mapOS(b.cfg.GuestOS)

	vs := VirtualSystem{
		ID:   SanitizeID(b.cfg.DisplayName),
		Info: "A virtual machine",
		Name: b.cfg.DisplayName,
		OperatingSystem: OperatingSystemSection{
			ID:          osID,
			OSType:      osType,
			Info:        "The guest operating system",
			Description: b.cfg.GuestOS,
		},
		VirtualHardware: VirtualHardwareSection{
			Info: "Virtual hardware requirements",
			System: System{
				ElementName:             "Virtual Hardware Family",
				InstanceID:              0,
				VirtualSystemIdentifier: b.cfg.DisplayName,
				VirtualSystemType:       "vmx-21",
			},
		},
	}

	items := []Item{
		{
			AllocationUnits: "hertz * 10^6",
			Description:     "Number of Virtual CPUs",
			ElementName:     "CPU",
			InstanceID:      1,
			ResourceType:    resourceTypeCPU,
			VirtualQuantity: int64(b.cfg.NumCPUs),
		},
		{
			AllocationUnits: "byte * 2^20",
			Description:     "Memory Size",
			ElementName:     "Memory",
			InstanceID:      2,
			ResourceType:    resourceTypeMemory,
			VirtualQuantity: int64(b.cfg.MemoryMiB),
		},
		{
			Address:         "0",
			Description:     "SCSI Controller",
			ElementName:     "SCSI Controller 0",
			InstanceID:      3,
			ResourceSubType: "lsilogic",
			ResourceType:    resourceTypeSCSIController,
		},
	}

	// Disk InstanceIDs start at 4; adapter InstanceIDs follow the disks.
	for i, disk := range disks {
		items = append(items, Item{
			AddressOnParent: fmt.Sprintf("%d", i),
			Description:     "Hard Disk",
			ElementName:     fmt.Sprintf("Hard Disk %d", i+1),
			HostResource:    "ovf:/disk/" + disk.ID,
			InstanceID:      4 + i,
			Parent:          3,
			ResourceType:    resourceTypeDisk,
		})
	}

	adapters := b.cfg.Networks
	if len(adapters) == 0 {
		adapters = []vmx.NetworkAdapter{{}}
	}

	autoAlloc := true
	for i, adapter := range adapters {
		connection := adapter.NetworkName
		if connection == "" {
			connection = "VM Network"
		}
		subType := adapter.VirtualDev
		if subType == "" {
			subType = "E1000"
		}
		items = append(items, Item{
			AddressOnParent:     "0",
			AutomaticAllocation: &autoAlloc,
			Connection:          connection,
			Description:         "Network Adapter",
			ElementName:         fmt.Sprintf("Network Adapter %d", i+1),
			InstanceID:          4 + len(disks) + i,
			ResourceSubType:     subType,
			ResourceType:        resourceTypeEthernet,
		})
	}

	vs.VirtualHardware.Items = items
	return vs

}

// SanitizeID reduces a user string to the characters permitted in XML and
// filename identifiers; everything outside [A-Za-z0-9_.-] becomes '_'.
func SanitizeID(s string) string {

	out := []rune(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)

}
