package ovf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vorteil/vexport/pkg/vmx"
)

func testConfig() *vmx.Config {
	return &vmx.Config{
		DisplayName: "TestVM",
		GuestOS:     "ubuntu-64",
		MemoryMiB:   4096,
		NumCPUs:     2,
		Disks: []vmx.Disk{{
			FileName:   "disk.vmdk",
			Controller: "scsi0",
			Unit:       0,
		}},
		Networks: []vmx.NetworkAdapter{{
			Name:        "ethernet0",
			VirtualDev:  "vmxnet3",
			NetworkName: "NAT",
		}},
	}
}

func testDisks() []DiskInfo {
	return []DiskInfo{{
		ID:            "vmdisk1",
		FileRef:       "file1",
		Href:          "disk.vmdk",
		CapacityBytes: 10737418240,
		FileSizeBytes: 104857600,
	}}
}

func build(t *testing.T, cfg *vmx.Config, disks []DiskInfo) string {
	t.Helper()
	out, err := NewBuilder(cfg).Build(disks)
	assert.NoError(t, err)
	return string(out)
}

func TestBuildDeclaresNamespaces(t *testing.T) {

	doc := build(t, testConfig(), testDisks())

	assert.True(t, strings.HasPrefix(doc, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>"))
	assert.Contains(t, doc, "xmlns:ovf=\""+NamespaceOVF+"\"")
	assert.Contains(t, doc, "xmlns:rasd=\""+NamespaceRASD+"\"")
	assert.Contains(t, doc, "xmlns:vssd=\""+NamespaceVSSD+"\"")
	assert.Contains(t, doc, "xmlns:vmw=\""+NamespaceVMW+"\"")
	assert.Contains(t, doc, "xmlns:xsi=\""+NamespaceXSI+"\"")

}

func TestBuildReferences(t *testing.T) {

	doc := build(t, testConfig(), testDisks())

	assert.Contains(t, doc, "ovf:href=\"disk.vmdk\"")
	assert.Contains(t, doc, "ovf:id=\"file1\"")
	assert.Contains(t, doc, "ovf:size=\"104857600\"")

}

func TestBuildDiskSection(t *testing.T) {

	doc := build(t, testConfig(), testDisks())

	assert.Contains(t, doc, "ovf:capacity=\"10737418240\"")
	assert.Contains(t, doc, "ovf:capacityAllocationUnits=\"byte\"")
	assert.Contains(t, doc, "ovf:diskId=\"vmdisk1\"")
	assert.Contains(t, doc, "ovf:fileRef=\"file1\"")
	assert.Contains(t, doc, DiskFormatStreamOptimized)

}

func TestBuildNetworkSection(t *testing.T) {

	doc := build(t, testConfig(), testDisks())
	assert.Contains(t, doc, "ovf:name=\"NAT\"")

}

func TestBuildNetworkSectionDefault(t *testing.T) {

	cfg := testConfig()
	cfg.Networks = nil

	doc := build(t, cfg, testDisks())
	assert.Contains(t, doc, "ovf:name=\"VM Network\"")
	assert.Contains(t, doc, "<rasd:Connection>VM Network</rasd:Connection>")
	assert.Contains(t, doc, "<rasd:ResourceSubType>E1000</rasd:ResourceSubType>")

}

func TestBuildVirtualHardware(t *testing.T) {

	doc := build(t, testConfig(), testDisks())

	assert.Contains(t, doc, "ovf:id=\"TestVM\"")
	assert.Contains(t, doc, "<ovf:Name>TestVM</ovf:Name>")

	assert.Contains(t, doc, "<vssd:InstanceID>0</vssd:InstanceID>")

	// CPU
	assert.Contains(t, doc, "<rasd:ResourceType>3</rasd:ResourceType>")
	assert.Contains(t, doc, "<rasd:VirtualQuantity>2</rasd:VirtualQuantity>")

	// Memory
	assert.Contains(t, doc, "<rasd:ResourceType>4</rasd:ResourceType>")
	assert.Contains(t, doc, "<rasd:VirtualQuantity>4096</rasd:VirtualQuantity>")

	// SCSI controller
	assert.Contains(t, doc, "<rasd:ResourceType>6</rasd:ResourceType>")
	assert.Contains(t, doc, "<rasd:ResourceSubType>lsilogic</rasd:ResourceSubType>")

	// Disk
	assert.Contains(t, doc, "<rasd:ResourceType>17</rasd:ResourceType>")
	assert.Contains(t, doc, "<rasd:HostResource>ovf:/disk/vmdisk1</rasd:HostResource>")
	assert.Contains(t, doc, "<rasd:Parent>3</rasd:Parent>")
	assert.Contains(t, doc, "<rasd:InstanceID>4</rasd:InstanceID>")

	// Network adapter follows the disks.
	assert.Contains(t, doc, "<rasd:ResourceType>10</rasd:ResourceType>")
	assert.Contains(t, doc, "<rasd:ResourceSubType>vmxnet3</rasd:ResourceSubType>")
	assert.Contains(t, doc, "<rasd:InstanceID>5</rasd:InstanceID>")

}

func TestBuildOperatingSystemSection(t *testing.T) {

	cfg := testConfig()
	cfg.GuestOS = "windows10-64"

	doc := build(t, cfg, testDisks())
	assert.Contains(t, doc, "vmw:osType=\"windows9_64Guest\"")
	assert.Contains(t, doc, "ovf:id=\"109\"")

}

func TestBuildEscapesSpecialCharacters(t *testing.T) {

	cfg := testConfig()
	cfg.DisplayName = "Evil <VM> & \"Friends\""
	cfg.Networks[0].NetworkName = "Net <&>"

	doc := build(t, cfg, testDisks())

	assert.Contains(t, doc, "<ovf:Name>Evil &lt;VM&gt; &amp; &#34;Friends&#34;</ovf:Name>")
	assert.NotContains(t, doc, "<VM>")
	assert.Contains(t, doc, "Net &lt;&amp;&gt;")

	// The VirtualSystem id is sanitized rather than escaped.
	assert.Contains(t, doc, "ovf:id=\"Evil__VM_____Friends_\"")

}

func TestMapGuestOS(t *testing.T) {

	id, osType := MapGuestOS("ubuntu-64")
	assert.Equal(t, 96, id)
	assert.Equal(t, "ubuntu64Guest", osType)

	id, osType = MapGuestOS("windows10-64")
	assert.Equal(t, 109, id)
	assert.Equal(t, "windows9_64Guest", osType)

	id, osType = MapGuestOS("UNKNOWN-os")
	assert.Equal(t, 1, id)
	assert.Equal(t, "otherGuest", osType)

}

func TestCustomGuestOSMapper(t *testing.T) {

	b := NewBuilder(testConfig())
	b.MapGuestOS = func(string) (int, string) { return 77, "customGuest" }

	out, err := b.Build(testDisks())
	assert.NoError(t, err)
	assert.Contains(t, string(out), "vmw:osType=\"customGuest\"")
	assert.Contains(t, string(out), "ovf:id=\"77\"")

}

func TestSanitizeID(t *testing.T) {

	assert.Equal(t, "TestVM", SanitizeID("TestVM"))
	assert.Equal(t, "Test_VM", SanitizeID("Test VM"))
	assert.Equal(t, "VM__123", SanitizeID("VM<>123"))
	assert.Equal(t, "my-vm_01.old", SanitizeID("my-vm_01.old"))
	assert.Equal(t, "a_b_c_d", SanitizeID("a/b\\c:d"))

}

func TestMultipleDisksInstanceIDs(t *testing.T) {

	cfg := testConfig()
	cfg.Disks = append(cfg.Disks, vmx.Disk{FileName: "disk2.vmdk", Controller: "scsi0", Unit: 1})

	disks := append(testDisks(), DiskInfo{
		ID:            "vmdisk2",
		FileRef:       "file2",
		Href:          "disk2.vmdk",
		CapacityBytes: 1024,
		FileSizeBytes: 512,
	})

	doc := build(t, cfg, disks)

	assert.Contains(t, doc, "<rasd:InstanceID>4</rasd:InstanceID>")
	assert.Contains(t, doc, "<rasd:InstanceID>5</rasd:InstanceID>")
	// Adapter InstanceIDs follow the disks.
	assert.Contains(t, doc, "<rasd:InstanceID>6</rasd:InstanceID>")

}
