package ovf

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"
)

// GuestOSMapper resolves a VMX guestOS identifier to an OVF operating
// system id and a VMware osType string.
type GuestOSMapper func(guestOS string) (int, string)

// MapGuestOS is the default GuestOSMapper. Unknown identifiers map to
// (1, "otherGuest").
func MapGuestOS(guestOS string) (int, string) {

	switch strings.ToLower(guestOS) {

	case "ubuntu-64", "ubuntu64":
		return 96, "ubuntu64Guest"
	case "ubuntu", "ubuntu-32":
		return 93, "ubuntuGuest"

	case "debian-64", "debian64", "debian10-64", "debian11-64", "debian12-64":
		return 96, "debian10_64Guest"
	case "debian", "debian-32", "debian10", "debian11", "debian12":
		return 95, "debian10Guest"

	case "centos-64", "centos64", "centos7-64", "centos8-64", "centos9-64":
		return 107, "centos64Guest"
	case "centos", "centos-32", "centos7", "centos8", "centos9":
		return 107, "centosGuest"
	case "rhel-64", "rhel64", "rhel7-64", "rhel8-64", "rhel9-64":
		return 80, "rhel7_64Guest"
	case "rhel", "rhel-32", "rhel7", "rhel8", "rhel9":
		return 79, "rhel7Guest"

	case "windows10-64", "windows10_64", "win10-64":
		return 109, "windows9_64Guest"
	case "windows10", "windows10-32", "win10":
		return 108, "windows9Guest"
	case "windows11-64", "windows11_64", "win11-64", "win11":
		return 109, "windows9_64Guest"
	case "windows7-64", "windows7_64", "win7-64":
		return 105, "windows7_64Guest"
	case "windows7", "windows7-32", "win7":
		return 104, "windows7Guest"
	case "windows8-64", "windows8_64", "win8-64":
		return 107, "windows8_64Guest"
	case "windows8", "windows8-32", "win8":
		return 106, "windows8Guest"
	case "windowsserver2016-64", "windows2016-64", "win2016-64":
		return 112, "windows9Server64Guest"
	case "windowsserver2019-64", "windows2019-64", "win2019-64":
		return 112, "windows9Server64Guest"
	case "windowsserver2022-64", "windows2022-64", "win2022-64":
		return 112, "windows9Server64Guest"

	case "freebsd-64", "freebsd64":
		return 114, "freebsd64Guest"
	case "freebsd", "freebsd-32":
		return 42, "freebsdGuest"

	case "darwin-64", "darwin64", "macos", "darwin":
		return 101, "darwin64Guest"

	case "linux-64", "other-linux-64", "otherlinux-64":
		return 101, "otherLinux64Guest"
	case "linux", "other-linux", "otherlinux":
		return 36, "otherLinuxGuest"

	case "other-64", "other64":
		return 102, "other64Guest"

	default:
		return 1, "otherGuest"
	}

}
