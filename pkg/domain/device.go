// Package domain holds the value types and interfaces shared by the
// hardware adapters, transfer engines, persistence layer, and orchestrator.
package domain

// Filesystem identifies a block device's on-disk format.
type Filesystem string

const (
	FilesystemExt4  Filesystem = "ext4"
	FilesystemExfat Filesystem = "exfat"
	FilesystemVfat  Filesystem = "vfat"
	FilesystemNtfs  Filesystem = "ntfs"
	FilesystemBtrfs Filesystem = "btrfs"

	// FilesystemSimulated is used only by the simulated adapter for tests.
	FilesystemSimulated Filesystem = "simulated"
)

// SupportedFilesystems lists the filesystems the Linux adapter will mount.
// Anything else causes the device to be silently ignored, per spec.
var SupportedFilesystems = map[Filesystem]bool{
	FilesystemExt4:  true,
	FilesystemExfat: true,
	FilesystemVfat:  true,
	FilesystemNtfs:  true,
	FilesystemBtrfs: true,
}

// BlockDevice is a detected, mountable storage device.
type BlockDevice struct {
	UUID          string
	Label         string
	DevicePath    string
	MountPoint    string
	CapacityBytes uint64
	Filesystem    Filesystem
}

// DisplayLabel returns Label, falling back to UUID when Label is empty.
func (d BlockDevice) DisplayLabel() string {
	if d.Label == "" {
		return d.UUID
	}
	return d.Label
}

// EventKind tags the variant of a HardwareEvent.
type EventKind string

const (
	EventDeviceAdded   EventKind = "device_added"
	EventDeviceRemoved EventKind = "device_removed"
)

// HardwareEvent is the tagged union of device-arrival/removal notifications
// produced by a HardwareAdapter.
type HardwareEvent struct {
	Kind   EventKind
	Device BlockDevice // populated when Kind == EventDeviceAdded
	UUID   string      // populated when Kind == EventDeviceRemoved
}
