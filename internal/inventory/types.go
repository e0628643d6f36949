package inventory

import (
	"strings"
	"time"
)

// Inventory is the typed tree an agent reports for its host: the host
// descriptor, the VM list, the virtual network layout and the datastores.
// Optional sub-structures are pointers so an absent value can be told apart
// from a zero value when merging partial patches.
type Inventory struct {
	CollectedAt *time.Time  `json:"collectedAt,omitempty" bson:"collectedAt,omitempty"`
	Host        *HostInfo   `json:"host,omitempty" bson:"host,omitempty"`
	VMs         []VM        `json:"vms,omitempty" bson:"vms,omitempty"`
	Networks    *Networks   `json:"networks,omitempty" bson:"networks,omitempty"`
	Datastores  []Datastore `json:"datastores,omitempty" bson:"datastores,omitempty"`
}

// HostInfo describes the hypervisor host itself.
type HostInfo struct {
	Name      string  `json:"name,omitempty" bson:"name,omitempty"`
	OSVersion *string `json:"osVersion,omitempty" bson:"osVersion,omitempty"`
	CPUCores  *int    `json:"cpuCores,omitempty" bson:"cpuCores,omitempty"`
	MemoryMB  *int64  `json:"memoryMB,omitempty" bson:"memoryMB,omitempty"`
}

// Networks holds the virtual switch and host adapter lists.
type Networks struct {
	Switches     []VSwitch     `json:"switches,omitempty" bson:"switches,omitempty"`
	HostAdapters []HostAdapter `json:"hostAdapters,omitempty" bson:"hostAdapters,omitempty"`
}

// VSwitch is a virtual switch on the host.
type VSwitch struct {
	Name       string  `json:"name" bson:"name"`
	SwitchType *string `json:"switchType,omitempty" bson:"switchType,omitempty"`
	NetAdapter *string `json:"netAdapter,omitempty" bson:"netAdapter,omitempty"`
	Notes      *string `json:"notes,omitempty" bson:"notes,omitempty"`
}

// HostAdapter is a physical NIC on the host.
type HostAdapter struct {
	Name      string  `json:"name" bson:"name"`
	MAC       *string `json:"mac,omitempty" bson:"mac,omitempty"`
	Up        *bool   `json:"up,omitempty" bson:"up,omitempty"`
	SpeedMbps *int64  `json:"speedMbps,omitempty" bson:"speedMbps,omitempty"`
}

// VM is one virtual machine record. The first six pointer fields after Name
// are the volatile set the view materializer overlays from the freshest tier.
type VM struct {
	GUID string `json:"guid,omitempty" bson:"guid,omitempty"`
	ID   string `json:"id,omitempty" bson:"id,omitempty"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`

	State            *string  `json:"state,omitempty" bson:"state,omitempty"`
	UptimeSec        *int64   `json:"uptimeSec,omitempty" bson:"uptimeSec,omitempty"`
	CPUUsagePct      *float64 `json:"cpuUsagePct,omitempty" bson:"cpuUsagePct,omitempty"`
	MemoryAssignedMB *int64   `json:"memoryAssignedMB,omitempty" bson:"memoryAssignedMB,omitempty"`
	AutomaticStart   *bool    `json:"automaticStart,omitempty" bson:"automaticStart,omitempty"`
	AutomaticStop    *bool    `json:"automaticStop,omitempty" bson:"automaticStop,omitempty"`

	CPU        *int    `json:"cpu,omitempty" bson:"cpu,omitempty"`
	RAMMB      *int64  `json:"ramMB,omitempty" bson:"ramMB,omitempty"`
	Generation *int    `json:"generation,omitempty" bson:"generation,omitempty"`
	Notes      *string `json:"notes,omitempty" bson:"notes,omitempty"`

	Switches        []string     `json:"switches,omitempty" bson:"switches,omitempty"`
	NetworkAdapters []NetAdapter `json:"networkAdapters,omitempty" bson:"networkAdapters,omitempty"`
	Storage         []Disk       `json:"storage,omitempty" bson:"storage,omitempty"`
}

// Key returns the identity of a VM: guid, else id, else name.
func (v *VM) Key() string {
	if v.GUID != "" {
		return v.GUID
	}
	if v.ID != "" {
		return v.ID
	}
	return v.Name
}

// NetAdapter is a virtual NIC attached to a VM.
type NetAdapter struct {
	Name       string   `json:"name" bson:"name"`
	SwitchName *string  `json:"switchName,omitempty" bson:"switchName,omitempty"`
	MAC        *string  `json:"mac,omitempty" bson:"mac,omitempty"`
	IPs        []string `json:"ips,omitempty" bson:"ips,omitempty"`
}

// Disk is a virtual disk attached to a VM, identified by its file path.
type Disk struct {
	Path               string   `json:"path" bson:"path"`
	ControllerType     *string  `json:"controllerType,omitempty" bson:"controllerType,omitempty"`
	ControllerNumber   *int     `json:"controllerNumber,omitempty" bson:"controllerNumber,omitempty"`
	ControllerLocation *int     `json:"controllerLocation,omitempty" bson:"controllerLocation,omitempty"`
	VHD                *VHDInfo `json:"vhd,omitempty" bson:"vhd,omitempty"`
}

// VHDInfo is the disk-format descriptor. FileSizeMB grows over time for
// dynamic disks and is merged with max() semantics; SizeMB is structural.
type VHDInfo struct {
	Format             *string `json:"format,omitempty" bson:"format,omitempty"`
	Type               *string `json:"type,omitempty" bson:"type,omitempty"`
	SizeMB             *int64  `json:"sizeMB,omitempty" bson:"sizeMB,omitempty"`
	FileSizeMB         *int64  `json:"fileSizeMB,omitempty" bson:"fileSizeMB,omitempty"`
	ParentPath         *string `json:"parentPath,omitempty" bson:"parentPath,omitempty"`
	BlockSize          *int64  `json:"blockSize,omitempty" bson:"blockSize,omitempty"`
	LogicalSectorSize  *int64  `json:"logicalSectorSize,omitempty" bson:"logicalSectorSize,omitempty"`
	PhysicalSectorSize *int64  `json:"physicalSectorSize,omitempty" bson:"physicalSectorSize,omitempty"`
}

// IsEmpty reports whether the descriptor carries no information at all.
// Such content-free stubs are ignored by the merge engine so they never
// clobber previously known detail.
func (v *VHDInfo) IsEmpty() bool {
	return v == nil || (v.Format == nil && v.Type == nil && v.SizeMB == nil &&
		v.FileSizeMB == nil && v.ParentPath == nil && v.BlockSize == nil &&
		v.LogicalSectorSize == nil && v.PhysicalSectorSize == nil)
}

// Datastore is a storage location on the host.
type Datastore struct {
	Name       string  `json:"name,omitempty" bson:"name,omitempty"`
	Path       string  `json:"path,omitempty" bson:"path,omitempty"`
	Kind       *string `json:"kind,omitempty" bson:"kind,omitempty"`
	Drive      *string `json:"drive,omitempty" bson:"drive,omitempty"`
	TotalBytes *int64  `json:"totalBytes,omitempty" bson:"totalBytes,omitempty"`
	FreeBytes  *int64  `json:"freeBytes,omitempty" bson:"freeBytes,omitempty"`
}

// NormalizePath folds a disk path for comparison: forward slashes become
// backslashes and the result is lower-cased, so platform spelling
// differences do not create duplicate entries.
func NormalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "/", "\\"))
}

func normalizeName(n string) string {
	return strings.ToLower(n)
}
