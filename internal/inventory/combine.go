package inventory

import "time"

// TimedInventory pairs an inventory tree with the time it was collected.
// TS is the envelope timestamp; when zero, the tree's own collectedAt is
// used as a fallback.
type TimedInventory struct {
	TS        time.Time
	Inventory *Inventory
}

func (t *TimedInventory) at() (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if !t.TS.IsZero() {
		return t.TS, true
	}
	if t.Inventory != nil && t.Inventory.CollectedAt != nil {
		return *t.Inventory.CollectedAt, true
	}
	return time.Time{}, false
}

func (t *TimedInventory) vms() []VM {
	if t == nil || t.Inventory == nil {
		return nil
	}
	return t.Inventory.VMs
}

// Combine builds the union of the VMs known to the Full and Light tiers of
// one agent. Never persisted; recomputed on each read.
//
// For each VM identity (guid, else id, else name):
//   - the base record comes from Full when present, else Light; Full
//     supplies structural fields such as complete disk descriptors;
//   - the overlay is the entry from whichever tier is fresher, and
//     contributes the volatile fields (state, uptime, cpu usage, assigned
//     memory, auto start/stop);
//   - per disk, matched by normalized path, the overlay fills in format
//     detail the base lacks and raises fileSizeMB to the max observed;
//     sizeMB always comes from the base;
//   - disks only the overlay knows about are appended as-is.
func Combine(full, light *TimedInventory) []VM {
	tFull, fullOK := full.at()
	tLight, lightOK := light.at()

	byFull, fullKeys := indexVMs(full.vms())
	byLight, lightKeys := indexVMs(light.vms())

	keys := fullKeys
	for _, k := range lightKeys {
		if _, ok := byFull[k]; !ok {
			keys = append(keys, k)
		}
	}

	fullFresher := fullOK && (!lightOK || !tFull.Before(tLight))

	out := make([]VM, 0, len(keys))
	for _, k := range keys {
		vf, okF := byFull[k]
		vl, okL := byLight[k]

		var base VM
		switch {
		case okF:
			base = vf
		case okL:
			base = vl
		default:
			continue
		}

		var overlay *VM
		if fullFresher {
			if okF {
				overlay = &vf
			}
		} else if lightOK {
			if okL {
				overlay = &vl
			}
		}

		out = append(out, overlayVM(base, overlay))
	}
	return out
}

func indexVMs(list []VM) (map[string]VM, []string) {
	m := make(map[string]VM, len(list))
	keys := make([]string, 0, len(list))
	for _, vm := range list {
		k := vm.Key()
		if k == "" {
			continue
		}
		if _, ok := m[k]; !ok {
			keys = append(keys, k)
		}
		m[k] = vm
	}
	return m, keys
}

// overlayVM copies the volatile fields and known disk detail from the
// fresher overlay onto the structural base.
func overlayVM(base VM, overlay *VM) VM {
	out := CloneVM(base)
	if overlay == nil {
		return out
	}

	if overlay.State != nil {
		out.State = cloneString(overlay.State)
	}
	if overlay.UptimeSec != nil {
		out.UptimeSec = cloneInt64(overlay.UptimeSec)
	}
	if overlay.CPUUsagePct != nil {
		out.CPUUsagePct = cloneFloat64(overlay.CPUUsagePct)
	}
	if overlay.MemoryAssignedMB != nil {
		out.MemoryAssignedMB = cloneInt64(overlay.MemoryAssignedMB)
	}
	if overlay.AutomaticStart != nil {
		out.AutomaticStart = cloneBool(overlay.AutomaticStart)
	}
	if overlay.AutomaticStop != nil {
		out.AutomaticStop = cloneBool(overlay.AutomaticStop)
	}

	byPath := make(map[string]Disk, len(overlay.Storage))
	for _, d := range overlay.Storage {
		if d.Path != "" {
			byPath[NormalizePath(d.Path)] = d
		}
	}

	basePaths := make(map[string]struct{}, len(out.Storage))
	for i := range out.Storage {
		bd := &out.Storage[i]
		basePaths[NormalizePath(bd.Path)] = struct{}{}
		od, ok := byPath[NormalizePath(bd.Path)]
		if !ok {
			continue
		}
		overlayDisk(bd, od)
	}

	// overlay-only disks are still real disks; append them
	for _, d := range overlay.Storage {
		if d.Path == "" {
			continue
		}
		if _, ok := basePaths[NormalizePath(d.Path)]; !ok {
			out.Storage = append(out.Storage, cloneDisk(d))
		}
	}

	return out
}

func overlayDisk(bd *Disk, od Disk) {
	if od.VHD == nil {
		return
	}
	vhd := bd.VHD
	if vhd == nil {
		vhd = &VHDInfo{}
		bd.VHD = vhd
	}
	ov := od.VHD
	if vhd.Format == nil && ov.Format != nil {
		vhd.Format = cloneString(ov.Format)
	}
	if vhd.Type == nil && ov.Type != nil {
		vhd.Type = cloneString(ov.Type)
	}
	if vhd.ParentPath == nil && ov.ParentPath != nil {
		vhd.ParentPath = cloneString(ov.ParentPath)
	}
	if vhd.BlockSize == nil && ov.BlockSize != nil {
		vhd.BlockSize = cloneInt64(ov.BlockSize)
	}
	if vhd.LogicalSectorSize == nil && ov.LogicalSectorSize != nil {
		vhd.LogicalSectorSize = cloneInt64(ov.LogicalSectorSize)
	}
	if vhd.PhysicalSectorSize == nil && ov.PhysicalSectorSize != nil {
		vhd.PhysicalSectorSize = cloneInt64(ov.PhysicalSectorSize)
	}
	if ov.FileSizeMB != nil {
		if vhd.FileSizeMB == nil || *ov.FileSizeMB > *vhd.FileSizeMB {
			vhd.FileSizeMB = cloneInt64(ov.FileSizeMB)
		}
	}
	// sizeMB is structural; it always comes from the base
}
