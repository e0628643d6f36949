package inventory

// Merge applies a partial state patch onto the current tree under
// non-destructive rules and returns a new tree; neither input is mutated.
//
// Rules:
//   - absent values in the patch never erase existing data, except
//     collectedAt which always takes the patch value when present;
//   - keyed lists are merged by upsert: VMs by id, disks by normalized
//     path, switches and adapters by case-folded name. Matches merge in
//     place, non-matches append, and a final dedup collapses repeats
//     under the same normalized key keeping the most recent merge;
//   - an empty disk-format descriptor in the patch is ignored so a
//     content-free stub cannot clobber known detail;
//   - vhd.fileSizeMB merges as max(current, patch) so a later but less
//     informed reading never regresses an observed high-water mark;
//   - non-keyed lists (datastores, a VM's switch names) are replaced
//     wholesale when the patch carries a non-empty value.
func Merge(current, patch *Inventory) *Inventory {
	out := CloneInventory(current)
	if patch == nil {
		return out
	}
	if out == nil {
		out = &Inventory{}
	}

	if patch.CollectedAt != nil {
		out.CollectedAt = cloneTime(patch.CollectedAt)
	}
	out.Host = mergeHost(out.Host, patch.Host)
	if len(patch.VMs) > 0 {
		out.VMs = upsertVMs(out.VMs, patch.VMs)
	}
	out.Networks = mergeNetworks(out.Networks, patch.Networks)
	if len(patch.Datastores) > 0 {
		out.Datastores = cloneDatastores(patch.Datastores)
	}
	return out
}

func mergeHost(dst, src *HostInfo) *HostInfo {
	if src == nil {
		return dst
	}
	if dst == nil {
		return cloneHost(src)
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.OSVersion != nil {
		dst.OSVersion = cloneString(src.OSVersion)
	}
	if src.CPUCores != nil {
		dst.CPUCores = cloneInt(src.CPUCores)
	}
	if src.MemoryMB != nil {
		dst.MemoryMB = cloneInt64(src.MemoryMB)
	}
	return dst
}

func mergeNetworks(dst, src *Networks) *Networks {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &Networks{}
	}
	if len(src.Switches) > 0 {
		dst.Switches = upsertSwitches(dst.Switches, src.Switches)
	}
	if len(src.HostAdapters) > 0 {
		dst.HostAdapters = upsertHostAdapters(dst.HostAdapters, src.HostAdapters)
	}
	return dst
}

// upsertVMs merges the patch VM list into dst keyed by normalized id.
// Entries without an id cannot be indexed and are appended as-is.
func upsertVMs(dst, src []VM) []VM {
	pos := make(map[string]int, len(dst))
	for i := range dst {
		if dst[i].ID != "" {
			pos[normalizeName(dst[i].ID)] = i
		}
	}
	for _, it := range src {
		if it.ID == "" {
			dst = append(dst, CloneVM(it))
			continue
		}
		k := normalizeName(it.ID)
		if i, ok := pos[k]; ok {
			dst[i] = mergeVM(dst[i], it)
		} else {
			pos[k] = len(dst)
			dst = append(dst, CloneVM(it))
		}
	}
	return dedupVMs(dst)
}

func dedupVMs(list []VM) []VM {
	seen := make(map[string]int, len(list))
	out := list[:0]
	for _, it := range list {
		if it.ID == "" {
			out = append(out, it)
			continue
		}
		k := normalizeName(it.ID)
		if i, ok := seen[k]; ok {
			out[i] = it // keep the most recently merged version
			continue
		}
		seen[k] = len(out)
		out = append(out, it)
	}
	return out
}

func mergeVM(dst, src VM) VM {
	if src.GUID != "" {
		dst.GUID = src.GUID
	}
	if src.ID != "" {
		dst.ID = src.ID
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.State != nil {
		dst.State = cloneString(src.State)
	}
	if src.UptimeSec != nil {
		dst.UptimeSec = cloneInt64(src.UptimeSec)
	}
	if src.CPUUsagePct != nil {
		dst.CPUUsagePct = cloneFloat64(src.CPUUsagePct)
	}
	if src.MemoryAssignedMB != nil {
		dst.MemoryAssignedMB = cloneInt64(src.MemoryAssignedMB)
	}
	if src.AutomaticStart != nil {
		dst.AutomaticStart = cloneBool(src.AutomaticStart)
	}
	if src.AutomaticStop != nil {
		dst.AutomaticStop = cloneBool(src.AutomaticStop)
	}
	if src.CPU != nil {
		dst.CPU = cloneInt(src.CPU)
	}
	if src.RAMMB != nil {
		dst.RAMMB = cloneInt64(src.RAMMB)
	}
	if src.Generation != nil {
		dst.Generation = cloneInt(src.Generation)
	}
	if src.Notes != nil {
		dst.Notes = cloneString(src.Notes)
	}
	if len(src.Switches) > 0 {
		dst.Switches = cloneStrings(src.Switches)
	}
	if len(src.NetworkAdapters) > 0 {
		dst.NetworkAdapters = upsertNetAdapters(dst.NetworkAdapters, src.NetworkAdapters)
	}
	if len(src.Storage) > 0 {
		dst.Storage = upsertDisks(dst.Storage, src.Storage)
	}
	return dst
}

func upsertDisks(dst, src []Disk) []Disk {
	pos := make(map[string]int, len(dst))
	for i := range dst {
		if dst[i].Path != "" {
			pos[NormalizePath(dst[i].Path)] = i
		}
	}
	for _, it := range src {
		if it.Path == "" {
			dst = append(dst, cloneDisk(it))
			continue
		}
		k := NormalizePath(it.Path)
		if i, ok := pos[k]; ok {
			dst[i] = mergeDisk(dst[i], it)
		} else {
			pos[k] = len(dst)
			dst = append(dst, cloneDisk(it))
		}
	}
	return dedupDisks(dst)
}

func dedupDisks(list []Disk) []Disk {
	seen := make(map[string]int, len(list))
	out := list[:0]
	for _, it := range list {
		if it.Path == "" {
			out = append(out, it)
			continue
		}
		k := NormalizePath(it.Path)
		if i, ok := seen[k]; ok {
			out[i] = it
			continue
		}
		seen[k] = len(out)
		out = append(out, it)
	}
	return out
}

func mergeDisk(dst, src Disk) Disk {
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.ControllerType != nil {
		dst.ControllerType = cloneString(src.ControllerType)
	}
	if src.ControllerNumber != nil {
		dst.ControllerNumber = cloneInt(src.ControllerNumber)
	}
	if src.ControllerLocation != nil {
		dst.ControllerLocation = cloneInt(src.ControllerLocation)
	}
	// an empty descriptor is a stub, not an erasure
	if src.VHD != nil && !src.VHD.IsEmpty() {
		dst.VHD = mergeVHD(dst.VHD, src.VHD)
	}
	return dst
}

func mergeVHD(dst, src *VHDInfo) *VHDInfo {
	out := cloneVHD(dst)
	if out == nil {
		out = &VHDInfo{}
	}
	if src.Format != nil {
		out.Format = cloneString(src.Format)
	}
	if src.Type != nil {
		out.Type = cloneString(src.Type)
	}
	if src.SizeMB != nil {
		out.SizeMB = cloneInt64(src.SizeMB)
	}
	if src.FileSizeMB != nil {
		if out.FileSizeMB == nil || *src.FileSizeMB > *out.FileSizeMB {
			out.FileSizeMB = cloneInt64(src.FileSizeMB)
		}
	}
	if src.ParentPath != nil {
		out.ParentPath = cloneString(src.ParentPath)
	}
	if src.BlockSize != nil {
		out.BlockSize = cloneInt64(src.BlockSize)
	}
	if src.LogicalSectorSize != nil {
		out.LogicalSectorSize = cloneInt64(src.LogicalSectorSize)
	}
	if src.PhysicalSectorSize != nil {
		out.PhysicalSectorSize = cloneInt64(src.PhysicalSectorSize)
	}
	return out
}

func upsertSwitches(dst, src []VSwitch) []VSwitch {
	pos := make(map[string]int, len(dst))
	for i := range dst {
		if dst[i].Name != "" {
			pos[normalizeName(dst[i].Name)] = i
		}
	}
	for _, it := range src {
		if it.Name == "" {
			dst = append(dst, cloneSwitch(it))
			continue
		}
		k := normalizeName(it.Name)
		if i, ok := pos[k]; ok {
			dst[i] = mergeSwitch(dst[i], it)
		} else {
			pos[k] = len(dst)
			dst = append(dst, cloneSwitch(it))
		}
	}
	return dst
}

func mergeSwitch(dst, src VSwitch) VSwitch {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.SwitchType != nil {
		dst.SwitchType = cloneString(src.SwitchType)
	}
	if src.NetAdapter != nil {
		dst.NetAdapter = cloneString(src.NetAdapter)
	}
	if src.Notes != nil {
		dst.Notes = cloneString(src.Notes)
	}
	return dst
}

func upsertHostAdapters(dst, src []HostAdapter) []HostAdapter {
	pos := make(map[string]int, len(dst))
	for i := range dst {
		if dst[i].Name != "" {
			pos[normalizeName(dst[i].Name)] = i
		}
	}
	for _, it := range src {
		if it.Name == "" {
			dst = append(dst, cloneHostAdapter(it))
			continue
		}
		k := normalizeName(it.Name)
		if i, ok := pos[k]; ok {
			dst[i] = mergeHostAdapter(dst[i], it)
		} else {
			pos[k] = len(dst)
			dst = append(dst, cloneHostAdapter(it))
		}
	}
	return dst
}

func mergeHostAdapter(dst, src HostAdapter) HostAdapter {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.MAC != nil {
		dst.MAC = cloneString(src.MAC)
	}
	if src.Up != nil {
		dst.Up = cloneBool(src.Up)
	}
	if src.SpeedMbps != nil {
		dst.SpeedMbps = cloneInt64(src.SpeedMbps)
	}
	return dst
}

func upsertNetAdapters(dst, src []NetAdapter) []NetAdapter {
	pos := make(map[string]int, len(dst))
	for i := range dst {
		if dst[i].Name != "" {
			pos[normalizeName(dst[i].Name)] = i
		}
	}
	for _, it := range src {
		if it.Name == "" {
			dst = append(dst, cloneNetAdapter(it))
			continue
		}
		k := normalizeName(it.Name)
		if i, ok := pos[k]; ok {
			dst[i] = mergeNetAdapter(dst[i], it)
		} else {
			pos[k] = len(dst)
			dst = append(dst, cloneNetAdapter(it))
		}
	}
	return dst
}

func mergeNetAdapter(dst, src NetAdapter) NetAdapter {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.SwitchName != nil {
		dst.SwitchName = cloneString(src.SwitchName)
	}
	if src.MAC != nil {
		dst.MAC = cloneString(src.MAC)
	}
	if len(src.IPs) > 0 {
		dst.IPs = cloneStrings(src.IPs)
	}
	return dst
}
