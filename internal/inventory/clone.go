package inventory

import "time"

// Deep-copy helpers so Merge and Combine never alias their inputs.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneFloat64(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func CloneInventory(in *Inventory) *Inventory {
	if in == nil {
		return nil
	}
	out := &Inventory{
		CollectedAt: cloneTime(in.CollectedAt),
		Host:        cloneHost(in.Host),
		Networks:    cloneNetworks(in.Networks),
		Datastores:  cloneDatastores(in.Datastores),
	}
	if in.VMs != nil {
		out.VMs = make([]VM, len(in.VMs))
		for i := range in.VMs {
			out.VMs[i] = CloneVM(in.VMs[i])
		}
	}
	return out
}

func cloneHost(h *HostInfo) *HostInfo {
	if h == nil {
		return nil
	}
	return &HostInfo{
		Name:      h.Name,
		OSVersion: cloneString(h.OSVersion),
		CPUCores:  cloneInt(h.CPUCores),
		MemoryMB:  cloneInt64(h.MemoryMB),
	}
}

func cloneNetworks(n *Networks) *Networks {
	if n == nil {
		return nil
	}
	out := &Networks{}
	if n.Switches != nil {
		out.Switches = make([]VSwitch, len(n.Switches))
		for i, s := range n.Switches {
			out.Switches[i] = cloneSwitch(s)
		}
	}
	if n.HostAdapters != nil {
		out.HostAdapters = make([]HostAdapter, len(n.HostAdapters))
		for i, a := range n.HostAdapters {
			out.HostAdapters[i] = cloneHostAdapter(a)
		}
	}
	return out
}

func cloneSwitch(s VSwitch) VSwitch {
	return VSwitch{
		Name:       s.Name,
		SwitchType: cloneString(s.SwitchType),
		NetAdapter: cloneString(s.NetAdapter),
		Notes:      cloneString(s.Notes),
	}
}

func cloneHostAdapter(a HostAdapter) HostAdapter {
	return HostAdapter{
		Name:      a.Name,
		MAC:       cloneString(a.MAC),
		Up:        cloneBool(a.Up),
		SpeedMbps: cloneInt64(a.SpeedMbps),
	}
}

func CloneVM(v VM) VM {
	out := v
	out.State = cloneString(v.State)
	out.UptimeSec = cloneInt64(v.UptimeSec)
	out.CPUUsagePct = cloneFloat64(v.CPUUsagePct)
	out.MemoryAssignedMB = cloneInt64(v.MemoryAssignedMB)
	out.AutomaticStart = cloneBool(v.AutomaticStart)
	out.AutomaticStop = cloneBool(v.AutomaticStop)
	out.CPU = cloneInt(v.CPU)
	out.RAMMB = cloneInt64(v.RAMMB)
	out.Generation = cloneInt(v.Generation)
	out.Notes = cloneString(v.Notes)
	out.Switches = cloneStrings(v.Switches)
	if v.NetworkAdapters != nil {
		out.NetworkAdapters = make([]NetAdapter, len(v.NetworkAdapters))
		for i, a := range v.NetworkAdapters {
			out.NetworkAdapters[i] = cloneNetAdapter(a)
		}
	}
	if v.Storage != nil {
		out.Storage = make([]Disk, len(v.Storage))
		for i, d := range v.Storage {
			out.Storage[i] = cloneDisk(d)
		}
	}
	return out
}

func cloneNetAdapter(a NetAdapter) NetAdapter {
	return NetAdapter{
		Name:       a.Name,
		SwitchName: cloneString(a.SwitchName),
		MAC:        cloneString(a.MAC),
		IPs:        cloneStrings(a.IPs),
	}
}

func cloneDisk(d Disk) Disk {
	return Disk{
		Path:               d.Path,
		ControllerType:     cloneString(d.ControllerType),
		ControllerNumber:   cloneInt(d.ControllerNumber),
		ControllerLocation: cloneInt(d.ControllerLocation),
		VHD:                cloneVHD(d.VHD),
	}
}

func cloneVHD(v *VHDInfo) *VHDInfo {
	if v == nil {
		return nil
	}
	return &VHDInfo{
		Format:             cloneString(v.Format),
		Type:               cloneString(v.Type),
		SizeMB:             cloneInt64(v.SizeMB),
		FileSizeMB:         cloneInt64(v.FileSizeMB),
		ParentPath:         cloneString(v.ParentPath),
		BlockSize:          cloneInt64(v.BlockSize),
		LogicalSectorSize:  cloneInt64(v.LogicalSectorSize),
		PhysicalSectorSize: cloneInt64(v.PhysicalSectorSize),
	}
}

func cloneDatastores(ds []Datastore) []Datastore {
	if ds == nil {
		return nil
	}
	out := make([]Datastore, len(ds))
	for i, d := range ds {
		out[i] = Datastore{
			Name:       d.Name,
			Path:       d.Path,
			Kind:       cloneString(d.Kind),
			Drive:      cloneString(d.Drive),
			TotalBytes: cloneInt64(d.TotalBytes),
			FreeBytes:  cloneInt64(d.FreeBytes),
		}
	}
	return out
}
