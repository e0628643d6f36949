package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }
func int64Ptr(i int64) *int64    { return &i }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool       { return &b }
func timePtr(t time.Time) *time.Time { return &t }

func TestMerge_NilInputs(t *testing.T) {
	t.Run("nil patch returns a clone of current", func(t *testing.T) {
		current := &Inventory{VMs: []VM{{ID: "vm-1", Name: "web"}}}
		out := Merge(current, nil)
		require.NotNil(t, out)
		assert.Equal(t, current, out)
		assert.NotSame(t, current, out)
	})

	t.Run("nil current with patch starts from empty", func(t *testing.T) {
		patch := &Inventory{VMs: []VM{{ID: "vm-1", Name: "web"}}}
		out := Merge(nil, patch)
		require.NotNil(t, out)
		require.Len(t, out.VMs, 1)
		assert.Equal(t, "vm-1", out.VMs[0].ID)
	})

	t.Run("both nil yields nil", func(t *testing.T) {
		assert.Nil(t, Merge(nil, nil))
	})
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	current := &Inventory{
		VMs: []VM{{ID: "vm-1", Name: "web", CPU: intPtr(2)}},
	}
	patch := &Inventory{
		VMs: []VM{{ID: "vm-1", Name: "web-renamed", CPU: intPtr(4)}},
	}

	out := Merge(current, patch)

	require.Len(t, out.VMs, 1)
	assert.Equal(t, "web-renamed", out.VMs[0].Name)
	assert.Equal(t, 4, *out.VMs[0].CPU)

	// inputs untouched
	assert.Equal(t, "web", current.VMs[0].Name)
	assert.Equal(t, 2, *current.VMs[0].CPU)
	assert.Equal(t, "web-renamed", patch.VMs[0].Name)
}

func TestMerge_AbsentValuesNeverErase(t *testing.T) {
	current := &Inventory{
		Host: &HostInfo{Name: "hv-01", CPUCores: intPtr(16), MemoryMB: int64Ptr(65536)},
		VMs: []VM{{
			ID:    "vm-1",
			Name:  "web",
			CPU:   intPtr(4),
			RAMMB: int64Ptr(8192),
			State: strPtr("Running"),
		}},
	}
	patch := &Inventory{
		VMs: []VM{{
			ID:    "vm-1",
			State: strPtr("Off"),
		}},
	}

	out := Merge(current, patch)

	require.Len(t, out.VMs, 1)
	vm := out.VMs[0]
	assert.Equal(t, "web", vm.Name)
	assert.Equal(t, 4, *vm.CPU)
	assert.Equal(t, int64(8192), *vm.RAMMB)
	assert.Equal(t, "Off", *vm.State)

	require.NotNil(t, out.Host)
	assert.Equal(t, "hv-01", out.Host.Name)
	assert.Equal(t, 16, *out.Host.CPUCores)
}

func TestMerge_CollectedAtAlwaysTakesPatchValue(t *testing.T) {
	older := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("patch timestamp wins when present", func(t *testing.T) {
		out := Merge(
			&Inventory{CollectedAt: timePtr(newer)},
			&Inventory{CollectedAt: timePtr(older)},
		)
		require.NotNil(t, out.CollectedAt)
		assert.Equal(t, older, *out.CollectedAt)
	})

	t.Run("absent patch timestamp keeps current", func(t *testing.T) {
		out := Merge(&Inventory{CollectedAt: timePtr(newer)}, &Inventory{})
		require.NotNil(t, out.CollectedAt)
		assert.Equal(t, newer, *out.CollectedAt)
	})
}

func TestMerge_VMsUpsertByID(t *testing.T) {
	current := &Inventory{VMs: []VM{
		{ID: "vm-1", Name: "web"},
		{ID: "vm-2", Name: "db"},
	}}
	patch := &Inventory{VMs: []VM{
		{ID: "VM-2", State: strPtr("Running")}, // id match is case-folded
		{ID: "vm-3", Name: "cache"},
	}}

	out := Merge(current, patch)

	require.Len(t, out.VMs, 3)
	assert.Equal(t, "web", out.VMs[0].Name)
	assert.Equal(t, "db", out.VMs[1].Name)
	assert.Equal(t, "Running", *out.VMs[1].State)
	assert.Equal(t, "cache", out.VMs[2].Name)
}

func TestMerge_DisksUpsertByNormalizedPath(t *testing.T) {
	current := &Inventory{VMs: []VM{{
		ID: "vm-1",
		Storage: []Disk{{
			Path: `C:\VMs\web\os.vhdx`,
			VHD:  &VHDInfo{Format: strPtr("VHDX"), SizeMB: int64Ptr(40960)},
		}},
	}}}
	patch := &Inventory{VMs: []VM{{
		ID: "vm-1",
		Storage: []Disk{
			{Path: `c:/vms/web/os.vhdx`, VHD: &VHDInfo{FileSizeMB: int64Ptr(12000)}},
			{Path: `C:\VMs\web\data.vhdx`},
		},
	}}}

	out := Merge(current, patch)

	require.Len(t, out.VMs, 1)
	require.Len(t, out.VMs[0].Storage, 2)

	os := out.VMs[0].Storage[0]
	require.NotNil(t, os.VHD)
	assert.Equal(t, "VHDX", *os.VHD.Format)
	assert.Equal(t, int64(40960), *os.VHD.SizeMB)
	assert.Equal(t, int64(12000), *os.VHD.FileSizeMB)

	assert.Equal(t, `C:\VMs\web\data.vhdx`, out.VMs[0].Storage[1].Path)
}

func TestMerge_EmptyVHDStubIsIgnored(t *testing.T) {
	current := &Inventory{VMs: []VM{{
		ID: "vm-1",
		Storage: []Disk{{
			Path: `C:\VMs\web\os.vhdx`,
			VHD:  &VHDInfo{Format: strPtr("VHDX"), Type: strPtr("Dynamic")},
		}},
	}}}
	patch := &Inventory{VMs: []VM{{
		ID: "vm-1",
		Storage: []Disk{{
			Path: `C:\VMs\web\os.vhdx`,
			VHD:  &VHDInfo{},
		}},
	}}}

	out := Merge(current, patch)

	vhd := out.VMs[0].Storage[0].VHD
	require.NotNil(t, vhd)
	assert.Equal(t, "VHDX", *vhd.Format)
	assert.Equal(t, "Dynamic", *vhd.Type)
}

func TestMerge_FileSizeMBNeverRegresses(t *testing.T) {
	tests := []struct {
		name     string
		current  *int64
		patch    *int64
		expected int64
	}{
		{name: "patch larger wins", current: int64Ptr(1000), patch: int64Ptr(2000), expected: 2000},
		{name: "patch smaller is ignored", current: int64Ptr(2000), patch: int64Ptr(1500), expected: 2000},
		{name: "current nil takes patch", current: nil, patch: int64Ptr(500), expected: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := &Inventory{VMs: []VM{{
				ID:      "vm-1",
				Storage: []Disk{{Path: `C:\d.vhdx`, VHD: &VHDInfo{FileSizeMB: tt.current}}},
			}}}
			patch := &Inventory{VMs: []VM{{
				ID:      "vm-1",
				Storage: []Disk{{Path: `C:\d.vhdx`, VHD: &VHDInfo{FileSizeMB: tt.patch}}},
			}}}

			out := Merge(current, patch)

			require.NotNil(t, out.VMs[0].Storage[0].VHD.FileSizeMB)
			assert.Equal(t, tt.expected, *out.VMs[0].Storage[0].VHD.FileSizeMB)
		})
	}
}

func TestMerge_SwitchesAndAdaptersByCaseFoldedName(t *testing.T) {
	current := &Inventory{Networks: &Networks{
		Switches: []VSwitch{{Name: "External", SwitchType: strPtr("External")}},
		HostAdapters: []HostAdapter{{Name: "Ethernet0", Up: boolPtr(true)}},
	}}
	patch := &Inventory{Networks: &Networks{
		Switches: []VSwitch{
			{Name: "EXTERNAL", NetAdapter: strPtr("Ethernet0")},
			{Name: "Internal"},
		},
		HostAdapters: []HostAdapter{{Name: "ethernet0", SpeedMbps: int64Ptr(10000)}},
	}}

	out := Merge(current, patch)

	require.NotNil(t, out.Networks)
	require.Len(t, out.Networks.Switches, 2)
	assert.Equal(t, "EXTERNAL", out.Networks.Switches[0].Name)
	assert.Equal(t, "External", *out.Networks.Switches[0].SwitchType)
	assert.Equal(t, "Ethernet0", *out.Networks.Switches[0].NetAdapter)
	assert.Equal(t, "Internal", out.Networks.Switches[1].Name)

	require.Len(t, out.Networks.HostAdapters, 1)
	assert.Equal(t, true, *out.Networks.HostAdapters[0].Up)
	assert.Equal(t, int64(10000), *out.Networks.HostAdapters[0].SpeedMbps)
}

func TestMerge_NonKeyedListsReplaceWholesale(t *testing.T) {
	t.Run("datastores replaced when patch has a non-empty list", func(t *testing.T) {
		current := &Inventory{Datastores: []Datastore{{Name: "old", Path: `D:\`}}}
		patch := &Inventory{Datastores: []Datastore{{Name: "new", Path: `E:\`}}}

		out := Merge(current, patch)

		require.Len(t, out.Datastores, 1)
		assert.Equal(t, "new", out.Datastores[0].Name)
	})

	t.Run("empty patch list keeps current datastores", func(t *testing.T) {
		current := &Inventory{Datastores: []Datastore{{Name: "old"}}}

		out := Merge(current, &Inventory{})

		require.Len(t, out.Datastores, 1)
		assert.Equal(t, "old", out.Datastores[0].Name)
	})

	t.Run("vm switch names replaced wholesale", func(t *testing.T) {
		current := &Inventory{VMs: []VM{{ID: "vm-1", Switches: []string{"External", "Internal"}}}}
		patch := &Inventory{VMs: []VM{{ID: "vm-1", Switches: []string{"External"}}}}

		out := Merge(current, patch)

		assert.Equal(t, []string{"External"}, out.VMs[0].Switches)
	})
}

func TestMerge_DedupCollapsesRepeatedIDs(t *testing.T) {
	// current carries a historical duplicate; the merge collapses it,
	// keeping the entry the patch just updated
	current := &Inventory{VMs: []VM{
		{ID: "vm-1", Name: "stale"},
		{ID: "VM-1", Name: "fresh"},
	}}
	patch := &Inventory{VMs: []VM{{ID: "vm-1", State: strPtr("Running")}}}

	out := Merge(current, patch)

	require.Len(t, out.VMs, 1)
	assert.Equal(t, "Running", *out.VMs[0].State)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "forward slashes become backslashes", in: `C:/VMs/web/os.vhdx`, expected: `c:\vms\web\os.vhdx`},
		{name: "already normalized stays put", in: `c:\vms\web\os.vhdx`, expected: `c:\vms\web\os.vhdx`},
		{name: "mixed case is folded", in: `C:\VMS\Web\OS.VHDX`, expected: `c:\vms\web\os.vhdx`},
		{name: "empty string", in: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.in))
		})
	}
}
