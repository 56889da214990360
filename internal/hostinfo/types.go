// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package hostinfo reads one-shot hardware/OS configuration: CPU, memory,
// disk, and network interface inventories, plus the hostname/kernel release
// the status line and snapshot manifest report (spec §3, §6). Unlike
// internal/procfs/internal/cgroupfs this data doesn't change tick to tick,
// so it's read once at startup rather than assembled into every Sample.
package hostinfo

// CPUInfo is the host's processor inventory.
type CPUInfo struct {
	PhysicalCores int32
	LogicalCores  int32
	ModelName     string
	VendorID      string
	CPUFamily     int32
	Model         int32
	Stepping      int32
	Microcode     string
	CPUMHz        float64
	CPUMinMHz     float64
	CPUMaxMHz     float64
	CacheSize     string
	NUMANodes     int32
	BogoMIPS      float64
	Cores         []CPUCore
}

// CPUCore is one logical processor's entry from /proc/cpuinfo.
type CPUCore struct {
	Processor  int32
	CoreID     int32
	PhysicalID int32
	Siblings   int32
	CPUMHz     float64
}

// MemoryInfo is the host's total and per-NUMA-node memory.
type MemoryInfo struct {
	TotalBytes uint64
	NUMANodes  []NUMANode
}

// NUMANode is one memory node and the logical CPUs attached to it.
type NUMANode struct {
	NodeID     int32
	TotalBytes uint64
	CPUs       []int32
}

// DiskInfo is one block device's hardware properties and partitions.
type DiskInfo struct {
	Device            string
	Model             string
	Vendor            string
	SizeBytes         uint64
	BlockSize         uint32
	PhysicalBlockSize uint32
	Rotational        bool
	QueueDepth        uint32
	Scheduler         string
	Partitions        []PartitionInfo
}

// PartitionInfo is one partition of a DiskInfo device.
type PartitionInfo struct {
	Name        string
	SizeBytes   uint64
	StartSector uint64
}

// NetworkInfo is one network interface's hardware properties and state.
type NetworkInfo struct {
	Interface  string
	Driver     string
	MACAddress string
	Speed      uint64
	Duplex     string
	MTU        uint32
	Type       string
	OperState  string
	Carrier    bool
}

// HostInfo bundles everything a single hostinfo.Read call gathers.
type HostInfo struct {
	Hostname string
	Release  string // uname -r equivalent, from /proc/sys/kernel/osrelease
	BootID   string // from /proc/sys/kernel/random/boot_id
	CPU      CPUInfo
	Memory   MemoryInfo
	Disks    []DiskInfo
	Networks []NetworkInfo
}
