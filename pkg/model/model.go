// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package model defines the rate-aware diff of two consecutive samples (spec
// §3, §4.4) — the Model renderers and dumpers consume. Every rate field is a
// *float64: nil means "not computable this tick" (dt≤0, reboot, counter
// wrap, or a process/CPU that did not exist in both samples), matching the
// teacher's Optional-gauge convention in pkg/performance/types.go.
package model

import "github.com/antimetal/below/pkg/sample"

// Model is the diff of (prev, curr). Reboot and Dt describe the relationship
// between the two samples; every other field is either a rate derived from
// that relationship or an absolute value passed through from curr.
type Model struct {
	Timestamp int64
	Dt        float64 // seconds; 0 or negative means the rates below are all nil
	Reboot    bool

	System           SystemModel
	Cgroup           *CgroupModel
	Processes        map[int32]ProcessModel
	ExitedProcesses  map[int32]ExitedProcessModel
	ExitStatsUnavailable bool
}

// CPUModel holds one CPU's (aggregate or per-core) percentage-of-wallclock
// spent in each jiffies state over Dt. Nil fields mean the rate could not be
// computed (reboot, dt≤0, or a counter wrap isolated to that field).
type CPUModel struct {
	UserPct      *float64
	NicePct      *float64
	SystemPct    *float64
	IdlePct      *float64
	IOWaitPct    *float64
	IRQPct       *float64
	SoftIRQPct   *float64
	StealPct     *float64
	GuestPct     *float64
	GuestNicePct *float64
}

// VMModel holds page-level rates derived from /proc/vmstat counters.
type VMModel struct {
	PgPgInPerSec        *float64
	PgPgOutPerSec       *float64
	PSwpInPerSec        *float64
	PSwpOutPerSec       *float64
	PgStealKswapdPerSec *float64
	PgStealDirectPerSec *float64
	PgScanKswapdPerSec  *float64
	PgScanDirectPerSec  *float64
	PgFaultPerSec       *float64
	PgMajFaultPerSec    *float64
	OOMKillDelta        *float64
}

// NetIfaceModel holds per-interface throughput rates.
type NetIfaceModel struct {
	Name             string
	RxBytesPerSec    *float64
	RxPacketsPerSec  *float64
	RxErrorsPerSec   *float64
	RxDroppedPerSec  *float64
	TxBytesPerSec    *float64
	TxPacketsPerSec  *float64
	TxErrorsPerSec   *float64
	TxDroppedPerSec  *float64
}

// TCPModel holds TCP connection-churn and retransmit rates.
type TCPModel struct {
	ActiveOpensPerSec  *float64
	PassiveOpensPerSec *float64
	AttemptFailsPerSec *float64
	EstabResetsPerSec  *float64
	CurrEstab          uint64 // absolute gauge, passthrough
	InSegsPerSec       *float64
	OutSegsPerSec      *float64
	RetransSegsPerSec  *float64
	InErrsPerSec       *float64
	OutRstsPerSec      *float64
}

// UDPModel holds UDP datagram rates.
type UDPModel struct {
	InDatagramsPerSec  *float64
	OutDatagramsPerSec *float64
	InErrorsPerSec     *float64
	NoPortsPerSec      *float64
}

// BlockDeviceModel holds per-device throughput and latency-contributing rates.
type BlockDeviceModel struct {
	Major                uint32
	Minor                uint32
	Name                 string
	ReadsCompletedPerSec *float64
	SectorsReadPerSec    *float64
	ReadTimeMsPerSec     *float64
	WritesCompletedPerSec *float64
	SectorsWrittenPerSec  *float64
	WriteTimeMsPerSec     *float64
	IOsInProgress         uint64 // absolute gauge, passthrough
	IOTimeMsPerSec        *float64
	WeightedIOMsPerSec    *float64
}

// SystemModel is the host-wide portion of a Model.
type SystemModel struct {
	CPUTotal CPUModel
	// PerCPU has one entry per CPU in curr. If the CPU count changed between
	// prev and curr (spec §4.4), every rate in those entries is nil for this
	// tick: a changed core count makes per-index differencing meaningless.
	PerCPU []CPUModel

	Memory sample.MemInfo // absolute passthrough; not a counter
	VM     VMModel

	ContextSwitchesPerSec *float64
	ProcsRunning          uint32
	ProcsBlocked          uint32

	Interfaces   []NetIfaceModel
	TCP          TCPModel
	UDP          UDPModel
	BlockDevices []BlockDeviceModel

	Hostname      string
	KernelVersion string
	OSRelease     string
}

// PSIModel holds one PSI line's three moving averages (passthrough from curr)
// plus the pressure fraction of dt (computed, clamped to [0,1]).
type PSIModel struct {
	Avg10    float64
	Avg60    float64
	Avg300   float64
	Fraction *float64
}

// PressureModel bundles the some/full PSI lines for one resource.
type PressureModel struct {
	Some PSIModel
	Full *PSIModel
}

// CgroupPressureModel bundles cpu/io/memory pressure for one cgroup node.
type CgroupPressureModel struct {
	CPU    PressureModel
	IO     PressureModel
	Memory PressureModel
}

// CgroupCPUModel holds a cgroup node's cpu.stat rates.
type CgroupCPUModel struct {
	UsagePct      *float64
	UserPct       *float64
	SystemPct     *float64
	NrPeriods     uint64 // absolute passthrough (cumulative but not rendered as a rate)
	NrThrottled   uint64
	ThrottledUsec uint64
}

// CgroupIOModel holds one device's io.stat rates for a cgroup node.
type CgroupIOModel struct {
	ReadBytesPerSec    *float64
	WriteBytesPerSec   *float64
	ReadIOPS           *float64
	WriteIOPS          *float64
	DiscardBytesPerSec *float64
	DiscardIOPS        *float64
}

// CgroupModel mirrors sample.CgroupNode with rate fields substituted for
// cumulative counters. A node absent from prev (new subtree since last tick)
// still appears here with every rate nil and absolute fields from curr.
type CgroupModel struct {
	Path string
	Name string

	CPU               *CgroupCPUModel
	IO                map[string]CgroupIOModel
	MemoryCurrent     *uint64
	MemorySwapCurrent *uint64
	Memory            *sample.CgroupMemoryStat // absolute gauges, passthrough
	Pressure          CgroupPressureModel

	Children map[string]*CgroupModel
}

// Walk walks fn over m and every descendant, depth first.
func (m *CgroupModel) Walk(fn func(*CgroupModel)) {
	if m == nil {
		return
	}
	fn(m)
	for _, c := range m.Children {
		c.Walk(fn)
	}
}

// ProcessModel is one live process's diffed stats. Restarted is set when the
// pid's start_time changed between prev and curr (spec §3, §9): the identity
// key is (pid, start_time), so a restart yields no rate, not a wrong one.
type ProcessModel struct {
	Pid            int32
	Ppid           int32
	Comm           string
	State          byte
	Threads        int32
	StartTimeTicks uint64
	RssBytes       uint64

	CPUPct           *float64
	ReadBytesPerSec  *float64
	WriteBytesPerSec *float64

	Restarted bool
}

// ExitedProcessModel is a synthetic entry for a pid present in
// curr.ExitProcesses but absent from curr.Processes (spec §3).
type ExitedProcessModel struct {
	Pid            int32
	MinFlt         uint64
	MajFlt         uint64
	UtimeUs        uint64
	StimeUs        uint64
	EtimeUs        uint64
	NrThreads      uint64
	IOReadBytes    uint64
	IOWriteBytes   uint64
	ActiveRssPages uint64
}
