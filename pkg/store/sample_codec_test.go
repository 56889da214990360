// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"testing"

	"github.com/antimetal/below/pkg/sample"
	"github.com/stretchr/testify/require"
)

func fullTestSample() *sample.Sample {
	full := sample.PSILine{Avg10: 1, Avg60: 2, Avg300: 3, TotalUsec: 400}
	memCurrent := uint64(1024)
	return &sample.Sample{
		Timestamp: 1234567890,
		System: sample.SystemStats{
			CPUTotal: sample.CPUStat{User: 10, Nice: 1, System: 5, Idle: 100, Steal: -3},
			PerCPU: []sample.CPUStat{
				{User: 5, Idle: 50},
				{User: 5, Idle: 50},
			},
			Memory:            sample.MemInfo{MemTotal: 16_000_000, MemFree: 8_000_000},
			VM:                sample.VMStat{PgFault: 7},
			BootTimeEpochSecs: 1000,
			ContextSwitches:   99,
			ProcsRunning:      2,
			ProcsBlocked:      1,
			Interfaces: []sample.NetIfaceStat{
				{Name: "eth0", RxBytes: 100, TxBytes: 200},
			},
			TCP:          sample.TCPStat{ActiveOpens: 3},
			UDP:          sample.UDPStat{InDatagrams: 4},
			BlockDevices: []sample.BlockDeviceStat{{Major: 8, Minor: 0, Name: "sda", ReadsCompleted: 42}},
			Hostname:     "host1",
		},
		Cgroup: &sample.CgroupNode{
			Path: "/",
			Name: "",
			CPU:  &sample.CgroupCPUStat{UsageUsec: 500},
			IO:   map[string]sample.CgroupIOStat{"8:0": {RBytes: 10, WBytes: 20}},
			MemoryCurrent: &memCurrent,
			Memory:        &sample.CgroupMemoryStat{Anon: 1, File: 2},
			Pressure: sample.CgroupPressure{
				CPU: sample.PressureStat{Some: sample.PSILine{Avg10: 0.5}},
				IO:  sample.PressureStat{Some: sample.PSILine{Avg10: 0.1}, Full: &full},
			},
			Children: map[string]*sample.CgroupNode{
				"system.slice": {Path: "/system.slice", Name: "system.slice"},
			},
		},
		Processes: map[int32]sample.PidInfo{
			42: {
				Stat:       sample.PidStat{Pid: 42, Ppid: 1, Comm: "init", State: 'S', Threads: 1, StartTimeTicks: 10, UtimeTicks: 5, StimeTicks: 3, RssBytes: 4096},
				Io:         &sample.PidIo{RBytes: 1, WBytes: 2},
				CgroupPath: "/system.slice",
			},
			43: {
				Stat: sample.PidStat{Pid: 43, Ppid: 1, Comm: "noio", StartTimeTicks: 20},
			},
		},
		ExitProcesses: map[int32]sample.ExitInfo{
			99: {Pid: 99, MinFlt: 1, MajFlt: 2, UtimeUs: 3, StimeUs: 4, EtimeUs: 5, NrThreads: 1, IOReadBytes: 6, IOWriteBytes: 7, ActiveRssPages: 8},
		},
	}
}

func TestEncodeDecodeSample_RoundTrips(t *testing.T) {
	s := fullTestSample()
	buf := encodeSample(s)

	got, err := decodeSample(buf)
	require.NoError(t, err)

	require.Equal(t, s.Timestamp, got.Timestamp)
	require.Equal(t, s.System.CPUTotal, got.System.CPUTotal)
	require.Equal(t, s.System.PerCPU, got.System.PerCPU)
	require.Equal(t, s.System.Memory, got.System.Memory)
	require.Equal(t, s.System.VM, got.System.VM)
	require.Equal(t, s.System.BootTimeEpochSecs, got.System.BootTimeEpochSecs)
	require.Equal(t, s.System.Interfaces, got.System.Interfaces)
	require.Equal(t, s.System.TCP, got.System.TCP)
	require.Equal(t, s.System.UDP, got.System.UDP)
	require.Equal(t, s.System.BlockDevices, got.System.BlockDevices)
	require.Equal(t, s.System.Hostname, got.System.Hostname)

	require.NotNil(t, got.Cgroup)
	require.Equal(t, s.Cgroup.Path, got.Cgroup.Path)
	require.Equal(t, *s.Cgroup.CPU, *got.Cgroup.CPU)
	require.Equal(t, s.Cgroup.IO, got.Cgroup.IO)
	require.Equal(t, *s.Cgroup.MemoryCurrent, *got.Cgroup.MemoryCurrent)
	require.Nil(t, got.Cgroup.MemorySwapCurrent)
	require.Equal(t, *s.Cgroup.Memory, *got.Cgroup.Memory)
	require.Equal(t, s.Cgroup.Pressure.CPU.Some, got.Cgroup.Pressure.CPU.Some)
	require.Nil(t, got.Cgroup.Pressure.CPU.Full)
	require.NotNil(t, got.Cgroup.Pressure.IO.Full)
	require.Equal(t, *s.Cgroup.Pressure.IO.Full, *got.Cgroup.Pressure.IO.Full)
	require.Contains(t, got.Cgroup.Children, "system.slice")

	require.Equal(t, s.Processes[42].Stat, got.Processes[42].Stat)
	require.Equal(t, *s.Processes[42].Io, *got.Processes[42].Io)
	require.Equal(t, s.Processes[42].CgroupPath, got.Processes[42].CgroupPath)
	require.Nil(t, got.Processes[43].Io)

	require.Equal(t, s.ExitProcesses[99], got.ExitProcesses[99])
}

func TestEncodeDecodeSample_EmptyCollectionsRoundTrip(t *testing.T) {
	s := &sample.Sample{Timestamp: 1}
	buf := encodeSample(s)

	got, err := decodeSample(buf)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Timestamp)
	require.Nil(t, got.Cgroup)
	require.Empty(t, got.Processes)
	require.Empty(t, got.ExitProcesses)
}
