// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package model

import (
	"testing"

	"github.com/antimetal/below/pkg/sample"
	"github.com/stretchr/testify/require"
)

// Scenario 1 (spec §8): dt=1s, user time 1_000_000 -> 1_500_000 usec, i.e.
// 100 -> 150 ticks at userHZ=100, yields 50% (0.5 cpu-seconds over the 1s
// window).
func TestDiff_CPURateScenario(t *testing.T) {
	prev := &sample.Sample{
		Timestamp: 1000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 100},
		},
	}
	curr := &sample.Sample{
		Timestamp: 1001,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 150},
		},
	}

	m := Diff(prev, curr)
	require.NotNil(t, m.System.CPUTotal.UserPct)
	require.InDelta(t, 50.0, *m.System.CPUTotal.UserPct, 0.001)
}

// Scenario 2 (spec §8): PSI total 100_000 -> 700_000 usec over dt=1s yields
// a pressure fraction of 0.6.
func TestDiff_PSIPressureFractionScenario(t *testing.T) {
	prevNode := &sample.CgroupNode{
		Path: "/a",
		Pressure: sample.CgroupPressure{
			CPU: sample.PressureStat{Some: sample.PSILine{TotalUsec: 100_000}},
		},
	}
	currNode := &sample.CgroupNode{
		Path: "/a",
		Pressure: sample.CgroupPressure{
			CPU: sample.PressureStat{Some: sample.PSILine{TotalUsec: 700_000}},
		},
	}
	prev := &sample.Sample{Timestamp: 1000, System: sample.SystemStats{BootTimeEpochSecs: 1}, Cgroup: prevNode}
	curr := &sample.Sample{Timestamp: 1001, System: sample.SystemStats{BootTimeEpochSecs: 1}, Cgroup: currNode}

	m := Diff(prev, curr)
	require.NotNil(t, m.Cgroup.Pressure.CPU.Some.Fraction)
	require.InDelta(t, 0.6, *m.Cgroup.Pressure.CPU.Some.Fraction, 0.001)
}

// Scenario 3 (spec §8): pid 42's start_time changes between prev and curr;
// expect no CPU rate and Restarted flagged.
func TestDiff_RestartedProcessScenario(t *testing.T) {
	prev := &sample.Sample{
		Timestamp: 1000,
		System:    sample.SystemStats{BootTimeEpochSecs: 1},
		Processes: map[int32]sample.PidInfo{
			42: {Stat: sample.PidStat{Pid: 42, StartTimeTicks: 1000, UtimeTicks: 500}},
		},
	}
	curr := &sample.Sample{
		Timestamp: 1001,
		System:    sample.SystemStats{BootTimeEpochSecs: 1},
		Processes: map[int32]sample.PidInfo{
			42: {Stat: sample.PidStat{Pid: 42, StartTimeTicks: 2000, UtimeTicks: 10}},
		},
	}

	m := Diff(prev, curr)
	pm := m.Processes[42]
	require.True(t, pm.Restarted)
	require.Nil(t, pm.CPUPct)
}

func TestDiff_RebootGapYieldsNilRatesAndPassesAbsolutes(t *testing.T) {
	prev := &sample.Sample{
		Timestamp: 1000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 1_000_000},
		},
	}
	curr := &sample.Sample{
		Timestamp: 2000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 2, // reboot
			CPUTotal:          sample.CPUStat{User: 50},
			Memory:            sample.MemInfo{MemTotal: 16000},
		},
	}

	m := Diff(prev, curr)
	require.True(t, m.Reboot)
	require.Nil(t, m.System.CPUTotal.UserPct)
	require.Equal(t, uint64(16000), m.System.Memory.MemTotal)
}

func TestDiff_DtLessThanOrEqualZeroIsDiscontinuity(t *testing.T) {
	prev := &sample.Sample{Timestamp: 1000, System: sample.SystemStats{BootTimeEpochSecs: 1, CPUTotal: sample.CPUStat{User: 100}}}
	curr := &sample.Sample{Timestamp: 1000, System: sample.SystemStats{BootTimeEpochSecs: 1, CPUTotal: sample.CPUStat{User: 200}}}

	m := Diff(prev, curr)
	require.False(t, m.Reboot)
	require.Nil(t, m.System.CPUTotal.UserPct)
}

func TestDiff_CounterWrapYieldsNilForThatFieldOnly(t *testing.T) {
	prev := &sample.Sample{
		Timestamp: 1000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 1_000_000, Idle: 100},
		},
	}
	curr := &sample.Sample{
		Timestamp: 1001,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 10, Idle: 200}, // User wrapped
		},
	}

	m := Diff(prev, curr)
	require.Nil(t, m.System.CPUTotal.UserPct)
	require.NotNil(t, m.System.CPUTotal.IdlePct)
}

func TestDiff_PerCPUCountChangeYieldsNilPerCPURates(t *testing.T) {
	prev := &sample.Sample{
		Timestamp: 1000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			PerCPU:            []sample.CPUStat{{User: 100}},
		},
	}
	curr := &sample.Sample{
		Timestamp: 1001,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			PerCPU:            []sample.CPUStat{{User: 200}, {User: 50}},
		},
	}

	m := Diff(prev, curr)
	require.Len(t, m.System.PerCPU, 2)
	require.Nil(t, m.System.PerCPU[0].UserPct)
	require.Nil(t, m.System.PerCPU[1].UserPct)
}

func TestDiff_ExitedProcessYieldsSyntheticEntry(t *testing.T) {
	curr := &sample.Sample{
		Timestamp: 1001,
		System:    sample.SystemStats{BootTimeEpochSecs: 1},
		Processes: map[int32]sample.PidInfo{},
		ExitProcesses: map[int32]sample.ExitInfo{
			99: {Pid: 99, UtimeUs: 500, NrThreads: 1},
		},
	}
	m := Diff(nil, curr)
	require.Contains(t, m.ExitedProcesses, int32(99))
	require.Equal(t, uint64(500), m.ExitedProcesses[99].UtimeUs)
}

func TestDiff_FirstTickIsSingleSampleModel(t *testing.T) {
	curr := &sample.Sample{
		Timestamp: 1000,
		System: sample.SystemStats{
			BootTimeEpochSecs: 1,
			CPUTotal:          sample.CPUStat{User: 500},
		},
	}
	m := Diff(nil, curr)
	require.False(t, m.Reboot)
	require.Nil(t, m.System.CPUTotal.UserPct)
}
