// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSystemReader struct {
	system    SystemStats
	processes map[int32]PidInfo
}

func (f *fakeSystemReader) ReadSystem() (SystemStats, error) { return f.system, nil }
func (f *fakeSystemReader) ReadProcesses() (map[int32]PidInfo, error) {
	return f.processes, nil
}

type fakeCgroupReader struct {
	tree *CgroupNode
}

func (f *fakeCgroupReader) ReadTree() (*CgroupNode, error) { return f.tree, nil }

type fakeExitDrainer struct {
	events   []ExitInfo
	overflow uint64
}

func (f *fakeExitDrainer) Drain() ([]ExitInfo, uint64) { return f.events, f.overflow }

func TestAssembler_Assemble_CombinesAllSources(t *testing.T) {
	sys := &fakeSystemReader{
		system:    SystemStats{BootTimeEpochSecs: 1000},
		processes: map[int32]PidInfo{1: {Stat: PidStat{Pid: 1, Comm: "init"}}},
	}
	cg := &fakeCgroupReader{tree: &CgroupNode{Path: "/", Name: "root"}}
	exits := &fakeExitDrainer{events: []ExitInfo{{Pid: 42}}, overflow: 3}

	a := NewAssembler(sys, cg, exits)
	s, overflow, err := a.Assemble(500)
	require.NoError(t, err)
	require.Equal(t, uint64(3), overflow)
	require.Equal(t, int64(500), s.Timestamp)
	require.Equal(t, int64(1000), s.System.BootTimeEpochSecs)
	require.Equal(t, "root", s.Cgroup.Name)
	require.Contains(t, s.Processes, int32(1))
	require.Contains(t, s.ExitProcesses, int32(42))
}

func TestAssembler_Assemble_NilExitDrainerLeavesExitProcessesEmpty(t *testing.T) {
	sys := &fakeSystemReader{system: SystemStats{}, processes: map[int32]PidInfo{}}
	cg := &fakeCgroupReader{tree: &CgroupNode{Path: "/"}}

	a := NewAssembler(sys, cg, nil)
	s, overflow, err := a.Assemble(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), overflow)
	require.Empty(t, s.ExitProcesses)
}
