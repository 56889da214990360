// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sample

// SystemReader is the subset of internal/procfs.Reader the assembler needs.
type SystemReader interface {
	ReadSystem() (SystemStats, error)
	ReadProcesses() (map[int32]PidInfo, error)
}

// CgroupReader is the subset of internal/cgroupfs.Reader the assembler
// needs.
type CgroupReader interface {
	ReadTree() (*CgroupNode, error)
}

// ExitDrainer is the subset of internal/bpfexit.Ingester the assembler
// needs. The uint64 overflow count is returned to the caller (spec §4.2) so
// a collector loop can surface it rather than silently dropping it.
type ExitDrainer interface {
	Drain() ([]ExitInfo, uint64)
}

// Assembler builds one Sample per tick (spec §4.3): system record, cgroup
// tree, process map, and drained exit events, all timestamped with the same
// wall-clock instant.
type Assembler struct {
	system  SystemReader
	cgroups CgroupReader
	exits   ExitDrainer
}

// NewAssembler wires the three per-tick sources together. exits may be nil
// if BPF exit-event collection failed to load at startup (spec §7: "BPF
// load failed: continue without exit stats"), in which case Assemble leaves
// Sample.ExitProcesses empty instead of erroring.
func NewAssembler(system SystemReader, cgroups CgroupReader, exits ExitDrainer) *Assembler {
	return &Assembler{system: system, cgroups: cgroups, exits: exits}
}

// Assemble reads the system record, the cgroup tree, the process map, and
// drains pending exit events, returning one Sample stamped with now (wall
// clock seconds since the epoch at tick start, per spec §4.3).
func (a *Assembler) Assemble(now int64) (*Sample, uint64, error) {
	system, err := a.system.ReadSystem()
	if err != nil {
		return nil, 0, err
	}

	processes, err := a.system.ReadProcesses()
	if err != nil {
		return nil, 0, err
	}

	cgroup, err := a.cgroups.ReadTree()
	if err != nil {
		return nil, 0, err
	}

	s := &Sample{
		Timestamp: now,
		System:    system,
		Cgroup:    cgroup,
		Processes: processes,
	}

	var overflow uint64
	if a.exits != nil {
		events, dropped := a.exits.Drain()
		overflow = dropped
		if len(events) > 0 {
			s.ExitProcesses = make(map[int32]ExitInfo, len(events))
			for _, e := range events {
				s.ExitProcesses[e.Pid] = e
			}
		}
	}

	return s, overflow, nil
}
