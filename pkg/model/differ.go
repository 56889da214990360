// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package model

import "github.com/antimetal/below/pkg/sample"

// userHZ is the kernel's clock-tick rate assumed for /proc/stat jiffies on
// the overwhelming majority of Linux builds (CONFIG_HZ=100 exported via
// sysconf(_SC_CLK_TCK)). below has no way to query this from outside procfs
// without cgo, so like the teacher's cpu.go it hardcodes the common case.
const userHZ = 100.0

// Diff produces the Model of (prev, curr) per spec §3/§4.4. curr must not be
// nil; prev nil is treated identically to dt≤0 (single-sample model, every
// rate nil) so callers do not need a separate first-tick path.
func Diff(prev, curr *sample.Sample) *Model {
	m := &Model{Timestamp: curr.Timestamp}

	valid := prev != nil
	if valid {
		m.Dt = float64(curr.Timestamp - prev.Timestamp)
		if m.Dt <= 0 {
			valid = false
		}
		if curr.System.BootTimeEpochSecs != prev.System.BootTimeEpochSecs {
			m.Reboot = true
			valid = false
		}
	}

	m.System = diffSystem(prev, curr, valid, m.Dt)
	m.Cgroup = diffCgroupTree(prevCgroup(prev), curr.Cgroup, valid, m.Dt)
	m.Processes = diffProcesses(prev, curr, valid, m.Dt)
	m.ExitedProcesses = diffExited(curr)

	return m
}

func prevCgroup(prev *sample.Sample) *sample.CgroupNode {
	if prev == nil {
		return nil
	}
	return prev.Cgroup
}

// rate computes (curr-prev)/dt, signed-safe against unsigned wraparound: a
// decrease without a reboot is an unknown-cause counter wrap and yields nil
// for that field alone, per spec §4.4, rather than a poisoned negative rate.
func rate(prevV, currV uint64, valid bool, dt float64) *float64 {
	if !valid {
		return nil
	}
	if currV < prevV {
		return nil
	}
	v := float64(currV-prevV) / dt
	return &v
}

// rateSigned computes (curr-prev)/dt for counters the kernel may report
// signed (steal time).
func rateSigned(prevV, currV int64, valid bool, dt float64) *float64 {
	if !valid {
		return nil
	}
	v := float64(currV-prevV) / dt
	return &v
}

func pct(prevV, currV uint64, valid bool, dt float64) *float64 {
	r := rate(prevV, currV, valid, dt)
	if r == nil {
		return nil
	}
	v := (*r / userHZ) * 100.0
	return &v
}

func diffCPU(prevC, currC sample.CPUStat, valid bool, dt float64) CPUModel {
	return CPUModel{
		UserPct:      pct(prevC.User, currC.User, valid, dt),
		NicePct:      pct(prevC.Nice, currC.Nice, valid, dt),
		SystemPct:    pct(prevC.System, currC.System, valid, dt),
		IdlePct:      pct(prevC.Idle, currC.Idle, valid, dt),
		IOWaitPct:    pct(prevC.IOWait, currC.IOWait, valid, dt),
		IRQPct:       pct(prevC.IRQ, currC.IRQ, valid, dt),
		SoftIRQPct:   pct(prevC.SoftIRQ, currC.SoftIRQ, valid, dt),
		StealPct:     pctSigned(prevC.Steal, currC.Steal, valid, dt),
		GuestPct:     pct(prevC.Guest, currC.Guest, valid, dt),
		GuestNicePct: pct(prevC.GuestNice, currC.GuestNice, valid, dt),
	}
}

func pctSigned(prevV, currV int64, valid bool, dt float64) *float64 {
	r := rateSigned(prevV, currV, valid, dt)
	if r == nil {
		return nil
	}
	v := (*r / userHZ) * 100.0
	return &v
}

func diffSystem(prev, curr *sample.Sample, valid bool, dt float64) SystemModel {
	var prevSys sample.SystemStats
	if prev != nil {
		prevSys = prev.System
	}
	currSys := curr.System

	sm := SystemModel{
		Memory:        currSys.Memory,
		ProcsRunning:  currSys.ProcsRunning,
		ProcsBlocked:  currSys.ProcsBlocked,
		Hostname:      currSys.Hostname,
		KernelVersion: currSys.KernelVersion,
		OSRelease:     currSys.OSRelease,
	}

	sm.CPUTotal = diffCPU(prevSys.CPUTotal, currSys.CPUTotal, valid, dt)

	perCPUValid := valid && len(prevSys.PerCPU) == len(currSys.PerCPU)
	if len(currSys.PerCPU) > 0 {
		sm.PerCPU = make([]CPUModel, len(currSys.PerCPU))
		for i := range currSys.PerCPU {
			var p sample.CPUStat
			if perCPUValid {
				p = prevSys.PerCPU[i]
			}
			sm.PerCPU[i] = diffCPU(p, currSys.PerCPU[i], perCPUValid, dt)
		}
	}

	sm.VM = VMModel{
		PgPgInPerSec:        rate(prevSys.VM.PgPgIn, currSys.VM.PgPgIn, valid, dt),
		PgPgOutPerSec:       rate(prevSys.VM.PgPgOut, currSys.VM.PgPgOut, valid, dt),
		PSwpInPerSec:        rate(prevSys.VM.PSwpIn, currSys.VM.PSwpIn, valid, dt),
		PSwpOutPerSec:       rate(prevSys.VM.PSwpOut, currSys.VM.PSwpOut, valid, dt),
		PgStealKswapdPerSec: rate(prevSys.VM.PgStealKswapd, currSys.VM.PgStealKswapd, valid, dt),
		PgStealDirectPerSec: rate(prevSys.VM.PgStealDirect, currSys.VM.PgStealDirect, valid, dt),
		PgScanKswapdPerSec:  rate(prevSys.VM.PgScanKswapd, currSys.VM.PgScanKswapd, valid, dt),
		PgScanDirectPerSec:  rate(prevSys.VM.PgScanDirect, currSys.VM.PgScanDirect, valid, dt),
		PgFaultPerSec:       rate(prevSys.VM.PgFault, currSys.VM.PgFault, valid, dt),
		PgMajFaultPerSec:    rate(prevSys.VM.PgMajFault, currSys.VM.PgMajFault, valid, dt),
		OOMKillDelta:        rate(prevSys.VM.OOMKill, currSys.VM.OOMKill, valid, dt),
	}

	sm.ContextSwitchesPerSec = rate(prevSys.ContextSwitches, currSys.ContextSwitches, valid, dt)

	prevIfaces := make(map[string]sample.NetIfaceStat, len(prevSys.Interfaces))
	for _, i := range prevSys.Interfaces {
		prevIfaces[i.Name] = i
	}
	sm.Interfaces = make([]NetIfaceModel, len(currSys.Interfaces))
	for i, c := range currSys.Interfaces {
		p, ok := prevIfaces[c.Name]
		ifValid := valid && ok
		sm.Interfaces[i] = NetIfaceModel{
			Name:            c.Name,
			RxBytesPerSec:   rate(p.RxBytes, c.RxBytes, ifValid, dt),
			RxPacketsPerSec: rate(p.RxPackets, c.RxPackets, ifValid, dt),
			RxErrorsPerSec:  rate(p.RxErrors, c.RxErrors, ifValid, dt),
			RxDroppedPerSec: rate(p.RxDropped, c.RxDropped, ifValid, dt),
			TxBytesPerSec:   rate(p.TxBytes, c.TxBytes, ifValid, dt),
			TxPacketsPerSec: rate(p.TxPackets, c.TxPackets, ifValid, dt),
			TxErrorsPerSec:  rate(p.TxErrors, c.TxErrors, ifValid, dt),
			TxDroppedPerSec: rate(p.TxDropped, c.TxDropped, ifValid, dt),
		}
	}

	sm.TCP = TCPModel{
		ActiveOpensPerSec:  rate(prevSys.TCP.ActiveOpens, currSys.TCP.ActiveOpens, valid, dt),
		PassiveOpensPerSec: rate(prevSys.TCP.PassiveOpens, currSys.TCP.PassiveOpens, valid, dt),
		AttemptFailsPerSec: rate(prevSys.TCP.AttemptFails, currSys.TCP.AttemptFails, valid, dt),
		EstabResetsPerSec:  rate(prevSys.TCP.EstabResets, currSys.TCP.EstabResets, valid, dt),
		CurrEstab:          currSys.TCP.CurrEstab,
		InSegsPerSec:       rate(prevSys.TCP.InSegs, currSys.TCP.InSegs, valid, dt),
		OutSegsPerSec:      rate(prevSys.TCP.OutSegs, currSys.TCP.OutSegs, valid, dt),
		RetransSegsPerSec:  rate(prevSys.TCP.RetransSegs, currSys.TCP.RetransSegs, valid, dt),
		InErrsPerSec:       rate(prevSys.TCP.InErrs, currSys.TCP.InErrs, valid, dt),
		OutRstsPerSec:      rate(prevSys.TCP.OutRsts, currSys.TCP.OutRsts, valid, dt),
	}

	sm.UDP = UDPModel{
		InDatagramsPerSec:  rate(prevSys.UDP.InDatagrams, currSys.UDP.InDatagrams, valid, dt),
		OutDatagramsPerSec: rate(prevSys.UDP.OutDatagrams, currSys.UDP.OutDatagrams, valid, dt),
		InErrorsPerSec:     rate(prevSys.UDP.InErrors, currSys.UDP.InErrors, valid, dt),
		NoPortsPerSec:      rate(prevSys.UDP.NoPorts, currSys.UDP.NoPorts, valid, dt),
	}

	prevDevs := make(map[string]sample.BlockDeviceStat, len(prevSys.BlockDevices))
	for _, d := range prevSys.BlockDevices {
		prevDevs[d.Name] = d
	}
	sm.BlockDevices = make([]BlockDeviceModel, len(currSys.BlockDevices))
	for i, c := range currSys.BlockDevices {
		p, ok := prevDevs[c.Name]
		dValid := valid && ok
		sm.BlockDevices[i] = BlockDeviceModel{
			Major:                 c.Major,
			Minor:                 c.Minor,
			Name:                  c.Name,
			ReadsCompletedPerSec:  rate(p.ReadsCompleted, c.ReadsCompleted, dValid, dt),
			SectorsReadPerSec:     rate(p.SectorsRead, c.SectorsRead, dValid, dt),
			ReadTimeMsPerSec:      rate(p.ReadTimeMs, c.ReadTimeMs, dValid, dt),
			WritesCompletedPerSec: rate(p.WritesCompleted, c.WritesCompleted, dValid, dt),
			SectorsWrittenPerSec:  rate(p.SectorsWritten, c.SectorsWritten, dValid, dt),
			WriteTimeMsPerSec:     rate(p.WriteTimeMs, c.WriteTimeMs, dValid, dt),
			IOsInProgress:         c.IOsInProgress,
			IOTimeMsPerSec:        rate(p.IOTimeMs, c.IOTimeMs, dValid, dt),
			WeightedIOMsPerSec:    rate(p.WeightedIOMs, c.WeightedIOMs, dValid, dt),
		}
	}

	return sm
}

// pressureFraction computes the PSI total's share of dt, clamped to [0,1]
// per spec §4.4.
func pressureFraction(prevTotal, currTotal uint64, valid bool, dt float64) *float64 {
	r := rate(prevTotal, currTotal, valid, dt)
	if r == nil {
		return nil
	}
	v := *r / 1e6
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return &v
}

func diffPSI(prevLine, currLine sample.PSILine, valid bool, dt float64) PSIModel {
	return PSIModel{
		Avg10:    currLine.Avg10,
		Avg60:    currLine.Avg60,
		Avg300:   currLine.Avg300,
		Fraction: pressureFraction(prevLine.TotalUsec, currLine.TotalUsec, valid, dt),
	}
}

func diffPressure(prevP, currP sample.PressureStat, valid bool, dt float64) PressureModel {
	pm := PressureModel{Some: diffPSI(prevP.Some, currP.Some, valid, dt)}
	if currP.Full != nil {
		var prevFull sample.PSILine
		if prevP.Full != nil {
			prevFull = *prevP.Full
		}
		full := diffPSI(prevFull, *currP.Full, valid && prevP.Full != nil, dt)
		pm.Full = &full
	}
	return pm
}

// diffCgroupTree walks curr's tree and looks up each node's full path in
// prev's tree via Lookup from prev's root (the tree shape can change tick to tick as cgroups are
// created/destroyed; a subtree with no prev counterpart gets nil rates).
func diffCgroupTree(prevRoot, currNode *sample.CgroupNode, valid bool, dt float64) *CgroupModel {
	if currNode == nil {
		return nil
	}
	var prevNode *sample.CgroupNode
	if prevRoot != nil {
		prevNode = prevRoot.Lookup(currNode.Path)
	}
	nodeValid := valid && prevNode != nil

	cm := &CgroupModel{
		Path:              currNode.Path,
		Name:              currNode.Name,
		MemoryCurrent:     currNode.MemoryCurrent,
		MemorySwapCurrent: currNode.MemorySwapCurrent,
		Memory:            currNode.Memory,
	}

	if currNode.CPU != nil {
		var p sample.CgroupCPUStat
		cpuValid := nodeValid && prevNode.CPU != nil
		if prevNode != nil && prevNode.CPU != nil {
			p = *prevNode.CPU
		}
		cm.CPU = &CgroupCPUModel{
			UsagePct:      cgroupUsecPct(p.UsageUsec, currNode.CPU.UsageUsec, cpuValid, dt),
			UserPct:       cgroupUsecPct(p.UserUsec, currNode.CPU.UserUsec, cpuValid, dt),
			SystemPct:     cgroupUsecPct(p.SystemUsec, currNode.CPU.SystemUsec, cpuValid, dt),
			NrPeriods:     currNode.CPU.NrPeriods,
			NrThrottled:   currNode.CPU.NrThrottled,
			ThrottledUsec: currNode.CPU.ThrottledUsec,
		}
	}

	if currNode.IO != nil {
		cm.IO = make(map[string]CgroupIOModel, len(currNode.IO))
		var prevIO map[string]sample.CgroupIOStat
		if prevNode != nil {
			prevIO = prevNode.IO
		}
		for dev, c := range currNode.IO {
			p, ok := prevIO[dev]
			ioValid := nodeValid && ok
			cm.IO[dev] = CgroupIOModel{
				ReadBytesPerSec:    rate(p.RBytes, c.RBytes, ioValid, dt),
				WriteBytesPerSec:   rate(p.WBytes, c.WBytes, ioValid, dt),
				ReadIOPS:           rate(p.RIOs, c.RIOs, ioValid, dt),
				WriteIOPS:          rate(p.WIOs, c.WIOs, ioValid, dt),
				DiscardBytesPerSec: rate(p.DBytes, c.DBytes, ioValid, dt),
				DiscardIOPS:        rate(p.DIOs, c.DIOs, ioValid, dt),
			}
		}
	}

	var prevPressure sample.CgroupPressure
	if prevNode != nil {
		prevPressure = prevNode.Pressure
	}
	cm.Pressure = CgroupPressureModel{
		CPU:    diffPressure(prevPressure.CPU, currNode.Pressure.CPU, nodeValid, dt),
		IO:     diffPressure(prevPressure.IO, currNode.Pressure.IO, nodeValid, dt),
		Memory: diffPressure(prevPressure.Memory, currNode.Pressure.Memory, nodeValid, dt),
	}

	if len(currNode.Children) > 0 {
		cm.Children = make(map[string]*CgroupModel, len(currNode.Children))
		for name, child := range currNode.Children {
			cm.Children[name] = diffCgroupTree(prevRoot, child, valid, dt)
		}
	}

	return cm
}

func cgroupUsecPct(prevV, currV uint64, valid bool, dt float64) *float64 {
	r := rate(prevV, currV, valid, dt)
	if r == nil {
		return nil
	}
	v := (*r / 1e6) * 100.0
	return &v
}

func diffProcesses(prev, curr *sample.Sample, valid bool, dt float64) map[int32]ProcessModel {
	var prevProcs map[int32]sample.PidInfo
	if prev != nil {
		prevProcs = prev.Processes
	}

	out := make(map[int32]ProcessModel, len(curr.Processes))
	for pid, c := range curr.Processes {
		pm := ProcessModel{
			Pid:            pid,
			Ppid:           c.Stat.Ppid,
			Comm:           c.Stat.Comm,
			State:          c.Stat.State,
			Threads:        c.Stat.Threads,
			StartTimeTicks: c.Stat.StartTimeTicks,
			RssBytes:       c.Stat.RssBytes,
		}

		p, ok := prevProcs[pid]
		switch {
		case !ok:
			// New pid this tick; no rate, not a restart.
		case p.Stat.StartTimeTicks != c.Stat.StartTimeTicks:
			pm.Restarted = true
		default:
			procValid := valid
			pm.CPUPct = pct(p.Stat.UtimeTicks+p.Stat.StimeTicks, c.Stat.UtimeTicks+c.Stat.StimeTicks, procValid, dt)
			if c.Io != nil && p.Io != nil {
				pm.ReadBytesPerSec = rate(p.Io.RBytes, c.Io.RBytes, procValid, dt)
				pm.WriteBytesPerSec = rate(p.Io.WBytes, c.Io.WBytes, procValid, dt)
			}
		}

		out[pid] = pm
	}
	return out
}

func diffExited(curr *sample.Sample) map[int32]ExitedProcessModel {
	if len(curr.ExitProcesses) == 0 {
		return nil
	}
	out := make(map[int32]ExitedProcessModel, len(curr.ExitProcesses))
	for pid, e := range curr.ExitProcesses {
		if _, stillAlive := curr.Processes[pid]; stillAlive {
			continue // pid was reused within the same tick; not a synthetic exit entry
		}
		out[pid] = ExitedProcessModel{
			Pid:            pid,
			MinFlt:         e.MinFlt,
			MajFlt:         e.MajFlt,
			UtimeUs:        e.UtimeUs,
			StimeUs:        e.StimeUs,
			EtimeUs:        e.EtimeUs,
			NrThreads:      e.NrThreads,
			IOReadBytes:    e.IOReadBytes,
			IOWriteBytes:   e.IOWriteBytes,
			ActiveRssPages: e.ActiveRssPages,
		}
	}
	return out
}
