// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import "github.com/antimetal/below/pkg/sample"

// Field ids below are per-message-type namespaces (a CPUStat's id 1 has
// nothing to do with a Sample's id 1): stable once assigned, never reused
// after removal (spec §6).

const (
	sampleFieldTimestamp = iota + 1
	sampleFieldSystem
	sampleFieldCgroup
	sampleFieldProcess  // repeated; nested PidInfo, itself carrying the pid
	sampleFieldExitProc // repeated; nested ExitInfo, itself carrying the pid
)

const (
	cpuFieldUser = iota + 1
	cpuFieldNice
	cpuFieldSystem
	cpuFieldIdle
	cpuFieldIOWait
	cpuFieldIRQ
	cpuFieldSoftIRQ
	cpuFieldSteal
	cpuFieldGuest
	cpuFieldGuestNice
)

const (
	sysFieldCPUTotal = iota + 1
	sysFieldPerCPU   // repeated
	sysFieldMemory
	sysFieldVM
	sysFieldBootTime
	sysFieldContextSwitches
	sysFieldProcsRunning
	sysFieldProcsBlocked
	sysFieldInterface // repeated
	sysFieldTCP
	sysFieldUDP
	sysFieldBlockDevice // repeated
	sysFieldHostname
	sysFieldKernelVersion
	sysFieldOSRelease
)

const (
	memFieldTotal = iota + 1
	memFieldFree
	memFieldAvailable
	memFieldBuffers
	memFieldCached
	memFieldSwapCached
	memFieldSwapTotal
	memFieldSwapFree
	memFieldActive
	memFieldInactive
	memFieldDirty
	memFieldWriteback
	memFieldAnonPages
	memFieldMapped
	memFieldShmem
	memFieldSlab
	memFieldSReclaimable
	memFieldSUnreclaim
	memFieldKernelStack
	memFieldPageTables
	memFieldCommitLimit
	memFieldCommittedAS
	memFieldHugeTotal
	memFieldHugeFree
	memFieldHugeSizeKB
)

const (
	vmFieldPgPgIn = iota + 1
	vmFieldPgPgOut
	vmFieldPSwpIn
	vmFieldPSwpOut
	vmFieldPgStealKswapd
	vmFieldPgStealDirect
	vmFieldPgScanKswapd
	vmFieldPgScanDirect
	vmFieldPgFault
	vmFieldPgMajFault
	vmFieldOOMKill
)

const (
	ifaceFieldName = iota + 1
	ifaceFieldRxBytes
	ifaceFieldRxPackets
	ifaceFieldRxErrors
	ifaceFieldRxDropped
	ifaceFieldTxBytes
	ifaceFieldTxPackets
	ifaceFieldTxErrors
	ifaceFieldTxDropped
)

const (
	tcpFieldActiveOpens = iota + 1
	tcpFieldPassiveOpens
	tcpFieldAttemptFails
	tcpFieldEstabResets
	tcpFieldCurrEstab
	tcpFieldInSegs
	tcpFieldOutSegs
	tcpFieldRetransSegs
	tcpFieldInErrs
	tcpFieldOutRsts
)

const (
	udpFieldInDatagrams = iota + 1
	udpFieldOutDatagrams
	udpFieldInErrors
	udpFieldNoPorts
)

const (
	blkFieldMajor = iota + 1
	blkFieldMinor
	blkFieldName
	blkFieldReadsCompleted
	blkFieldSectorsRead
	blkFieldReadTimeMs
	blkFieldWritesCompleted
	blkFieldSectorsWritten
	blkFieldWriteTimeMs
	blkFieldIOsInProgress
	blkFieldIOTimeMs
	blkFieldWeightedIOMs
)

const (
	pidFieldPid = iota + 1
	pidFieldPpid
	pidFieldComm
	pidFieldState
	pidFieldThreads
	pidFieldStartTime
	pidFieldUtime
	pidFieldStime
	pidFieldRssBytes
	pidFieldIoRBytes
	pidFieldIoWBytes
	pidFieldHasIo
	pidFieldCgroupPath
)

const (
	exitFieldPid = iota + 1
	exitFieldMinFlt
	exitFieldMajFlt
	exitFieldUtimeUs
	exitFieldStimeUs
	exitFieldEtimeUs
	exitFieldNrThreads
	exitFieldIOReadBytes
	exitFieldIOWriteBytes
	exitFieldActiveRssPages
)

const (
	psiFieldAvg10 = iota + 1
	psiFieldAvg60
	psiFieldAvg300
	psiFieldTotalUsec
)

const (
	pressureFieldSome = iota + 1
	pressureFieldFull
)

const (
	cgFieldPath = iota + 1
	cgFieldName
	cgFieldCPU
	cgFieldIO // repeated; each a nested device with its own "dev" string field
	cgFieldMemoryCurrent
	cgFieldHasMemoryCurrent
	cgFieldMemorySwapCurrent
	cgFieldHasMemorySwapCurrent
	cgFieldMemory
	cgFieldPressureCPU
	cgFieldPressureIO
	cgFieldPressureMemory
	cgFieldChild // repeated; each a nested CgroupModel
)

const (
	cgIOFieldDev = iota + 1
	cgIOFieldRBytes
	cgIOFieldWBytes
	cgIOFieldRIOs
	cgIOFieldWIOs
	cgIOFieldDBytes
	cgIOFieldDIOs
)

const (
	cgCPUFieldUsageUsec = iota + 1
	cgCPUFieldUserUsec
	cgCPUFieldSystemUsec
	cgCPUFieldNrPeriods
	cgCPUFieldNrThrottled
	cgCPUFieldThrottledUsec
)

const (
	cgMemFieldAnon = iota + 1
	cgMemFieldFile
	cgMemFieldSlab
	cgMemFieldShmem
	cgMemFieldFileThp
	cgMemFieldWorkingsetRefault
	cgMemFieldPgfault
	cgMemFieldPgmajfault
)

// encodeSample serializes s into the body bytes of a payload frame.
func encodeSample(s *sample.Sample) []byte {
	w := newTLVWriter()
	w.i64(sampleFieldTimestamp, s.Timestamp)
	w.nested(sampleFieldSystem, encodeSystemStats(s.System))
	if s.Cgroup != nil {
		w.nested(sampleFieldCgroup, encodeCgroupNode(s.Cgroup))
	}
	for pid, p := range s.Processes {
		w.nested(sampleFieldProcess, encodePidInfo(pid, p))
	}
	for pid, e := range s.ExitProcesses {
		w.nested(sampleFieldExitProc, encodeExitInfo(pid, e))
	}
	return w.Bytes()
}

func decodeSample(buf []byte) (*sample.Sample, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return nil, err
	}
	s := &sample.Sample{Timestamp: m.i64(sampleFieldTimestamp)}

	if sys := m.one(sampleFieldSystem); sys != nil {
		ss, err := decodeSystemStats(sys)
		if err != nil {
			return nil, err
		}
		s.System = ss
	}
	if cg := m.one(sampleFieldCgroup); cg != nil {
		node, err := decodeCgroupNode(cg)
		if err != nil {
			return nil, err
		}
		s.Cgroup = node
	}

	procPayloads := m.all(sampleFieldProcess)
	if len(procPayloads) > 0 {
		s.Processes = make(map[int32]sample.PidInfo, len(procPayloads))
		for _, p := range procPayloads {
			pid, info, err := decodePidInfo(p)
			if err != nil {
				return nil, err
			}
			s.Processes[pid] = info
		}
	}

	exitPayloads := m.all(sampleFieldExitProc)
	if len(exitPayloads) > 0 {
		s.ExitProcesses = make(map[int32]sample.ExitInfo, len(exitPayloads))
		for _, p := range exitPayloads {
			pid, info, err := decodeExitInfoRecord(p)
			if err != nil {
				return nil, err
			}
			s.ExitProcesses[pid] = info
		}
	}

	return s, nil
}

func encodeCPUStat(c sample.CPUStat) *tlvWriter {
	w := newTLVWriter()
	w.u64(cpuFieldUser, c.User)
	w.u64(cpuFieldNice, c.Nice)
	w.u64(cpuFieldSystem, c.System)
	w.u64(cpuFieldIdle, c.Idle)
	w.u64(cpuFieldIOWait, c.IOWait)
	w.u64(cpuFieldIRQ, c.IRQ)
	w.u64(cpuFieldSoftIRQ, c.SoftIRQ)
	w.i64(cpuFieldSteal, c.Steal)
	w.u64(cpuFieldGuest, c.Guest)
	w.u64(cpuFieldGuestNice, c.GuestNice)
	return w
}

func decodeCPUStat(buf []byte) (sample.CPUStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.CPUStat{}, err
	}
	return sample.CPUStat{
		User:      m.u64(cpuFieldUser),
		Nice:      m.u64(cpuFieldNice),
		System:    m.u64(cpuFieldSystem),
		Idle:      m.u64(cpuFieldIdle),
		IOWait:    m.u64(cpuFieldIOWait),
		IRQ:       m.u64(cpuFieldIRQ),
		SoftIRQ:   m.u64(cpuFieldSoftIRQ),
		Steal:     m.i64(cpuFieldSteal),
		Guest:     m.u64(cpuFieldGuest),
		GuestNice: m.u64(cpuFieldGuestNice),
	}, nil
}

func encodeMemInfo(w *tlvWriter, mi sample.MemInfo) {
	w.u64(memFieldTotal, mi.MemTotal)
	w.u64(memFieldFree, mi.MemFree)
	w.u64(memFieldAvailable, mi.MemAvailable)
	w.u64(memFieldBuffers, mi.Buffers)
	w.u64(memFieldCached, mi.Cached)
	w.u64(memFieldSwapCached, mi.SwapCached)
	w.u64(memFieldSwapTotal, mi.SwapTotal)
	w.u64(memFieldSwapFree, mi.SwapFree)
	w.u64(memFieldActive, mi.Active)
	w.u64(memFieldInactive, mi.Inactive)
	w.u64(memFieldDirty, mi.Dirty)
	w.u64(memFieldWriteback, mi.Writeback)
	w.u64(memFieldAnonPages, mi.AnonPages)
	w.u64(memFieldMapped, mi.Mapped)
	w.u64(memFieldShmem, mi.Shmem)
	w.u64(memFieldSlab, mi.Slab)
	w.u64(memFieldSReclaimable, mi.SReclaimable)
	w.u64(memFieldSUnreclaim, mi.SUnreclaim)
	w.u64(memFieldKernelStack, mi.KernelStack)
	w.u64(memFieldPageTables, mi.PageTables)
	w.u64(memFieldCommitLimit, mi.CommitLimit)
	w.u64(memFieldCommittedAS, mi.CommittedAS)
	w.u64(memFieldHugeTotal, mi.HugePagesTotal)
	w.u64(memFieldHugeFree, mi.HugePagesFree)
	w.u64(memFieldHugeSizeKB, mi.HugePageSizeKB)
}

func decodeMemInfo(m tlvMap) sample.MemInfo {
	return sample.MemInfo{
		MemTotal:       m.u64(memFieldTotal),
		MemFree:        m.u64(memFieldFree),
		MemAvailable:   m.u64(memFieldAvailable),
		Buffers:        m.u64(memFieldBuffers),
		Cached:         m.u64(memFieldCached),
		SwapCached:     m.u64(memFieldSwapCached),
		SwapTotal:      m.u64(memFieldSwapTotal),
		SwapFree:       m.u64(memFieldSwapFree),
		Active:         m.u64(memFieldActive),
		Inactive:       m.u64(memFieldInactive),
		Dirty:          m.u64(memFieldDirty),
		Writeback:      m.u64(memFieldWriteback),
		AnonPages:      m.u64(memFieldAnonPages),
		Mapped:         m.u64(memFieldMapped),
		Shmem:          m.u64(memFieldShmem),
		Slab:           m.u64(memFieldSlab),
		SReclaimable:   m.u64(memFieldSReclaimable),
		SUnreclaim:     m.u64(memFieldSUnreclaim),
		KernelStack:    m.u64(memFieldKernelStack),
		PageTables:     m.u64(memFieldPageTables),
		CommitLimit:    m.u64(memFieldCommitLimit),
		CommittedAS:    m.u64(memFieldCommittedAS),
		HugePagesTotal: m.u64(memFieldHugeTotal),
		HugePagesFree:  m.u64(memFieldHugeFree),
		HugePageSizeKB: m.u64(memFieldHugeSizeKB),
	}
}

func encodeVMStat(w *tlvWriter, vm sample.VMStat) {
	w.u64(vmFieldPgPgIn, vm.PgPgIn)
	w.u64(vmFieldPgPgOut, vm.PgPgOut)
	w.u64(vmFieldPSwpIn, vm.PSwpIn)
	w.u64(vmFieldPSwpOut, vm.PSwpOut)
	w.u64(vmFieldPgStealKswapd, vm.PgStealKswapd)
	w.u64(vmFieldPgStealDirect, vm.PgStealDirect)
	w.u64(vmFieldPgScanKswapd, vm.PgScanKswapd)
	w.u64(vmFieldPgScanDirect, vm.PgScanDirect)
	w.u64(vmFieldPgFault, vm.PgFault)
	w.u64(vmFieldPgMajFault, vm.PgMajFault)
	w.u64(vmFieldOOMKill, vm.OOMKill)
}

func decodeVMStat(m tlvMap) sample.VMStat {
	return sample.VMStat{
		PgPgIn:        m.u64(vmFieldPgPgIn),
		PgPgOut:       m.u64(vmFieldPgPgOut),
		PSwpIn:        m.u64(vmFieldPSwpIn),
		PSwpOut:       m.u64(vmFieldPSwpOut),
		PgStealKswapd: m.u64(vmFieldPgStealKswapd),
		PgStealDirect: m.u64(vmFieldPgStealDirect),
		PgScanKswapd:  m.u64(vmFieldPgScanKswapd),
		PgScanDirect:  m.u64(vmFieldPgScanDirect),
		PgFault:       m.u64(vmFieldPgFault),
		PgMajFault:    m.u64(vmFieldPgMajFault),
		OOMKill:       m.u64(vmFieldOOMKill),
	}
}

func encodeIface(iface sample.NetIfaceStat) *tlvWriter {
	w := newTLVWriter()
	w.str(ifaceFieldName, iface.Name)
	w.u64(ifaceFieldRxBytes, iface.RxBytes)
	w.u64(ifaceFieldRxPackets, iface.RxPackets)
	w.u64(ifaceFieldRxErrors, iface.RxErrors)
	w.u64(ifaceFieldRxDropped, iface.RxDropped)
	w.u64(ifaceFieldTxBytes, iface.TxBytes)
	w.u64(ifaceFieldTxPackets, iface.TxPackets)
	w.u64(ifaceFieldTxErrors, iface.TxErrors)
	w.u64(ifaceFieldTxDropped, iface.TxDropped)
	return w
}

func decodeIface(buf []byte) (sample.NetIfaceStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.NetIfaceStat{}, err
	}
	return sample.NetIfaceStat{
		Name:      m.str(ifaceFieldName),
		RxBytes:   m.u64(ifaceFieldRxBytes),
		RxPackets: m.u64(ifaceFieldRxPackets),
		RxErrors:  m.u64(ifaceFieldRxErrors),
		RxDropped: m.u64(ifaceFieldRxDropped),
		TxBytes:   m.u64(ifaceFieldTxBytes),
		TxPackets: m.u64(ifaceFieldTxPackets),
		TxErrors:  m.u64(ifaceFieldTxErrors),
		TxDropped: m.u64(ifaceFieldTxDropped),
	}, nil
}

func encodeTCP(w *tlvWriter, t sample.TCPStat) {
	w.u64(tcpFieldActiveOpens, t.ActiveOpens)
	w.u64(tcpFieldPassiveOpens, t.PassiveOpens)
	w.u64(tcpFieldAttemptFails, t.AttemptFails)
	w.u64(tcpFieldEstabResets, t.EstabResets)
	w.u64(tcpFieldCurrEstab, t.CurrEstab)
	w.u64(tcpFieldInSegs, t.InSegs)
	w.u64(tcpFieldOutSegs, t.OutSegs)
	w.u64(tcpFieldRetransSegs, t.RetransSegs)
	w.u64(tcpFieldInErrs, t.InErrs)
	w.u64(tcpFieldOutRsts, t.OutRsts)
}

func decodeTCP(m tlvMap) sample.TCPStat {
	return sample.TCPStat{
		ActiveOpens:  m.u64(tcpFieldActiveOpens),
		PassiveOpens: m.u64(tcpFieldPassiveOpens),
		AttemptFails: m.u64(tcpFieldAttemptFails),
		EstabResets:  m.u64(tcpFieldEstabResets),
		CurrEstab:    m.u64(tcpFieldCurrEstab),
		InSegs:       m.u64(tcpFieldInSegs),
		OutSegs:      m.u64(tcpFieldOutSegs),
		RetransSegs:  m.u64(tcpFieldRetransSegs),
		InErrs:       m.u64(tcpFieldInErrs),
		OutRsts:      m.u64(tcpFieldOutRsts),
	}
}

func encodeUDP(w *tlvWriter, u sample.UDPStat) {
	w.u64(udpFieldInDatagrams, u.InDatagrams)
	w.u64(udpFieldOutDatagrams, u.OutDatagrams)
	w.u64(udpFieldInErrors, u.InErrors)
	w.u64(udpFieldNoPorts, u.NoPorts)
}

func decodeUDP(m tlvMap) sample.UDPStat {
	return sample.UDPStat{
		InDatagrams:  m.u64(udpFieldInDatagrams),
		OutDatagrams: m.u64(udpFieldOutDatagrams),
		InErrors:     m.u64(udpFieldInErrors),
		NoPorts:      m.u64(udpFieldNoPorts),
	}
}

func encodeBlockDevice(d sample.BlockDeviceStat) *tlvWriter {
	w := newTLVWriter()
	w.u32(blkFieldMajor, d.Major)
	w.u32(blkFieldMinor, d.Minor)
	w.str(blkFieldName, d.Name)
	w.u64(blkFieldReadsCompleted, d.ReadsCompleted)
	w.u64(blkFieldSectorsRead, d.SectorsRead)
	w.u64(blkFieldReadTimeMs, d.ReadTimeMs)
	w.u64(blkFieldWritesCompleted, d.WritesCompleted)
	w.u64(blkFieldSectorsWritten, d.SectorsWritten)
	w.u64(blkFieldWriteTimeMs, d.WriteTimeMs)
	w.u64(blkFieldIOsInProgress, d.IOsInProgress)
	w.u64(blkFieldIOTimeMs, d.IOTimeMs)
	w.u64(blkFieldWeightedIOMs, d.WeightedIOMs)
	return w
}

func decodeBlockDevice(buf []byte) (sample.BlockDeviceStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.BlockDeviceStat{}, err
	}
	return sample.BlockDeviceStat{
		Major:           m.u32(blkFieldMajor),
		Minor:           m.u32(blkFieldMinor),
		Name:            m.str(blkFieldName),
		ReadsCompleted:  m.u64(blkFieldReadsCompleted),
		SectorsRead:     m.u64(blkFieldSectorsRead),
		ReadTimeMs:      m.u64(blkFieldReadTimeMs),
		WritesCompleted: m.u64(blkFieldWritesCompleted),
		SectorsWritten:  m.u64(blkFieldSectorsWritten),
		WriteTimeMs:     m.u64(blkFieldWriteTimeMs),
		IOsInProgress:   m.u64(blkFieldIOsInProgress),
		IOTimeMs:        m.u64(blkFieldIOTimeMs),
		WeightedIOMs:    m.u64(blkFieldWeightedIOMs),
	}, nil
}

func encodeSystemStats(s sample.SystemStats) *tlvWriter {
	w := newTLVWriter()
	w.nested(sysFieldCPUTotal, encodeCPUStat(s.CPUTotal))
	for _, c := range s.PerCPU {
		w.nested(sysFieldPerCPU, encodeCPUStat(c))
	}
	encodeMemInfo(w, s.Memory)
	encodeVMStat(w, s.VM)
	w.i64(sysFieldBootTime, s.BootTimeEpochSecs)
	w.u64(sysFieldContextSwitches, s.ContextSwitches)
	w.u32(sysFieldProcsRunning, s.ProcsRunning)
	w.u32(sysFieldProcsBlocked, s.ProcsBlocked)
	for _, iface := range s.Interfaces {
		w.nested(sysFieldInterface, encodeIface(iface))
	}
	encodeTCP(w, s.TCP)
	encodeUDP(w, s.UDP)
	for _, d := range s.BlockDevices {
		w.nested(sysFieldBlockDevice, encodeBlockDevice(d))
	}
	w.str(sysFieldHostname, s.Hostname)
	w.str(sysFieldKernelVersion, s.KernelVersion)
	w.str(sysFieldOSRelease, s.OSRelease)
	return w
}

func decodeSystemStats(buf []byte) (sample.SystemStats, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.SystemStats{}, err
	}

	var ss sample.SystemStats
	if cpu := m.one(sysFieldCPUTotal); cpu != nil {
		ss.CPUTotal, err = decodeCPUStat(cpu)
		if err != nil {
			return sample.SystemStats{}, err
		}
	}
	for _, buf := range m.all(sysFieldPerCPU) {
		c, err := decodeCPUStat(buf)
		if err != nil {
			return sample.SystemStats{}, err
		}
		ss.PerCPU = append(ss.PerCPU, c)
	}
	ss.Memory = decodeMemInfo(m)
	ss.VM = decodeVMStat(m)
	ss.BootTimeEpochSecs = m.i64(sysFieldBootTime)
	ss.ContextSwitches = m.u64(sysFieldContextSwitches)
	ss.ProcsRunning = m.u32(sysFieldProcsRunning)
	ss.ProcsBlocked = m.u32(sysFieldProcsBlocked)
	for _, buf := range m.all(sysFieldInterface) {
		iface, err := decodeIface(buf)
		if err != nil {
			return sample.SystemStats{}, err
		}
		ss.Interfaces = append(ss.Interfaces, iface)
	}
	ss.TCP = decodeTCP(m)
	ss.UDP = decodeUDP(m)
	for _, buf := range m.all(sysFieldBlockDevice) {
		d, err := decodeBlockDevice(buf)
		if err != nil {
			return sample.SystemStats{}, err
		}
		ss.BlockDevices = append(ss.BlockDevices, d)
	}
	ss.Hostname = m.str(sysFieldHostname)
	ss.KernelVersion = m.str(sysFieldKernelVersion)
	ss.OSRelease = m.str(sysFieldOSRelease)
	return ss, nil
}

func encodePSILine(line sample.PSILine) *tlvWriter {
	w := newTLVWriter()
	w.f64(psiFieldAvg10, line.Avg10)
	w.f64(psiFieldAvg60, line.Avg60)
	w.f64(psiFieldAvg300, line.Avg300)
	w.u64(psiFieldTotalUsec, line.TotalUsec)
	return w
}

func decodePSILine(buf []byte) (sample.PSILine, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.PSILine{}, err
	}
	return sample.PSILine{
		Avg10:     m.f64(psiFieldAvg10),
		Avg60:     m.f64(psiFieldAvg60),
		Avg300:    m.f64(psiFieldAvg300),
		TotalUsec: m.u64(psiFieldTotalUsec),
	}, nil
}

func encodePressure(p sample.PressureStat) *tlvWriter {
	w := newTLVWriter()
	w.nested(pressureFieldSome, encodePSILine(p.Some))
	if p.Full != nil {
		w.nested(pressureFieldFull, encodePSILine(*p.Full))
	}
	return w
}

func decodePressure(buf []byte) (sample.PressureStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.PressureStat{}, err
	}
	var p sample.PressureStat
	if some := m.one(pressureFieldSome); some != nil {
		p.Some, err = decodePSILine(some)
		if err != nil {
			return sample.PressureStat{}, err
		}
	}
	if full := m.one(pressureFieldFull); full != nil {
		line, err := decodePSILine(full)
		if err != nil {
			return sample.PressureStat{}, err
		}
		p.Full = &line
	}
	return p, nil
}

func encodeCgroupCPU(c sample.CgroupCPUStat) *tlvWriter {
	w := newTLVWriter()
	w.u64(cgCPUFieldUsageUsec, c.UsageUsec)
	w.u64(cgCPUFieldUserUsec, c.UserUsec)
	w.u64(cgCPUFieldSystemUsec, c.SystemUsec)
	w.u64(cgCPUFieldNrPeriods, c.NrPeriods)
	w.u64(cgCPUFieldNrThrottled, c.NrThrottled)
	w.u64(cgCPUFieldThrottledUsec, c.ThrottledUsec)
	return w
}

func decodeCgroupCPU(buf []byte) (sample.CgroupCPUStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.CgroupCPUStat{}, err
	}
	return sample.CgroupCPUStat{
		UsageUsec:     m.u64(cgCPUFieldUsageUsec),
		UserUsec:      m.u64(cgCPUFieldUserUsec),
		SystemUsec:    m.u64(cgCPUFieldSystemUsec),
		NrPeriods:     m.u64(cgCPUFieldNrPeriods),
		NrThrottled:   m.u64(cgCPUFieldNrThrottled),
		ThrottledUsec: m.u64(cgCPUFieldThrottledUsec),
	}, nil
}

func encodeCgroupIO(dev string, io sample.CgroupIOStat) *tlvWriter {
	w := newTLVWriter()
	w.str(cgIOFieldDev, dev)
	w.u64(cgIOFieldRBytes, io.RBytes)
	w.u64(cgIOFieldWBytes, io.WBytes)
	w.u64(cgIOFieldRIOs, io.RIOs)
	w.u64(cgIOFieldWIOs, io.WIOs)
	w.u64(cgIOFieldDBytes, io.DBytes)
	w.u64(cgIOFieldDIOs, io.DIOs)
	return w
}

func decodeCgroupIO(buf []byte) (string, sample.CgroupIOStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return "", sample.CgroupIOStat{}, err
	}
	return m.str(cgIOFieldDev), sample.CgroupIOStat{
		RBytes: m.u64(cgIOFieldRBytes),
		WBytes: m.u64(cgIOFieldWBytes),
		RIOs:   m.u64(cgIOFieldRIOs),
		WIOs:   m.u64(cgIOFieldWIOs),
		DBytes: m.u64(cgIOFieldDBytes),
		DIOs:   m.u64(cgIOFieldDIOs),
	}, nil
}

func encodeCgroupMemory(mem sample.CgroupMemoryStat) *tlvWriter {
	w := newTLVWriter()
	w.u64(cgMemFieldAnon, mem.Anon)
	w.u64(cgMemFieldFile, mem.File)
	w.u64(cgMemFieldSlab, mem.Slab)
	w.u64(cgMemFieldShmem, mem.Shmem)
	w.u64(cgMemFieldFileThp, mem.FileThp)
	w.u64(cgMemFieldWorkingsetRefault, mem.WorkingsetRefault)
	w.u64(cgMemFieldPgfault, mem.Pgfault)
	w.u64(cgMemFieldPgmajfault, mem.Pgmajfault)
	return w
}

func decodeCgroupMemory(buf []byte) (sample.CgroupMemoryStat, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return sample.CgroupMemoryStat{}, err
	}
	return sample.CgroupMemoryStat{
		Anon:              m.u64(cgMemFieldAnon),
		File:              m.u64(cgMemFieldFile),
		Slab:              m.u64(cgMemFieldSlab),
		Shmem:             m.u64(cgMemFieldShmem),
		FileThp:           m.u64(cgMemFieldFileThp),
		WorkingsetRefault: m.u64(cgMemFieldWorkingsetRefault),
		Pgfault:           m.u64(cgMemFieldPgfault),
		Pgmajfault:        m.u64(cgMemFieldPgmajfault),
	}, nil
}

func encodeCgroupNode(n *sample.CgroupNode) *tlvWriter {
	w := newTLVWriter()
	w.str(cgFieldPath, n.Path)
	w.str(cgFieldName, n.Name)
	if n.CPU != nil {
		w.nested(cgFieldCPU, encodeCgroupCPU(*n.CPU))
	}
	for dev, io := range n.IO {
		w.nested(cgFieldIO, encodeCgroupIO(dev, io))
	}
	if n.MemoryCurrent != nil {
		w.u64(cgFieldMemoryCurrent, *n.MemoryCurrent)
		w.u64(cgFieldHasMemoryCurrent, 1)
	}
	if n.MemorySwapCurrent != nil {
		w.u64(cgFieldMemorySwapCurrent, *n.MemorySwapCurrent)
		w.u64(cgFieldHasMemorySwapCurrent, 1)
	}
	if n.Memory != nil {
		w.nested(cgFieldMemory, encodeCgroupMemory(*n.Memory))
	}
	w.nested(cgFieldPressureCPU, encodePressure(n.Pressure.CPU))
	w.nested(cgFieldPressureIO, encodePressure(n.Pressure.IO))
	w.nested(cgFieldPressureMemory, encodePressure(n.Pressure.Memory))
	for _, child := range n.Children {
		w.nested(cgFieldChild, encodeCgroupNode(child))
	}
	return w
}

func decodeCgroupNode(buf []byte) (*sample.CgroupNode, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return nil, err
	}
	n := &sample.CgroupNode{
		Path: m.str(cgFieldPath),
		Name: m.str(cgFieldName),
	}
	if cpu := m.one(cgFieldCPU); cpu != nil {
		c, err := decodeCgroupCPU(cpu)
		if err != nil {
			return nil, err
		}
		n.CPU = &c
	}
	if ioPayloads := m.all(cgFieldIO); len(ioPayloads) > 0 {
		n.IO = make(map[string]sample.CgroupIOStat, len(ioPayloads))
		for _, p := range ioPayloads {
			dev, io, err := decodeCgroupIO(p)
			if err != nil {
				return nil, err
			}
			n.IO[dev] = io
		}
	}
	if m.u64(cgFieldHasMemoryCurrent) == 1 {
		v := m.u64(cgFieldMemoryCurrent)
		n.MemoryCurrent = &v
	}
	if m.u64(cgFieldHasMemorySwapCurrent) == 1 {
		v := m.u64(cgFieldMemorySwapCurrent)
		n.MemorySwapCurrent = &v
	}
	if mem := m.one(cgFieldMemory); mem != nil {
		memStat, err := decodeCgroupMemory(mem)
		if err != nil {
			return nil, err
		}
		n.Memory = &memStat
	}
	if p := m.one(cgFieldPressureCPU); p != nil {
		n.Pressure.CPU, err = decodePressure(p)
		if err != nil {
			return nil, err
		}
	}
	if p := m.one(cgFieldPressureIO); p != nil {
		n.Pressure.IO, err = decodePressure(p)
		if err != nil {
			return nil, err
		}
	}
	if p := m.one(cgFieldPressureMemory); p != nil {
		n.Pressure.Memory, err = decodePressure(p)
		if err != nil {
			return nil, err
		}
	}
	if childPayloads := m.all(cgFieldChild); len(childPayloads) > 0 {
		n.Children = make(map[string]*sample.CgroupNode, len(childPayloads))
		for _, p := range childPayloads {
			child, err := decodeCgroupNode(p)
			if err != nil {
				return nil, err
			}
			n.Children[child.Name] = child
		}
	}
	return n, nil
}

func encodePidInfo(pid int32, p sample.PidInfo) *tlvWriter {
	w := newTLVWriter()
	w.i64(pidFieldPid, int64(pid))
	w.i64(pidFieldPpid, int64(p.Stat.Ppid))
	w.str(pidFieldComm, p.Stat.Comm)
	w.field(pidFieldState, []byte{p.Stat.State})
	w.i64(pidFieldThreads, int64(p.Stat.Threads))
	w.u64(pidFieldStartTime, p.Stat.StartTimeTicks)
	w.u64(pidFieldUtime, p.Stat.UtimeTicks)
	w.u64(pidFieldStime, p.Stat.StimeTicks)
	w.u64(pidFieldRssBytes, p.Stat.RssBytes)
	if p.Io != nil {
		w.u64(pidFieldIoRBytes, p.Io.RBytes)
		w.u64(pidFieldIoWBytes, p.Io.WBytes)
		w.u64(pidFieldHasIo, 1)
	}
	w.str(pidFieldCgroupPath, p.CgroupPath)
	return w
}

func decodePidInfo(buf []byte) (int32, sample.PidInfo, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return 0, sample.PidInfo{}, err
	}
	pid := int32(m.i64(pidFieldPid))
	info := sample.PidInfo{
		Stat: sample.PidStat{
			Pid:            pid,
			Ppid:           int32(m.i64(pidFieldPpid)),
			Comm:           m.str(pidFieldComm),
			Threads:        int32(m.i64(pidFieldThreads)),
			StartTimeTicks: m.u64(pidFieldStartTime),
			UtimeTicks:     m.u64(pidFieldUtime),
			StimeTicks:     m.u64(pidFieldStime),
			RssBytes:       m.u64(pidFieldRssBytes),
		},
		CgroupPath: m.str(pidFieldCgroupPath),
	}
	if state := m.one(pidFieldState); len(state) == 1 {
		info.Stat.State = state[0]
	}
	if m.u64(pidFieldHasIo) == 1 {
		info.Io = &sample.PidIo{
			RBytes: m.u64(pidFieldIoRBytes),
			WBytes: m.u64(pidFieldIoWBytes),
		}
	}
	return pid, info, nil
}

func encodeExitInfo(pid int32, e sample.ExitInfo) *tlvWriter {
	w := newTLVWriter()
	w.i64(exitFieldPid, int64(pid))
	w.u64(exitFieldMinFlt, e.MinFlt)
	w.u64(exitFieldMajFlt, e.MajFlt)
	w.u64(exitFieldUtimeUs, e.UtimeUs)
	w.u64(exitFieldStimeUs, e.StimeUs)
	w.u64(exitFieldEtimeUs, e.EtimeUs)
	w.u64(exitFieldNrThreads, e.NrThreads)
	w.u64(exitFieldIOReadBytes, e.IOReadBytes)
	w.u64(exitFieldIOWriteBytes, e.IOWriteBytes)
	w.u64(exitFieldActiveRssPages, e.ActiveRssPages)
	return w
}

func decodeExitInfoRecord(buf []byte) (int32, sample.ExitInfo, error) {
	m, err := parseTLV(buf)
	if err != nil {
		return 0, sample.ExitInfo{}, err
	}
	pid := int32(m.i64(exitFieldPid))
	return pid, sample.ExitInfo{
		Pid:            pid,
		MinFlt:         m.u64(exitFieldMinFlt),
		MajFlt:         m.u64(exitFieldMajFlt),
		UtimeUs:        m.u64(exitFieldUtimeUs),
		StimeUs:        m.u64(exitFieldStimeUs),
		EtimeUs:        m.u64(exitFieldEtimeUs),
		NrThreads:      m.u64(exitFieldNrThreads),
		IOReadBytes:    m.u64(exitFieldIOReadBytes),
		IOWriteBytes:   m.u64(exitFieldIOWriteBytes),
		ActiveRssPages: m.u64(exitFieldActiveRssPages),
	}, nil
}
