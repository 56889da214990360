// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package procfs parses the Linux proc pseudo-filesystem into the typed
// records sample.SystemStats/sample.PidInfo need (spec §4.1). Every read
// accepts an injectable root path so tests can point at a fake tree instead
// of the real /proc.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/sample"
	"github.com/go-logr/logr"
)

// Reader reads system-wide procfs state rooted at Path (default "/proc").
type Reader struct {
	Path   string
	Logger logr.Logger
}

// NewReader validates path and returns a Reader rooted there.
func NewReader(path string, logger logr.Logger) (*Reader, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("procfs root must be an absolute path, got: %q", path)
	}
	return &Reader{Path: path, Logger: logger}, nil
}

// ReadSystem assembles one sample.SystemStats by reading /proc/stat,
// /proc/meminfo, /proc/vmstat, /proc/net/dev, /proc/net/snmp, and
// /proc/diskstats. A missing required file yields ErrFileNotFound; a
// missing optional field within a present file is silently omitted.
func (r *Reader) ReadSystem() (sample.SystemStats, error) {
	var s sample.SystemStats

	if err := r.readStat(&s); err != nil {
		return s, err
	}
	if err := r.readMemInfo(&s); err != nil {
		return s, err
	}
	r.readVMStat(&s) // optional file on some minimal kernels; tolerate absence
	r.readNetDev(&s)
	r.readNetSNMP(&s)
	r.readDiskStats(&s)

	s.Hostname = r.readHostname()
	s.KernelVersion = r.readOSRelease()
	s.OSRelease = s.KernelVersion

	return s, nil
}

func (r *Reader) path(parts ...string) string {
	return filepath.Join(append([]string{r.Path}, parts...)...)
}

func (r *Reader) openRequired(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, belowerrors.ErrFileNotFound)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// readStat parses /proc/stat: the aggregate and per-cpu jiffy lines, ctxt,
// procs_running, procs_blocked, and btime (boot time epoch seconds).
func (r *Reader) readStat(s *sample.SystemStats) error {
	path := r.path("stat")
	f, err := r.openRequired(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case fields[0] == "cpu":
			stat, ok := parseCPULine(fields)
			if ok {
				s.CPUTotal = stat
			} else {
				r.Logger.V(2).Info("failed to parse aggregate cpu line", "line", line)
			}
		case strings.HasPrefix(fields[0], "cpu"):
			if stat, ok := parseCPULine(fields); ok {
				s.PerCPU = append(s.PerCPU, stat)
			}
		case fields[0] == "ctxt":
			if len(fields) >= 2 {
				if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					s.ContextSwitches = v
				}
			}
		case fields[0] == "btime":
			if len(fields) >= 2 {
				if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					s.BootTimeEpochSecs = v
				} else {
					return belowerrors.NewParseError(path, lineNum, "invalid btime: "+fields[1])
				}
			}
		case fields[0] == "procs_running":
			if len(fields) >= 2 {
				if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
					s.ProcsRunning = uint32(v)
				}
			}
		case fields[0] == "procs_blocked":
			if len(fields) >= 2 {
				if v, err := strconv.ParseUint(fields[1], 10, 32); err == nil {
					s.ProcsBlocked = uint32(v)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if s.BootTimeEpochSecs == 0 {
		return belowerrors.NewParseError(path, lineNum, "missing btime")
	}
	return nil
}

// parseCPULine parses one "cpuN user nice system idle iowait irq softirq
// [steal guest guest_nice]" line. steal/guest/guest_nice are optional on
// older kernels.
func parseCPULine(fields []string) (sample.CPUStat, bool) {
	if len(fields) < 8 {
		return sample.CPUStat{}, false
	}
	var stat sample.CPUStat
	vals := make([]uint64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return sample.CPUStat{}, false
		}
		vals[i] = v
	}
	stat.User, stat.Nice, stat.System, stat.Idle = vals[0], vals[1], vals[2], vals[3]
	stat.IOWait, stat.IRQ, stat.SoftIRQ = vals[4], vals[5], vals[6]

	if len(fields) > 8 {
		if v, err := strconv.ParseInt(fields[8], 10, 64); err == nil {
			stat.Steal = v
		}
	}
	if len(fields) > 9 {
		if v, err := strconv.ParseUint(fields[9], 10, 64); err == nil {
			stat.Guest = v
		}
	}
	if len(fields) > 10 {
		if v, err := strconv.ParseUint(fields[10], 10, 64); err == nil {
			stat.GuestNice = v
		}
	}
	return stat, true
}

var meminfoFields = map[string]*uint64{}

// readMemInfo parses /proc/meminfo. A tracked line whose value is missing
// or not an unsigned integer is logged at V(2) and skipped rather than
// failing the read; fields this struct doesn't track are ignored.
func (r *Reader) readMemInfo(s *sample.SystemStats) error {
	path := r.path("meminfo")
	f, err := r.openRequired(path)
	if err != nil {
		return err
	}
	defer f.Close()

	targets := map[string]*uint64{
		"MemTotal":     &s.Memory.MemTotal,
		"MemFree":      &s.Memory.MemFree,
		"MemAvailable": &s.Memory.MemAvailable,
		"Buffers":      &s.Memory.Buffers,
		"Cached":       &s.Memory.Cached,
		"SwapCached":   &s.Memory.SwapCached,
		"SwapTotal":    &s.Memory.SwapTotal,
		"SwapFree":     &s.Memory.SwapFree,
		"Active":       &s.Memory.Active,
		"Inactive":     &s.Memory.Inactive,
		"Dirty":        &s.Memory.Dirty,
		"Writeback":    &s.Memory.Writeback,
		"AnonPages":    &s.Memory.AnonPages,
		"Mapped":       &s.Memory.Mapped,
		"Shmem":        &s.Memory.Shmem,
		"Slab":         &s.Memory.Slab,
		"SReclaimable": &s.Memory.SReclaimable,
		"SUnreclaim":   &s.Memory.SUnreclaim,
		"KernelStack":  &s.Memory.KernelStack,
		"PageTables":   &s.Memory.PageTables,
		"CommitLimit":  &s.Memory.CommitLimit,
		"Committed_AS": &s.Memory.CommittedAS,
		"HugePages_Total": &s.Memory.HugePagesTotal,
		"HugePages_Free":  &s.Memory.HugePagesFree,
		"Hugepagesize":    &s.Memory.HugePageSizeKB,
	}

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue // e.g. a blank line; not a required key
		}
		key := strings.TrimSpace(parts[0])
		dst, ok := targets[key]
		if !ok {
			continue
		}
		valFields := strings.Fields(parts[1])
		if len(valFields) == 0 {
			r.Logger.V(2).Info("meminfo key with no value", "key", key)
			continue
		}
		v, err := strconv.ParseUint(valFields[0], 10, 64)
		if err != nil {
			r.Logger.V(2).Info("failed to parse meminfo value", "key", key, "error", err)
			continue
		}
		*dst = v
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// readVMStat parses /proc/vmstat. The whole file is optional: containers
// without access to it simply get a zero VMStat.
func (r *Reader) readVMStat(s *sample.SystemStats) {
	path := r.path("vmstat")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	targets := map[string]*uint64{
		"pgpgin":           &s.VM.PgPgIn,
		"pgpgout":          &s.VM.PgPgOut,
		"pswpin":           &s.VM.PSwpIn,
		"pswpout":          &s.VM.PSwpOut,
		"pgsteal_kswapd":   &s.VM.PgStealKswapd,
		"pgsteal_direct":   &s.VM.PgStealDirect,
		"pgscan_kswapd":    &s.VM.PgScanKswapd,
		"pgscan_direct":    &s.VM.PgScanDirect,
		"pgfault":          &s.VM.PgFault,
		"pgmajfault":       &s.VM.PgMajFault,
		"oom_kill":         &s.VM.OOMKill,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		dst, ok := targets[fields[0]]
		if !ok {
			continue
		}
		if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			*dst = v
		}
	}
}

// readNetDev parses /proc/net/dev. Optional: containers without network
// namespaces visibility get an empty interface list.
func (r *Reader) readNetDev(s *sample.SystemStats) {
	path := r.path("net", "dev")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue // header lines
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		iface := sample.NetIfaceStat{Name: name}
		iface.RxBytes, _ = strconv.ParseUint(fields[0], 10, 64)
		iface.RxPackets, _ = strconv.ParseUint(fields[1], 10, 64)
		iface.RxErrors, _ = strconv.ParseUint(fields[2], 10, 64)
		iface.RxDropped, _ = strconv.ParseUint(fields[3], 10, 64)
		iface.TxBytes, _ = strconv.ParseUint(fields[8], 10, 64)
		iface.TxPackets, _ = strconv.ParseUint(fields[9], 10, 64)
		iface.TxErrors, _ = strconv.ParseUint(fields[10], 10, 64)
		iface.TxDropped, _ = strconv.ParseUint(fields[11], 10, 64)
		s.Interfaces = append(s.Interfaces, iface)
	}
}

// readNetSNMP parses /proc/net/snmp's "Tcp:" and "Udp:" header/value line
// pairs.
func (r *Reader) readNetSNMP(s *sample.SystemStats) {
	path := r.path("net", "snmp")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var pendingProto string
	var header []string
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		proto := parts[0]
		fields := strings.Fields(parts[1])
		if header == nil || pendingProto != proto {
			header = fields
			pendingProto = proto
			continue
		}
		values := map[string]uint64{}
		for i, name := range header {
			if i >= len(fields) {
				break
			}
			if v, err := strconv.ParseUint(fields[i], 10, 64); err == nil {
				values[name] = v
			}
		}
		switch proto {
		case "Tcp":
			s.TCP = sample.TCPStat{
				ActiveOpens:  values["ActiveOpens"],
				PassiveOpens: values["PassiveOpens"],
				AttemptFails: values["AttemptFails"],
				EstabResets:  values["EstabResets"],
				CurrEstab:    values["CurrEstab"],
				InSegs:       values["InSegs"],
				OutSegs:      values["OutSegs"],
				RetransSegs:  values["RetransSegs"],
				InErrs:       values["InErrs"],
				OutRsts:      values["OutRsts"],
			}
		case "Udp":
			s.UDP = sample.UDPStat{
				InDatagrams:  values["InDatagrams"],
				OutDatagrams: values["OutDatagrams"],
				InErrors:     values["InErrors"],
				NoPorts:      values["NoPorts"],
			}
		}
		header = nil
	}
}

// readDiskStats parses /proc/diskstats.
func (r *Reader) readDiskStats(s *sample.SystemStats) {
	path := r.path("diskstats")
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 14 {
			continue
		}
		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		minor, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		d := sample.BlockDeviceStat{Major: uint32(major), Minor: uint32(minor), Name: fields[2]}
		d.ReadsCompleted, _ = strconv.ParseUint(fields[3], 10, 64)
		d.SectorsRead, _ = strconv.ParseUint(fields[5], 10, 64)
		d.ReadTimeMs, _ = strconv.ParseUint(fields[6], 10, 64)
		d.WritesCompleted, _ = strconv.ParseUint(fields[7], 10, 64)
		d.SectorsWritten, _ = strconv.ParseUint(fields[9], 10, 64)
		d.WriteTimeMs, _ = strconv.ParseUint(fields[10], 10, 64)
		d.IOsInProgress, _ = strconv.ParseUint(fields[11], 10, 64)
		d.IOTimeMs, _ = strconv.ParseUint(fields[12], 10, 64)
		d.WeightedIOMs, _ = strconv.ParseUint(fields[13], 10, 64)
		s.BlockDevices = append(s.BlockDevices, d)
	}
}

func (r *Reader) readHostname() string {
	if b, err := os.ReadFile(r.path("sys", "kernel", "hostname")); err == nil {
		return strings.TrimSpace(string(b))
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return ""
}

func (r *Reader) readOSRelease() string {
	b, err := os.ReadFile(r.path("sys", "kernel", "osrelease"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
