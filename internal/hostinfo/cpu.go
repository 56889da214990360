// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hostinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (r *Reader) readCPU() (CPUInfo, error) {
	var info CPUInfo

	f, err := os.Open(filepath.Join(r.ProcPath, "cpuinfo"))
	if err != nil {
		return info, err
	}
	defer f.Close()

	var cur CPUCore
	haveCore := false
	physIDs := map[int32]struct{}{}
	coreIDs := map[int32]struct{}{}

	flush := func() {
		if haveCore {
			info.Cores = append(info.Cores, cur)
			info.LogicalCores++
		}
		cur = CPUCore{}
		haveCore = false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		haveCore = true

		switch key {
		case "processor":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				cur.Processor = int32(n)
			}
		case "vendor_id":
			info.VendorID = val
		case "cpu family":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				info.CPUFamily = int32(n)
			}
		case "model":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				info.Model = int32(n)
			}
		case "model name":
			info.ModelName = val
		case "stepping":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				info.Stepping = int32(n)
			}
		case "microcode":
			info.Microcode = val
		case "cpu MHz":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				info.CPUMHz = f
				cur.CPUMHz = f
			}
		case "cache size":
			info.CacheSize = val
		case "physical id":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				cur.PhysicalID = int32(n)
				physIDs[int32(n)] = struct{}{}
			}
		case "siblings":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				cur.Siblings = int32(n)
			}
		case "core id":
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				cur.CoreID = int32(n)
				coreIDs[int32(n)] = struct{}{}
			}
		case "bogomips", "BogoMIPS":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				info.BogoMIPS = f
			}
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return info, err
	}

	// Physical core count needs both a physical package ID and a core ID to
	// be meaningful; without real topology (common under virtualization)
	// fall back to the logical count rather than reporting a bogus 1.
	if len(physIDs) > 0 && len(coreIDs) > 0 {
		info.PhysicalCores = int32(len(physIDs) * len(coreIDs))
		if info.PhysicalCores > info.LogicalCores {
			info.PhysicalCores = info.LogicalCores
		}
	} else {
		info.PhysicalCores = info.LogicalCores
	}

	r.readCPUFreq(&info)
	info.NUMANodes = r.countNUMANodes()
	return info, nil
}

func (r *Reader) readCPUFreq(info *CPUInfo) {
	base := filepath.Join(r.SysPath, "devices", "system", "cpu", "cpu0", "cpufreq")
	if khz := readKHz(filepath.Join(base, "cpuinfo_min_freq")); khz > 0 {
		info.CPUMinMHz = khz / 1000
	}
	if khz := readKHz(filepath.Join(base, "cpuinfo_max_freq")); khz > 0 {
		info.CPUMaxMHz = khz / 1000
	}
}

func readKHz(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return v
}

func (r *Reader) countNUMANodes() int32 {
	matches, err := filepath.Glob(filepath.Join(r.SysPath, "devices", "system", "node", "node[0-9]*"))
	if err != nil || len(matches) == 0 {
		return 1
	}
	return int32(len(matches))
}
