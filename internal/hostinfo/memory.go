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

func (r *Reader) readMemory() (MemoryInfo, error) {
	var info MemoryInfo

	f, err := os.Open(filepath.Join(r.ProcPath, "meminfo"))
	if err != nil {
		return info, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				info.TotalBytes = kb * 1024
			}
		}
		break
	}
	if err := scanner.Err(); err != nil {
		return info, err
	}

	info.NUMANodes = r.readNUMANodes(info.TotalBytes)
	return info, nil
}

func (r *Reader) readNUMANodes(totalBytes uint64) []NUMANode {
	nodePaths, err := filepath.Glob(filepath.Join(r.SysPath, "devices", "system", "node", "node[0-9]*"))
	if err != nil || len(nodePaths) == 0 {
		if totalBytes == 0 {
			return nil
		}
		return []NUMANode{{NodeID: 0, TotalBytes: totalBytes, CPUs: r.allCPUs()}}
	}

	nodes := make([]NUMANode, 0, len(nodePaths))
	for _, nodePath := range nodePaths {
		node := NUMANode{NodeID: nodeIDFromPath(nodePath)}
		node.TotalBytes = readNodeMemTotal(nodePath)
		node.CPUs = readNodeCPUList(nodePath)
		nodes = append(nodes, node)
	}
	return nodes
}

func nodeIDFromPath(nodePath string) int32 {
	name := filepath.Base(nodePath)
	name = strings.TrimPrefix(name, "node")
	n, _ := strconv.ParseInt(name, 10, 32)
	return int32(n)
}

func readNodeMemTotal(nodePath string) uint64 {
	data, err := os.ReadFile(filepath.Join(nodePath, "meminfo"))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "MemTotal:" && i+1 < len(fields) {
				if kb, err := strconv.ParseUint(fields[i+1], 10, 64); err == nil {
					return kb * 1024
				}
			}
		}
	}
	return 0
}

// readNodeCPUList parses a NUMA node's cpulist file, e.g. "0-3,8-11".
func readNodeCPUList(nodePath string) []int32 {
	data, err := os.ReadFile(filepath.Join(nodePath, "cpulist"))
	if err != nil {
		return nil
	}
	return parseCPUList(string(data))
}

func parseCPUList(s string) []int32 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var cpus []int32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if before, after, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.ParseInt(before, 10, 32)
			end, err2 := strconv.ParseInt(after, 10, 32)
			if err1 == nil && err2 == nil {
				for c := start; c <= end; c++ {
					cpus = append(cpus, int32(c))
				}
			}
			continue
		}
		if c, err := strconv.ParseInt(part, 10, 32); err == nil {
			cpus = append(cpus, int32(c))
		}
	}
	return cpus
}

// allCPUs enumerates /sys/devices/system/cpu/cpu[0-9]*, used as a synthetic
// single-node NUMA topology when the host has no real NUMA sysfs tree.
func (r *Reader) allCPUs() []int32 {
	matches, err := filepath.Glob(filepath.Join(r.SysPath, "devices", "system", "cpu", "cpu[0-9]*"))
	if err != nil {
		return nil
	}
	cpus := make([]int32, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimPrefix(filepath.Base(m), "cpu")
		if c, err := strconv.ParseInt(name, 10, 32); err == nil {
			cpus = append(cpus, int32(c))
		}
	}
	return cpus
}
