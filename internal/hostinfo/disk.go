// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hostinfo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (r *Reader) readDisks() ([]DiskInfo, error) {
	blockPath := filepath.Join(r.SysPath, "block")
	entries, err := os.ReadDir(blockPath)
	if err != nil {
		return nil, err
	}

	disks := make([]DiskInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		devicePath := filepath.Join(blockPath, name)
		if info, err := os.Stat(devicePath); err != nil || !info.IsDir() {
			continue
		}
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		if isPartition(blockPath, name) {
			continue
		}

		disk := DiskInfo{Device: name}
		readDiskProperties(&disk, devicePath)
		readPartitions(&disk, devicePath)
		disks = append(disks, disk)
	}
	return disks, nil
}

// isPartition strips trailing digits (and, for NVMe, a trailing "p") from
// name and checks whether the resulting parent device exists under
// blockPath; sda1's parent is sda, nvme0n1p1's parent is nvme0n1, md0 has no
// parent and is a whole device.
func isPartition(blockPath, name string) bool {
	if name == "" {
		return false
	}
	last := name[len(name)-1]
	if last < '0' || last > '9' {
		return false
	}
	parent := name
	for i := len(name) - 1; i >= 0 && name[i] >= '0' && name[i] <= '9'; i-- {
		parent = name[:i]
	}
	parent = strings.TrimSuffix(parent, "p")
	if parent == "" || parent == name {
		return false
	}
	_, err := os.Stat(filepath.Join(blockPath, parent))
	return err == nil
}

func readDiskProperties(disk *DiskInfo, devicePath string) {
	if data, err := os.ReadFile(filepath.Join(devicePath, "device", "model")); err == nil {
		disk.Model = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "device", "vendor")); err == nil {
		disk.Vendor = strings.TrimSpace(string(data))
	}
	// size is always reported in 512-byte sectors regardless of the
	// device's actual physical sector size.
	if data, err := os.ReadFile(filepath.Join(devicePath, "size")); err == nil {
		if sectors, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); err == nil {
			disk.SizeBytes = sectors * 512
		}
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "queue", "logical_block_size")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); err == nil {
			disk.BlockSize = uint32(v)
		}
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "queue", "physical_block_size")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); err == nil {
			disk.PhysicalBlockSize = uint32(v)
		}
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "queue", "rotational")); err == nil {
		disk.Rotational = strings.TrimSpace(string(data)) == "1"
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "queue", "nr_requests")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); err == nil {
			disk.QueueDepth = uint32(v)
		}
	}
	if data, err := os.ReadFile(filepath.Join(devicePath, "queue", "scheduler")); err == nil {
		// format: "noop deadline [cfq]" — the bracketed entry is active.
		str := strings.TrimSpace(string(data))
		disk.Scheduler = str
		for _, sched := range strings.Fields(str) {
			if strings.HasPrefix(sched, "[") && strings.HasSuffix(sched, "]") {
				disk.Scheduler = strings.Trim(sched, "[]")
				break
			}
		}
	}
}

func readPartitions(disk *DiskInfo, devicePath string) {
	entries, err := os.ReadDir(devicePath)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, disk.Device) || name == disk.Device {
			continue
		}
		part := PartitionInfo{Name: name}
		partPath := filepath.Join(devicePath, name)
		if data, err := os.ReadFile(filepath.Join(partPath, "size")); err == nil {
			if sectors, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); err == nil {
				part.SizeBytes = sectors * 512
			}
		}
		if data, err := os.ReadFile(filepath.Join(partPath, "start")); err == nil {
			if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); err == nil {
				part.StartSector = v
			}
		}
		disk.Partitions = append(disk.Partitions, part)
	}
}
