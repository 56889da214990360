// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cgroupfs reads a cgroup2 unified-hierarchy mount into the
// recursive sample.CgroupNode tree (spec §3, §4.1, §4.3). The teacher
// (antimetal/agent) has no cgroup support; this package's field set and PSI
// layout are grounded on the retrieval pack's xtop model
// (other_examples/*ftahirops-xtop*) and written in the teacher's
// tolerant-optional-field parsing idiom (pkg/performance/collectors/cpu.go).
package cgroupfs

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/sample"
	"github.com/go-logr/logr"
)

// Reader reads the cgroup2 tree rooted at Path (default "/sys/fs/cgroup").
// FilterOut, if non-nil, is matched against each node's full path; a match
// prunes that entire subtree from the result (spec §4.3).
type Reader struct {
	Path      string
	FilterOut *regexp.Regexp
	Logger    logr.Logger
}

// NewReader validates path and compiles filterOut (if non-empty).
func NewReader(path, filterOut string, logger logr.Logger) (*Reader, error) {
	if !filepath.IsAbs(path) {
		return nil, belowerrors.New("cgroup root must be an absolute path: " + path)
	}
	var re *regexp.Regexp
	if filterOut != "" {
		var err error
		re, err = regexp.Compile(filterOut)
		if err != nil {
			return nil, belowerrors.New("invalid cgroup_filter_out regex: " + err.Error())
		}
	}
	return &Reader{Path: path, FilterOut: re, Logger: logger}, nil
}

// ReadTree reads the full cgroup2 tree by recursive descent from r.Path,
// pruning any subtree whose full path matches FilterOut.
func (r *Reader) ReadTree() (*sample.CgroupNode, error) {
	if _, err := os.Stat(r.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, belowerrors.ErrFileNotFound
		}
		return nil, err
	}
	return r.readNode("/", r.Path), nil
}

func (r *Reader) readNode(path, dir string) *sample.CgroupNode {
	if r.FilterOut != nil && r.FilterOut.MatchString(path) {
		return nil
	}

	node := &sample.CgroupNode{
		Path: path,
		Name: filepath.Base(path),
	}

	node.CPU = readCPUStat(filepath.Join(dir, "cpu.stat"))
	node.IO = readIOStat(filepath.Join(dir, "io.stat"))
	node.MemoryCurrent = readUintFile(filepath.Join(dir, "memory.current"))
	node.MemorySwapCurrent = readUintFile(filepath.Join(dir, "memory.swap.current"))
	node.Memory = readMemoryStat(filepath.Join(dir, "memory.stat"))

	if p, err := readPressure(filepath.Join(dir, "cpu.pressure")); err == nil {
		node.Pressure.CPU = p
	}
	if p, err := readPressure(filepath.Join(dir, "io.pressure")); err == nil {
		node.Pressure.IO = p
	}
	if p, err := readPressure(filepath.Join(dir, "memory.pressure")); err == nil {
		node.Pressure.Memory = p
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return node
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childPath := strings.TrimSuffix(path, "/") + "/" + e.Name()
		if path == "/" {
			childPath = "/" + e.Name()
		}
		child := r.readNode(childPath, filepath.Join(dir, e.Name()))
		if child == nil {
			continue // filtered subtree
		}
		if node.Children == nil {
			node.Children = make(map[string]*sample.CgroupNode)
		}
		node.Children[e.Name()] = child
	}
	return node
}

func readUintFile(path string) *uint64 {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	s := strings.TrimSpace(string(b))
	if s == "max" {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func readCPUStat(path string) *sample.CgroupCPUStat {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	stat := &sample.CgroupCPUStat{}
	targets := map[string]*uint64{
		"usage_usec":     &stat.UsageUsec,
		"user_usec":      &stat.UserUsec,
		"system_usec":    &stat.SystemUsec,
		"nr_periods":     &stat.NrPeriods,
		"nr_throttled":   &stat.NrThrottled,
		"throttled_usec": &stat.ThrottledUsec,
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		if dst, ok := targets[fields[0]]; ok {
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				*dst = v
			}
		}
	}
	return stat
}

// readIOStat parses io.stat, keyed by "major:minor" (spec §3).
func readIOStat(path string) map[string]sample.CgroupIOStat {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	out := make(map[string]sample.CgroupIOStat)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		dev := fields[0]
		var stat sample.CgroupIOStat
		for _, kv := range fields[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				continue
			}
			switch parts[0] {
			case "rbytes":
				stat.RBytes = v
			case "wbytes":
				stat.WBytes = v
			case "rios":
				stat.RIOs = v
			case "wios":
				stat.WIOs = v
			case "dbytes":
				stat.DBytes = v
			case "dios":
				stat.DIOs = v
			}
		}
		out[dev] = stat
	}
	return out
}

func readMemoryStat(path string) *sample.CgroupMemoryStat {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	stat := &sample.CgroupMemoryStat{}
	targets := map[string]*uint64{
		"anon":               &stat.Anon,
		"file":               &stat.File,
		"slab":               &stat.Slab,
		"shmem":              &stat.Shmem,
		"file_thp":           &stat.FileThp,
		"workingset_refault": &stat.WorkingsetRefault,
		"pgfault":            &stat.Pgfault,
		"pgmajfault":         &stat.Pgmajfault,
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		if dst, ok := targets[fields[0]]; ok {
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				*dst = v
			}
		}
	}
	return stat
}
