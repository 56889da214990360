// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/antimetal/below/pkg/sample"
)

// ReadProcesses enumerates /proc/<pid> for every numeric directory entry and
// returns a map of pid to its combined stat+io+cgroup-membership record. A
// pid that disappears mid-read (a race with process exit) is silently
// dropped, not an error (spec §4.1).
func (r *Reader) ReadProcesses() (map[int32]sample.PidInfo, error) {
	entries, err := os.ReadDir(r.Path)
	if err != nil {
		return nil, err
	}

	out := make(map[int32]sample.PidInfo, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid64, err := strconv.ParseInt(e.Name(), 10, 32)
		if err != nil {
			continue // not a pid directory (e.g. "self", "net")
		}
		pid := int32(pid64)

		info, ok := r.readOneProcess(pid)
		if !ok {
			continue // pid vanished mid-read; not an error
		}
		out[pid] = info
	}
	return out, nil
}

func (r *Reader) readOneProcess(pid int32) (sample.PidInfo, bool) {
	stat, ok := r.readPidStat(pid)
	if !ok {
		return sample.PidInfo{}, false
	}
	info := sample.PidInfo{Stat: stat}
	info.Io = r.readPidIo(pid) // optional; nil if unreadable (permissions, vanished)
	info.CgroupPath = r.readPidCgroupPath(pid)
	return info, true
}

// readPidStat parses /proc/<pid>/stat. The Comm field may contain spaces
// and parentheses, so it is extracted from between the first "(" and the
// matching last ")" rather than by naive field splitting.
func (r *Reader) readPidStat(pid int32) (sample.PidStat, bool) {
	path := r.path(strconv.Itoa(int(pid)), "stat")
	data, err := os.ReadFile(path)
	if err != nil {
		return sample.PidStat{}, false
	}
	line := strings.TrimSpace(string(data))

	openParen := strings.IndexByte(line, '(')
	closeParen := strings.LastIndexByte(line, ')')
	if openParen < 0 || closeParen < 0 || closeParen < openParen {
		return sample.PidStat{}, false
	}
	comm := line[openParen+1 : closeParen]
	rest := strings.Fields(line[closeParen+1:])
	// rest[0] is state; rest is 0-indexed starting at field 3 of the stat file.
	if len(rest) < 22 {
		return sample.PidStat{}, false
	}

	stat := sample.PidStat{Pid: pid, Comm: comm}
	stat.State = rest[0][0]
	if ppid, err := strconv.ParseInt(rest[1], 10, 32); err == nil {
		stat.Ppid = int32(ppid)
	}
	if utime, err := strconv.ParseUint(rest[11], 10, 64); err == nil {
		stat.UtimeTicks = utime
	}
	if stime, err := strconv.ParseUint(rest[12], 10, 64); err == nil {
		stat.StimeTicks = stime
	}
	if threads, err := strconv.ParseInt(rest[17], 10, 32); err == nil {
		stat.Threads = int32(threads)
	}
	if start, err := strconv.ParseUint(rest[19], 10, 64); err == nil {
		stat.StartTimeTicks = start
	}
	if rss, err := strconv.ParseUint(rest[21], 10, 64); err == nil {
		stat.RssBytes = rss * pageSize
	}
	return stat, true
}

const pageSize = 4096

// readPidIo parses /proc/<pid>/io. Returns nil (not an error) if the file
// is unreadable: permissions on another user's process, or the pid exited.
func (r *Reader) readPidIo(pid int32) *sample.PidIo {
	path := r.path(strconv.Itoa(int(pid)), "io")
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	io := &sample.PidIo{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "read_bytes":
			io.RBytes = v
		case "write_bytes":
			io.WBytes = v
		}
	}
	return io
}

// readPidCgroupPath parses /proc/<pid>/cgroup for the cgroup2 unified
// hierarchy line ("0::<path>").
func (r *Reader) readPidCgroupPath(pid int32) string {
	path := r.path(strconv.Itoa(int(pid)), "cgroup")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "0::") {
			return strings.TrimPrefix(line, "0::")
		}
	}
	return ""
}
