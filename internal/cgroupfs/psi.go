// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cgroupfs

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/antimetal/below/pkg/sample"
)

// readPressure parses a cgroup2 cpu.pressure/io.pressure/memory.pressure
// file. Both a "some" and a "full" line are accepted; cpu.pressure has no
// "full" line, which is normal and yields a nil Full (spec §4.1).
func readPressure(path string) (sample.PressureStat, error) {
	f, err := os.Open(path)
	if err != nil {
		return sample.PressureStat{}, err
	}
	defer f.Close()

	var stat sample.PressureStat
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		kind := fields[0]
		psi, ok := parsePSILine(fields[1:])
		if !ok {
			continue // malformed optional line; skip rather than fail the record
		}
		switch kind {
		case "some":
			stat.Some = psi
		case "full":
			stat.Full = &psi
		}
	}
	return stat, scanner.Err()
}

// parsePSILine parses "avg10=X avg60=Y avg300=Z total=N" key=value pairs.
func parsePSILine(kvFields []string) (sample.PSILine, bool) {
	var line sample.PSILine
	found := false
	for _, kv := range kvFields {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "avg10":
			if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
				line.Avg10 = v
				found = true
			}
		case "avg60":
			if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
				line.Avg60 = v
				found = true
			}
		case "avg300":
			if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
				line.Avg300 = v
				found = true
			}
		case "total":
			if v, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
				line.TotalUsec = v
				found = true
			}
		}
	}
	return line, found
}
