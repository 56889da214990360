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

func (r *Reader) readNetworks() ([]NetworkInfo, error) {
	classPath := filepath.Join(r.SysPath, "class", "net")
	entries, err := os.ReadDir(classPath)
	if err != nil {
		return nil, err
	}

	nets := make([]NetworkInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		ifPath := filepath.Join(classPath, name)
		if info, err := os.Stat(ifPath); err != nil || !info.IsDir() {
			continue
		}
		info := NetworkInfo{Interface: name}
		info.Type = interfaceType(name, ifPath)
		readInterfaceProperties(&info, ifPath)
		nets = append(nets, info)
	}
	return nets, nil
}

// interfaceType combines kernel-guaranteed signals (wireless/ subdirectory,
// the type file's ARPHRD_* constant) with common but non-standardized
// naming conventions, falling back to "ethernet" for anything with a
// device/ symlink and "virtual" otherwise.
func interfaceType(name, ifPath string) string {
	if _, err := os.Stat(filepath.Join(ifPath, "wireless")); err == nil {
		return "wireless"
	}
	if name == "lo" {
		return "loopback"
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "type")); err == nil {
		switch strings.TrimSpace(string(data)) {
		case "1":
			return "ethernet"
		case "772":
			return "loopback"
		case "776", "778":
			return "tunnel"
		}
	}
	switch {
	case strings.HasPrefix(name, "eth"):
		return "ethernet"
	case strings.HasPrefix(name, "wlan"):
		return "wireless"
	case strings.HasPrefix(name, "tun"):
		return "tunnel"
	case strings.HasPrefix(name, "tap"):
		return "tap"
	case strings.HasPrefix(name, "veth"):
		return "virtual"
	case strings.HasPrefix(name, "docker"), strings.HasPrefix(name, "br-"), strings.HasPrefix(name, "virbr"):
		return "bridge"
	}
	if _, err := os.Stat(filepath.Join(ifPath, "device")); err == nil {
		return "ethernet"
	}
	return "virtual"
}

func readInterfaceProperties(info *NetworkInfo, ifPath string) {
	if data, err := os.ReadFile(filepath.Join(ifPath, "address")); err == nil {
		info.MACAddress = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "speed")); err == nil {
		if speed, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && speed > 0 {
			info.Speed = uint64(speed)
		}
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "duplex")); err == nil {
		info.Duplex = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "mtu")); err == nil {
		if v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32); err == nil {
			info.MTU = uint32(v)
		}
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "operstate")); err == nil {
		info.OperState = strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile(filepath.Join(ifPath, "carrier")); err == nil {
		info.Carrier = strings.TrimSpace(string(data)) == "1"
	}
	if target, err := os.Readlink(filepath.Join(ifPath, "device", "driver")); err == nil {
		info.Driver = filepath.Base(target)
	}
}
