// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hostinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// Reader reads one-shot hardware/OS info rooted at ProcPath/SysPath
// (defaults "/proc" and "/sys"). Every read is best-effort: a missing
// optional file yields a zero value rather than an error, since hardware
// inventories vary widely (containers, VMs, bare metal) and a collector
// this low-priority shouldn't fail startup over an absent sysfs knob.
type Reader struct {
	ProcPath string
	SysPath  string
	Logger   logr.Logger
}

// NewReader validates procPath/sysPath and returns a Reader rooted there.
func NewReader(procPath, sysPath string, logger logr.Logger) (*Reader, error) {
	if !filepath.IsAbs(procPath) {
		return nil, fmt.Errorf("hostinfo: proc root must be an absolute path, got: %q", procPath)
	}
	if !filepath.IsAbs(sysPath) {
		return nil, fmt.Errorf("hostinfo: sys root must be an absolute path, got: %q", sysPath)
	}
	return &Reader{ProcPath: procPath, SysPath: sysPath, Logger: logger}, nil
}

// Read assembles a complete HostInfo. Disk and network discovery failures
// (e.g. a sandboxed /sys with no block/net classes) are logged and leave
// those fields empty rather than failing the whole read: CPU/memory info is
// what the status line and snapshot manifest most depend on.
func (r *Reader) Read() (HostInfo, error) {
	var h HostInfo
	h.Hostname = r.readHostname()
	h.Release = r.readOSRelease()
	h.BootID = r.readBootID()

	cpu, err := r.readCPU()
	if err != nil {
		return h, fmt.Errorf("hostinfo: read cpu: %w", err)
	}
	h.CPU = cpu

	mem, err := r.readMemory()
	if err != nil {
		return h, fmt.Errorf("hostinfo: read memory: %w", err)
	}
	h.Memory = mem

	disks, err := r.readDisks()
	if err != nil {
		r.Logger.V(1).Info("could not enumerate disks", "error", err.Error())
	} else {
		h.Disks = disks
	}

	nets, err := r.readNetworks()
	if err != nil {
		r.Logger.V(1).Info("could not enumerate network interfaces", "error", err.Error())
	} else {
		h.Networks = nets
	}

	return h, nil
}

func (r *Reader) readHostname() string {
	if b, err := os.ReadFile(filepath.Join(r.ProcPath, "sys", "kernel", "hostname")); err == nil {
		return strings.TrimSpace(string(b))
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return ""
}

func (r *Reader) readOSRelease() string {
	b, err := os.ReadFile(filepath.Join(r.ProcPath, "sys", "kernel", "osrelease"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (r *Reader) readBootID() string {
	b, err := os.ReadFile(filepath.Join(r.ProcPath, "sys", "kernel", "random", "boot_id"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
