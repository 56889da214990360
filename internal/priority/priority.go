// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package priority implements the collector's self-scheduling policy (spec
// §4.8/§9): raise its own CPU scheduling priority and lower its IO priority
// so it keeps sampling during the exact host contention it exists to
// observe, plus an advisory PID-file lock preventing two instances from
// writing to the same store directory concurrently.
package priority

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Default niceness values applied at collector startup. A lower nice value
// raises CPU scheduling priority; IO priority is lowered independently via
// ioprio so store writes never starve foreground work on a contended host.
const (
	DefaultCPUNice    = -5
	DefaultIOPriority = IOPrioClassIdle
)

// ioprio class constants (linux/ioprio.h). x/sys/unix does not wrap the
// ioprio_set syscall directly, so setIOPriority below issues it via syscall.Syscall
// using the raw syscall number and the IOPRIO_PRIO_VALUE encoding.
const (
	IOPrioClassNone = 0
	IOPrioClassRT   = 1
	IOPrioClassBE   = 2
	IOPrioClassIdle = 3

	ioprioWhoProcess = 1
	ioprioClassShift = 13

	// IOPrioClassIdle (3) needs a scheduling priority of 0: the kernel
	// ignores the data field for the idle class, but glibc convention sets
	// it to 0.
	ioprioDataIdle = 0
)

// RaiseSelf applies DefaultCPUNice and DefaultIOPriority to the calling
// process. It is best-effort: a sandboxed or unprivileged caller may not be
// permitted to raise CPU niceness below the default, so a failure here is
// logged by the caller, not fatal to the collector loop.
func RaiseSelf() error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, DefaultCPUNice); err != nil {
		return fmt.Errorf("priority: setpriority: %w", err)
	}
	if err := setIOPriority(0, IOPrioClassIdle, ioprioDataIdle); err != nil {
		return fmt.Errorf("priority: ioprio_set: %w", err)
	}
	return nil
}

// setIOPriority issues ioprio_set(IOPRIO_WHO_PROCESS, pid, prio) where pid=0
// means the calling process. class/data are packed per IOPRIO_PRIO_VALUE.
func setIOPriority(pid, class, data int) error {
	prio := (class << ioprioClassShift) | data
	_, _, errno := syscall.Syscall(syscall.SYS_IOPRIO_SET, uintptr(ioprioWhoProcess), uintptr(pid), uintptr(prio))
	if errno != 0 {
		return errno
	}
	return nil
}

// PIDFile is an advisory, flock(2)-held lock file preventing two below
// collector instances from writing to the same store directory at once
// (spec §5).
type PIDFile struct {
	path string
	file *os.File
}

// AcquirePIDFile opens (creating if needed) the file at path, takes an
// exclusive non-blocking flock on it, and writes the current PID. It
// returns an error if another process already holds the lock.
func AcquirePIDFile(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("priority: open pid file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("priority: another below instance holds %s: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, err
	}
	return &PIDFile{path: path, file: f}, nil
}

// Release unlocks and removes the PID file. Safe to call once during clean
// shutdown (spec §4.8: SIGTERM/SIGINT release the PID file).
func (p *PIDFile) Release() error {
	if p.file == nil {
		return nil
	}
	unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	err := p.file.Close()
	p.file = nil
	if rmErr := os.Remove(p.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
