// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package core loads the CO-RE exit-probe object internal/bpfexit drains
// (spec §6): detect kernel BTF availability, then hand the object path to
// cilium/ebpf for relocation and loading. It exists as its own package
// rather than living in internal/bpfexit because kernel-feature detection
// has nothing to do with ring-buffer draining and is independently testable.
package core

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/go-logr/logr"
)

// KernelFeatures summarizes what the running kernel can do for CO-RE
// loading, logged once at Ingester startup for diagnosing a failed load.
type KernelFeatures struct {
	KernelVersion string
	HasBTF        bool
	BTFPath       string
	CORESupport   string // "full", "partial", "none"
}

// Manager loads CO-RE eBPF collections against the detected kernel.
type Manager struct {
	logger         logr.Logger
	kernelBTF      *btf.Spec
	kernelFeatures *KernelFeatures
}

// NewManager detects kernel BTF/CO-RE support and loads the kernel's BTF
// spec if available. A missing kernel BTF is not fatal here: cilium/ebpf
// falls back gracefully and the actual collection load in LoadCollection is
// where a genuinely unsupported kernel surfaces as an error.
func NewManager(logger logr.Logger) (*Manager, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("CO-RE is only supported on Linux")
	}

	features := detectKernelFeatures()
	logger.Info("kernel CO-RE features detected",
		"kernel", features.KernelVersion,
		"btf", features.HasBTF,
		"core_support", features.CORESupport,
	)

	var kernelBTF *btf.Spec
	if features.HasBTF {
		spec, err := btf.LoadKernelSpec()
		if err != nil {
			logger.Error(err, "failed to load kernel BTF, CO-RE relocations may fail")
		} else {
			kernelBTF = spec
		}
	}

	return &Manager{logger: logger, kernelBTF: kernelBTF, kernelFeatures: features}, nil
}

// LoadCollection loads and relocates the eBPF collection at path. cilium/ebpf
// applies CO-RE relocations automatically against the kernel BTF discovered
// in NewManager when present.
func (m *Manager) LoadCollection(path string) (*ebpf.Collection, error) {
	spec, err := ebpf.LoadCollectionSpec(path)
	if err != nil {
		return nil, fmt.Errorf("loading collection spec: %w", err)
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	return coll, nil
}

// GetKernelFeatures returns the detected kernel's CO-RE capability summary.
func (m *Manager) GetKernelFeatures() *KernelFeatures {
	return m.kernelFeatures
}

func detectKernelFeatures() *KernelFeatures {
	features := &KernelFeatures{KernelVersion: readKernelVersion()}

	if _, err := os.Stat("/sys/kernel/btf/vmlinux"); err == nil {
		features.HasBTF = true
		features.BTFPath = "/sys/kernel/btf/vmlinux"
	}

	major, minor, _ := parseKernelVersion(features.KernelVersion)
	switch {
	case major > 5 || (major == 5 && minor >= 2):
		features.CORESupport = "full"
	case major == 4 && minor >= 18:
		features.CORESupport = "partial"
	default:
		features.CORESupport = "none"
	}
	return features
}

func readKernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return "unknown"
	}
	parts := strings.Fields(string(data))
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}

func parseKernelVersion(version string) (major, minor, patch int) {
	version = strings.SplitN(version, "-", 2)[0]
	nums := strings.Split(version, ".")
	if len(nums) > 0 {
		fmt.Sscanf(nums[0], "%d", &major)
	}
	if len(nums) > 1 {
		fmt.Sscanf(nums[1], "%d", &minor)
	}
	if len(nums) > 2 {
		fmt.Sscanf(nums[2], "%d", &patch)
	}
	return major, minor, patch
}
