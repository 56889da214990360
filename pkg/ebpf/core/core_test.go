// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package core

import (
	"runtime"
	"testing"

	"github.com/cilium/ebpf/btf"
	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseKernelVersion(t *testing.T) {
	tests := []struct {
		name          string
		version       string
		wantMajor     int
		wantMinor     int
		wantPatch     int
		wantCORELevel string
	}{
		{"5.15.0-generic", "5.15.0-generic", 5, 15, 0, "full"},
		{"5.2.0", "5.2.0", 5, 2, 0, "full"},
		{"4.19.0", "4.19.0", 4, 19, 0, "partial"},
		{"4.18.0", "4.18.0", 4, 18, 0, "partial"},
		{"4.14.0", "4.14.0", 4, 14, 0, "none"},
		{"unknown", "unknown", 0, 0, 0, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			major, minor, patch := parseKernelVersion(tt.version)
			assert.Equal(t, tt.wantMajor, major)
			assert.Equal(t, tt.wantMinor, minor)
			assert.Equal(t, tt.wantPatch, patch)

			var coreSupport string
			switch {
			case major > 5 || (major == 5 && minor >= 2):
				coreSupport = "full"
			case major == 4 && minor >= 18:
				coreSupport = "partial"
			default:
				coreSupport = "none"
			}
			assert.Equal(t, tt.wantCORELevel, coreSupport)
		})
	}
}

func TestManager_KernelFeatureDetection(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("CO-RE manager only runs on Linux")
	}

	logger := zapr.NewLogger(zap.NewNop())

	manager, err := NewManager(logger)
	require.NoError(t, err)

	features := manager.GetKernelFeatures()
	require.NotNil(t, features)
	assert.NotEmpty(t, features.KernelVersion)
	assert.Contains(t, []string{"full", "partial", "none"}, features.CORESupport)

	_, err = btf.LoadKernelSpec()
	hasBTF := err == nil
	assert.Equal(t, hasBTF, features.HasBTF)
}

func TestNewManager_RejectsNonLinux(t *testing.T) {
	if runtime.GOOS == "linux" {
		t.Skip("this case only exercises the non-Linux guard")
	}
	_, err := NewManager(zapr.NewLogger(zap.NewNop()))
	assert.Error(t, err)
}
