// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "below.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsForMissingFields(t *testing.T) {
	path := writeConfigFile(t, `store_dir = "/tmp/belowstore"`)

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/belowstore", c.StoreDir)
	require.Equal(t, DefaultLogDir, c.LogDir)
	require.Equal(t, DefaultCgroupRoot, c.CgroupRoot)
	require.Equal(t, DefaultTickInterval, c.TickInterval)
}

func TestLoad_InvalidCgroupFilterOutRegexIsRejected(t *testing.T) {
	path := writeConfigFile(t, `cgroup_filter_out = "("`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_TickIntervalSecsOverridesDefault(t *testing.T) {
	path := writeConfigFile(t, `tick_interval_secs = 2`)

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.TickIntervalSecs)
}

func TestManager_ReloadKeepsPreviousConfigOnFailure(t *testing.T) {
	path := writeConfigFile(t, `store_dir = "/tmp/a"`)

	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/a", m.Current().StoreDir)

	require.NoError(t, os.WriteFile(path, []byte(`cgroup_filter_out = "("`), 0o644))
	err = m.Reload()
	require.Error(t, err)
	require.Equal(t, "/tmp/a", m.Current().StoreDir, "a failed reload must not replace the active config")

	require.NoError(t, os.WriteFile(path, []byte(`store_dir = "/tmp/b"`), 0o644))
	require.NoError(t, m.Reload())
	require.Equal(t, "/tmp/b", m.Current().StoreDir)
}
