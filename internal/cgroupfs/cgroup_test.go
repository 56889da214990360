// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cgroupfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewReader_RejectsRelativePath(t *testing.T) {
	_, err := NewReader("sys/fs/cgroup", "", logr.Discard())
	require.Error(t, err)
}

func TestNewReader_RejectsBadRegex(t *testing.T) {
	_, err := NewReader("/sys/fs/cgroup", "(unclosed", logr.Discard())
	require.Error(t, err)
}

func TestReadTree_MissingRootIsFileNotFound(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "missing"), "", logr.Discard())
	require.NoError(t, err)
	_, err = r.ReadTree()
	require.Error(t, err)
}

func TestReadTree_WalksChildrenAndReadsStats(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cpu.stat", "usage_usec 1000\nuser_usec 600\nsystem_usec 400\nnr_periods 5\nnr_throttled 1\nthrottled_usec 200\n")
	writeFile(t, root, "memory.current", "104857600\n")
	writeFile(t, root, "memory.stat", "anon 100\nfile 200\n")
	writeFile(t, root, "io.stat", "8:0 rbytes=1000 wbytes=2000 rios=10 wios=20\n")
	writeFile(t, root, "cpu.pressure", "some avg10=0.50 avg60=0.40 avg300=0.10 total=123456\n")
	writeFile(t, root, "io.pressure", "some avg10=0.00 avg60=0.00 avg300=0.00 total=0\nfull avg10=0.00 avg60=0.00 avg300=0.00 total=0\n")

	writeFile(t, root, "child/cpu.stat", "usage_usec 10\n")

	r, err := NewReader(root, "", logr.Discard())
	require.NoError(t, err)
	tree, err := r.ReadTree()
	require.NoError(t, err)

	require.Equal(t, "/", tree.Path)
	require.NotNil(t, tree.CPU)
	require.Equal(t, uint64(1000), tree.CPU.UsageUsec)
	require.Equal(t, uint64(600), tree.CPU.UserUsec)
	require.NotNil(t, tree.MemoryCurrent)
	require.Equal(t, uint64(104857600), *tree.MemoryCurrent)
	require.Equal(t, uint64(100), tree.Memory.Anon)
	require.Equal(t, uint64(1000), tree.IO["8:0"].RBytes)
	require.Equal(t, 0.50, tree.Pressure.CPU.Some.Avg10)
	require.Nil(t, tree.Pressure.CPU.Full)
	require.NotNil(t, tree.Pressure.IO.Full)

	require.Contains(t, tree.Children, "child")
	require.Equal(t, uint64(10), tree.Children["child"].CPU.UsageUsec)
}

func TestReadTree_FilterOutPrunesSubtree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cpu.stat", "usage_usec 1\n")
	writeFile(t, root, "kubepods/burstable/cpu.stat", "usage_usec 2\n")
	writeFile(t, root, "system.slice/cpu.stat", "usage_usec 3\n")

	r, err := NewReader(root, "^/kubepods", logr.Discard())
	require.NoError(t, err)
	tree, err := r.ReadTree()
	require.NoError(t, err)

	require.NotContains(t, tree.Children, "kubepods")
	require.Contains(t, tree.Children, "system.slice")
}

func TestReadTree_MemoryCurrentMaxYieldsNil(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "memory.current", "max\n")

	r, err := NewReader(root, "", logr.Discard())
	require.NoError(t, err)
	tree, err := r.ReadTree()
	require.NoError(t, err)
	require.Nil(t, tree.MemoryCurrent)
}

func TestReadPressure_MissingFullLineIsNilFull(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "cpu.pressure", "some avg10=1.00 avg60=1.00 avg300=1.00 total=1\n")

	stat, err := readPressure(filepath.Join(root, "cpu.pressure"))
	require.NoError(t, err)
	require.Nil(t, stat.Full)
	require.Equal(t, 1.00, stat.Some.Avg10)
}

func TestParsePSILine_IgnoresMalformedPairs(t *testing.T) {
	line, ok := parsePSILine([]string{"avg10=0.25", "garbage", "total=99"})
	require.True(t, ok)
	require.Equal(t, 0.25, line.Avg10)
	require.Equal(t, uint64(99), line.TotalUsec)
}
