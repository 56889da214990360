// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store"
)

func writeStoreSamples(t *testing.T, dir string, timestamps ...int64) {
	t.Helper()
	w, err := store.NewWriter(logr.Discard(), dir, 0, 1)
	require.NoError(t, err)
	for _, ts := range timestamps {
		require.NoError(t, w.Write(&sample.Sample{Timestamp: ts}))
	}
	require.NoError(t, w.Close())
}

func TestPackAndIngest_RoundTrips(t *testing.T) {
	storeDir := t.TempDir()
	writeStoreSamples(t, storeDir, 100, 101, 102)

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, storeDir, 100, 102, "myhost", "boot-123"))

	destDir := t.TempDir()
	manifest, err := Ingest(&buf, destDir)
	require.NoError(t, err)
	require.Equal(t, ManifestVersion, manifest.Version)
	require.Equal(t, int64(100), manifest.BeginTS)
	require.Equal(t, int64(102), manifest.EndTS)
	require.Equal(t, "myhost", manifest.Host)
	require.Equal(t, "boot-123", manifest.BootID)

	cursor, err := store.OpenCursor(destDir)
	require.NoError(t, err)
	defer cursor.Close()

	ok, err := cursor.Next()
	require.NoError(t, err)
	require.True(t, ok)
	s, err := cursor.Read()
	require.NoError(t, err)
	require.Equal(t, int64(100), s.Timestamp)
}

func TestIngest_MissingManifestIsRejected(t *testing.T) {
	storeDir := t.TempDir()
	writeStoreSamples(t, storeDir, 100)

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, storeDir, 100, 100, "h", "b"))

	// Re-pack without the manifest entry by re-tar-ing everything except
	// manifest.json: simplest is to corrupt the manifest's presence check
	// by truncating the archive before the manifest, which this last entry
	// in the stream makes straightforward to simulate.
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()/2])

	destDir := t.TempDir()
	_, err := Ingest(truncated, destDir)
	require.Error(t, err)
}

func TestIngest_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("evil")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escaped",
		Mode: 0o644,
		Size: int64(len(body)),
	}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	destDir := t.TempDir()
	_, err = Ingest(&buf, destDir)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(destDir), "escaped"))
	require.True(t, os.IsNotExist(statErr), "traversal entry must not be written outside destDir")
}
