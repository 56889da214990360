// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/below/internal/config"
	"github.com/antimetal/below/pkg/sample"
)

var errStoreUnavailable = errors.New("store unavailable")

type fakeSystemReader struct{ fail bool }

func (f *fakeSystemReader) ReadSystem() (sample.SystemStats, error) {
	return sample.SystemStats{}, nil
}
func (f *fakeSystemReader) ReadProcesses() (map[int32]sample.PidInfo, error) {
	return map[int32]sample.PidInfo{}, nil
}

type fakeCgroupReader struct{}

func (f *fakeCgroupReader) ReadTree() (*sample.CgroupNode, error) {
	return &sample.CgroupNode{Path: "/"}, nil
}

func newTestConfigManager(t *testing.T, storeDir string) *config.Manager {
	t.Helper()
	confDir := t.TempDir()
	path := filepath.Join(confDir, "below.conf")
	require.NoError(t, os.WriteFile(path, []byte(`store_dir = "`+storeDir+`"`), 0o644))
	m, err := config.NewManager(path)
	require.NoError(t, err)
	return m
}

type fakeStoreWriter struct {
	failNextN int
	written   []*sample.Sample
}

func (w *fakeStoreWriter) Write(s *sample.Sample) error {
	if w.failNextN > 0 {
		w.failNextN--
		return errStoreUnavailable
	}
	w.written = append(w.written, s)
	return nil
}
func (w *fakeStoreWriter) Sync() error  { return nil }
func (w *fakeStoreWriter) Close() error { return nil }

func TestLoop_TickAssemblesAndWrites(t *testing.T) {
	storeDir := t.TempDir()
	cfg := newTestConfigManager(t, storeDir)
	assembler := sample.NewAssembler(&fakeSystemReader{}, &fakeCgroupReader{}, nil)
	w := &fakeStoreWriter{}

	l := New(logr.Discard(), cfg, assembler, w, nil)
	l.Tick(time.Unix(100, 0))

	require.Equal(t, StateSampling, l.State())
	require.Len(t, w.written, 1)
	require.Equal(t, int64(100), w.written[0].Timestamp)
}

func TestLoop_WriteFailureEntersDegradedAndRecovers(t *testing.T) {
	storeDir := t.TempDir()
	cfg := newTestConfigManager(t, storeDir)
	assembler := sample.NewAssembler(&fakeSystemReader{}, &fakeCgroupReader{}, nil)
	w := &fakeStoreWriter{failNextN: 1}

	recovered := &fakeStoreWriter{}
	reopenCount := 0
	reopen := func() (StoreWriter, error) {
		reopenCount++
		return recovered, nil
	}

	l := New(logr.Discard(), cfg, assembler, w, reopen)
	l.degradedRetryInterval = 0 // retry immediately in the test

	l.Tick(time.Unix(100, 0))
	require.Equal(t, StateDegraded, l.State())
	require.Empty(t, w.written)

	l.Tick(time.Unix(101, 0))
	require.Equal(t, 1, reopenCount)
	require.Len(t, recovered.written, 1)
}

func TestLoop_Subscribe_ReceivesEachTick(t *testing.T) {
	storeDir := t.TempDir()
	cfg := newTestConfigManager(t, storeDir)
	assembler := sample.NewAssembler(&fakeSystemReader{}, &fakeCgroupReader{}, nil)
	w := &fakeStoreWriter{}

	l := New(logr.Discard(), cfg, assembler, w, nil)
	ch, unsub := l.Subscribe()
	defer unsub()

	l.Tick(time.Unix(200, 0))

	select {
	case s := <-ch:
		require.Equal(t, int64(200), s.Timestamp)
	default:
		t.Fatal("expected a notification after Tick")
	}
}
