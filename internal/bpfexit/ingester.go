// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bpfexit ingests process-exit events from the in-kernel probe
// specified at spec.md §6. It is the direct analog of the teacher's
// ExecSnoopCollector (pkg/performance/collectors/execsnoop.go): CO-RE load
// via pkg/ebpf/core, a ring-buffer reader goroutine, fixed C struct decode.
// Unlike execsnoop it reopens on failure with exponential backoff and
// drains into a bounded per-tick buffer instead of a channel, since the
// collector loop pulls between ticks rather than being pushed to.
package bpfexit

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-logr/logr"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/ebpf/core"
	"github.com/antimetal/below/pkg/ringbuffer"
	"github.com/antimetal/below/pkg/sample"
)

// defaultBufferCapacity is the default per-tick bounded buffer size (spec
// §4.2): the ring buffer drain between ticks cannot grow without bound.
const defaultBufferCapacity = 4096

// dedupWindow is how long a (pid, start-ns) pair is remembered to suppress
// duplicate exit events across a probe restart (spec §4.2).
const dedupWindow = 60 * time.Second

// rawExitEvent mirrors the fixed C struct from spec §6, native endian.
// Field order and sizes must not change: this is a stable wire contract
// owned by a BPF program outside this repo.
type rawExitEvent struct {
	Tid            uint32
	Ppid           uint32
	Pgrp           uint32
	Sid            uint32
	Cpu            uint32
	Comm           [16]byte
	MinFlt         uint64
	MajFlt         uint64
	UtimeUs        uint64
	StimeUs        uint64
	EtimeUs        uint64
	NrThreads      uint64
	IOReadBytes    uint64
	IOWriteBytes   uint64
	ActiveRssPages uint64
}

// Ingester opens the exit-probe's ring buffer, keeps it open for the
// process lifetime, and reopens on failure with exponential backoff
// (initial 1s, cap 30s, per spec §4.2).
type Ingester struct {
	objectPath string
	logger     logr.Logger

	mu          sync.Mutex
	coreManager *core.Manager
	objs        *ebpf.Collection
	probeLink   link.Link
	reader      *ringbuf.Reader

	buf     *ringbuffer.RingBuffer[sample.ExitInfo]
	bufMu   sync.Mutex // guards buf: run pushes, Drain drains
	seen    map[dedupKey]time.Time
	seenMu  sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type dedupKey struct {
	pid      int32
	startNs  uint64
}

// New constructs an Ingester. objectPath is the path to the compiled BPF
// object (outside this repo's scope per spec.md §1); bufferCapacity ≤ 0
// selects the spec default of 4096.
func New(logger logr.Logger, objectPath string, bufferCapacity int) *Ingester {
	if bufferCapacity <= 0 {
		bufferCapacity = defaultBufferCapacity
	}
	buf, _ := ringbuffer.New[sample.ExitInfo](bufferCapacity) // capacity validated above
	return &Ingester{
		objectPath: objectPath,
		logger:     logger,
		buf:        buf,
		seen:       make(map[dedupKey]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Start opens the ring buffer and begins draining it on a background
// goroutine. It blocks until the first open succeeds or ctx is canceled.
func (i *Ingester) Start(ctx context.Context) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return belowerrors.Join(belowerrors.ErrBPFLoadFailed, err)
	}

	if _, err := backoff.Retry(ctx, func() (bool, error) {
		return true, i.open()
	}, backoff.WithBackOff(newBackOff())); err != nil {
		return belowerrors.Join(belowerrors.ErrBPFLoadFailed, err)
	}

	i.wg.Add(1)
	go i.run(ctx)
	return nil
}

// newBackOff returns the 1s-initial, 30s-cap exponential policy spec §4.2
// requires for reopening the exit-event stream.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

func (i *Ingester) open() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.coreManager == nil {
		manager, err := core.NewManager(i.logger)
		if err != nil {
			return err
		}
		i.coreManager = manager
	}

	coll, err := i.coreManager.LoadCollection(i.objectPath)
	if err != nil {
		return err
	}

	prog, ok := coll.Programs["tracepoint__sched__sched_process_exit"]
	if !ok {
		coll.Close()
		return belowerrors.New("sched_process_exit program not found")
	}

	lnk, err := link.Tracepoint("sched", "sched_process_exit", prog, nil)
	if err != nil {
		coll.Close()
		return err
	}

	eventsMap, ok := coll.Maps["events"]
	if !ok {
		lnk.Close()
		coll.Close()
		return belowerrors.New("events map not found")
	}

	reader, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		lnk.Close()
		coll.Close()
		return err
	}

	i.objs = coll
	i.probeLink = lnk
	i.reader = reader
	return nil
}

func (i *Ingester) run(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-i.stopCh:
			return
		default:
		}

		i.mu.Lock()
		reader := i.reader
		i.mu.Unlock()
		if reader == nil {
			return
		}

		record, err := reader.Read()
		if err != nil {
			if errIsClosed(err) {
				return
			}
			i.logger.V(1).Info("ring buffer read failed, reopening", "error", err.Error())
			i.cleanup()
			if _, rerr := backoff.Retry(ctx, func() (bool, error) {
				return true, i.open()
			}, backoff.WithBackOff(newBackOff())); rerr != nil {
				return
			}
			continue
		}

		event, ok := decodeExitEvent(record.RawSample)
		if !ok {
			continue
		}
		if i.shouldSurface(event) {
			i.bufMu.Lock()
			i.buf.Push(event)
			i.bufMu.Unlock()
		}
	}
}

func errIsClosed(err error) bool {
	return err == ringbuf.ErrClosed
}

// decodeExitEvent decodes the fixed C struct into sample.ExitInfo.
func decodeExitEvent(data []byte) (sample.ExitInfo, bool) {
	var raw rawExitEvent
	if len(data) < binary.Size(raw) {
		return sample.ExitInfo{}, false
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return sample.ExitInfo{}, false
	}
	return sample.ExitInfo{
		Pid:            int32(raw.Tid),
		MinFlt:         raw.MinFlt,
		MajFlt:         raw.MajFlt,
		UtimeUs:        raw.UtimeUs,
		StimeUs:        raw.StimeUs,
		EtimeUs:        raw.EtimeUs,
		NrThreads:      raw.NrThreads,
		IOReadBytes:    raw.IOReadBytes,
		IOWriteBytes:   raw.IOWriteBytes,
		ActiveRssPages: raw.ActiveRssPages,
	}, true
}

// shouldSurface applies the 60s (pid, start-ns) dedup window (spec §4.2).
// EtimeUs approximates start-time-since-boot well enough to distinguish a
// restarted pid that reused the same tid within the window.
func (i *Ingester) shouldSurface(e sample.ExitInfo) bool {
	key := dedupKey{pid: e.Pid, startNs: e.EtimeUs}
	now := time.Now()

	i.seenMu.Lock()
	defer i.seenMu.Unlock()

	if last, ok := i.seen[key]; ok && now.Sub(last) < dedupWindow {
		return false
	}
	i.seen[key] = now
	for k, t := range i.seen {
		if now.Sub(t) >= dedupWindow {
			delete(i.seen, k)
		}
	}
	return true
}

// Drain returns every event accumulated since the last Drain call, along
// with the cumulative number of events dropped due to overflow since the
// Ingester was created (spec §4.2, §8 scenario 6). Called once per
// collector tick.
func (i *Ingester) Drain() ([]sample.ExitInfo, uint64) {
	i.bufMu.Lock()
	defer i.bufMu.Unlock()
	events := i.buf.Drain()
	return events, i.buf.Dropped()
}

// Stop closes the ring buffer and waits for the drain goroutine to exit.
func (i *Ingester) Stop() {
	close(i.stopCh)
	i.wg.Wait()
	i.cleanup()
}

func (i *Ingester) cleanup() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.reader != nil {
		i.reader.Close()
		i.reader = nil
	}
	if i.probeLink != nil {
		i.probeLink.Close()
		i.probeLink = nil
	}
	if i.objs != nil {
		i.objs.Close()
		i.objs = nil
	}
}
