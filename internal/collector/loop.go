// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package collector implements below's single-threaded cooperative tick
// loop (spec §4.8): per tick, in order, drain exit events, assemble a
// sample, append it to the store, and notify waiters. The loop raises its
// own CPU priority and lowers its IO priority at startup so it keeps
// sampling under the host contention it exists to observe.
package collector

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/antimetal/below/internal/config"
	"github.com/antimetal/below/internal/logging"
	"github.com/antimetal/below/internal/priority"
	"github.com/antimetal/below/pkg/sample"
)

// State is a node of the collector loop's state machine (spec §4.8):
// Starting → Sampling ⇄ Writing → (Sampling | ShuttingDown) → Stopped, with
// Degraded reachable from Writing on store failure.
type State int

const (
	StateStarting State = iota
	StateSampling
	StateWriting
	StateDegraded
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateSampling:
		return "sampling"
	case StateWriting:
		return "writing"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultDegradedRetryInterval is how often a Degraded loop retries opening
// the store (spec §4.8: "every 60s in Degraded the loop retries store
// open").
const DefaultDegradedRetryInterval = 60 * time.Second

// StoreWriter is the subset of *store.Writer the loop needs, narrowed to an
// interface (satisfied structurally by *store.Writer, no explicit
// implements-declaration needed) so tests can exercise the Degraded
// transition without a real failing filesystem.
type StoreWriter interface {
	Write(s *sample.Sample) error
	Sync() error
	Close() error
}

// WriterFactory reopens the store writer, used to retry out of Degraded.
type WriterFactory func() (StoreWriter, error)

// Loop drives the tick scheduler. Not safe for concurrent Tick/Run calls;
// Subscribe/notify are safe to use concurrently with a running loop.
type Loop struct {
	logger  logr.Logger
	warn    *logging.RateLimitedLogger
	cfg     *config.Manager
	storeDir string

	assembler    *sample.Assembler
	reopenWriter WriterFactory

	degradedRetryInterval time.Duration

	mu            sync.Mutex
	state         State
	writer        StoreWriter
	degradedSince time.Time

	subsMu sync.Mutex
	subs   map[chan *sample.Sample]struct{}

	pidFile *priority.PIDFile
}

// New builds a Loop. writer is the already-open store writer (spec: the
// caller is responsible for the initial open so a startup failure is fatal,
// per spec §7, rather than silently entering Degraded before the first
// tick). reopenWriter is used only to retry out of Degraded.
func New(logger logr.Logger, cfg *config.Manager, assembler *sample.Assembler, writer StoreWriter, reopenWriter WriterFactory) *Loop {
	return &Loop{
		logger:                logger,
		warn:                  logging.NewRateLimitedLogger(logger, 10*time.Second),
		cfg:                   cfg,
		storeDir:              cfg.Current().StoreDir,
		assembler:             assembler,
		writer:                writer,
		reopenWriter:          reopenWriter,
		degradedRetryInterval: DefaultDegradedRetryInterval,
		state:                 StateStarting,
		subs:                  make(map[chan *sample.Sample]struct{}),
	}
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Subscribe registers a waiter notified with each Sample the loop produces,
// including ones dropped in Degraded mode (spec §4.8: "notify waiters" is
// unconditional, only the store append is skipped). The returned func
// unsubscribes. Delivery never blocks notify: the channel holds one Sample,
// and a Sample sent while it is still full is dropped for that subscriber.
func (l *Loop) Subscribe() (<-chan *sample.Sample, func()) {
	ch := make(chan *sample.Sample, 1)
	l.subsMu.Lock()
	l.subs[ch] = struct{}{}
	l.subsMu.Unlock()

	unsub := func() {
		l.subsMu.Lock()
		delete(l.subs, ch)
		l.subsMu.Unlock()
	}
	return ch, unsub
}

func (l *Loop) notify(s *sample.Sample) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Tick runs one cooperative iteration (spec §4.8): assemble (which itself
// drains exit events), append to the store, and notify waiters. now is the
// tick's wall-clock start, stamped onto the resulting Sample.
//
// A store-open retry while Degraded, and a store write failure, both leave
// Tick in Degraded rather than returning an error: per spec §7 a Writing
// failure is surfaced by state, not by killing the loop.
func (l *Loop) Tick(now time.Time) {
	if l.State() == StateDegraded {
		if time.Since(l.degradedSince) < l.degradedRetryInterval {
			l.sampleWithoutWriting(now)
			return
		}
		w, err := l.reopenWriter()
		if err != nil {
			l.warn.Warn("store-degraded", "store still unavailable, remaining degraded", "error", err)
			l.degradedSince = time.Now()
			l.sampleWithoutWriting(now)
			return
		}
		l.writer = w
	}

	l.setState(StateSampling)
	s, overflow, err := l.assembler.Assemble(now.Unix())
	if err != nil {
		l.logger.Error(err, "failed to assemble sample, skipping tick")
		return
	}
	if overflow > 0 {
		l.warn.Warn("ring-overflow", "exit-event ring buffer overflowed", "dropped", overflow)
	}

	l.setState(StateWriting)
	if err := l.writer.Write(s); err != nil {
		l.logger.Error(err, "store write failed, entering degraded mode")
		l.setState(StateDegraded)
		l.degradedSince = time.Now()
		l.notify(s)
		return
	}

	l.setState(StateSampling)
	l.notify(s)
}

// sampleWithoutWriting assembles and notifies but does not attempt a store
// append (spec §4.8: Degraded "keeps sampling but drops records").
func (l *Loop) sampleWithoutWriting(now time.Time) {
	s, overflow, err := l.assembler.Assemble(now.Unix())
	if err != nil {
		l.logger.Error(err, "failed to assemble sample while degraded")
		return
	}
	if overflow > 0 {
		l.warn.Warn("ring-overflow", "exit-event ring buffer overflowed", "dropped", overflow)
	}
	l.notify(s)
}

// Run drives the loop until ctx is cancelled or a terminating signal (spec
// §4.8: SIGTERM/SIGINT) arrives, acquiring the store's PID file and raising
// self-priority first. The tick scheduler never queues catch-up ticks: if a
// tick overruns its interval, the next tick is scheduled immediately after,
// exactly once, rather than firing once per missed interval.
func (l *Loop) Run(ctx context.Context) error {
	pidPath := filepath.Join(l.storeDir, ".pidfile")
	pidFile, err := priority.AcquirePIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	l.pidFile = pidFile

	if err := priority.RaiseSelf(); err != nil {
		l.logger.Info("could not raise self priority, continuing at default priority", "error", err.Error())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		return l.signalLoop(gCtx, sigCh, cancel)
	})
	g.Go(func() error {
		return l.tickLoop(gCtx)
	})

	err = g.Wait()
	l.setState(StateStopped)
	return err
}

func (l *Loop) signalLoop(ctx context.Context, sigCh <-chan os.Signal, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				if err := l.cfg.Reload(); err != nil {
					l.logger.Error(err, "config reload failed, keeping previous config")
				} else {
					l.logger.Info("config reloaded")
				}
			case syscall.SIGTERM, syscall.SIGINT:
				cancel()
				return nil
			}
		}
	}
}

func (l *Loop) tickLoop(ctx context.Context) error {
	l.setState(StateSampling)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.setState(StateShuttingDown)
			return l.shutdown()
		case <-timer.C:
		}

		tickStart := time.Now()
		l.Tick(tickStart)

		interval := l.cfg.Current().TickInterval
		elapsed := time.Since(tickStart)
		if elapsed < interval {
			timer.Reset(interval - elapsed)
		} else {
			l.warn.Warn("tick-overrun", "tick exceeded its interval", "elapsed", elapsed.String(), "interval", interval.String())
			timer.Reset(0)
		}
	}
}

// shutdown flushes and releases the PID file (spec §4.8: "clean shutdown
// (flush + fsync + release PID file)").
func (l *Loop) shutdown() error {
	var err error
	if l.writer != nil {
		if syncErr := l.writer.Sync(); syncErr != nil {
			err = syncErr
		}
		if closeErr := l.writer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if l.pidFile != nil {
		if relErr := l.pidFile.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}
	return err
}
