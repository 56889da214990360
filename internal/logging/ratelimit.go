// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package logging wraps logr.Logger with a small token-bucket limiter for
// warnings that would otherwise fire every tick (ring-buffer overflow,
// per-tick duration overrun) and drown out everything else (spec §2.1).
package logging

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// RateLimitedLogger suppresses repeated Warn calls under the same key,
// allowing at most one log line per key per Interval and reporting how many
// were suppressed in between on the next allowed line.
type RateLimitedLogger struct {
	logger   logr.Logger
	interval time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time
	suppressed map[string]int
}

// NewRateLimitedLogger wraps logger. interval ≤ 0 defaults to 10s.
func NewRateLimitedLogger(logger logr.Logger, interval time.Duration) *RateLimitedLogger {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &RateLimitedLogger{
		logger:     logger,
		interval:   interval,
		lastFired:  make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Warn logs msg under key at most once per interval. keyvals follows logr's
// alternating key/value convention. Calls suppressed within the window are
// counted and reported ("suppressed", N) the next time the key fires.
func (r *RateLimitedLogger) Warn(key, msg string, keyvals ...any) {
	now := time.Now()

	r.mu.Lock()
	last, ok := r.lastFired[key]
	if ok && now.Sub(last) < r.interval {
		r.suppressed[key]++
		r.mu.Unlock()
		return
	}
	suppressed := r.suppressed[key]
	r.suppressed[key] = 0
	r.lastFired[key] = now
	r.mu.Unlock()

	if suppressed > 0 {
		keyvals = append(keyvals, "suppressed", suppressed)
	}
	r.logger.Info(msg, append([]any{"level", "warn"}, keyvals...)...)
}
