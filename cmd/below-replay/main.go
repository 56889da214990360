// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command below-replay opens a store directory with the advance engine and
// walks it forward (or backward with -backward), printing one line of JSON
// per Model. It's a thin harness
// for manual/integration testing of the store + advance subsystems (spec
// §1), not a production CLI: no TUI, no output format flags.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/below/pkg/advance"
	"github.com/antimetal/below/pkg/store"
)

var (
	storeDir = flag.String("store-dir", "/var/log/below/store", "Store directory to replay")
	seekTo   = flag.Int64("seek-to", 0, "If nonzero, seek to this timestamp before walking forward")
	limit    = flag.Int("limit", 0, "Stop after this many Models (0 for no limit)")
	backward = flag.Bool("backward", false, "Walk backward instead of forward")
	verbose  = flag.Bool("verbose", false, "Enable verbose (development) logging")
)

func main() {
	flag.Parse()

	var logger logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	if err := run(logger); err != nil {
		fmt.Fprintln(os.Stderr, "below-replay:", err)
		os.Exit(1)
	}
}

func run(logger logr.Logger) error {
	cursor, err := store.OpenCursor(*storeDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer cursor.Close()

	stream := advance.NewModelStream(cursor, 0)

	if *seekTo != 0 {
		ok, err := stream.SeekTo(*seekTo)
		if err != nil {
			return fmt.Errorf("seek to %d: %w", *seekTo, err)
		}
		if !ok {
			return fmt.Errorf("no sample at or after timestamp %d", *seekTo)
		}
	}

	direction := advance.Forward
	if *backward {
		direction = advance.Backward
	}

	enc := json.NewEncoder(os.Stdout)
	count := 0
	for {
		m, ok, err := stream.Advance(direction)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if !ok {
			break
		}
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode model: %w", err)
		}
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}

	logger.Info("replay finished", "models_emitted", count)
	return nil
}
