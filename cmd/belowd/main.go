// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command belowd wires procfs/cgroupfs/bpfexit readers into the sample
// assembler, opens the store, and runs the collector loop. It is a thin
// harness for manual/integration testing, not a production CLI (spec §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/below/internal/bpfexit"
	"github.com/antimetal/below/internal/cgroupfs"
	"github.com/antimetal/below/internal/collector"
	"github.com/antimetal/below/internal/config"
	"github.com/antimetal/below/internal/hostinfo"
	"github.com/antimetal/below/internal/procfs"
	"github.com/antimetal/below/pkg/sample"
	"github.com/antimetal/below/pkg/store"
)

var (
	configPath     = flag.String("config", "/etc/below/below.conf", "Path to below.conf")
	procPath       = flag.String("proc-path", "/proc", "Path to proc filesystem")
	sysPath        = flag.String("sys-path", "/sys", "Path to sys filesystem")
	bpfObjectPath  = flag.String("bpf-object", "", "Path to the compiled exit-probe BPF object (empty disables exit tracking)")
	ringBufEntries = flag.Int("bpf-ring-entries", 4096, "Exit-event ring buffer capacity")
	verbose        = flag.Bool("verbose", false, "Enable verbose (development) logging")
)

func main() {
	flag.Parse()

	var logger logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		zapLog, _ := zap.NewProduction()
		logger = zapr.NewLogger(zapLog)
	}

	if err := run(logger); err != nil {
		logger.Error(err, "belowd exited with error")
		os.Exit(1)
	}
}

func run(logger logr.Logger) error {
	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Current()

	hi, err := hostinfo.NewReader(*procPath, *sysPath, logger)
	if err != nil {
		return fmt.Errorf("hostinfo reader: %w", err)
	}
	info, err := hi.Read()
	if err != nil {
		return fmt.Errorf("read host info: %w", err)
	}
	logger.Info("host info", "hostname", info.Hostname, "release", info.Release,
		"logical_cores", info.CPU.LogicalCores, "total_memory_bytes", info.Memory.TotalBytes)

	sysReader, err := procfs.NewReader(*procPath, logger)
	if err != nil {
		return fmt.Errorf("procfs reader: %w", err)
	}
	cgroupReader, err := cgroupfs.NewReader(cfg.CgroupRoot, cfg.CgroupFilterOut, logger)
	if err != nil {
		return fmt.Errorf("cgroupfs reader: %w", err)
	}

	var exits *bpfexit.Ingester
	if *bpfObjectPath != "" {
		exits = bpfexit.New(logger, *bpfObjectPath, *ringBufEntries)
		if err := exits.Start(context.Background()); err != nil {
			logger.Error(err, "exit-probe BPF load failed, continuing without exit tracking")
			exits = nil
		} else {
			defer exits.Stop()
		}
	}

	var drainer sample.ExitDrainer
	if exits != nil {
		drainer = exits
	}
	assembler := sample.NewAssembler(sysReader, cgroupReader, drainer)

	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	writer, err := store.NewWriter(logger, cfg.StoreDir, 0, 0)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reopen := func() (collector.StoreWriter, error) {
		return store.NewWriter(logger, cfgMgr.Current().StoreDir, 0, 0)
	}

	loop := collector.New(logger, cfgMgr, assembler, writer, reopen)
	return loop.Run(context.Background())
}
