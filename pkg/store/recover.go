// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
)

// recoverDir scans every index_* file in dir and truncates both halves of
// its shard pair back to the last fully valid, checksum-clean entry (spec
// §4.5 "Crash recovery", §8 scenario 4). It runs once, synchronously, at
// Writer startup.
func recoverDir(logger logr.Logger, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "index_") {
			continue
		}
		suffix := strings.TrimPrefix(name, "index_")
		indexPath := filepath.Join(dir, name)
		dataPath := filepath.Join(dir, "data_"+suffix)
		if err := recoverShard(logger, indexPath, dataPath); err != nil {
			return err
		}
	}
	return nil
}

// recoverShard truncates indexPath/dataPath to the last index entry whose
// payload region is fully present in the data file and whose checksum
// validates. Any entries after that point are discarded.
func recoverShard(logger logr.Logger, indexPath, dataPath string) error {
	indexBytes, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	dataInfo, err := os.Stat(dataPath)
	var dataSize int64
	if err == nil {
		dataSize = dataInfo.Size()
	} else if !os.IsNotExist(err) {
		return err
	}

	dataFile, err := os.Open(dataPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if dataFile != nil {
		defer dataFile.Close()
	}

	validEntries := len(indexBytes) / indexEntrySize
	keptEntries := 0
	keptDataBytes := int64(0)

	for i := 0; i < validEntries; i++ {
		raw := indexBytes[i*indexEntrySize : (i+1)*indexEntrySize]
		entry, err := DecodeIndexEntry(raw)
		if err != nil {
			break
		}
		end := int64(entry.Offset) + int64(entry.Length)
		if end > dataSize {
			break
		}
		payload := make([]byte, entry.Length)
		if dataFile == nil {
			break
		}
		if _, err := dataFile.ReadAt(payload, int64(entry.Offset)); err != nil && err != io.EOF {
			break
		}
		if err := validatePayloadFrame(payload); err != nil {
			break
		}
		keptEntries++
		keptDataBytes = end
	}

	discarded := validEntries - keptEntries
	if discarded > 0 || int64(len(indexBytes))%indexEntrySize != 0 {
		logger.Info("store recovery discarded trailing entries",
			"index", indexPath, "kept", keptEntries, "discarded", discarded)
	}

	if int64(len(indexBytes)) != int64(keptEntries*indexEntrySize) {
		if err := os.Truncate(indexPath, int64(keptEntries*indexEntrySize)); err != nil {
			return err
		}
	}
	if dataFile != nil && dataSize != keptDataBytes {
		if err := os.Truncate(dataPath, keptDataBytes); err != nil {
			return err
		}
	}
	return nil
}
