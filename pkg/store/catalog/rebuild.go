// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package catalog

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

const indexEntrySize = 24

var shardNamePattern = regexp.MustCompile(`^index_(-?\d+)(\.bk\d+)?$`)

// Rebuild scans dir's index_* files and repopulates the catalog from
// scratch. Called once at store open, after writer-side crash recovery has
// already truncated any incomplete trailing entries (spec §4.5): Rebuild
// trusts that index_* files it reads are already internally consistent and
// only derives aggregate metadata from them, it does not itself validate
// payload checksums.
func Rebuild(c *Catalog, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := shardNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		shardID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		suffix := m[2]

		idxBytes, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		n := len(idxBytes) / indexEntrySize
		if n == 0 {
			continue
		}

		meta := ShardMeta{ShardID: shardID, Suffix: suffix, RecordCount: int64(n)}
		meta.MinTimestamp = int64(binary.BigEndian.Uint64(idxBytes[0:8]))
		last := (n - 1) * indexEntrySize
		meta.MaxTimestamp = int64(binary.BigEndian.Uint64(idxBytes[last : last+8]))
		meta.DictOffset = binary.BigEndian.Uint64(idxBytes[8:16])
		meta.HasDict = true

		if err := c.Put(meta); err != nil {
			return err
		}
	}
	return nil
}
