// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package snapshot packs a bounded time range of a store directory into a
// portable `.tar` archive and validates one on ingest (spec §6 "Snapshot
// file").
package snapshot

import (
	"archive/tar"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	belowerrors "github.com/antimetal/below/pkg/errors"
	"github.com/antimetal/below/pkg/store"
)

// ManifestVersion is the current manifest schema version (spec §6).
const ManifestVersion = 1

const manifestName = "manifest.json"

// Manifest is the snapshot's self-description (spec §6:
// "{version, begin_ts, end_ts, host, boot_id}").
type Manifest struct {
	Version int    `json:"version"`
	BeginTS int64  `json:"begin_ts"`
	EndTS   int64  `json:"end_ts"`
	Host    string `json:"host"`
	BootID  string `json:"boot_id"`
}

// indexEntrySize and shardNamePattern are duplicated from pkg/store rather
// than imported (the same choice pkg/store/catalog makes, see DESIGN.md):
// Pack only needs a shard's timestamp range to decide inclusion, not the
// full reader/writer machinery.
const indexEntrySize = 24

var shardNamePattern = regexp.MustCompile(`^index_(-?\d+)(\.bk\d+)?$`)

type shardFiles struct {
	indexName, dataName string
	minTS, maxTS         int64
}

func discoverShards(storeDir string) ([]shardFiles, error) {
	entries, err := os.ReadDir(storeDir)
	if err != nil {
		return nil, err
	}

	var shards []shardFiles
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := shardNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		suffix := m[2]
		idxBytes, err := os.ReadFile(filepath.Join(storeDir, e.Name()))
		if err != nil {
			return nil, err
		}
		n := len(idxBytes) / indexEntrySize
		if n == 0 {
			continue
		}
		minTS := int64(binary.BigEndian.Uint64(idxBytes[0:8]))
		last := (n - 1) * indexEntrySize
		maxTS := int64(binary.BigEndian.Uint64(idxBytes[last : last+8]))

		shardID := strconv.FormatInt(mustParseInt64(m[1]), 10)
		shards = append(shards, shardFiles{
			indexName: e.Name(),
			dataName:  "data_" + shardID + suffix,
			minTS:     minTS,
			maxTS:     maxTS,
		})
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].minTS < shards[j].minTS })
	return shards, nil
}

func mustParseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// Pack writes a tar archive to w containing every shard file pair in
// storeDir whose timestamp range overlaps [begin, end], plus manifest.json
// describing the range (spec §6). host/bootID are stamped into the
// manifest as-is; the caller is responsible for sourcing them (e.g. host
// from internal/procfs's hostname read, bootID from internal/hostinfo's
// boot-ID read).
func Pack(w io.Writer, storeDir string, begin, end int64, host, bootID string) error {
	shards, err := discoverShards(storeDir)
	if err != nil {
		return fmt.Errorf("snapshot: pack: %w", err)
	}

	tw := tar.NewWriter(w)

	for _, sh := range shards {
		if sh.maxTS < begin || sh.minTS > end {
			continue
		}
		for _, name := range []string{sh.indexName, sh.dataName} {
			if err := addFileToTar(tw, filepath.Join(storeDir, name), name); err != nil {
				return fmt.Errorf("snapshot: pack: %w", err)
			}
		}
	}

	manifest := Manifest{
		Version: ManifestVersion,
		BeginTS: begin,
		EndTS:   end,
		Host:    host,
		BootID:  bootID,
	}
	mb, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: pack: encode manifest: %w", err)
	}
	if err := writeTarBytes(tw, manifestName, mb); err != nil {
		return fmt.Errorf("snapshot: pack: %w", err)
	}

	return tw.Close()
}

func addFileToTar(tw *tar.Writer, path, archiveName string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name: archiveName,
		Mode: 0o644,
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func writeTarBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Ingest extracts r (a Pack-produced archive) into destDir, validates the
// manifest, and opens destDir as a read-only store to confirm the extracted
// shard files are actually readable (spec §6: "validated... by opening it
// as a read-only store rooted at the extracted directory").
func Ingest(r io.Reader, destDir string) (*Manifest, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: ingest: %w", err)
	}

	tr := tar.NewReader(r)
	var manifest *Manifest

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: ingest: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		if name != hdr.Name || name == "." || name == ".." {
			return nil, fmt.Errorf("snapshot: ingest: illegal path in archive: %q", hdr.Name)
		}

		outPath := filepath.Join(destDir, name)
		out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("snapshot: ingest: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("snapshot: ingest: %w", err)
		}
		out.Close()

		if name == manifestName {
			data, err := os.ReadFile(outPath)
			if err != nil {
				return nil, fmt.Errorf("snapshot: ingest: %w", err)
			}
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("snapshot: ingest: decode manifest: %w", err)
			}
			manifest = &m
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("%w: snapshot missing manifest.json", belowerrors.ErrInvalidFileFormat)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", belowerrors.ErrInvalidFileFormat, manifest.Version)
	}

	cursor, err := store.OpenCursor(destDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: ingest: extracted store is unreadable: %w", err)
	}
	cursor.Close()

	return manifest, nil
}
