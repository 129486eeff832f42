// Package stats implements the --print-stats report: apparent usage
// (the sum of every file's recorded size) against physical usage (what
// the two stores actually occupy on disk), the same comparison as the
// original's report_disk_usage, extended to cover the block store's
// compressed, deduplicated footprint alongside the metadata store's.
package stats

import (
	"fmt"
	"io"

	"github.com/dedupfs/dedupfs/internal/blockstore"
	"github.com/dedupfs/dedupfs/internal/metastore"
)

// Print writes a human-readable usage report to w.
func Print(w io.Writer, meta *metastore.Store, blocks *blockstore.Store) error {
	apparentSize, metaBytes, err := meta.DiskUsage()
	if err != nil {
		return err
	}

	blockCount, physicalBytes, err := blocks.Size()
	if err != nil {
		return err
	}

	totalDisk := metaBytes + physicalBytes
	ratio := 100.0
	if apparentSize > 0 {
		ratio = float64(totalDisk) / float64(apparentSize) * 100
	}

	fmt.Fprintf(w, "apparent size:     %s\n", formatSize(apparentSize))
	fmt.Fprintf(w, "metadata on disk:  %s\n", formatSize(metaBytes))
	fmt.Fprintf(w, "blocks stored:     %d (%s)\n", blockCount, formatSize(physicalBytes))
	fmt.Fprintf(w, "total on disk:     %s (%.1f%% of apparent size)\n", formatSize(totalDisk), ratio)
	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for next := n / unit; next >= unit; next /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
