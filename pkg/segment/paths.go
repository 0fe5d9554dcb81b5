package segment

import (
	"fmt"
	"path/filepath"
)

// fileStem formats startOffset as the zero-padded 20-digit name used for a
// segment's three files (spec.md §6: "File names use zero-padded 20-digit
// start offsets for lexicographic ordering").
func fileStem(startOffset uint64) string {
	return fmt.Sprintf("%020d", startOffset)
}

// LogPath returns the .log path for a segment starting at startOffset
// within dir (a partition's directory).
func LogPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fileStem(startOffset)+".log")
}

// OffsetIndexPath returns the .index path.
func OffsetIndexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fileStem(startOffset)+".index")
}

// TimeIndexPath returns the .timeindex path.
func TimeIndexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fileStem(startOffset)+".timeindex")
}

// CompactionMarkerPath returns the sibling marker file Compact writes next
// to a segment's .log file to record which codec (if any) packed it. Its
// mere presence, not any byte sniffed from the log itself, is what tells
// Load a segment's log bytes need inflating.
func CompactionMarkerPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fileStem(startOffset)+".compacted")
}
