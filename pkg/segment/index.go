package segment

import (
	"encoding/binary"
	"sort"

	"github.com/driftline/driftline/internal/ierr"
)

// OffsetIndexEntry is one offset-index record: one per batch boundary, not
// per message (spec.md §3/§4.2). Its stated size in spec.md ("12 bytes")
// undercounts its own three listed fields (u32+u32+u64 = 16 bytes); this
// implementation keeps the full-precision u64 timestamp (a truncated u32
// timestamp would overflow long before any real micros-since-epoch value)
// and treats the byte count as the part of the spec that was wrong.
type OffsetIndexEntry struct {
	RelativeOffset uint32
	PositionInLog  uint32
	Timestamp      uint64
}

const offsetIndexEntrySize = 4 + 4 + 8

func encodeOffsetIndexEntry(e OffsetIndexEntry) []byte {
	buf := make([]byte, offsetIndexEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], e.RelativeOffset)
	binary.LittleEndian.PutUint32(buf[4:], e.PositionInLog)
	binary.LittleEndian.PutUint64(buf[8:], e.Timestamp)
	return buf
}

func decodeOffsetIndexEntries(buf []byte) ([]OffsetIndexEntry, error) {
	if len(buf)%offsetIndexEntrySize != 0 {
		// Truncate a corrupt trailing partial entry rather than fail
		// the whole load (spec.md §4.2 recovery).
		buf = buf[:len(buf)-(len(buf)%offsetIndexEntrySize)]
	}
	n := len(buf) / offsetIndexEntrySize
	out := make([]OffsetIndexEntry, n)
	for i := 0; i < n; i++ {
		b := buf[i*offsetIndexEntrySize:]
		out[i] = OffsetIndexEntry{
			RelativeOffset: binary.LittleEndian.Uint32(b[0:]),
			PositionInLog:  binary.LittleEndian.Uint32(b[4:]),
			Timestamp:      binary.LittleEndian.Uint64(b[8:]),
		}
	}
	return out, nil
}

// floorByOffset returns the index of the last entry whose RelativeOffset
// is <= target, or -1 if every entry is greater (lookup always starts at
// the segment's first batch in that case).
func floorByOffset(entries []OffsetIndexEntry, target uint32) int {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].RelativeOffset > target
	})
	return i - 1
}

// TimeIndexEntry is one time-index record, one per batch boundary, sorted
// ascending by Timestamp (spec.md §3).
type TimeIndexEntry struct {
	Timestamp      uint64
	RelativeOffset uint32
}

const timeIndexEntrySize = 8 + 4

func encodeTimeIndexEntry(e TimeIndexEntry) []byte {
	buf := make([]byte, timeIndexEntrySize)
	binary.LittleEndian.PutUint64(buf[0:], e.Timestamp)
	binary.LittleEndian.PutUint32(buf[8:], e.RelativeOffset)
	return buf
}

func decodeTimeIndexEntries(buf []byte) ([]TimeIndexEntry, error) {
	if len(buf)%timeIndexEntrySize != 0 {
		buf = buf[:len(buf)-(len(buf)%timeIndexEntrySize)]
	}
	n := len(buf) / timeIndexEntrySize
	out := make([]TimeIndexEntry, n)
	for i := 0; i < n; i++ {
		b := buf[i*timeIndexEntrySize:]
		out[i] = TimeIndexEntry{
			Timestamp:      binary.LittleEndian.Uint64(b[0:]),
			RelativeOffset: binary.LittleEndian.Uint32(b[8:]),
		}
	}
	return out, nil
}

// ceilByTimestamp binary searches entries for the first one whose
// Timestamp is >= target, matching ReadByTimestamp's contract in
// spec.md §4.2.
func ceilByTimestamp(entries []TimeIndexEntry, target uint64) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp >= target
	})
	if i == len(entries) {
		return 0, false
	}
	return i, true
}

var errEmptyBatch = emptyBatchErr{}

type emptyBatchErr struct{}

func (emptyBatchErr) Error() string { return "batch has no messages" }

// assertNonEmpty is a tiny guard used by AppendBatch; kept here next to
// the index types it protects the invariants of.
func assertNonEmpty(n int) error {
	if n == 0 {
		return ierr.Validation("batch must contain at least one message")
	}
	return nil
}
