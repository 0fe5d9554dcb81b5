package segment

import (
	"bytes"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/persister"
)

// Compact re-encodes a Closed, on-disk-immutable segment's batch bodies
// with codec, shrinking cold storage without touching offsets or message
// content (SPEC_FULL.md §4.2's sealed-segment compactor, run in the
// background by pkg/system's compaction task, via Topic and Partition
// CompactAgedSegments, once a segment has aged past a configured
// threshold). It is a storage-tier optimization layered on top of
// spec.md's narrower per-message producer compression enum, not a
// replacement for it.
func (s *Segment) Compact(codec config.CompactionCodec) error {
	if s.State != Closed {
		return ierr.State(ierr.CodeSegmentClosed, "only a closed segment may be compacted")
	}
	if codec == config.CompactionNone {
		return nil
	}

	raw, err := s.readLogBytes()
	if err != nil {
		return err
	}

	packed, err := encodeCodec(codec, raw)
	if err != nil {
		return err
	}
	// A compacted segment only pays off when it's smaller; skip otherwise
	// rather than writing out a larger "compacted" file.
	if len(packed) >= len(raw) {
		return nil
	}

	if err := writeCompactedLog(s.Dir, s.StartOffset, codec, packed); err != nil {
		return err
	}

	// The in-memory log handle still refers to the pre-rename inode; any
	// further read through it would silently serve stale bytes. Close it
	// so callers are forced to reload the segment
	// (Partition.CompactAgedSegments does exactly that: Load after a
	// successful Compact).
	return s.log.Close()
}

// codec tags identify which codec packed a segment's log, recorded in the
// segment's marker file (see CompactionMarkerPath) rather than in-band
// with the log bytes themselves: a real batch stream's leading bytes are
// a little-endian batch_length, and nothing about its value reliably
// distinguishes it from a one-byte tag.
const (
	codecTagNone   byte = 0
	codecTagGzip   byte = 1
	codecTagSnappy byte = 2
	codecTagLZ4    byte = 3
)

func codecTag(codec config.CompactionCodec) byte {
	switch codec {
	case config.CompactionGzip:
		return codecTagGzip
	case config.CompactionSnappy:
		return codecTagSnappy
	case config.CompactionLZ4:
		return codecTagLZ4
	default:
		return codecTagNone
	}
}

func encodeCodec(codec config.CompactionCodec, raw []byte) ([]byte, error) {
	switch codec {
	case config.CompactionGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, ierr.IO(ierr.CodePersisterFailed, "init gzip writer", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, ierr.IO(ierr.CodePersisterFailed, "gzip compact", err)
		}
		if err := w.Close(); err != nil {
			return nil, ierr.IO(ierr.CodePersisterFailed, "close gzip writer", err)
		}
		return buf.Bytes(), nil
	case config.CompactionSnappy:
		return snappy.Encode(nil, raw), nil
	case config.CompactionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, ierr.IO(ierr.CodePersisterFailed, "lz4 compact", err)
		}
		if err := w.Close(); err != nil {
			return nil, ierr.IO(ierr.CodePersisterFailed, "close lz4 writer", err)
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

// decodeCodec reverses encodeCodec for a segment load that finds a
// compacted log file (see maybeInflate, invoked before batch recovery so
// the rest of the read path never sees compaction at all).
func decodeCodec(tag byte, packed []byte) ([]byte, error) {
	switch tag {
	case codecTagGzip:
		r, err := gzip.NewReader(bytes.NewReader(packed))
		if err != nil {
			return nil, ierr.IO(ierr.CodeCorruptFile, "init gzip reader", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, ierr.IO(ierr.CodeCorruptFile, "gzip inflate", err)
		}
		return out, nil
	case codecTagSnappy:
		out, err := snappy.Decode(nil, packed)
		if err != nil {
			return nil, ierr.IO(ierr.CodeCorruptFile, "snappy inflate", err)
		}
		return out, nil
	case codecTagLZ4:
		r := lz4.NewReader(bytes.NewReader(packed))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, ierr.IO(ierr.CodeCorruptFile, "lz4 inflate", err)
		}
		return out, nil
	default:
		return packed, nil
	}
}

// writeCompactedLog overwrites the segment's .log file with the packed
// bytes and writes (or overwrites) the sibling marker file recording
// codec, the sole signal Load uses to decide whether to inflate.
func writeCompactedLog(dir string, startOffset uint64, codec config.CompactionCodec, packed []byte) error {
	if err := persister.Overwrite(LogPath(dir, startOffset), packed); err != nil {
		return err
	}
	return persister.Overwrite(CompactionMarkerPath(dir, startOffset), []byte{codecTag(codec)})
}

// readCompactionTag reads a segment's marker file, if any. A missing
// marker file means the log is an ordinary uncompacted batch stream;
// only its presence — never anything sniffed from the log bytes
// themselves — indicates compaction.
func readCompactionTag(dir string, startOffset uint64) (tag byte, compacted bool, err error) {
	buf, err := os.ReadFile(CompactionMarkerPath(dir, startOffset))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, ierr.IO(ierr.CodeCorruptFile, "read compaction marker", err)
	}
	if len(buf) == 0 {
		return 0, false, ierr.IO(ierr.CodeCorruptFile, "empty compaction marker", nil)
	}
	return buf[0], true, nil
}

// maybeInflate decodes logBuf per the codec recorded in dir's marker
// file for the segment starting at startOffset (see readCompactionTag).
// It never inspects logBuf's own bytes to make that decision.
func maybeInflate(dir string, startOffset uint64, logBuf []byte) ([]byte, error) {
	tag, compacted, err := readCompactionTag(dir, startOffset)
	if err != nil {
		return nil, err
	}
	if !compacted {
		return logBuf, nil
	}
	return decodeCodec(tag, logBuf)
}
