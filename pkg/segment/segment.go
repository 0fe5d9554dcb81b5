package segment

import (
	"io"
	"os"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/persister"
)

// LifecycleState is a segment's Open/Closed state (spec.md §3).
type LifecycleState uint8

const (
	Open LifecycleState = iota
	Closed
)

// Segment is one contiguous log file plus its two index files (spec.md
// §3/§4.2). A Closed segment is immutable.
type Segment struct {
	Dir          string
	StartOffset  uint64
	EndOffset    uint64 // StartOffset-1 when empty
	MaxSizeBytes uint32
	SizeBytes    uint32
	MessageCount uint32
	State        LifecycleState

	log        *persister.Persister
	offsetFile *persister.Persister
	timeFile   *persister.Persister

	offsetIndex []OffsetIndexEntry
	timeIndex   []TimeIndexEntry

	logger *logging.Logger
}

// New creates a brand-new Open segment starting at startOffset.
func New(dir string, startOffset uint64, maxSizeBytes uint32, lg *logging.Logger) (*Segment, error) {
	if err := persister.EnsureDir(dir); err != nil {
		return nil, err
	}
	s := &Segment{
		Dir:          dir,
		StartOffset:  startOffset,
		EndOffset:    startOffset - 1,
		MaxSizeBytes: maxSizeBytes,
		State:        Open,
		logger:       lg,
	}
	var err error
	if s.log, err = persister.Open(LogPath(dir, startOffset)); err != nil {
		return nil, err
	}
	if s.offsetFile, err = persister.Open(OffsetIndexPath(dir, startOffset)); err != nil {
		return nil, err
	}
	if s.timeFile, err = persister.Open(TimeIndexPath(dir, startOffset)); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reopens an existing segment's files, recomputing SizeBytes,
// MessageCount and EndOffset by scanning the log tail past the last index
// entry, truncating any corrupt trailing partial batch (spec.md §4.2
// recovery).
func Load(dir string, startOffset uint64, maxSizeBytes uint32, closed bool, lg *logging.Logger) (*Segment, error) {
	s := &Segment{
		Dir:          dir,
		StartOffset:  startOffset,
		EndOffset:    startOffset - 1,
		MaxSizeBytes: maxSizeBytes,
		State:        Open,
		logger:       lg,
	}
	if closed {
		s.State = Closed
	}

	var err error
	if s.log, err = persister.Open(LogPath(dir, startOffset)); err != nil {
		return nil, err
	}
	if s.offsetFile, err = persister.Open(OffsetIndexPath(dir, startOffset)); err != nil {
		return nil, err
	}
	if s.timeFile, err = persister.Open(TimeIndexPath(dir, startOffset)); err != nil {
		return nil, err
	}

	offsetBuf, err := io.ReadAll(io.NewSectionReader(s.offsetFile.File(), 0, 1<<62))
	if err != nil {
		return nil, ierr.IO(ierr.CodeCorruptFile, "read offset index", err)
	}
	s.offsetIndex, _ = decodeOffsetIndexEntries(offsetBuf)

	timeBuf, err := io.ReadAll(io.NewSectionReader(s.timeFile.File(), 0, 1<<62))
	if err != nil {
		return nil, ierr.IO(ierr.CodeCorruptFile, "read time index", err)
	}
	s.timeIndex, _ = decodeTimeIndexEntries(timeBuf)

	logBuf, err := io.ReadAll(io.NewSectionReader(s.log.File(), 0, 1<<62))
	if err != nil {
		return nil, ierr.IO(ierr.CodeCorruptFile, "read log", err)
	}
	if logBuf, err = maybeInflate(dir, startOffset, logBuf); err != nil {
		return nil, err
	}

	if err := s.recoverFromLog(logBuf); err != nil {
		return nil, err
	}
	return s, nil
}

// recoverFromLog walks every batch in logBuf, validating each against its
// stated length; a short/partial trailing batch is truncated away (the
// file itself is not rewritten until the next successful append or
// Close, which is sufficient because writes only ever occur at EOF).
func (s *Segment) recoverFromLog(logBuf []byte) error {
	off := 0
	lastGoodEnd := 0
	count := uint32(0)
	haveAny := false

	for off < len(logBuf) {
		db, err := decodeBatchHeader(logBuf, off)
		if err != nil {
			s.logger.Log(logging.LevelWarn, "truncating corrupt trailing batch",
				"segment", s.StartOffset, "at_byte", off)
			break
		}
		msgs, err := db.decodeMessages(logBuf)
		if err != nil {
			s.logger.Log(logging.LevelWarn, "truncating corrupt trailing batch body",
				"segment", s.StartOffset, "at_byte", off)
			break
		}
		count += uint32(len(msgs))
		s.EndOffset = db.lastOffset()
		haveAny = true
		off += db.totalFrameLen
		lastGoodEnd = off
	}

	if lastGoodEnd != len(logBuf) {
		if err := s.log.File().Truncate(int64(lastGoodEnd)); err != nil {
			return ierr.IO(ierr.CodeCorruptFile, "truncate corrupt tail", err)
		}
	}
	if !haveAny {
		s.EndOffset = s.StartOffset - 1
	}

	s.SizeBytes = uint32(lastGoodEnd)
	s.MessageCount = count
	return nil
}

// IsEmpty reports whether the segment has never had a batch appended.
func (s *Segment) IsEmpty() bool { return s.EndOffset+1 == s.StartOffset }

// AppendBatch serializes messages (already offset-stamped by the
// partition, see pkg/partition) into a single contiguous region of the
// log, appends one offset-index entry and one time-index entry, and
// updates EndOffset/SizeBytes/MessageCount (spec.md §4.2).
func (s *Segment) AppendBatch(messages []Message) error {
	if s.State == Closed {
		return ierr.State(ierr.CodeSegmentClosed, "segment is closed")
	}
	if err := assertNonEmpty(len(messages)); err != nil {
		return err
	}

	b := newBatch(messages)
	encoded := b.encode()

	position := s.SizeBytes
	if _, err := s.log.Append(encoded); err != nil {
		return err
	}

	relOffset := uint32(b.baseOffset - s.StartOffset)
	oie := encodeOffsetIndexEntry(OffsetIndexEntry{
		RelativeOffset: relOffset,
		PositionInLog:  position,
		Timestamp:      b.baseTimestamp,
	})
	if _, err := s.offsetFile.Append(oie); err != nil {
		return err
	}
	tie := encodeTimeIndexEntry(TimeIndexEntry{Timestamp: b.baseTimestamp, RelativeOffset: relOffset})
	if _, err := s.timeFile.Append(tie); err != nil {
		return err
	}

	s.offsetIndex = append(s.offsetIndex, OffsetIndexEntry{
		RelativeOffset: relOffset, PositionInLog: position, Timestamp: b.baseTimestamp,
	})
	s.timeIndex = append(s.timeIndex, TimeIndexEntry{Timestamp: b.baseTimestamp, RelativeOffset: relOffset})

	s.EndOffset = messages[len(messages)-1].Offset
	s.SizeBytes += uint32(len(encoded))
	s.MessageCount += uint32(len(messages))
	return nil
}

// Flush fsyncs the segment's three files; used when the partition's
// append path is running with enforce_fsync=true.
func (s *Segment) Flush() error {
	if err := s.log.Sync(); err != nil {
		return err
	}
	if err := s.offsetFile.Sync(); err != nil {
		return err
	}
	return s.timeFile.Sync()
}

// ReadRange returns every message with offset in [fromOffset, toOffset],
// consulting the offset index to locate the byte position of the first
// batch at or before fromOffset and then sequentially parsing batches
// from there (spec.md §4.2).
func (s *Segment) ReadRange(fromOffset, toOffset uint64) ([]Message, error) {
	if fromOffset > s.EndOffset || (toOffset < s.StartOffset && !s.IsEmpty()) {
		return nil, ierr.State(ierr.CodeOffsetOutOfRange, "offset out of segment range")
	}

	logBuf, err := s.readLogBytes()
	if err != nil {
		return nil, err
	}
	if logBuf, err = maybeInflate(s.Dir, s.StartOffset, logBuf); err != nil {
		return nil, err
	}

	startByte := 0
	if fromOffset > s.StartOffset {
		idx := floorByOffset(s.offsetIndex, uint32(fromOffset-s.StartOffset))
		if idx >= 0 {
			startByte = int(s.offsetIndex[idx].PositionInLog)
		}
	}

	var out []Message
	off := startByte
	for off < len(logBuf) {
		db, err := decodeBatchHeader(logBuf, off)
		if err != nil {
			return nil, err
		}
		if db.baseOffset > toOffset {
			break
		}
		if db.lastOffset() >= fromOffset {
			msgs, err := db.decodeMessages(logBuf)
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				if m.Offset >= fromOffset && m.Offset <= toOffset {
					out = append(out, m)
				}
			}
		}
		off += db.totalFrameLen
	}
	return out, nil
}

// ReadByTimestamp binary searches the time index, then scans the
// preceding batch, for the first offset whose timestamp is >= ts
// (spec.md §4.2).
func (s *Segment) ReadByTimestamp(ts uint64) (uint64, bool) {
	i, ok := ceilByTimestamp(s.timeIndex, ts)
	if !ok {
		i = len(s.timeIndex)
	}
	// Only each batch's first timestamp is indexed, so a match may sit
	// inside the batch before entry i.
	if i > 0 {
		msgs, _ := s.ReadRange(s.StartOffset+uint64(s.timeIndex[i-1].RelativeOffset), s.EndOffset)
		for _, m := range msgs {
			if m.Timestamp >= ts {
				return m.Offset, true
			}
		}
	}
	if !ok {
		return 0, false
	}
	return s.StartOffset + uint64(s.timeIndex[i].RelativeOffset), true
}

// Close flushes buffered writes and marks the segment Closed. Per
// spec.md §4.2 it may optionally rename to a sealed name; this
// implementation keeps the zero-padded start-offset name for both states
// since the name already encodes the immutable start offset.
func (s *Segment) Close() error {
	if s.State == Closed {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	s.State = Closed
	return nil
}

// Delete closes (if needed) and removes the segment's three files from
// disk, used by purge and retention.
func (s *Segment) Delete() error {
	_ = s.log.Close()
	_ = s.offsetFile.Close()
	_ = s.timeFile.Close()
	for _, p := range []string{
		LogPath(s.Dir, s.StartOffset),
		OffsetIndexPath(s.Dir, s.StartOffset),
		TimeIndexPath(s.Dir, s.StartOffset),
		CompactionMarkerPath(s.Dir, s.StartOffset),
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ierr.IO(ierr.CodePersisterFailed, "delete segment file", err)
		}
	}
	return nil
}

func (s *Segment) readLogBytes() ([]byte, error) {
	buf, err := io.ReadAll(io.NewSectionReader(s.log.File(), 0, int64(s.SizeBytes)))
	if err != nil {
		return nil, ierr.IO(ierr.CodeCorruptFile, "read log", err)
	}
	return buf, nil
}

// NewestTimestamp returns the timestamp of the last appended batch, used
// by retention to decide whether a closed segment has aged out
// (spec.md §4.3).
func (s *Segment) NewestTimestamp() (uint64, bool) {
	if len(s.timeIndex) == 0 {
		return 0, false
	}
	return s.timeIndex[len(s.timeIndex)-1].Timestamp, true
}
