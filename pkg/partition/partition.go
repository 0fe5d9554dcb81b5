// Package partition implements spec.md §4.3: dense monotonic offset
// assignment, segment rotation, consumer-offset tracking, purge and
// retention, behind a single-writer/shared-reader gate per partition.
package partition

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/ringbuf"
	"github.com/driftline/driftline/pkg/segment"
)

// LifecycleState is a partition's Empty/Active state machine (spec.md
// §4.3). A partition starts Empty (no segments yet) and becomes Active
// on its first Append.
type LifecycleState uint8

const (
	Empty LifecycleState = iota
	Active
)

// Partition owns an ordered sequence of segments plus the consumer
// offsets recorded against it. The zero value is not usable; build one
// with New or Open.
type Partition struct {
	ID       uint32
	TopicID  uint32
	StreamID uint32
	Dir      string

	maxSegmentBytes uint32
	enforceFsync    bool

	mu sync.RWMutex

	state         LifecycleState
	segments      []*segment.Segment // ordered by StartOffset, last is the open one
	hasMessages   bool
	currentOffset uint64
	sizeBytes     uint64
	messageCount  uint64
	unavailable   bool

	consumerOffsets map[ConsumerKey]uint64
	unsaved         *ringbuf.Buffer[segment.Message]

	logger *logging.Logger
}

// unsavedMessageWeight estimates a Message's in-memory footprint for
// bounding the unsaved ring buffer (an approximation is fine here: it
// only caps how much un-flushed data the process holds, unlike
// p.sizeBytes which must track real on-disk bytes exactly).
func unsavedMessageWeight(m segment.Message) int { return len(m.Payload) + len(m.Headers) + 64 }

// Config bundles the tunables New needs beyond identity.
type Config struct {
	MaxSegmentBytes uint32
	EnforceFsync    bool
	UnsavedBufferBytes int
}

// New creates a brand-new, Empty partition. No segment is created until
// the first Append (spec.md §4.3 state machine).
func New(id, topicID, streamID uint32, dir string, cfg Config, lg *logging.Logger) *Partition {
	return &Partition{
		ID:              id,
		TopicID:         topicID,
		StreamID:        streamID,
		Dir:             dir,
		maxSegmentBytes: cfg.MaxSegmentBytes,
		enforceFsync:    cfg.EnforceFsync,
		state:           Empty,
		currentOffset:   0,
		consumerOffsets: make(map[ConsumerKey]uint64),
		unsaved:         ringbuf.New(cfg.UnsavedBufferBytes, unsavedMessageWeight),
		logger:          lg,
	}
}

// Open reconstructs a partition from its on-disk segment files (spec.md
// §9 startup reconciliation: "disk is the source of truth for message
// data"). Segments are loaded in ascending start-offset order with every
// one but the last marked Closed, matching spec.md §4.3's invariant that
// exactly one segment — the last — is open. A directory with no segment
// files yet yields an Empty partition, identical to New.
func Open(id, topicID, streamID uint32, dir string, cfg Config, consumerOffsets map[ConsumerKey]uint64, lg *logging.Logger) (*Partition, error) {
	p := New(id, topicID, streamID, dir, cfg, lg)
	if consumerOffsets != nil {
		p.consumerOffsets = consumerOffsets
	}

	starts, err := listSegmentStarts(dir)
	if err != nil {
		return nil, err
	}
	for i, start := range starts {
		closed := i != len(starts)-1
		s, err := segment.Load(dir, start, cfg.MaxSegmentBytes, closed, lg)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, s)
		p.sizeBytes += uint64(s.SizeBytes)
		p.messageCount += uint64(s.MessageCount)
	}
	if len(p.segments) > 0 {
		p.state = Active
		last := p.segments[len(p.segments)-1]
		if !last.IsEmpty() {
			p.hasMessages = true
			p.currentOffset = last.EndOffset
		}
	}
	return p, nil
}

// listSegmentStarts returns every segment start offset present in dir
// (derived from its zero-padded-20-digit *.log files), ascending.
func listSegmentStarts(dir string) ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, ierr.IO(ierr.CodePersisterFailed, "list segment files", err)
	}
	starts := make([]uint64, 0, len(matches))
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".log")
		start, err := strconv.ParseUint(stem, 10, 64)
		if err != nil {
			continue
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts, nil
}

// Append assigns dense monotonic offsets to messages, writes them to the
// open segment (creating one if the partition is Empty), rotates the
// segment if it has grown past maxSegmentBytes, and returns the
// assigned offsets. The whole operation is a single critical section:
// it either completes and commits the new CurrentOffset, or fails and
// leaves the partition's externally visible state untouched (spec.md
// §5 "cancellation-safe append").
func (p *Partition) Append(messages []PendingMessage) ([]uint64, error) {
	if len(messages) == 0 {
		return nil, ierr.Validation("append requires at least one message")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unavailable {
		return nil, ierr.State(ierr.CodePartitionUnavailable, "partition is unavailable")
	}

	base := uint64(0)
	if p.hasMessages {
		base = p.currentOffset + 1
	}

	now := uint64(time.Now().UnixMicro())
	stamped := make([]segment.Message, len(messages))
	offsets := make([]uint64, len(messages))
	for i, m := range messages {
		off := base + uint64(i)
		ts := m.Timestamp
		if ts == 0 {
			ts = now
		}
		sm := segment.Message{
			Offset:    off,
			State:     segment.Available,
			Timestamp: ts,
			ID:        m.ID,
			Headers:   m.Headers,
			Payload:   m.Payload,
		}
		sm.ComputeChecksum()
		stamped[i] = sm
		offsets[i] = off
	}

	seg, err := p.openSegment(base)
	if err != nil {
		p.unavailable = true
		return nil, err
	}

	sizeBefore := seg.SizeBytes
	if err := seg.AppendBatch(stamped); err != nil {
		p.unavailable = true
		return nil, err
	}
	if p.enforceFsync {
		if err := seg.Flush(); err != nil {
			p.unavailable = true
			return nil, err
		}
	}

	for _, m := range stamped {
		p.unsaved.Push(m)
	}

	p.hasMessages = true
	p.currentOffset = stamped[len(stamped)-1].Offset
	p.sizeBytes += uint64(seg.SizeBytes - sizeBefore)
	p.messageCount += uint64(len(stamped))
	p.state = Active

	if seg.SizeBytes >= p.maxSegmentBytes {
		if err := seg.Close(); err != nil {
			p.unavailable = true
			return nil, err
		}
	}

	return offsets, nil
}

// openSegment returns the current open segment, creating the partition's
// first one at nextOffset if none exists yet, or rotating to a new one
// if the last segment has been closed by a prior rotation.
func (p *Partition) openSegment(nextOffset uint64) (*segment.Segment, error) {
	if len(p.segments) == 0 {
		s, err := segment.New(p.Dir, nextOffset, p.maxSegmentBytes, p.logger)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, s)
		return s, nil
	}
	last := p.segments[len(p.segments)-1]
	if last.State == segment.Closed {
		s, err := segment.New(p.Dir, nextOffset, p.maxSegmentBytes, p.logger)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, s)
		return s, nil
	}
	return last, nil
}

// Consume resolves strategy to a starting offset and returns up to
// maxCount messages from that point onward (spec.md §4.3).
func (p *Partition) Consume(strategy ConsumeStrategy, maxCount int) ([]segment.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.state == Empty {
		return nil, ierr.State(ierr.CodePartitionEmpty, "partition has no messages")
	}

	from, ok, err := p.resolveStart(strategy)
	if err != nil {
		return nil, err
	}
	if !ok || from > p.currentOffset {
		return nil, nil
	}

	to := from + uint64(maxCount) - 1
	if maxCount <= 0 || to > p.currentOffset {
		to = p.currentOffset
	}

	if msgs := p.serveFromBuffer(from, to); msgs != nil {
		return msgs, nil
	}

	idx := p.segmentIndexFor(from)
	if idx < 0 {
		return nil, ierr.State(ierr.CodeOffsetOutOfRange, "offset out of partition range")
	}

	var out []segment.Message
	for i := idx; i < len(p.segments) && uint64(len(out)) < to-from+1; i++ {
		seg := p.segments[i]
		segFrom := from
		if segFrom < seg.StartOffset {
			segFrom = seg.StartOffset
		}
		segTo := to
		if segTo > seg.EndOffset {
			segTo = seg.EndOffset
		}
		if segFrom > segTo {
			continue
		}
		msgs, err := seg.ReadRange(segFrom, segTo)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// resolveStart maps a ConsumeStrategy to a concrete starting offset.
func (p *Partition) resolveStart(strategy ConsumeStrategy) (uint64, bool, error) {
	switch strategy.Kind {
	case StrategyOffset:
		return strategy.Offset, true, nil
	case StrategyFirst:
		if len(p.segments) == 0 {
			return 0, false, nil
		}
		return p.segments[0].StartOffset, true, nil
	case StrategyLast:
		if !p.hasMessages {
			return 0, false, nil
		}
		return p.currentOffset, true, nil
	case StrategyNext:
		off, ok := p.consumerOffsets[strategy.Consumer]
		if !ok {
			if len(p.segments) == 0 {
				return 0, false, nil
			}
			return p.segments[0].StartOffset, true, nil
		}
		return off + 1, true, nil
	case StrategyTimestamp:
		for _, seg := range p.segments {
			if off, ok := seg.ReadByTimestamp(strategy.Ts); ok {
				return off, true, nil
			}
		}
		return 0, false, nil
	default:
		return 0, false, ierr.Protocol(ierr.CodeMalformedFrame, "unknown consume strategy")
	}
}

// serveFromBuffer answers a [from,to] read directly out of the unsaved
// buffer when the whole range is covered by it, sparing a file read for
// the common tailing-consumer case (spec.md §9 eviction design note).
func (p *Partition) serveFromBuffer(from, to uint64) []segment.Message {
	items := p.unsaved.Items()
	if len(items) == 0 || items[0].Offset > from {
		return nil
	}
	var out []segment.Message
	for _, m := range items {
		if m.Offset >= from && m.Offset <= to {
			out = append(out, m)
		}
	}
	return out
}

// segmentIndexFor binary searches for the segment whose range may
// contain offset: the last segment with StartOffset <= offset.
func (p *Partition) segmentIndexFor(offset uint64) int {
	i := sort.Search(len(p.segments), func(i int) bool {
		return p.segments[i].StartOffset > offset
	})
	if i == 0 {
		return -1
	}
	return i - 1
}

// StoreConsumerOffset records the last-consumed offset for key.
func (p *Partition) StoreConsumerOffset(key ConsumerKey, offset uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumerOffsets[key] = offset
}

// GetConsumerOffset returns the last stored offset for key, if any.
func (p *Partition) GetConsumerOffset(key ConsumerKey) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	off, ok := p.consumerOffsets[key]
	return off, ok
}

// DeleteConsumerOffset removes a stored consumer offset entirely (as
// opposed to StoreConsumerOffset(key, 0), which records an explicit
// offset of zero).
func (p *Partition) DeleteConsumerOffset(key ConsumerKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumerOffsets, key)
}

// ConsumerOffsetsSnapshot returns a copy of every stored consumer offset,
// for the background flush task (SPEC_FULL.md §4.3/§9) to persist to
// disk under this partition's consumer_offsets/ directory.
func (p *Partition) ConsumerOffsetsSnapshot() map[ConsumerKey]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[ConsumerKey]uint64, len(p.consumerOffsets))
	for k, v := range p.consumerOffsets {
		out[k] = v
	}
	return out
}

// Flush fsyncs the partition's currently open segment on demand,
// regardless of enforce_fsync (spec.md §6's FlushUnsavedBuffer command):
// Append already fsyncs unconditionally when enforce_fsync is set, so
// this only matters when that config is off and a caller wants a
// synchronous durability point anyway. A no-op on an Empty partition.
func (p *Partition) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.segments) == 0 {
		return nil
	}
	return p.segments[len(p.segments)-1].Flush()
}

// SizeBytes, MessageCount, CurrentOffset and State report the
// partition's current counters under the shared guard.
func (p *Partition) SizeBytes() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizeBytes
}

func (p *Partition) MessageCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messageCount
}

func (p *Partition) State() LifecycleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Purge deletes every segment and resets the partition back to Empty,
// as spec.md §4.3 describes for the Purge operation.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.segments {
		if err := s.Delete(); err != nil {
			return err
		}
	}
	p.segments = nil
	p.hasMessages = false
	p.currentOffset = 0
	p.sizeBytes = 0
	p.messageCount = 0
	p.state = Empty
	p.consumerOffsets = make(map[ConsumerKey]uint64)
	p.unsaved.Reset()
	return nil
}

// EnforceRetention deletes Closed segments that have either aged past
// messageExpiry or whose removal is needed to bring the partition back
// under maxTotalBytes, oldest-first. The open segment is never touched
// (spec.md §4.3).
func (p *Partition) EnforceRetention(now time.Time, messageExpiry time.Duration, maxTotalBytes uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	nowMicros := uint64(now.UnixMicro())
	for len(p.segments) > 0 {
		oldest := p.segments[0]
		if oldest.State != segment.Closed {
			break
		}

		expired := false
		if messageExpiry > 0 {
			if ts, ok := oldest.NewestTimestamp(); ok {
				expired = nowMicros-ts >= uint64(messageExpiry.Microseconds())
			}
		}
		oversized := maxTotalBytes > 0 && p.sizeBytes > maxTotalBytes

		if !expired && !oversized {
			break
		}

		freed := uint64(oldest.SizeBytes)
		if err := oldest.Delete(); err != nil {
			return err
		}
		p.segments = p.segments[1:]
		if freed > p.sizeBytes {
			freed = p.sizeBytes
		}
		p.sizeBytes -= freed
	}
	return nil
}

// CompactAgedSegments re-encodes every Closed segment whose newest
// message is older than minAge with codec, then reloads it so in-memory
// state reflects the compacted file (SPEC_FULL.md §4.2 sealed-segment
// compactor). The open segment, if any, is never touched.
func (p *Partition) CompactAgedSegments(codec config.CompactionCodec, minAge time.Duration, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	nowMicros := uint64(now.UnixMicro())
	for i, s := range p.segments {
		if s.State != segment.Closed {
			continue
		}
		ts, ok := s.NewestTimestamp()
		if !ok || nowMicros-ts < uint64(minAge.Microseconds()) {
			continue
		}
		if err := s.Compact(codec); err != nil {
			return err
		}
		reloaded, err := segment.Load(p.Dir, s.StartOffset, p.maxSegmentBytes, true, p.logger)
		if err != nil {
			return err
		}
		p.segments[i] = reloaded
	}
	return nil
}
