package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/logging"
)

func pending(payload string) PendingMessage {
	return PendingMessage{Payload: []byte(payload)}
}

func newTestPartition(t *testing.T, maxSegmentBytes uint32) *Partition {
	t.Helper()
	dir := t.TempDir()
	return New(1, 1, 1, dir, Config{MaxSegmentBytes: maxSegmentBytes, UnsavedBufferBytes: 1 << 20}, logging.Nop())
}

func TestAppendAssignsDenseMonotonicOffsets(t *testing.T) {
	p := newTestPartition(t, 1<<20)

	offsets, err := p.Append([]PendingMessage{pending("a"), pending("b"), pending("c")})
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, offsets)

	offsets, err = p.Append([]PendingMessage{pending("d")})
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, offsets)

	require.Equal(t, Active, p.State())
}

func TestConsumeFirstLastOffsetAndNext(t *testing.T) {
	p := newTestPartition(t, 1<<20)
	_, err := p.Append([]PendingMessage{pending("a"), pending("b"), pending("c")})
	require.NoError(t, err)

	got, err := p.Consume(First(), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = p.Consume(Last(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].Offset)

	got, err = p.Consume(AtOffset(1), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", string(got[0].Payload))

	key := Direct(42)
	got, err = p.Consume(Next(key), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	p.StoreConsumerOffset(key, got[1].Offset)
	off, ok := p.GetConsumerOffset(key)
	require.True(t, ok)
	require.Equal(t, uint64(1), off)

	got, err = p.Consume(Next(key), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].Offset)
}

func TestConsumeOnEmptyPartitionReturnsPartitionEmpty(t *testing.T) {
	p := newTestPartition(t, 1<<20)
	_, err := p.Consume(First(), 10)
	require.Error(t, err)
}

func TestSegmentRotationSpansReads(t *testing.T) {
	// A tiny max size forces rotation after nearly every message.
	p := newTestPartition(t, 64)

	var allOffsets []uint64
	for i := 0; i < 20; i++ {
		offs, err := p.Append([]PendingMessage{pending("payload")})
		require.NoError(t, err)
		allOffsets = append(allOffsets, offs...)
	}
	require.True(t, len(p.segments) > 1, "expected rotation to have produced multiple segments")

	got, err := p.Consume(AtOffset(0), 20)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i, m := range got {
		require.Equal(t, allOffsets[i], m.Offset)
	}
}

func TestPurgeResetsToEmpty(t *testing.T) {
	p := newTestPartition(t, 1<<20)
	_, err := p.Append([]PendingMessage{pending("a")})
	require.NoError(t, err)

	require.NoError(t, p.Purge())
	require.Equal(t, Empty, p.State())
	require.Equal(t, uint64(0), p.SizeBytes())
	require.Equal(t, uint64(0), p.MessageCount())

	_, err = p.Consume(First(), 1)
	require.Error(t, err)
}

func TestEnforceRetentionDeletesExpiredClosedSegments(t *testing.T) {
	p := newTestPartition(t, 1<<20)

	old := PendingMessage{Payload: []byte("old"), Timestamp: 1}
	_, err := p.Append([]PendingMessage{old})
	require.NoError(t, err)
	require.NoError(t, p.segments[len(p.segments)-1].Close())

	fresh := PendingMessage{Payload: []byte("fresh"), Timestamp: uint64(time.Now().UnixMicro())}
	_, err = p.Append([]PendingMessage{fresh})
	require.NoError(t, err)

	require.NoError(t, p.EnforceRetention(time.Now(), time.Microsecond, 0))
	require.Len(t, p.segments, 1)
	require.Equal(t, uint64(1), p.currentOffset)
}

// spec.md §8: sum(segment.size_bytes for segment in P.segments) ==
// P.size_bytes must hold after every Append, not just after a reload.
func TestAppendSizeBytesMatchesSegmentSizeBytes(t *testing.T) {
	p := newTestPartition(t, 1<<20)

	_, err := p.Append([]PendingMessage{pending("a"), pending("bb")})
	require.NoError(t, err)
	_, err = p.Append([]PendingMessage{pending("ccc")})
	require.NoError(t, err)

	var want uint64
	for _, s := range p.segments {
		want += uint64(s.SizeBytes)
	}
	require.Equal(t, want, p.SizeBytes())
}

func TestAppendRejectsEmptyBatch(t *testing.T) {
	p := newTestPartition(t, 1<<20)
	_, err := p.Append(nil)
	require.Error(t, err)
}

func TestOpenReconstructsFromDiskAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{MaxSegmentBytes: 1, UnsavedBufferBytes: 1 << 20}
	p := New(1, 1, 1, dir, cfg, logging.Nop())

	_, err := p.Append([]PendingMessage{pending("a")})
	require.NoError(t, err)
	_, err = p.Append([]PendingMessage{pending("b")})
	require.NoError(t, err)
	require.Greater(t, len(p.segments), 1)

	p.StoreConsumerOffset(Direct(9), 0)
	seeded := map[ConsumerKey]uint64{Direct(9): 0}

	reopened, err := Open(1, 1, 1, dir, cfg, seeded, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, Active, reopened.State())
	require.Equal(t, uint64(1), reopened.currentOffset)
	require.Len(t, reopened.segments, len(p.segments))

	msgs, err := reopened.Consume(First(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	off, ok := reopened.GetConsumerOffset(Direct(9))
	require.True(t, ok)
	require.Equal(t, uint64(0), off)
}

func TestOpenOnEmptyDirectoryYieldsEmptyPartition(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(1, 1, 1, dir, Config{MaxSegmentBytes: 1 << 20, UnsavedBufferBytes: 1 << 20}, nil, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, Empty, p.State())
}
