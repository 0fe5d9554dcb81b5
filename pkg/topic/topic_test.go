package topic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/logging"
)

func newTestTopic(t *testing.T, n int) *Topic {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{Dir: dir, SegmentMaxBytes: 1 << 20, UnsavedBufferBytes: 1 << 20}
	tp, err := New(1, 1, "t", Expiry{Never: true}, SizeLimit{Kind: SizeUnbounded},
		CompressionNone, 1, Balanced(), n, cfg, logging.Nop())
	require.NoError(t, err)
	return tp
}

func TestBalancedPartitioningRoundRobinsPerMessage(t *testing.T) {
	tp := newTestTopic(t, 2)

	assigned, err := tp.Append(Balanced(), []PendingAppend{
		{Payload: []byte("a")},
		{Payload: []byte("b")},
		{Payload: []byte("c")},
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 1}, []uint32{assigned[0].PartitionID, assigned[1].PartitionID, assigned[2].PartitionID})
}

func TestFixedAndMessageKeyPartitioning(t *testing.T) {
	tp := newTestTopic(t, 4)

	assigned, err := tp.Append(Fixed(3), []PendingAppend{{Payload: []byte("x")}})
	require.NoError(t, err)
	require.Equal(t, uint32(3), assigned[0].PartitionID)

	a1, err := tp.Append(ByMessageKey([]byte("same-key")), []PendingAppend{{Payload: []byte("y")}})
	require.NoError(t, err)
	a2, err := tp.Append(ByMessageKey([]byte("same-key")), []PendingAppend{{Payload: []byte("z")}})
	require.NoError(t, err)
	require.Equal(t, a1[0].PartitionID, a2[0].PartitionID)
}

func TestCreateAndDeletePartitionsRebalances(t *testing.T) {
	tp := newTestTopic(t, 2)
	g, err := tp.CreateConsumerGroup(1, "g")
	require.NoError(t, err)
	require.NoError(t, tp.JoinConsumerGroup(1, 10))

	require.NoError(t, tp.CreatePartitions(2))
	require.Equal(t, 4, tp.PartitionCount())
	require.Len(t, g.AssignmentsSnapshot(), 4)

	require.NoError(t, tp.DeletePartitions(1))
	require.Equal(t, 3, tp.PartitionCount())
	require.Len(t, g.AssignmentsSnapshot(), 3)

	err = tp.DeletePartitions(3)
	require.Error(t, err)
}

func TestConsumerGroupRebalanceSequenceMatchesDealingOrder(t *testing.T) {
	tp := newTestTopic(t, 4)
	_, err := tp.CreateConsumerGroup(1, "g")
	require.NoError(t, err)

	require.NoError(t, tp.JoinConsumerGroup(1, 100))
	g, _ := tp.ConsumerGroup(1)
	require.Equal(t, map[uint32]uint32{1: 100, 2: 100, 3: 100, 4: 100}, g.AssignmentsSnapshot())

	require.NoError(t, tp.JoinConsumerGroup(1, 200))
	require.Equal(t, map[uint32]uint32{1: 100, 3: 100, 2: 200, 4: 200}, g.AssignmentsSnapshot())

	require.NoError(t, tp.JoinConsumerGroup(1, 300))
	require.Equal(t, map[uint32]uint32{1: 100, 4: 100, 2: 200, 3: 300}, g.AssignmentsSnapshot())
}
