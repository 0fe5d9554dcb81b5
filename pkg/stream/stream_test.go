package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/topic"
)

func newTestTopic(t *testing.T, id uint32, dir string) *topic.Topic {
	t.Helper()
	cfg := topic.Config{Dir: dir, SegmentMaxBytes: 1 << 20, UnsavedBufferBytes: 1 << 20}
	tp, err := topic.New(id, 1, "t", topic.Expiry{Never: true}, topic.SizeLimit{Kind: topic.SizeUnbounded},
		topic.CompressionNone, 1, topic.Balanced(), 1, cfg, logging.Nop())
	require.NoError(t, err)
	return tp
}

func TestStreamDeleteCascadesToTopics(t *testing.T) {
	s := New(1, "s")
	dir := t.TempDir()
	tp := newTestTopic(t, 1, dir)
	require.NoError(t, s.AddTopic(tp))

	_, err := tp.Append(topic.Fixed(1), []topic.PendingAppend{{Payload: []byte("a")}})
	require.NoError(t, err)

	require.NoError(t, s.Delete())
	_, ok := s.Topic(1)
	require.False(t, ok)
}

func TestAddDuplicateTopicConflicts(t *testing.T) {
	s := New(1, "s")
	dir := t.TempDir()
	tp := newTestTopic(t, 1, dir)
	require.NoError(t, s.AddTopic(tp))
	require.Error(t, s.AddTopic(tp))
}
