package system

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/topic"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RootUsername = "root"
	cfg.RootPassword = "rootpass"
	return cfg
}

func openTestSystem(t *testing.T, cfg config.Config) *System {
	t.Helper()
	sys, err := Open(cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown() })
	return sys
}

func TestOpenBootstrapsRootUser(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)

	users, err := sys.GetUsers(1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "root", users[0].Username)
	require.True(t, users[0].IsRoot)
}

func TestCreateStreamTopicSendPollRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)

	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:            ident.NewNumeric(s.ID),
		Name:                "events",
		PartitionsCount:     1,
		MessageExpiry:       topic.Expiry{Never: true},
		MaxTopicSize:        topic.SizeLimit{Kind: topic.SizeUnbounded},
		DefaultPartitioning: topic.Balanced(),
	})
	require.NoError(t, err)

	assigned, err := sys.SendMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
		{Payload: []byte("hello")},
		{Payload: []byte("world")},
	})
	require.NoError(t, err)
	require.Len(t, assigned, 2)
	require.Equal(t, uint64(0), assigned[0].Offset)
	require.Equal(t, uint64(1), assigned[1].Offset)

	msgs, err := sys.PollMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), 1, 0, 42, partition.First(), 10, true)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("hello"), msgs[0].Payload)
	require.Equal(t, []byte("world"), msgs[1].Payload)

	offset, found, err := sys.GetConsumerOffset(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), 1, partition.Direct(42))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), offset)
}

func TestUnauthorizedAppendIsRejectedAndLeavesNoOffsetChange(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)
	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:        ident.NewNumeric(s.ID),
		Name:            "events",
		PartitionsCount: 1,
		MessageExpiry:   topic.Expiry{Never: true},
		MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
	})
	require.NoError(t, err)

	outsider, err := sys.CreateUser(root, "outsider", "pw", false)
	require.NoError(t, err)

	_, err = sys.SendMessages(outsider.ID, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
		{Payload: []byte("nope")},
	})
	require.Error(t, err)
	ierrErr, ok := err.(*ierr.Error)
	require.True(t, ok)
	require.Equal(t, ierr.KindUnauthorized, ierrErr.Kind)

	p := tp.Partition(1)
	require.NotNil(t, p)
	require.Equal(t, uint64(0), p.MessageCount())
}

func TestReopenReplaysStateLogAndReconcilesDisk(t *testing.T) {
	cfg := testConfig(t)
	const root = uint32(1)

	func() {
		sys, err := Open(cfg, logging.Nop())
		require.NoError(t, err)
		defer sys.Shutdown()

		s, err := sys.CreateStream(root, 0, "orders")
		require.NoError(t, err)
		tp, err := sys.CreateTopic(root, CreateTopicParams{
			StreamID:        ident.NewNumeric(s.ID),
			Name:            "events",
			PartitionsCount: 2,
			MessageExpiry:   topic.Expiry{Never: true},
			MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
		})
		require.NoError(t, err)
		_, err = sys.SendMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
			{Payload: []byte("persisted")},
		})
		require.NoError(t, err)
	}()

	sys2, err := Open(cfg, logging.Nop())
	require.NoError(t, err)
	defer sys2.Shutdown()

	streams, err := sys2.GetStreams(root)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Equal(t, "orders", streams[0].Name)

	topics, err := sys2.GetTopics(root, ident.NewNumeric(streams[0].ID))
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, 2, topics[0].PartitionCount())

	msgs, err := sys2.PollMessages(root, ident.NewNumeric(streams[0].ID), ident.NewNumeric(topics[0].ID), 1, 0, 1, partition.First(), 10, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("persisted"), msgs[0].Payload)
}

func TestConsumerGroupJoinLeaveAndConsume(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)
	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:        ident.NewNumeric(s.ID),
		Name:            "events",
		PartitionsCount: 2,
		MessageExpiry:   topic.Expiry{Never: true},
		MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
	})
	require.NoError(t, err)

	g, err := sys.CreateConsumerGroup(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), 0, "workers")
	require.NoError(t, err)

	require.NoError(t, sys.JoinConsumerGroup(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), g.ID, 7))

	_, err = sys.SendMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Balanced(), []topic.PendingAppend{
		{Payload: []byte("a")},
		{Payload: []byte("b")},
	})
	require.NoError(t, err)

	msgs, err := sys.PollMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), 0, g.ID, 7, partition.First(), 10, false)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	require.NoError(t, sys.LeaveConsumerGroup(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), g.ID, 7))
}

func TestPersonalAccessTokenLogin(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	token, err := sys.CreatePersonalAccessToken(root, "ci", nil)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	conn := sys.Sessions.Create("127.0.0.1:1")
	userID, err := sys.LoginWithPersonalAccessToken(conn.ClientID, token)
	require.NoError(t, err)
	require.Equal(t, root, userID)

	require.NoError(t, sys.DeletePersonalAccessToken(root, "ci"))
	_, err = sys.LoginWithPersonalAccessToken(conn.ClientID, token)
	require.Error(t, err)
}

func TestUpdateStreamAndTopicRename(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)
	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:        ident.NewNumeric(s.ID),
		Name:            "events",
		PartitionsCount: 1,
		MessageExpiry:   topic.Expiry{Never: true},
		MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
	})
	require.NoError(t, err)

	require.NoError(t, sys.UpdateStream(root, ident.NewNumeric(s.ID), "renamed-orders"))
	got, err := sys.GetStream(root, ident.NewNumeric(s.ID))
	require.NoError(t, err)
	require.Equal(t, "renamed-orders", got.Name)

	require.NoError(t, sys.UpdateTopic(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), "renamed-events"))
	gotTopic, err := sys.GetTopic(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID))
	require.NoError(t, err)
	require.Equal(t, "renamed-events", gotTopic.Name)
}

func TestUpdatePermissionsGrantsAccessToOutsider(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)
	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:        ident.NewNumeric(s.ID),
		Name:            "events",
		PartitionsCount: 1,
		MessageExpiry:   topic.Expiry{Never: true},
		MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
	})
	require.NoError(t, err)

	outsider, err := sys.CreateUser(root, "outsider", "pw", false)
	require.NoError(t, err)

	_, err = sys.SendMessages(outsider.ID, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
		{Payload: []byte("nope")},
	})
	require.Error(t, err)

	set := permission.NewSet()
	set.Grant(permission.AppendMessages, permission.OnTopic(s.ID, tp.ID))
	require.NoError(t, sys.UpdatePermissions(root, outsider.ID, set))

	_, err = sys.SendMessages(outsider.ID, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
		{Payload: []byte("now allowed")},
	})
	require.NoError(t, err)
}

func TestFlushUnsavedBufferFsyncsOpenSegment(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	s, err := sys.CreateStream(root, 0, "orders")
	require.NoError(t, err)
	tp, err := sys.CreateTopic(root, CreateTopicParams{
		StreamID:        ident.NewNumeric(s.ID),
		Name:            "events",
		PartitionsCount: 1,
		MessageExpiry:   topic.Expiry{Never: true},
		MaxTopicSize:    topic.SizeLimit{Kind: topic.SizeUnbounded},
	})
	require.NoError(t, err)

	_, err = sys.SendMessages(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), topic.Fixed(1), []topic.PendingAppend{
		{Payload: []byte("hello")},
	})
	require.NoError(t, err)

	require.NoError(t, sys.FlushUnsavedBuffer(root, ident.NewNumeric(s.ID), ident.NewNumeric(tp.ID), 1))
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	cfg := testConfig(t)
	sys := openTestSystem(t, cfg)
	const root = uint32(1)

	err := sys.ChangePassword(root, "wrong-password", "newpass")
	require.Error(t, err)

	require.NoError(t, sys.ChangePassword(root, cfg.RootPassword, "newpass"))
	conn := sys.Sessions.Create("127.0.0.1:2")
	userID, err := sys.LoginUser(conn.ClientID, "root", "newpass")
	require.NoError(t, err)
	require.Equal(t, root, userID)
}
