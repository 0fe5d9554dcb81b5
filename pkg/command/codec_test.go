package command

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/segment"
	"github.com/driftline/driftline/pkg/topic"
)

func TestCreateStreamRequestRoundTrip(t *testing.T) {
	want := CreateStreamRequest{StreamID: 0, Name: "orders"}
	got, err := DecodeCreateStreamRequest(EncodeCreateStreamRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCreateTopicRequestRoundTrip(t *testing.T) {
	want := CreateTopicRequest{
		Stream:              ident.NewNumeric(1),
		TopicID:             0,
		Name:                "events",
		PartitionsCount:     3,
		MessageExpiryNever:  false,
		MessageExpiryMicros: 60_000_000,
		MaxTopicSizeKind:    topic.SizeBytes,
		MaxTopicSizeBytes:   1 << 20,
		Compression:         topic.CompressionGzip,
		ReplicationFactor:   1,
	}
	got, err := DecodeCreateTopicRequest(EncodeCreateTopicRequest(want))
	require.NoError(t, err)
	require.Equal(t, want.TopicID, got.TopicID)
	require.Equal(t, want.Name, got.Name)
	require.Equal(t, want.PartitionsCount, got.PartitionsCount)
	require.Equal(t, want.MessageExpiryMicros, got.MessageExpiryMicros)
	require.Equal(t, want.MaxTopicSizeBytes, got.MaxTopicSizeBytes)
	require.Equal(t, want.Compression, got.Compression)
}

func TestSendMessagesRequestRoundTrip(t *testing.T) {
	want := SendMessagesRequest{
		Stream:       ident.NewNumeric(1),
		Topic:        ident.NewNumeric(2),
		Partitioning: topic.ByMessageKey([]byte("key-1")),
		Messages: []MessageInput{
			{ID: segment.ID{1}, Headers: []byte("h"), Payload: []byte("payload-1")},
			{ID: segment.ID{2}, Headers: nil, Payload: []byte("payload-2")},
		},
	}
	got, err := DecodeSendMessagesRequest(EncodeSendMessagesRequest(want))
	require.NoError(t, err)
	require.Equal(t, want.Stream, got.Stream)
	require.Equal(t, want.Topic, got.Topic)
	require.Equal(t, want.Partitioning.Kind, got.Partitioning.Kind)
	require.Equal(t, want.Partitioning.Key, got.Partitioning.Key)
	require.Len(t, got.Messages, 2)
	require.Equal(t, want.Messages[0].Payload, got.Messages[0].Payload)
	require.Equal(t, want.Messages[1].Payload, got.Messages[1].Payload)
}

func TestPollMessagesRequestRoundTrip(t *testing.T) {
	want := PollMessagesRequest{
		Stream:      ident.NewNumeric(1),
		Topic:       ident.NewNumeric(2),
		PartitionID: 1,
		Strategy:    partition.Next(partition.Direct(9)),
		Count:       10,
		AutoCommit:  true,
	}
	got, err := DecodePollMessagesRequest(EncodePollMessagesRequest(want))
	require.NoError(t, err)
	require.Equal(t, want.PartitionID, got.PartitionID)
	require.Equal(t, want.Strategy.Kind, got.Strategy.Kind)
	require.Equal(t, want.Strategy.Consumer, got.Strategy.Consumer)
	require.Equal(t, want.Count, got.Count)
	require.True(t, got.AutoCommit)
}

func TestPollMessagesResponseRoundTrip(t *testing.T) {
	msg := segment.Message{Offset: 5, State: segment.Available, Timestamp: 100, Payload: []byte("hi")}
	msg.ComputeChecksum()
	want := PollMessagesResponse{Messages: []segment.Message{msg}}

	got, err := DecodePollMessagesResponse(EncodePollMessagesResponse(want))
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, msg.Offset, got.Messages[0].Offset)
	require.Equal(t, msg.Payload, got.Messages[0].Payload)
	require.Equal(t, msg.Checksum, got.Messages[0].Checksum)
}

func TestStoreAndGetConsumerOffsetRoundTrip(t *testing.T) {
	store := StoreConsumerOffsetRequest{
		Stream:      ident.NewNumeric(1),
		Topic:       ident.NewNumeric(2),
		PartitionID: 3,
		Consumer:    partition.Group(7),
		Offset:      42,
	}
	gotStore, err := DecodeStoreConsumerOffsetRequest(EncodeStoreConsumerOffsetRequest(store))
	require.NoError(t, err)
	require.Equal(t, store, gotStore)

	resp := GetConsumerOffsetResponse{Found: true, Offset: 42}
	gotResp, err := DecodeGetConsumerOffsetResponse(EncodeGetConsumerOffsetResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}

func TestConsumerGroupRequestsRoundTrip(t *testing.T) {
	create := CreateConsumerGroupRequest{Stream: ident.NewNumeric(1), Topic: ident.NewNumeric(2), GroupID: 0, Name: "workers"}
	gotCreate, err := DecodeCreateConsumerGroupRequest(EncodeCreateConsumerGroupRequest(create))
	require.NoError(t, err)
	require.Equal(t, create, gotCreate)

	join := ConsumerGroupMemberRequest{Stream: ident.NewNumeric(1), Topic: ident.NewNumeric(2), GroupID: 5, MemberID: 9}
	gotJoin, err := DecodeConsumerGroupMemberRequest(EncodeConsumerGroupMemberRequest(join))
	require.NoError(t, err)
	require.Equal(t, join, gotJoin)
}

func TestLoginUserRequestRoundTrip(t *testing.T) {
	want := LoginUserRequest{Username: "root", Password: "hunter2"}
	got, err := DecodeLoginUserRequest(EncodeLoginUserRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUpdateStreamRequestRoundTrip(t *testing.T) {
	want := UpdateStreamRequest{Stream: ident.NewNumeric(3), NewName: "renamed"}
	got, err := DecodeUpdateStreamRequest(EncodeUpdateStreamRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUpdateTopicRequestRoundTrip(t *testing.T) {
	want := UpdateTopicRequest{Stream: ident.NewNumeric(1), Topic: ident.NewNumeric(2), NewName: "renamed"}
	got, err := DecodeUpdateTopicRequest(EncodeUpdateTopicRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUpdatePermissionsRequestRoundTrip(t *testing.T) {
	want := UpdatePermissionsRequest{
		TargetUserID: 7,
		IsRoot:       false,
		Grants: []permission.Grant{
			{Action: permission.AppendMessages, Scope: permission.OnTopic(1, 2)},
			{Action: permission.ManageStreams, Scope: permission.OnStream(1)},
			{Action: permission.ReadServer, Scope: permission.Global()},
		},
	}
	got, err := DecodeUpdatePermissionsRequest(EncodeUpdatePermissionsRequest(want))
	require.NoError(t, err)
	require.Equal(t, want.TargetUserID, got.TargetUserID)
	require.Equal(t, want.IsRoot, got.IsRoot)
	require.ElementsMatch(t, want.Grants, got.Grants)
}

func TestFlushUnsavedBufferRequestRoundTrip(t *testing.T) {
	want := FlushUnsavedBufferRequest{Stream: ident.NewNumeric(1), Topic: ident.NewNumeric(2), PartitionID: 3}
	got, err := DecodeFlushUnsavedBufferRequest(EncodeFlushUnsavedBufferRequest(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCodeRequiresAuth(t *testing.T) {
	require.False(t, Ping.RequiresAuth())
	require.False(t, LoginUser.RequiresAuth())
	require.True(t, SendMessages.RequiresAuth())
}
