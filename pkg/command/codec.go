package command

import (
	"encoding/binary"

	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/segment"
	"github.com/driftline/driftline/pkg/topic"
	"github.com/driftline/driftline/pkg/wire"
)

// --- primitive helpers --------------------------------------------------
//
// Payload fields use u32-length-prefixed strings/bytes (distinct from the
// u8-length identifier encoding in pkg/wire, which bounds names to 255
// bytes specifically). All integers are little-endian per spec.md §6.

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putBytes(buf []byte, v []byte) []byte {
	buf = putU32(buf, uint32(len(v)))
	return append(buf, v...)
}

func putString(buf []byte, v string) []byte {
	return putBytes(buf, []byte(v))
}

func getU32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated u32 field")
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), off + 4, nil
}

func getU64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated u64 field")
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), off + 8, nil
}

func getBytes(buf []byte, off int) ([]byte, int, error) {
	length, off, err := getU32(buf, off)
	if err != nil {
		return nil, off, err
	}
	if off+int(length) > len(buf) {
		return nil, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated bytes field")
	}
	return buf[off : off+int(length)], off + int(length), nil
}

func getString(buf []byte, off int) (string, int, error) {
	b, off, err := getBytes(buf, off)
	return string(b), off, err
}

// --- ConsumerKey ---------------------------------------------------------

func putConsumerKey(buf []byte, k partition.ConsumerKey) []byte {
	buf = append(buf, byte(k.Kind))
	return putU32(buf, k.ID)
}

func getConsumerKey(buf []byte, off int) (partition.ConsumerKey, int, error) {
	if off+1 > len(buf) {
		return partition.ConsumerKey{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated consumer key")
	}
	kind := partition.ConsumerKeyKind(buf[off])
	id, off, err := getU32(buf, off+1)
	if err != nil {
		return partition.ConsumerKey{}, off, err
	}
	return partition.ConsumerKey{Kind: kind, ID: id}, off, nil
}

// --- ConsumeStrategy ------------------------------------------------------

func putConsumeStrategy(buf []byte, s partition.ConsumeStrategy) []byte {
	buf = append(buf, byte(s.Kind))
	switch s.Kind {
	case partition.StrategyOffset:
		buf = putU64(buf, s.Offset)
	case partition.StrategyTimestamp:
		buf = putU64(buf, s.Ts)
	case partition.StrategyNext:
		buf = putConsumerKey(buf, s.Consumer)
	}
	return buf
}

func getConsumeStrategy(buf []byte, off int) (partition.ConsumeStrategy, int, error) {
	if off+1 > len(buf) {
		return partition.ConsumeStrategy{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated strategy")
	}
	kind := partition.ConsumeStrategyKind(buf[off])
	off++
	switch kind {
	case partition.StrategyOffset:
		o, off, err := getU64(buf, off)
		return partition.AtOffset(o), off, err
	case partition.StrategyTimestamp:
		ts, off, err := getU64(buf, off)
		return partition.AtTimestamp(ts), off, err
	case partition.StrategyFirst:
		return partition.First(), off, nil
	case partition.StrategyLast:
		return partition.Last(), off, nil
	case partition.StrategyNext:
		k, off, err := getConsumerKey(buf, off)
		return partition.Next(k), off, err
	default:
		return partition.ConsumeStrategy{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "unknown strategy kind")
	}
}

// --- Partitioning ---------------------------------------------------------

func putPartitioning(buf []byte, p topic.Partitioning) []byte {
	buf = append(buf, byte(p.Kind))
	switch p.Kind {
	case topic.PartitioningFixed:
		buf = putU32(buf, p.PartitionID)
	case topic.PartitioningMessageKey:
		buf = putBytes(buf, p.Key)
	}
	return buf
}

func getPartitioning(buf []byte, off int) (topic.Partitioning, int, error) {
	if off+1 > len(buf) {
		return topic.Partitioning{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated partitioning")
	}
	kind := topic.PartitioningKind(buf[off])
	off++
	switch kind {
	case topic.PartitioningBalanced:
		return topic.Balanced(), off, nil
	case topic.PartitioningFixed:
		id, off, err := getU32(buf, off)
		return topic.Fixed(id), off, err
	case topic.PartitioningMessageKey:
		key, off, err := getBytes(buf, off)
		return topic.ByMessageKey(append([]byte(nil), key...)), off, err
	default:
		return topic.Partitioning{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "unknown partitioning kind")
	}
}

// --- Identifier (via pkg/wire) --------------------------------------------

func putIdentifier(buf []byte, id ident.Identifier) []byte {
	return wire.EncodeIdentifier(buf, id)
}

func getIdentifier(buf []byte, off int) (ident.Identifier, int, error) {
	return wire.DecodeIdentifier(buf, off)
}

// --- Ping ------------------------------------------------------------------

// PingRequest carries no payload.

// --- Streams ----------------------------------------------------------------

// CreateStreamRequest is CreateStream's payload. StreamID of 0 means
// "assign the next available ID".
type CreateStreamRequest struct {
	StreamID uint32
	Name     string
}

func EncodeCreateStreamRequest(r CreateStreamRequest) []byte {
	buf := putU32(nil, r.StreamID)
	return putString(buf, r.Name)
}

func DecodeCreateStreamRequest(buf []byte) (CreateStreamRequest, error) {
	id, off, err := getU32(buf, 0)
	if err != nil {
		return CreateStreamRequest{}, err
	}
	name, _, err := getString(buf, off)
	if err != nil {
		return CreateStreamRequest{}, err
	}
	return CreateStreamRequest{StreamID: id, Name: name}, nil
}

// StreamIDRequest addresses a stream by Identifier; shared by
// GetStream/DeleteStream/PurgeStream.
type StreamIDRequest struct {
	Stream ident.Identifier
}

func EncodeStreamIDRequest(r StreamIDRequest) []byte {
	return putIdentifier(nil, r.Stream)
}

func DecodeStreamIDRequest(buf []byte) (StreamIDRequest, error) {
	id, _, err := getIdentifier(buf, 0)
	if err != nil {
		return StreamIDRequest{}, err
	}
	return StreamIDRequest{Stream: id}, nil
}

// --- Topics ------------------------------------------------------------------

// CreateTopicRequest is CreateTopic's payload. TopicID of 0 means
// "assign the next available ID".
type CreateTopicRequest struct {
	Stream            ident.Identifier
	TopicID           uint32
	Name              string
	PartitionsCount   uint32
	MessageExpiryNever bool
	MessageExpiryMicros uint64
	MaxTopicSizeKind  topic.SizeLimitKind
	MaxTopicSizeBytes uint64
	Compression       topic.Compression
	ReplicationFactor uint8
}

func EncodeCreateTopicRequest(r CreateTopicRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putU32(buf, r.TopicID)
	buf = putString(buf, r.Name)
	buf = putU32(buf, r.PartitionsCount)
	if r.MessageExpiryNever {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
	}
	buf = putU64(buf, r.MessageExpiryMicros)
	buf = append(buf, byte(r.MaxTopicSizeKind))
	buf = putU64(buf, r.MaxTopicSizeBytes)
	buf = append(buf, byte(r.Compression))
	return append(buf, r.ReplicationFactor)
}

func DecodeCreateTopicRequest(buf []byte) (CreateTopicRequest, error) {
	var r CreateTopicRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.TopicID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Name, off, err = getString(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitionsCount, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	if off+1 > len(buf) {
		return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated expiry flag")
	}
	r.MessageExpiryNever = buf[off] == 0
	off++
	r.MessageExpiryMicros, off, err = getU64(buf, off)
	if err != nil {
		return r, err
	}
	if off+1 > len(buf) {
		return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated size kind")
	}
	r.MaxTopicSizeKind = topic.SizeLimitKind(buf[off])
	off++
	r.MaxTopicSizeBytes, off, err = getU64(buf, off)
	if err != nil {
		return r, err
	}
	if off+2 > len(buf) {
		return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated compression/replication")
	}
	r.Compression = topic.Compression(buf[off])
	r.ReplicationFactor = buf[off+1]
	return r, nil
}

// TopicIDRequest addresses a (stream, topic) pair; shared by
// GetTopic/DeleteTopic/PurgeTopic.
type TopicIDRequest struct {
	Stream ident.Identifier
	Topic  ident.Identifier
}

func EncodeTopicIDRequest(r TopicIDRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	return putIdentifier(buf, r.Topic)
}

func DecodeTopicIDRequest(buf []byte) (TopicIDRequest, error) {
	var r TopicIDRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, _, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	return r, nil
}

// --- Partitions ----------------------------------------------------------

// PartitionsCountRequest is shared by CreatePartitions/DeletePartitions.
type PartitionsCountRequest struct {
	Stream ident.Identifier
	Topic  ident.Identifier
	Count  uint32
}

func EncodePartitionsCountRequest(r PartitionsCountRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	return putU32(buf, r.Count)
}

func DecodePartitionsCountRequest(buf []byte) (PartitionsCountRequest, error) {
	var r PartitionsCountRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Count, _, err = getU32(buf, off)
	return r, err
}

// --- Messages --------------------------------------------------------------

// MessageInput is one producer-supplied message within a SendMessages
// batch, before offset assignment.
type MessageInput struct {
	ID      segment.ID
	Headers []byte
	Payload []byte
}

// SendMessagesRequest is SendMessages's payload (spec.md §4.4 append).
type SendMessagesRequest struct {
	Stream       ident.Identifier
	Topic        ident.Identifier
	Partitioning topic.Partitioning
	Messages     []MessageInput
}

func EncodeSendMessagesRequest(r SendMessagesRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putPartitioning(buf, r.Partitioning)
	buf = putU32(buf, uint32(len(r.Messages)))
	for _, m := range r.Messages {
		buf = append(buf, m.ID[:]...)
		buf = putBytes(buf, m.Headers)
		buf = putBytes(buf, m.Payload)
	}
	return buf
}

func DecodeSendMessagesRequest(buf []byte) (SendMessagesRequest, error) {
	var r SendMessagesRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Partitioning, off, err = getPartitioning(buf, off)
	if err != nil {
		return r, err
	}
	count, off, err := getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Messages = make([]MessageInput, count)
	for i := range r.Messages {
		if off+16 > len(buf) {
			return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated message id")
		}
		var id segment.ID
		copy(id[:], buf[off:off+16])
		off += 16
		var headers, payload []byte
		headers, off, err = getBytes(buf, off)
		if err != nil {
			return r, err
		}
		payload, off, err = getBytes(buf, off)
		if err != nil {
			return r, err
		}
		r.Messages[i] = MessageInput{ID: id, Headers: append([]byte(nil), headers...), Payload: append([]byte(nil), payload...)}
	}
	return r, nil
}

// SendMessagesResponse reports the offsets assigned to a SendMessages
// batch (spec.md §4.4 Topic.Append returns []Assigned).
type SendMessagesResponse struct {
	Assigned []topic.Assigned
}

func EncodeSendMessagesResponse(r SendMessagesResponse) []byte {
	buf := putU32(nil, uint32(len(r.Assigned)))
	for _, a := range r.Assigned {
		buf = putU32(buf, a.PartitionID)
		buf = putU64(buf, a.Offset)
	}
	return buf
}

func DecodeSendMessagesResponse(buf []byte) (SendMessagesResponse, error) {
	count, off, err := getU32(buf, 0)
	if err != nil {
		return SendMessagesResponse{}, err
	}
	out := make([]topic.Assigned, count)
	for i := range out {
		var pid uint32
		var o uint64
		pid, off, err = getU32(buf, off)
		if err != nil {
			return SendMessagesResponse{}, err
		}
		o, off, err = getU64(buf, off)
		if err != nil {
			return SendMessagesResponse{}, err
		}
		out[i] = topic.Assigned{PartitionID: pid, Offset: o}
	}
	return SendMessagesResponse{Assigned: out}, nil
}

// PollMessagesRequest is PollMessages's payload. GroupID of 0 means
// "poll directly from PartitionID"; a non-zero GroupID means "poll via
// consumer group assignment for MemberID" (partition resolved by the
// group's rebalance assignment, spec.md §4.4 consume_for_group).
type PollMessagesRequest struct {
	Stream      ident.Identifier
	Topic       ident.Identifier
	PartitionID uint32
	GroupID     uint32
	MemberID    uint32
	Strategy    partition.ConsumeStrategy
	Count       uint32
	AutoCommit  bool
}

func EncodePollMessagesRequest(r PollMessagesRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putU32(buf, r.PartitionID)
	buf = putU32(buf, r.GroupID)
	buf = putU32(buf, r.MemberID)
	buf = putConsumeStrategy(buf, r.Strategy)
	buf = putU32(buf, r.Count)
	if r.AutoCommit {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func DecodePollMessagesRequest(buf []byte) (PollMessagesRequest, error) {
	var r PollMessagesRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitionID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.GroupID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.MemberID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Strategy, off, err = getConsumeStrategy(buf, off)
	if err != nil {
		return r, err
	}
	r.Count, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	if off+1 > len(buf) {
		return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated auto_commit flag")
	}
	r.AutoCommit = buf[off] == 1
	return r, nil
}

// PollMessagesResponse carries the consumed batch.
type PollMessagesResponse struct {
	Messages []segment.Message
}

func EncodePollMessagesResponse(r PollMessagesResponse) []byte {
	buf := putU32(nil, uint32(len(r.Messages)))
	for _, m := range r.Messages {
		buf = putU64(buf, m.Offset)
		buf = append(buf, byte(m.State))
		buf = putU64(buf, m.Timestamp)
		buf = append(buf, m.ID[:]...)
		buf = putBytes(buf, m.Headers)
		buf = putBytes(buf, m.Payload)
		buf = putU32(buf, m.Checksum)
	}
	return buf
}

func DecodePollMessagesResponse(buf []byte) (PollMessagesResponse, error) {
	count, off, err := getU32(buf, 0)
	if err != nil {
		return PollMessagesResponse{}, err
	}
	out := make([]segment.Message, count)
	for i := range out {
		var m segment.Message
		m.Offset, off, err = getU64(buf, off)
		if err != nil {
			return PollMessagesResponse{}, err
		}
		if off+1 > len(buf) {
			return PollMessagesResponse{}, ierr.Protocol(ierr.CodeMalformedFrame, "truncated message state")
		}
		m.State = segment.State(buf[off])
		off++
		m.Timestamp, off, err = getU64(buf, off)
		if err != nil {
			return PollMessagesResponse{}, err
		}
		if off+16 > len(buf) {
			return PollMessagesResponse{}, ierr.Protocol(ierr.CodeMalformedFrame, "truncated message id")
		}
		copy(m.ID[:], buf[off:off+16])
		off += 16
		var headers, payload []byte
		headers, off, err = getBytes(buf, off)
		if err != nil {
			return PollMessagesResponse{}, err
		}
		payload, off, err = getBytes(buf, off)
		if err != nil {
			return PollMessagesResponse{}, err
		}
		m.Headers = append([]byte(nil), headers...)
		m.Payload = append([]byte(nil), payload...)
		m.Checksum, off, err = getU32(buf, off)
		if err != nil {
			return PollMessagesResponse{}, err
		}
		out[i] = m
	}
	return PollMessagesResponse{Messages: out}, nil
}

// --- Consumer offsets -------------------------------------------------------

// StoreConsumerOffsetRequest is StoreConsumerOffset's payload.
type StoreConsumerOffsetRequest struct {
	Stream      ident.Identifier
	Topic       ident.Identifier
	PartitionID uint32
	Consumer    partition.ConsumerKey
	Offset      uint64
}

func EncodeStoreConsumerOffsetRequest(r StoreConsumerOffsetRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putU32(buf, r.PartitionID)
	buf = putConsumerKey(buf, r.Consumer)
	return putU64(buf, r.Offset)
}

func DecodeStoreConsumerOffsetRequest(buf []byte) (StoreConsumerOffsetRequest, error) {
	var r StoreConsumerOffsetRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitionID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Consumer, off, err = getConsumerKey(buf, off)
	if err != nil {
		return r, err
	}
	r.Offset, _, err = getU64(buf, off)
	return r, err
}

// ConsumerOffsetRequest is shared by GetConsumerOffset/DeleteConsumerOffset.
type ConsumerOffsetRequest struct {
	Stream      ident.Identifier
	Topic       ident.Identifier
	PartitionID uint32
	Consumer    partition.ConsumerKey
}

func EncodeConsumerOffsetRequest(r ConsumerOffsetRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putU32(buf, r.PartitionID)
	return putConsumerKey(buf, r.Consumer)
}

func DecodeConsumerOffsetRequest(buf []byte) (ConsumerOffsetRequest, error) {
	var r ConsumerOffsetRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitionID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Consumer, _, err = getConsumerKey(buf, off)
	return r, err
}

// GetConsumerOffsetResponse carries the stored offset, if any.
type GetConsumerOffsetResponse struct {
	Found  bool
	Offset uint64
}

func EncodeGetConsumerOffsetResponse(r GetConsumerOffsetResponse) []byte {
	var buf []byte
	if r.Found {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return putU64(buf, r.Offset)
}

func DecodeGetConsumerOffsetResponse(buf []byte) (GetConsumerOffsetResponse, error) {
	if len(buf) < 1 {
		return GetConsumerOffsetResponse{}, ierr.Protocol(ierr.CodeMalformedFrame, "truncated found flag")
	}
	offset, _, err := getU64(buf, 1)
	if err != nil {
		return GetConsumerOffsetResponse{}, err
	}
	return GetConsumerOffsetResponse{Found: buf[0] == 1, Offset: offset}, nil
}

// --- Consumer groups ---------------------------------------------------------

// CreateConsumerGroupRequest is CreateConsumerGroup's payload. GroupID of
// 0 means "assign the next available ID".
type CreateConsumerGroupRequest struct {
	Stream  ident.Identifier
	Topic   ident.Identifier
	GroupID uint32
	Name    string
}

func EncodeCreateConsumerGroupRequest(r CreateConsumerGroupRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putU32(buf, r.GroupID)
	return putString(buf, r.Name)
}

func DecodeCreateConsumerGroupRequest(buf []byte) (CreateConsumerGroupRequest, error) {
	var r CreateConsumerGroupRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.GroupID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Name, _, err = getString(buf, off)
	return r, err
}

// ConsumerGroupMemberRequest is shared by JoinConsumerGroup/
// LeaveConsumerGroup/GetConsumerGroup/DeleteConsumerGroup (MemberID is
// unused by the latter two).
type ConsumerGroupMemberRequest struct {
	Stream   ident.Identifier
	Topic    ident.Identifier
	GroupID  uint32
	MemberID uint32
}

func EncodeConsumerGroupMemberRequest(r ConsumerGroupMemberRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	buf = putU32(buf, r.GroupID)
	return putU32(buf, r.MemberID)
}

func DecodeConsumerGroupMemberRequest(buf []byte) (ConsumerGroupMemberRequest, error) {
	var r ConsumerGroupMemberRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.GroupID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.MemberID, _, err = getU32(buf, off)
	return r, err
}

// --- System / users / PAT ----------------------------------------------------
//
// spec.md §6 calls these codes "representative"; the catalog they operate
// over (users, tokens, live client stats) lives in pkg/system and is
// addressed here by the same identifier/string primitives as every other
// command, kept deliberately small since no field-level shape is named in
// spec.md §3 for User/PersonalAccessToken beyond their state-log presence.

// LoginUserRequest is LoginUser's payload.
type LoginUserRequest struct {
	Username string
	Password string
}

func EncodeLoginUserRequest(r LoginUserRequest) []byte {
	buf := putString(nil, r.Username)
	return putString(buf, r.Password)
}

func DecodeLoginUserRequest(buf []byte) (LoginUserRequest, error) {
	username, off, err := getString(buf, 0)
	if err != nil {
		return LoginUserRequest{}, err
	}
	password, _, err := getString(buf, off)
	if err != nil {
		return LoginUserRequest{}, err
	}
	return LoginUserRequest{Username: username, Password: password}, nil
}

// LoginWithPersonalAccessTokenRequest is LoginWithPersonalAccessToken's
// payload.
type LoginWithPersonalAccessTokenRequest struct {
	Token string
}

func EncodeLoginWithPersonalAccessTokenRequest(r LoginWithPersonalAccessTokenRequest) []byte {
	return putString(nil, r.Token)
}

func DecodeLoginWithPersonalAccessTokenRequest(buf []byte) (LoginWithPersonalAccessTokenRequest, error) {
	token, _, err := getString(buf, 0)
	if err != nil {
		return LoginWithPersonalAccessTokenRequest{}, err
	}
	return LoginWithPersonalAccessTokenRequest{Token: token}, nil
}

// LoginResponse reports the authenticated user_id.
type LoginResponse struct {
	UserID uint32
}

func EncodeLoginResponse(r LoginResponse) []byte {
	return putU32(nil, r.UserID)
}

func DecodeLoginResponse(buf []byte) (LoginResponse, error) {
	id, _, err := getU32(buf, 0)
	return LoginResponse{UserID: id}, err
}

// CreateUserRequest is CreateUser's payload.
type CreateUserRequest struct {
	Username string
	Password string
	IsRoot   bool
}

func EncodeCreateUserRequest(r CreateUserRequest) []byte {
	buf := putString(nil, r.Username)
	buf = putString(buf, r.Password)
	if r.IsRoot {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func DecodeCreateUserRequest(buf []byte) (CreateUserRequest, error) {
	username, off, err := getString(buf, 0)
	if err != nil {
		return CreateUserRequest{}, err
	}
	password, off, err := getString(buf, off)
	if err != nil {
		return CreateUserRequest{}, err
	}
	if off+1 > len(buf) {
		return CreateUserRequest{}, ierr.Protocol(ierr.CodeMalformedFrame, "truncated is_root flag")
	}
	return CreateUserRequest{Username: username, Password: password, IsRoot: buf[off] == 1}, nil
}

// UserIDRequest addresses a user by numeric ID; shared by GetUser/
// DeleteUser.
type UserIDRequest struct {
	UserID uint32
}

func EncodeUserIDRequest(r UserIDRequest) []byte {
	return putU32(nil, r.UserID)
}

func DecodeUserIDRequest(buf []byte) (UserIDRequest, error) {
	id, _, err := getU32(buf, 0)
	return UserIDRequest{UserID: id}, err
}

// ChangePasswordRequest is ChangePassword's payload.
type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
}

func EncodeChangePasswordRequest(r ChangePasswordRequest) []byte {
	buf := putString(nil, r.CurrentPassword)
	return putString(buf, r.NewPassword)
}

func DecodeChangePasswordRequest(buf []byte) (ChangePasswordRequest, error) {
	cur, off, err := getString(buf, 0)
	if err != nil {
		return ChangePasswordRequest{}, err
	}
	next, _, err := getString(buf, off)
	if err != nil {
		return ChangePasswordRequest{}, err
	}
	return ChangePasswordRequest{CurrentPassword: cur, NewPassword: next}, nil
}

// CreatePersonalAccessTokenRequest is CreatePersonalAccessToken's payload.
type CreatePersonalAccessTokenRequest struct {
	Name       string
	ExpiryNever bool
	ExpiryMicros uint64
}

func EncodeCreatePersonalAccessTokenRequest(r CreatePersonalAccessTokenRequest) []byte {
	buf := putString(nil, r.Name)
	if r.ExpiryNever {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
	}
	return putU64(buf, r.ExpiryMicros)
}

func DecodeCreatePersonalAccessTokenRequest(buf []byte) (CreatePersonalAccessTokenRequest, error) {
	name, off, err := getString(buf, 0)
	if err != nil {
		return CreatePersonalAccessTokenRequest{}, err
	}
	if off+1 > len(buf) {
		return CreatePersonalAccessTokenRequest{}, ierr.Protocol(ierr.CodeMalformedFrame, "truncated expiry flag")
	}
	never := buf[off] == 0
	off++
	micros, _, err := getU64(buf, off)
	if err != nil {
		return CreatePersonalAccessTokenRequest{}, err
	}
	return CreatePersonalAccessTokenRequest{Name: name, ExpiryNever: never, ExpiryMicros: micros}, nil
}

// CreatePersonalAccessTokenResponse carries the one-time plaintext token.
type CreatePersonalAccessTokenResponse struct {
	Token string
}

func EncodeCreatePersonalAccessTokenResponse(r CreatePersonalAccessTokenResponse) []byte {
	return putString(nil, r.Token)
}

func DecodeCreatePersonalAccessTokenResponse(buf []byte) (CreatePersonalAccessTokenResponse, error) {
	token, _, err := getString(buf, 0)
	return CreatePersonalAccessTokenResponse{Token: token}, err
}

// PersonalAccessTokenNameRequest is DeletePersonalAccessToken's payload.
type PersonalAccessTokenNameRequest struct {
	Name string
}

func EncodePersonalAccessTokenNameRequest(r PersonalAccessTokenNameRequest) []byte {
	return putString(nil, r.Name)
}

func DecodePersonalAccessTokenNameRequest(buf []byte) (PersonalAccessTokenNameRequest, error) {
	name, _, err := getString(buf, 0)
	return PersonalAccessTokenNameRequest{Name: name}, err
}

// --- Update / flush ----------------------------------------------------

// UpdateStreamRequest is UpdateStream's payload.
type UpdateStreamRequest struct {
	Stream  ident.Identifier
	NewName string
}

func EncodeUpdateStreamRequest(r UpdateStreamRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	return putString(buf, r.NewName)
}

func DecodeUpdateStreamRequest(buf []byte) (UpdateStreamRequest, error) {
	id, off, err := getIdentifier(buf, 0)
	if err != nil {
		return UpdateStreamRequest{}, err
	}
	name, _, err := getString(buf, off)
	if err != nil {
		return UpdateStreamRequest{}, err
	}
	return UpdateStreamRequest{Stream: id, NewName: name}, nil
}

// UpdateTopicRequest is UpdateTopic's payload.
type UpdateTopicRequest struct {
	Stream  ident.Identifier
	Topic   ident.Identifier
	NewName string
}

func EncodeUpdateTopicRequest(r UpdateTopicRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	return putString(buf, r.NewName)
}

func DecodeUpdateTopicRequest(buf []byte) (UpdateTopicRequest, error) {
	var r UpdateTopicRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.NewName, _, err = getString(buf, off)
	if err != nil {
		return r, err
	}
	return r, nil
}

// UpdatePermissionsRequest is UpdatePermissions's payload: the target
// user's full replacement permission set.
type UpdatePermissionsRequest struct {
	TargetUserID uint32
	IsRoot       bool
	Grants       []permission.Grant
}

func EncodeUpdatePermissionsRequest(r UpdatePermissionsRequest) []byte {
	buf := putU32(nil, r.TargetUserID)
	if r.IsRoot {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = putU32(buf, uint32(len(r.Grants)))
	for _, g := range r.Grants {
		buf = append(buf, byte(g.Action), byte(g.Scope.Kind))
		buf = putU32(buf, g.Scope.StreamID)
		buf = putU32(buf, g.Scope.TopicID)
	}
	return buf
}

func DecodeUpdatePermissionsRequest(buf []byte) (UpdatePermissionsRequest, error) {
	var r UpdatePermissionsRequest
	target, off, err := getU32(buf, 0)
	if err != nil {
		return r, err
	}
	r.TargetUserID = target
	if off+1 > len(buf) {
		return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated root flag")
	}
	r.IsRoot = buf[off] == 1
	off++
	count, off, err := getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Grants = make([]permission.Grant, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+2 > len(buf) {
			return r, ierr.Protocol(ierr.CodeMalformedFrame, "truncated grant")
		}
		action := permission.Action(buf[off])
		scopeKind := permission.ScopeKind(buf[off+1])
		off += 2
		var streamID, topicID uint32
		streamID, off, err = getU32(buf, off)
		if err != nil {
			return r, err
		}
		topicID, off, err = getU32(buf, off)
		if err != nil {
			return r, err
		}
		r.Grants = append(r.Grants, permission.Grant{
			Action: action,
			Scope:  permission.Scope{Kind: scopeKind, StreamID: streamID, TopicID: topicID},
		})
	}
	return r, nil
}

// FlushUnsavedBufferRequest is FlushUnsavedBuffer's payload.
type FlushUnsavedBufferRequest struct {
	Stream      ident.Identifier
	Topic       ident.Identifier
	PartitionID uint32
}

func EncodeFlushUnsavedBufferRequest(r FlushUnsavedBufferRequest) []byte {
	buf := putIdentifier(nil, r.Stream)
	buf = putIdentifier(buf, r.Topic)
	return putU32(buf, r.PartitionID)
}

func DecodeFlushUnsavedBufferRequest(buf []byte) (FlushUnsavedBufferRequest, error) {
	var r FlushUnsavedBufferRequest
	var off int
	var err error
	r.Stream, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.Topic, off, err = getIdentifier(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitionID, _, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	return r, nil
}
