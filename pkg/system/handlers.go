package system

import (
	"context"
	"time"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/command"
	"github.com/driftline/driftline/pkg/dispatch"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/topic"
)

// RegisterHandlers wires every command code to its System-backed handler
// (spec.md §4.9 step 6: "invoke handler"). Permission checks happen
// inside each System method once the request has been resolved to a
// concrete (stream, topic) scope, since only the business layer can
// perform the catalog lookup a scope needs (pkg/dispatch's own auth
// check only covers authentication, not authorization).
func (sys *System) RegisterHandlers(d *dispatch.Dispatcher) {
	d.Register(command.Ping, sys.handlePing)
	d.Register(command.GetStats, sys.handleGetStats)
	d.Register(command.GetMe, sys.handleGetMe)
	d.Register(command.GetClient, sys.handleGetClient)
	d.Register(command.GetClients, sys.handleGetClients)

	d.Register(command.CreateStream, sys.handleCreateStream)
	d.Register(command.DeleteStream, sys.handleDeleteStream)
	d.Register(command.GetStream, sys.handleGetStream)
	d.Register(command.GetStreams, sys.handleGetStreams)
	d.Register(command.UpdateStream, sys.handleUpdateStream)
	d.Register(command.PurgeStream, sys.handlePurgeStream)

	d.Register(command.CreateTopic, sys.handleCreateTopic)
	d.Register(command.DeleteTopic, sys.handleDeleteTopic)
	d.Register(command.GetTopic, sys.handleGetTopic)
	d.Register(command.GetTopics, sys.handleGetTopics)
	d.Register(command.UpdateTopic, sys.handleUpdateTopic)
	d.Register(command.PurgeTopic, sys.handlePurgeTopic)

	d.Register(command.CreatePartitions, sys.handleCreatePartitions)
	d.Register(command.DeletePartitions, sys.handleDeletePartitions)

	d.Register(command.SendMessages, sys.handleSendMessages)
	d.Register(command.PollMessages, sys.handlePollMessages)
	d.Register(command.FlushUnsavedBuffer, sys.handleFlushUnsavedBuffer)

	d.Register(command.StoreConsumerOffset, sys.handleStoreConsumerOffset)
	d.Register(command.GetConsumerOffset, sys.handleGetConsumerOffset)
	d.Register(command.DeleteConsumerOffset, sys.handleDeleteConsumerOffset)

	d.Register(command.CreateConsumerGroup, sys.handleCreateConsumerGroup)
	d.Register(command.DeleteConsumerGroup, sys.handleDeleteConsumerGroup)
	d.Register(command.GetConsumerGroup, sys.handleGetConsumerGroup)
	d.Register(command.GetConsumerGroups, sys.handleGetConsumerGroups)
	d.Register(command.JoinConsumerGroup, sys.handleJoinConsumerGroup)
	d.Register(command.LeaveConsumerGroup, sys.handleLeaveConsumerGroup)

	d.Register(command.CreateUser, sys.handleCreateUser)
	d.Register(command.DeleteUser, sys.handleDeleteUser)
	d.Register(command.GetUser, sys.handleGetUser)
	d.Register(command.GetUsers, sys.handleGetUsers)
	d.Register(command.UpdatePermissions, sys.handleUpdatePermissions)
	d.Register(command.ChangePassword, sys.handleChangePassword)
	d.Register(command.LoginUser, sys.handleLoginUser)
	d.Register(command.LogoutUser, sys.handleLogoutUser)

	d.Register(command.CreatePersonalAccessToken, sys.handleCreatePAT)
	d.Register(command.DeletePersonalAccessToken, sys.handleDeletePAT)
	d.Register(command.GetPersonalAccessTokens, sys.handleGetPATs)
	d.Register(command.LoginWithPersonalAccessToken, sys.handleLoginWithPAT)
}

func (sys *System) handlePing(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	if sess != nil {
		sys.Sessions.Touch(sess.ClientID)
	}
	return nil, nil
}

func (sys *System) handleGetStats(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	st, err := sys.GetStats(sess.UserID)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(st.StreamsCount))
	buf = putU32(buf, uint32(st.UsersCount))
	buf = putU32(buf, uint32(st.ClientsCount))
	return buf, nil
}

func encodeSessionSummary(s *session.Session) []byte {
	buf := putU32(nil, s.ClientID)
	buf = putU32(buf, s.UserID)
	return putString(buf, s.RemoteAddress)
}

func (sys *System) handleGetMe(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	s, err := sys.GetMe(sess.ClientID)
	if err != nil {
		return nil, err
	}
	return encodeSessionSummary(s), nil
}

func (sys *System) handleGetClient(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUserIDRequest(payload) // reused shape: a bare u32 id
	if err != nil {
		return nil, err
	}
	s, err := sys.GetClient(sess.UserID, req.UserID)
	if err != nil {
		return nil, err
	}
	return encodeSessionSummary(s), nil
}

func (sys *System) handleGetClients(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	clients, err := sys.GetClients(sess.UserID)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(clients)))
	for _, c := range clients {
		buf = append(buf, encodeSessionSummary(c)...)
	}
	return buf, nil
}

// --- Streams -----------------------------------------------------------

func (sys *System) handleCreateStream(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeCreateStreamRequest(payload)
	if err != nil {
		return nil, err
	}
	s, err := sys.CreateStream(sess.UserID, req.StreamID, req.Name)
	if err != nil {
		return nil, err
	}
	return putU32(nil, s.ID), nil
}

func (sys *System) handleDeleteStream(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeStreamIDRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeleteStream(sess.UserID, req.Stream)
}

func (sys *System) handleGetStream(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeStreamIDRequest(payload)
	if err != nil {
		return nil, err
	}
	s, err := sys.GetStream(sess.UserID, req.Stream)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, s.ID)
	buf = putString(buf, s.Name)
	return putU32(buf, uint32(len(s.Topics()))), nil
}

func (sys *System) handleGetStreams(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	streams, err := sys.GetStreams(sess.UserID)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(streams)))
	for _, s := range streams {
		buf = putU32(buf, s.ID)
		buf = putString(buf, s.Name)
	}
	return buf, nil
}

func (sys *System) handleUpdateStream(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUpdateStreamRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.UpdateStream(sess.UserID, req.Stream, req.NewName)
}

func (sys *System) handlePurgeStream(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeStreamIDRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.PurgeStream(sess.UserID, req.Stream)
}

// --- Topics --------------------------------------------------------------

func (sys *System) handleCreateTopic(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeCreateTopicRequest(payload)
	if err != nil {
		return nil, err
	}
	t, err := sys.CreateTopic(sess.UserID, CreateTopicParams{
		StreamID:        req.Stream,
		TopicID:         req.TopicID,
		Name:            req.Name,
		PartitionsCount: req.PartitionsCount,
		MessageExpiry:   topic.Expiry{Never: req.MessageExpiryNever, Duration: time.Duration(req.MessageExpiryMicros) * time.Microsecond},
		MaxTopicSize:    topic.SizeLimit{Kind: req.MaxTopicSizeKind, Bytes: req.MaxTopicSizeBytes},
		Compression:     req.Compression,
		ReplicationFactor: req.ReplicationFactor,
		DefaultPartitioning: topic.Balanced(),
	})
	if err != nil {
		return nil, err
	}
	return putU32(nil, t.ID), nil
}

func (sys *System) handleDeleteTopic(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeTopicIDRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeleteTopic(sess.UserID, req.Stream, req.Topic)
}

func (sys *System) handleGetTopic(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeTopicIDRequest(payload)
	if err != nil {
		return nil, err
	}
	t, err := sys.GetTopic(sess.UserID, req.Stream, req.Topic)
	if err != nil {
		return nil, err
	}
	return encodeTopicSummary(t), nil
}

func encodeTopicSummary(t *topic.Topic) []byte {
	buf := putU32(nil, t.ID)
	buf = putU32(buf, t.StreamID)
	buf = putString(buf, t.Name)
	return putU32(buf, uint32(t.PartitionCount()))
}

func (sys *System) handleGetTopics(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeStreamIDRequest(payload)
	if err != nil {
		return nil, err
	}
	topics, err := sys.GetTopics(sess.UserID, req.Stream)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(topics)))
	for _, t := range topics {
		buf = append(buf, encodeTopicSummary(t)...)
	}
	return buf, nil
}

func (sys *System) handleUpdateTopic(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUpdateTopicRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.UpdateTopic(sess.UserID, req.Stream, req.Topic, req.NewName)
}

func (sys *System) handlePurgeTopic(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeTopicIDRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.PurgeTopic(sess.UserID, req.Stream, req.Topic)
}

func (sys *System) handleCreatePartitions(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodePartitionsCountRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.CreatePartitions(sess.UserID, req.Stream, req.Topic, req.Count)
}

func (sys *System) handleDeletePartitions(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodePartitionsCountRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeletePartitions(sess.UserID, req.Stream, req.Topic, req.Count)
}

// --- Messages ------------------------------------------------------------

func (sys *System) handleSendMessages(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeSendMessagesRequest(payload)
	if err != nil {
		return nil, err
	}
	pending := make([]topic.PendingAppend, len(req.Messages))
	for i, m := range req.Messages {
		pending[i] = topic.PendingAppend{ID: m.ID, Headers: m.Headers, Payload: m.Payload}
	}
	assigned, err := sys.SendMessages(sess.UserID, req.Stream, req.Topic, req.Partitioning, pending)
	if err != nil {
		return nil, err
	}
	return command.EncodeSendMessagesResponse(command.SendMessagesResponse{Assigned: assigned}), nil
}

func (sys *System) handlePollMessages(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodePollMessagesRequest(payload)
	if err != nil {
		return nil, err
	}
	msgs, err := sys.PollMessages(sess.UserID, req.Stream, req.Topic, req.PartitionID, req.GroupID, req.MemberID, req.Strategy, int(req.Count), req.AutoCommit)
	if err != nil {
		return nil, err
	}
	return command.EncodePollMessagesResponse(command.PollMessagesResponse{Messages: msgs}), nil
}

func (sys *System) handleFlushUnsavedBuffer(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeFlushUnsavedBufferRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.FlushUnsavedBuffer(sess.UserID, req.Stream, req.Topic, req.PartitionID)
}

func (sys *System) handleStoreConsumerOffset(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeStoreConsumerOffsetRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.StoreConsumerOffset(sess.UserID, req.Stream, req.Topic, req.PartitionID, req.Consumer, req.Offset)
}

func (sys *System) handleGetConsumerOffset(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerOffsetRequest(payload)
	if err != nil {
		return nil, err
	}
	offset, found, err := sys.GetConsumerOffset(sess.UserID, req.Stream, req.Topic, req.PartitionID, req.Consumer)
	if err != nil {
		return nil, err
	}
	return command.EncodeGetConsumerOffsetResponse(command.GetConsumerOffsetResponse{Found: found, Offset: offset}), nil
}

func (sys *System) handleDeleteConsumerOffset(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerOffsetRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeleteConsumerOffset(sess.UserID, req.Stream, req.Topic, req.PartitionID, req.Consumer)
}

// --- Consumer groups -------------------------------------------------------

func (sys *System) handleCreateConsumerGroup(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeCreateConsumerGroupRequest(payload)
	if err != nil {
		return nil, err
	}
	g, err := sys.CreateConsumerGroup(sess.UserID, req.Stream, req.Topic, req.GroupID, req.Name)
	if err != nil {
		return nil, err
	}
	return putU32(nil, g.ID), nil
}

func (sys *System) handleDeleteConsumerGroup(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerGroupMemberRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeleteConsumerGroup(sess.UserID, req.Stream, req.Topic, req.GroupID)
}

func (sys *System) handleGetConsumerGroup(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerGroupMemberRequest(payload)
	if err != nil {
		return nil, err
	}
	g, err := sys.GetConsumerGroup(sess.UserID, req.Stream, req.Topic, req.GroupID)
	if err != nil {
		return nil, err
	}
	return encodeConsumerGroupSummary(g), nil
}

func encodeConsumerGroupSummary(g *topic.ConsumerGroup) []byte {
	buf := putU32(nil, g.ID)
	buf = putU32(buf, g.TopicID)
	return putString(buf, g.Name)
}

func (sys *System) handleGetConsumerGroups(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeTopicIDRequest(payload)
	if err != nil {
		return nil, err
	}
	groups, err := sys.GetConsumerGroups(sess.UserID, req.Stream, req.Topic)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(groups)))
	for _, g := range groups {
		buf = append(buf, encodeConsumerGroupSummary(g)...)
	}
	return buf, nil
}

func (sys *System) handleJoinConsumerGroup(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerGroupMemberRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.JoinConsumerGroup(sess.UserID, req.Stream, req.Topic, req.GroupID, req.MemberID)
}

func (sys *System) handleLeaveConsumerGroup(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeConsumerGroupMemberRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.LeaveConsumerGroup(sess.UserID, req.Stream, req.Topic, req.GroupID, req.MemberID)
}

// --- Users / PAT -----------------------------------------------------------

func (sys *System) handleCreateUser(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeCreateUserRequest(payload)
	if err != nil {
		return nil, err
	}
	u, err := sys.CreateUser(sess.UserID, req.Username, req.Password, req.IsRoot)
	if err != nil {
		return nil, err
	}
	return putU32(nil, u.ID), nil
}

func (sys *System) handleDeleteUser(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUserIDRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeleteUser(sess.UserID, req.UserID)
}

func encodeUserSummary(u *User) []byte {
	buf := putU32(nil, u.ID)
	buf = putString(buf, u.Username)
	if u.IsRoot {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func (sys *System) handleGetUser(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUserIDRequest(payload)
	if err != nil {
		return nil, err
	}
	u, err := sys.GetUser(sess.UserID, req.UserID)
	if err != nil {
		return nil, err
	}
	return encodeUserSummary(u), nil
}

func (sys *System) handleGetUsers(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	users, err := sys.GetUsers(sess.UserID)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(users)))
	for _, u := range users {
		buf = append(buf, encodeUserSummary(u)...)
	}
	return buf, nil
}

func (sys *System) handleUpdatePermissions(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeUpdatePermissionsRequest(payload)
	if err != nil {
		return nil, err
	}
	set := permission.FromGrants(req.IsRoot, req.Grants)
	return nil, sys.UpdatePermissions(sess.UserID, req.TargetUserID, set)
}

func (sys *System) handleChangePassword(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeChangePasswordRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.ChangePassword(sess.UserID, req.CurrentPassword, req.NewPassword)
}

func (sys *System) handleLoginUser(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeLoginUserRequest(payload)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ierr.Unauthenticated()
	}
	userID, err := sys.LoginUser(sess.ClientID, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return command.EncodeLoginResponse(command.LoginResponse{UserID: userID}), nil
}

func (sys *System) handleLogoutUser(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	return nil, sys.LogoutUser(sess.ClientID)
}

func (sys *System) handleCreatePAT(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeCreatePersonalAccessTokenRequest(payload)
	if err != nil {
		return nil, err
	}
	var expiry *time.Duration
	if !req.ExpiryNever {
		d := time.Duration(req.ExpiryMicros) * time.Microsecond
		expiry = &d
	}
	token, err := sys.CreatePersonalAccessToken(sess.UserID, req.Name, expiry)
	if err != nil {
		return nil, err
	}
	return command.EncodeCreatePersonalAccessTokenResponse(command.CreatePersonalAccessTokenResponse{Token: token}), nil
}

func (sys *System) handleDeletePAT(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodePersonalAccessTokenNameRequest(payload)
	if err != nil {
		return nil, err
	}
	return nil, sys.DeletePersonalAccessToken(sess.UserID, req.Name)
}

func (sys *System) handleGetPATs(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	pats, err := sys.GetPersonalAccessTokens(sess.UserID)
	if err != nil {
		return nil, err
	}
	buf := putU32(nil, uint32(len(pats)))
	for _, p := range pats {
		buf = putString(buf, p.Name)
		never := byte(1)
		if p.ExpiresAt != nil {
			never = 0
		}
		buf = append(buf, never)
	}
	return buf, nil
}

func (sys *System) handleLoginWithPAT(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
	req, err := command.DecodeLoginWithPersonalAccessTokenRequest(payload)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ierr.Unauthenticated()
	}
	userID, err := sys.LoginWithPersonalAccessToken(sess.ClientID, req.Token)
	if err != nil {
		return nil, err
	}
	return command.EncodeLoginResponse(command.LoginResponse{UserID: userID}), nil
}
