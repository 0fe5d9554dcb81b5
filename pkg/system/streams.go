package system

import (
	"time"

	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/statelog"
	"github.com/driftline/driftline/pkg/stream"
	"github.com/driftline/driftline/pkg/topic"
)

// CreateStream creates a new, empty stream (spec.md §4.5).
func (sys *System) CreateStream(userID uint32, id uint32, name string) (*stream.Stream, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ManageStreams, permission.Global()); err != nil {
		return nil, err
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	if id == 0 {
		id = sys.nextStreamID
	}
	if _, exists := sys.streams[id]; exists {
		return nil, ierr.Conflict(ierr.CodeStreamExists, "stream already exists")
	}
	if _, taken := sys.streamNames[normalize(name)]; taken {
		return nil, ierr.Conflict(ierr.CodeNameTaken, "stream name already in use")
	}

	s := stream.New(id, name)
	rec := statelog.Record{UserID: userID, Code: statelog.CreateStream, Payload: encodeStreamRecord(streamRecord{ID: id, Name: name})}
	err := sys.stateLog.Apply(rec, func() error {
		sys.streams[id] = s
		sys.streamNames[normalize(name)] = id
		if id >= sys.nextStreamID {
			sys.nextStreamID = id + 1
		}
		return nil
	}, func() {
		delete(sys.streams, id)
		delete(sys.streamNames, normalize(name))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteStream purges and removes a stream and every topic within it.
func (sys *System) DeleteStream(userID uint32, id ident.Identifier) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	s, err := sys.resolveStreamLocked(id)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageStreams, permission.OnStream(s.ID)); err != nil {
		return err
	}

	rec := statelog.Record{UserID: userID, Code: statelog.DeleteStream, Payload: encodeStreamTopicRecord(streamTopicRecord{StreamID: s.ID})}
	return sys.stateLog.Apply(rec, func() error {
		if err := s.Delete(); err != nil {
			return err
		}
		delete(sys.streams, s.ID)
		delete(sys.streamNames, normalize(s.Name))
		return nil
	}, func() {})
}

// GetStream resolves a stream by Identifier (read-only; spec.md §4.7
// ReadStreams).
func (sys *System) GetStream(userID uint32, id ident.Identifier) (*stream.Stream, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	s, err := sys.resolveStreamLocked(id)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadStreams, permission.OnStream(s.ID)); err != nil {
		return nil, err
	}
	return s, nil
}

// GetStreams lists every stream the caller can read.
func (sys *System) GetStreams(userID uint32) ([]*stream.Stream, error) {
	if err := permission.Check(sys.permsFor(userID), permission.ReadStreams, permission.Global()); err != nil {
		return nil, err
	}
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	out := make([]*stream.Stream, 0, len(sys.streams))
	for _, id := range sys.sortedStreamIDsLocked() {
		out = append(out, sys.streams[id])
	}
	return out, nil
}

// UpdateStream renames a stream.
func (sys *System) UpdateStream(userID uint32, id ident.Identifier, newName string) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, err := sys.resolveStreamLocked(id)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageStreams, permission.OnStream(s.ID)); err != nil {
		return err
	}
	if _, taken := sys.streamNames[normalize(newName)]; taken && normalize(newName) != normalize(s.Name) {
		return ierr.Conflict(ierr.CodeNameTaken, "stream name already in use")
	}

	oldName := s.Name
	rec := statelog.Record{UserID: userID, Code: statelog.UpdateStream, Payload: encodeStreamRecord(streamRecord{ID: s.ID, Name: newName})}
	return sys.stateLog.Apply(rec, func() error {
		delete(sys.streamNames, normalize(oldName))
		s.Name = newName
		sys.streamNames[normalize(newName)] = s.ID
		return nil
	}, func() {
		s.Name = oldName
		delete(sys.streamNames, normalize(newName))
		sys.streamNames[normalize(oldName)] = s.ID
	})
}

// PurgeStream purges every topic of a stream without deleting it.
func (sys *System) PurgeStream(userID uint32, id ident.Identifier) error {
	sys.mu.RLock()
	s, err := sys.resolveStreamLocked(id)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageStreams, permission.OnStream(s.ID)); err != nil {
		return err
	}
	for _, t := range s.Topics() {
		if err := t.Purge(); err != nil {
			return err
		}
	}
	return nil
}

// CreateTopicParams mirrors pkg/command.CreateTopicRequest, decoupled
// from the wire layer so pkg/dispatch can build one straight from a
// decoded request.
type CreateTopicParams struct {
	StreamID            ident.Identifier
	TopicID             uint32
	Name                string
	PartitionsCount     uint32
	MessageExpiry       topic.Expiry
	MaxTopicSize        topic.SizeLimit
	Compression         topic.Compression
	ReplicationFactor   uint8
	DefaultPartitioning topic.Partitioning
}

// CreateTopic creates a topic with n initial partitions under stream.
func (sys *System) CreateTopic(userID uint32, p CreateTopicParams) (*topic.Topic, error) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	s, err := sys.resolveStreamLocked(p.StreamID)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnStream(s.ID)); err != nil {
		return nil, err
	}

	id := p.TopicID
	if id == 0 {
		id = s.NextTopicID()
	}
	if _, exists := s.Topic(id); exists {
		return nil, ierr.Conflict(ierr.CodeTopicExists, "topic already exists")
	}
	if p.PartitionsCount == 0 {
		p.PartitionsCount = 1
	}

	dir := topicDir(streamDir(sys.cfg.DataDir, s.ID), id)
	t, err := topic.New(id, s.ID, p.Name, p.MessageExpiry, p.MaxTopicSize, p.Compression,
		p.ReplicationFactor, p.DefaultPartitioning, int(p.PartitionsCount), sys.topicConfig(dir), sys.logger)
	if err != nil {
		return nil, err
	}

	rec := statelog.Record{UserID: userID, Code: statelog.CreateTopic, Payload: encodeTopicRecord(topicRecord{
		ID: id, StreamID: s.ID, Name: p.Name, PartitionsCount: p.PartitionsCount,
		MessageExpiryNever: p.MessageExpiry.Never, MessageExpiryMicros: uint64(p.MessageExpiry.Duration / time.Microsecond),
		MaxTopicSizeKind: p.MaxTopicSize.Kind, MaxTopicSizeBytes: p.MaxTopicSize.Bytes,
		Compression: p.Compression, ReplicationFactor: p.ReplicationFactor,
		PartitioningKind: p.DefaultPartitioning.Kind, PartitioningID: p.DefaultPartitioning.PartitionID,
		PartitioningKey: p.DefaultPartitioning.Key,
	})}
	err = sys.stateLog.Apply(rec, func() error { return s.AddTopic(t) }, func() {})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTopic removes a topic and all its partitions.
func (sys *System) DeleteTopic(userID uint32, streamID, topicID ident.Identifier) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	rec := statelog.Record{UserID: userID, Code: statelog.DeleteTopic, Payload: encodeStreamTopicRecord(streamTopicRecord{StreamID: s.ID, TopicID: t.ID})}
	return sys.stateLog.Apply(rec, func() error { return s.DeleteTopic(t.ID) }, func() {})
}

// GetTopic resolves a (stream, topic) pair.
func (sys *System) GetTopic(userID uint32, streamID, topicID ident.Identifier) (*topic.Topic, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopics lists every topic of a stream.
func (sys *System) GetTopics(userID uint32, streamID ident.Identifier) ([]*topic.Topic, error) {
	sys.mu.RLock()
	s, err := sys.resolveStreamLocked(streamID)
	sys.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadTopics, permission.OnStream(s.ID)); err != nil {
		return nil, err
	}
	return s.Topics(), nil
}

// UpdateTopic renames a topic.
func (sys *System) UpdateTopic(userID uint32, streamID, topicID ident.Identifier, newName string) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	oldName := t.Name
	rec := statelog.Record{UserID: userID, Code: statelog.UpdateTopic, Payload: encodeStreamTopicNameRecord(streamTopicNameRecord{StreamID: s.ID, TopicID: t.ID, Name: newName})}
	return sys.stateLog.Apply(rec, func() error { t.Name = newName; return nil }, func() { t.Name = oldName })
}

// PurgeTopic purges every partition of a topic.
func (sys *System) PurgeTopic(userID uint32, streamID, topicID ident.Identifier) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	return t.Purge()
}

// CreatePartitions adds n partitions to a topic.
func (sys *System) CreatePartitions(userID uint32, streamID, topicID ident.Identifier, n uint32) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	finalCount := uint32(t.PartitionCount()) + n
	rec := statelog.Record{UserID: userID, Code: statelog.CreatePartitions, Payload: encodePartitionsCountRecord(partitionsCountRecord{StreamID: s.ID, TopicID: t.ID, Count: finalCount})}
	return sys.stateLog.Apply(rec, func() error { return t.CreatePartitions(int(n)) }, func() {})
}

// DeletePartitions removes the n highest-ID partitions of a topic.
func (sys *System) DeletePartitions(userID uint32, streamID, topicID ident.Identifier, n uint32) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageTopics, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	finalCount := uint32(t.PartitionCount()) - n
	rec := statelog.Record{UserID: userID, Code: statelog.DeletePartitions, Payload: encodePartitionsCountRecord(partitionsCountRecord{StreamID: s.ID, TopicID: t.ID, Count: finalCount})}
	return sys.stateLog.Apply(rec, func() error { return t.DeletePartitions(int(n)) }, func() {})
}

// CreateConsumerGroup allocates a new consumer group on a topic.
func (sys *System) CreateConsumerGroup(userID uint32, streamID, topicID ident.Identifier, groupID uint32, name string) (*topic.ConsumerGroup, error) {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}
	if groupID == 0 {
		groupID = nextConsumerGroupID(t)
	}
	var g *topic.ConsumerGroup
	rec := statelog.Record{UserID: userID, Code: statelog.CreateConsumerGroup, Payload: encodeConsumerGroupRecord(consumerGroupRecord{StreamID: s.ID, TopicID: t.ID, GroupID: groupID, Name: name})}
	err = sys.stateLog.Apply(rec, func() error {
		var err error
		g, err = t.CreateConsumerGroup(groupID, name)
		return err
	}, func() {})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func nextConsumerGroupID(t *topic.Topic) uint32 {
	max := uint32(0)
	for _, g := range t.ConsumerGroups() {
		if g.ID > max {
			max = g.ID
		}
	}
	return max + 1
}

// DeleteConsumerGroup removes a consumer group entirely.
func (sys *System) DeleteConsumerGroup(userID uint32, streamID, topicID ident.Identifier, groupID uint32) error {
	sys.mu.Lock()
	defer sys.mu.Unlock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	rec := statelog.Record{UserID: userID, Code: statelog.DeleteConsumerGroup, Payload: encodeStreamTopicGroupRecord(streamTopicGroupRecord{StreamID: s.ID, TopicID: t.ID, GroupID: groupID})}
	return sys.stateLog.Apply(rec, func() error { return t.DeleteConsumerGroup(groupID) }, func() {})
}

// GetConsumerGroup looks up a consumer group by ID.
func (sys *System) GetConsumerGroup(userID uint32, streamID, topicID ident.Identifier, groupID uint32) (*topic.ConsumerGroup, error) {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}
	g, ok := t.ConsumerGroup(groupID)
	if !ok {
		return nil, ierr.NotFound(ierr.CodeConsumerGroupNotFound, "consumer group not found")
	}
	return g, nil
}

// GetConsumerGroups lists every consumer group of a topic.
func (sys *System) GetConsumerGroups(userID uint32, streamID, topicID ident.Identifier) ([]*topic.ConsumerGroup, error) {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}
	return t.ConsumerGroups(), nil
}

// JoinConsumerGroup adds memberID to a consumer group.
func (sys *System) JoinConsumerGroup(userID uint32, streamID, topicID ident.Identifier, groupID, memberID uint32) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	return t.JoinConsumerGroup(groupID, memberID)
}

// LeaveConsumerGroup removes memberID from a consumer group.
func (sys *System) LeaveConsumerGroup(userID uint32, streamID, topicID ident.Identifier, groupID, memberID uint32) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ManageConsumerGroups, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	return t.LeaveConsumerGroup(groupID, memberID)
}
