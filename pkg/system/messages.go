package system

import (
	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/segment"
	"github.com/driftline/driftline/pkg/topic"
)

// SendMessages appends a batch of messages to a topic, resolving the
// target partition(s) via partitioning (spec.md §4.4 append).
func (sys *System) SendMessages(userID uint32, streamID, topicID ident.Identifier, partitioning topic.Partitioning, messages []topic.PendingAppend) ([]topic.Assigned, error) {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.AppendMessages, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}
	return t.Append(partitioning, messages)
}

// PollMessages serves a direct-partition poll (GroupID == 0) or a
// consumer-group poll (GroupID != 0), optionally auto-committing the
// consumer's offset to the last message served.
func (sys *System) PollMessages(userID uint32, streamID, topicID ident.Identifier, partitionID, groupID, memberID uint32, strategy partition.ConsumeStrategy, count int, autoCommit bool) ([]segment.Message, error) {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.PollMessages, permission.OnTopic(s.ID, t.ID)); err != nil {
		return nil, err
	}

	if groupID != 0 {
		result, err := t.ConsumeForGroup(groupID, memberID, strategy, count)
		if err != nil {
			return nil, err
		}
		return result.Messages, nil
	}

	p := t.Partition(partitionID)
	if p == nil {
		return nil, ierr.NotFound(ierr.CodePartitionNotFound, "partition not found")
	}
	msgs, err := p.Consume(strategy, count)
	if err != nil {
		return nil, err
	}
	if autoCommit && len(msgs) > 0 {
		p.StoreConsumerOffset(partition.Direct(memberID), msgs[len(msgs)-1].Offset)
	}
	return msgs, nil
}

// FlushUnsavedBuffer forces the partition's currently open segment to
// fsync on demand (spec.md §6 FlushUnsavedBuffer), independent of the
// topic's configured enforce_fsync.
func (sys *System) FlushUnsavedBuffer(userID uint32, streamID, topicID ident.Identifier, partitionID uint32) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.AppendMessages, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	p := t.Partition(partitionID)
	if p == nil {
		return ierr.NotFound(ierr.CodePartitionNotFound, "partition not found")
	}
	return p.Flush()
}

// StoreConsumerOffset records a consumer's position within a partition.
func (sys *System) StoreConsumerOffset(userID uint32, streamID, topicID ident.Identifier, partitionID uint32, consumer partition.ConsumerKey, offset uint64) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.StoreOffset, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	p := t.Partition(partitionID)
	if p == nil {
		return ierr.NotFound(ierr.CodePartitionNotFound, "partition not found")
	}
	p.StoreConsumerOffset(consumer, offset)
	return nil
}

// GetConsumerOffset returns a consumer's stored offset, if any.
func (sys *System) GetConsumerOffset(userID uint32, streamID, topicID ident.Identifier, partitionID uint32, consumer partition.ConsumerKey) (uint64, bool, error) {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return 0, false, err
	}
	if err := permission.Check(sys.permsFor(userID), permission.ReadOffset, permission.OnTopic(s.ID, t.ID)); err != nil {
		return 0, false, err
	}
	p := t.Partition(partitionID)
	if p == nil {
		return 0, false, ierr.NotFound(ierr.CodePartitionNotFound, "partition not found")
	}
	off, ok := p.GetConsumerOffset(consumer)
	return off, ok, nil
}

// DeleteConsumerOffset clears a consumer's stored offset.
func (sys *System) DeleteConsumerOffset(userID uint32, streamID, topicID ident.Identifier, partitionID uint32, consumer partition.ConsumerKey) error {
	sys.mu.RLock()
	s, t, err := sys.resolveTopicLocked(streamID, topicID)
	sys.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := permission.Check(sys.permsFor(userID), permission.StoreOffset, permission.OnTopic(s.ID, t.ID)); err != nil {
		return err
	}
	p := t.Partition(partitionID)
	if p == nil {
		return ierr.NotFound(ierr.CodePartitionNotFound, "partition not found")
	}
	p.DeleteConsumerOffset(consumer)
	return nil
}
