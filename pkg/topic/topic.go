// Package topic implements spec.md §4.4: a collection of partitions
// sharing a partitioning strategy, retention policy and consumer groups.
package topic

import (
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/segment"
)

// Compression is the producer-supplied payload compression enum (spec.md
// §3), distinct from the segment compactor's storage-tier CompactionCodec.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
)

// SizeLimitKind tags Topic.MaxTopicSize.
type SizeLimitKind uint8

const (
	SizeServerDefault SizeLimitKind = iota
	SizeUnbounded
	SizeBytes
)

// SizeLimit is Topic's max_topic_size: {server_default|unbounded|bytes}.
type SizeLimit struct {
	Kind  SizeLimitKind
	Bytes uint64
}

// Expiry is Topic's message_expiry: {never|duration}.
type Expiry struct {
	Never    bool
	Duration time.Duration
}

// PendingAppend is one not-yet-partitioned message handed to Append.
type PendingAppend struct {
	ID        segment.ID
	Headers   []byte
	Payload   []byte
	Timestamp uint64
}

// Assigned is the partition/offset a message in an Append batch landed at.
type Assigned struct {
	PartitionID uint32
	Offset      uint64
}

// Topic owns a dense, 1-based set of partitions plus this topic's
// consumer groups (spec.md §4.4/§3).
type Topic struct {
	ID                 uint32
	StreamID           uint32
	Name               string
	CreatedAt          time.Time
	MessageExpiry      Expiry
	MaxTopicSize       SizeLimit
	Compression        Compression
	ReplicationFactor  uint8
	DefaultPartitioning Partitioning

	dir             string
	segmentMaxBytes uint32
	enforceFsync    bool
	logger          *logging.Logger
	hashSeed        maphash.Seed

	mu              sync.RWMutex
	partitions      map[uint32]*partition.Partition
	consumerGroups  map[uint32]*ConsumerGroup
	nextGroupID     uint32
	balancedCounter uint32
}

// Config bundles the tunables New needs beyond identity/policy.
type Config struct {
	Dir                string
	SegmentMaxBytes    uint32
	EnforceFsync       bool
	UnsavedBufferBytes int
}

// New creates a Topic with n initial partitions (spec.md §3 invariant:
// partitions.len() >= 1 after creation).
func New(id, streamID uint32, name string, expiry Expiry, maxSize SizeLimit,
	compression Compression, replicationFactor uint8, strategy Partitioning,
	n int, cfg Config, lg *logging.Logger) (*Topic, error) {
	if n < 1 {
		return nil, ierr.ValidationCode(ierr.CodeInvalidPartitions, "topic requires at least one partition")
	}

	t := &Topic{
		ID:                id,
		StreamID:          streamID,
		Name:              name,
		CreatedAt:         time.Now(),
		MessageExpiry:     expiry,
		MaxTopicSize:      maxSize,
		Compression:       compression,
		ReplicationFactor: replicationFactor,
		DefaultPartitioning: strategy,
		dir:               cfg.Dir,
		segmentMaxBytes:   cfg.SegmentMaxBytes,
		enforceFsync:      cfg.EnforceFsync,
		logger:            lg,
		hashSeed:          maphash.MakeSeed(),
		partitions:        make(map[uint32]*partition.Partition),
		consumerGroups:    make(map[uint32]*ConsumerGroup),
		nextGroupID:       1,
	}
	for i := 0; i < n; i++ {
		t.addPartitionLocked(uint32(i + 1))
	}
	return t, nil
}

// Open reconstructs a Topic whose partition directories already exist on
// disk (spec.md §9 startup reconciliation). partitionCount and
// consumerOffsets come from the replayed state log, which is the source
// of truth for a resource's existence and configuration; each partition's
// message data is then reconciled from its own directory via
// partition.Open, disk being the source of truth for message content.
func Open(id, streamID uint32, name string, expiry Expiry, maxSize SizeLimit,
	compression Compression, replicationFactor uint8, strategy Partitioning,
	partitionCount int, consumerOffsets map[uint32]map[partition.ConsumerKey]uint64,
	cfg Config, lg *logging.Logger) (*Topic, error) {
	if partitionCount < 1 {
		return nil, ierr.ValidationCode(ierr.CodeInvalidPartitions, "topic requires at least one partition")
	}

	t := &Topic{
		ID:                  id,
		StreamID:            streamID,
		Name:                name,
		CreatedAt:           time.Now(),
		MessageExpiry:       expiry,
		MaxTopicSize:        maxSize,
		Compression:         compression,
		ReplicationFactor:   replicationFactor,
		DefaultPartitioning: strategy,
		dir:                 cfg.Dir,
		segmentMaxBytes:     cfg.SegmentMaxBytes,
		enforceFsync:        cfg.EnforceFsync,
		logger:              lg,
		hashSeed:            maphash.MakeSeed(),
		partitions:          make(map[uint32]*partition.Partition),
		consumerGroups:      make(map[uint32]*ConsumerGroup),
		nextGroupID:         1,
	}
	for i := 1; i <= partitionCount; i++ {
		id32 := uint32(i)
		dir := partitionDir(t.dir, id32)
		p, err := partition.Open(id32, t.ID, t.StreamID, dir, t.partitionConfig(), consumerOffsets[id32], lg)
		if err != nil {
			return nil, err
		}
		t.partitions[id32] = p
	}
	return t, nil
}

func (t *Topic) partitionConfig() partition.Config {
	return partition.Config{
		MaxSegmentBytes:    t.segmentMaxBytes,
		EnforceFsync:       t.enforceFsync,
		UnsavedBufferBytes: 1 << 20,
	}
}

func (t *Topic) addPartitionLocked(id uint32) {
	dir := partitionDir(t.dir, id)
	t.partitions[id] = partition.New(id, t.ID, t.StreamID, dir, t.partitionConfig(), t.logger)
}

func partitionDir(topicDir string, partitionID uint32) string {
	return topicDir + "/partitions/" + uitoa(partitionID)
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// PartitionCount reports how many partitions this topic currently has.
func (t *Topic) PartitionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// Partition returns partition id, or nil if it doesn't exist.
func (t *Topic) Partition(id uint32) *partition.Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.partitions[id]
}

// Partitions returns every partition this topic currently owns, ordered
// by ID, for background tasks (retention, compaction, offset flush) to
// iterate.
func (t *Topic) Partitions() []*partition.Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.sortedPartitionIDsLocked()
	out := make([]*partition.Partition, len(ids))
	for i, id := range ids {
		out[i] = t.partitions[id]
	}
	return out
}

// CreatePartitions allocates n new partitions with the next available
// (dense) IDs and rebalances every consumer group (spec.md §4.4).
func (t *Topic) CreatePartitions(n int) error {
	if n < 1 {
		return ierr.ValidationCode(ierr.CodeInvalidPartitions, "must create at least one partition")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	base := uint32(len(t.partitions))
	for i := 1; i <= n; i++ {
		t.addPartitionLocked(base + uint32(i))
	}
	t.rebalanceAllLocked()
	return nil
}

// DeletePartitions deletes the n highest-ID partitions and rebalances
// consumer groups; fails if it would leave zero partitions.
func (t *Topic) DeletePartitions(n int) error {
	if n < 1 {
		return ierr.ValidationCode(ierr.CodeInvalidPartitions, "must delete at least one partition")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n >= len(t.partitions) {
		return ierr.ValidationCode(ierr.CodeInvalidPartitions, "cannot delete every partition of a topic")
	}

	highest := uint32(len(t.partitions))
	for i := 0; i < n; i++ {
		id := highest - uint32(i)
		if p, ok := t.partitions[id]; ok {
			if err := p.Purge(); err != nil {
				return err
			}
			delete(t.partitions, id)
		}
	}
	t.rebalanceAllLocked()
	return nil
}

func (t *Topic) sortedPartitionIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Append resolves strategy to one or more target partitions and forwards
// each message in original order, returning the partition/offset each
// landed at (spec.md §4.4).
func (t *Topic) Append(strategy Partitioning, messages []PendingAppend) ([]Assigned, error) {
	if len(messages) == 0 {
		return nil, ierr.Validation("append requires at least one message")
	}

	t.mu.RLock()
	n := uint32(len(t.partitions))
	t.mu.RUnlock()
	if n == 0 {
		return nil, ierr.NotFound(ierr.CodePartitionNotFound, "topic has no partitions")
	}

	switch strategy.Kind {
	case PartitioningFixed:
		if strategy.PartitionID < 1 || strategy.PartitionID > n {
			return nil, ierr.NotFound(ierr.CodePartitionNotFound, "partition does not exist")
		}
		return t.appendToOne(strategy.PartitionID, messages)
	case PartitioningMessageKey:
		pid := uint32(1 + hashKey(t.hashSeed, strategy.Key)%uint64(n))
		return t.appendToOne(pid, messages)
	case PartitioningBalanced:
		return t.appendBalanced(n, messages)
	default:
		return nil, ierr.Protocol(ierr.CodeMalformedFrame, "unknown partitioning strategy")
	}
}

func (t *Topic) appendToOne(partitionID uint32, messages []PendingAppend) ([]Assigned, error) {
	p := t.Partition(partitionID)
	if p == nil {
		return nil, ierr.NotFound(ierr.CodePartitionNotFound, "partition does not exist")
	}
	pending := make([]partition.PendingMessage, len(messages))
	for i, m := range messages {
		pending[i] = partition.PendingMessage{ID: m.ID, Headers: m.Headers, Payload: m.Payload, Timestamp: m.Timestamp}
	}
	offsets, err := p.Append(pending)
	if err != nil {
		return nil, err
	}
	out := make([]Assigned, len(offsets))
	for i, off := range offsets {
		out[i] = Assigned{PartitionID: partitionID, Offset: off}
	}
	return out, nil
}

// appendBalanced round-robins each message individually across the dense
// 1..n partition range (an atomic counter per topic), grouping
// consecutive messages bound for the same partition into one underlying
// Append call while preserving overall message order in the result.
func (t *Topic) appendBalanced(n uint32, messages []PendingAppend) ([]Assigned, error) {
	out := make([]Assigned, len(messages))
	targets := make([]uint32, len(messages))
	for i := range messages {
		c := atomic.AddUint32(&t.balancedCounter, 1) - 1
		targets[i] = 1 + c%n
	}

	i := 0
	for i < len(messages) {
		j := i + 1
		for j < len(messages) && targets[j] == targets[i] {
			j++
		}
		assigned, err := t.appendToOne(targets[i], messages[i:j])
		if err != nil {
			return nil, err
		}
		copy(out[i:j], assigned)
		i = j
	}
	return out, nil
}

// Purge purges every partition of this topic.
func (t *Topic) Purge() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.partitions {
		if err := p.Purge(); err != nil {
			return err
		}
	}
	return nil
}

// EnforceRetention applies expiry/size retention to every partition,
// dividing MaxTopicSize evenly across the current partition count
// (spec.md §4.3's "max_topic_size / partitions_in_topic").
func (t *Topic) EnforceRetention(now time.Time) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var perPartitionMax uint64
	if t.MaxTopicSize.Kind == SizeBytes && len(t.partitions) > 0 {
		perPartitionMax = t.MaxTopicSize.Bytes / uint64(len(t.partitions))
	}
	var expiry time.Duration
	if !t.MessageExpiry.Never {
		expiry = t.MessageExpiry.Duration
	}
	for _, p := range t.partitions {
		if err := p.EnforceRetention(now, expiry, perPartitionMax); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topic) rebalanceAllLocked() {
	ids := t.sortedPartitionIDsLocked()
	for _, g := range t.consumerGroups {
		g.rebalance(ids)
	}
}

// CreateConsumerGroup allocates a new, memberless consumer group.
func (t *Topic) CreateConsumerGroup(id uint32, name string) (*ConsumerGroup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.consumerGroups[id]; exists {
		return nil, ierr.Conflict(ierr.CodeGroupExists, "consumer group already exists")
	}
	g := newConsumerGroup(id, t.ID, name)
	t.consumerGroups[id] = g
	if id >= t.nextGroupID {
		t.nextGroupID = id + 1
	}
	return g, nil
}

// DeleteConsumerGroup removes a consumer group entirely.
func (t *Topic) DeleteConsumerGroup(id uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.consumerGroups[id]; !exists {
		return ierr.NotFound(ierr.CodeConsumerGroupNotFound, "consumer group not found")
	}
	delete(t.consumerGroups, id)
	return nil
}

// ConsumerGroup looks up a consumer group by ID.
func (t *Topic) ConsumerGroup(id uint32) (*ConsumerGroup, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.consumerGroups[id]
	return g, ok
}

// ConsumerGroups returns every consumer group of this topic.
func (t *Topic) ConsumerGroups() []*ConsumerGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ConsumerGroup, 0, len(t.consumerGroups))
	for _, g := range t.consumerGroups {
		out = append(out, g)
	}
	return out
}

// JoinConsumerGroup adds memberID to group groupID and rebalances it.
func (t *Topic) JoinConsumerGroup(groupID, memberID uint32) error {
	t.mu.RLock()
	g, ok := t.consumerGroups[groupID]
	ids := t.sortedPartitionIDsLocked()
	t.mu.RUnlock()
	if !ok {
		return ierr.NotFound(ierr.CodeConsumerGroupNotFound, "consumer group not found")
	}
	return g.Join(memberID, ids)
}

// LeaveConsumerGroup removes memberID from group groupID and rebalances it.
func (t *Topic) LeaveConsumerGroup(groupID, memberID uint32) error {
	t.mu.RLock()
	g, ok := t.consumerGroups[groupID]
	ids := t.sortedPartitionIDsLocked()
	t.mu.RUnlock()
	if !ok {
		return ierr.NotFound(ierr.CodeConsumerGroupNotFound, "consumer group not found")
	}
	return g.Leave(memberID, ids)
}

// ConsumeForGroup serves the next partition in memberID's round-robin
// cursor among its assigned partitions (spec.md §4.4).
func (t *Topic) ConsumeForGroup(groupID, memberID uint32, strategy partition.ConsumeStrategy, count int) (ConsumeForGroupResult, error) {
	t.mu.RLock()
	g, ok := t.consumerGroups[groupID]
	t.mu.RUnlock()
	if !ok {
		return ConsumeForGroupResult{}, ierr.NotFound(ierr.CodeConsumerGroupNotFound, "consumer group not found")
	}

	pid, ok := g.nextPartitionFor(memberID)
	if !ok {
		return ConsumeForGroupResult{}, ierr.State(ierr.CodeGroupNotJoined, "member has no assigned partitions")
	}

	p := t.Partition(pid)
	if p == nil {
		return ConsumeForGroupResult{}, ierr.NotFound(ierr.CodePartitionNotFound, "assigned partition missing")
	}
	msgs, err := p.Consume(strategy, count)
	if err != nil {
		return ConsumeForGroupResult{}, err
	}
	if len(msgs) > 0 {
		p.StoreConsumerOffset(partition.Group(groupID), msgs[len(msgs)-1].Offset)
	}
	return ConsumeForGroupResult{PartitionID: pid, Messages: msgs}, nil
}

// CompactAgedSegments re-encodes closed segments older than minAge across
// every partition with codec (SPEC_FULL.md §4.2 sealed-segment compactor,
// run periodically by pkg/system's background task).
func (t *Topic) CompactAgedSegments(codec config.CompactionCodec, minAge time.Duration, now time.Time) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.partitions {
		if err := p.CompactAgedSegments(codec, minAge, now); err != nil {
			return err
		}
	}
	return nil
}
