// Package system is the composition root (spec.md §4.6/§4.7/§4.8/§9): it
// owns the catalog of streams/topics/users, replays and appends to the
// state log, enforces permissions, and runs the background retention,
// compaction and consumer-offset-flush tasks. pkg/dispatch handlers are
// thin adapters onto the methods here.
package system

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/partition"
	"github.com/driftline/driftline/pkg/permission"
	"github.com/driftline/driftline/pkg/persister"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/statelog"
	"github.com/driftline/driftline/pkg/stream"
	"github.com/driftline/driftline/pkg/topic"
)

// User is a registered account (spec.md §4.7's subject; spec.md §3 is
// silent on User's field shape beyond its state-log presence).
type User struct {
	ID           uint32
	Username     string
	PasswordHash []byte
	IsRoot       bool
	CreatedAt    time.Time
}

// PersonalAccessToken authenticates non-interactive clients without a
// password (spec.md §4.8). Name is unique across all users.
type PersonalAccessToken struct {
	Name      string
	UserID    uint32
	Digest    [32]byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means never
}

// System is the CORE's single composition root.
type System struct {
	cfg      config.Config
	logger   *logging.Logger
	stateLog *statelog.StateLog
	Sessions *session.Registry

	mu           sync.RWMutex
	streams      map[uint32]*stream.Stream
	streamNames  map[string]uint32
	nextStreamID uint32

	users       map[uint32]*User
	usersByName map[string]uint32
	nextUserID  uint32

	pats map[string]*PersonalAccessToken // keyed by token name (global namespace)

	perms map[uint32]*permission.Set // user_id -> compiled grant set

	// replayed* are startup-only scratch state: the final topic/group
	// shape isn't known until replay finishes (a topic's partition count
	// may be touched by several records), so reconcileDisk acts on these
	// once replay completes rather than materializing topics mid-replay.
	replayedTopics  []topicRecord
	replayedGroups  []consumerGroupRecord
	replayedRenames []statelog.Record

	stop chan struct{}
	wg   sync.WaitGroup
}

func streamDir(dataDir string, streamID uint32) string {
	return filepath.Join(dataDir, "streams", strconv.FormatUint(uint64(streamID), 10))
}

func topicDir(strDir string, topicID uint32) string {
	return filepath.Join(strDir, "topics", strconv.FormatUint(uint64(topicID), 10))
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Open replays the state log to rebuild the in-memory catalog, then
// reconciles every topic's on-disk partitions (spec.md §4.6/§9: the
// state log is authoritative for existence/configuration, disk for
// message content). It creates a root user if none was replayed.
func Open(cfg config.Config, lg *logging.Logger) (*System, error) {
	if lg == nil {
		lg = logging.Nop()
	}
	if err := persister.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	sys := &System{
		cfg:          cfg,
		logger:       lg,
		Sessions:     session.NewRegistry(),
		streams:      make(map[uint32]*stream.Stream),
		streamNames:  make(map[string]uint32),
		nextStreamID: 1,
		users:        make(map[uint32]*User),
		usersByName:  make(map[string]uint32),
		nextUserID:   1,
		pats:         make(map[string]*PersonalAccessToken),
		perms:        make(map[uint32]*permission.Set),
		stop:         make(chan struct{}),
	}

	statePath := filepath.Join(cfg.DataDir, "state.log")
	sl, err := statelog.Open(statePath)
	if err != nil {
		return nil, err
	}
	sys.stateLog = sl

	pendingPartitionCounts := make(map[uint32]map[uint32]uint32) // streamID -> topicID -> count
	if err := statelog.Replay(statePath, func(rec statelog.Record) error {
		return sys.applyReplay(rec, pendingPartitionCounts)
	}); err != nil {
		return nil, err
	}

	if err := sys.reconcileDisk(pendingPartitionCounts); err != nil {
		return nil, err
	}

	if len(sys.users) == 0 {
		hash, err := session.HashPassword(cfg.RootPassword)
		if err != nil {
			return nil, err
		}
		root := &User{ID: sys.nextUserID, Username: cfg.RootUsername, PasswordHash: hash, IsRoot: true, CreatedAt: time.Now()}
		sys.users[root.ID] = root
		sys.usersByName[normalize(root.Username)] = root.ID
		sys.perms[root.ID] = permission.Root()
		sys.nextUserID++
	}

	sys.startBackground()
	return sys, nil
}

// applyReplay dispatches one state log record onto the in-memory
// catalog during startup replay. Partition/consumer-group topology for
// a topic is recorded as it's seen and consulted by reconcileDisk once
// replay is complete, since a topic's final partition count may be the
// result of several CreatePartitions/DeletePartitions records.
func (sys *System) applyReplay(rec statelog.Record, pending map[uint32]map[uint32]uint32) error {
	switch rec.Code {
	case statelog.CreateStream:
		r, err := decodeStreamRecord(rec.Payload)
		if err != nil {
			return err
		}
		s := stream.New(r.ID, r.Name)
		sys.streams[r.ID] = s
		sys.streamNames[normalize(r.Name)] = r.ID
		if r.ID >= sys.nextStreamID {
			sys.nextStreamID = r.ID + 1
		}
		pending[r.ID] = make(map[uint32]uint32)

	case statelog.DeleteStream:
		r, err := decodeStreamTopicRecord(rec.Payload)
		if err != nil {
			return err
		}
		if s, ok := sys.streams[r.StreamID]; ok {
			delete(sys.streamNames, normalize(s.Name))
		}
		delete(sys.streams, r.StreamID)
		delete(pending, r.StreamID)

	case statelog.CreateTopic:
		r, err := decodeTopicRecord(rec.Payload)
		if err != nil {
			return err
		}
		if pending[r.StreamID] == nil {
			pending[r.StreamID] = make(map[uint32]uint32)
		}
		pending[r.StreamID][r.ID] = r.PartitionsCount
		sys.replayedTopics = append(sys.replayedTopics, r)

	case statelog.DeleteTopic:
		r, err := decodeStreamTopicRecord(rec.Payload)
		if err != nil {
			return err
		}
		delete(pending[r.StreamID], r.TopicID)
		sys.removeReplayedTopic(r.StreamID, r.TopicID)

	case statelog.CreatePartitions, statelog.DeletePartitions:
		r, err := decodePartitionsCountRecord(rec.Payload)
		if err != nil {
			return err
		}
		if pending[r.StreamID] == nil {
			pending[r.StreamID] = make(map[uint32]uint32)
		}
		pending[r.StreamID][r.TopicID] = r.Count

	case statelog.CreateUser:
		r, err := decodeUserRecord(rec.Payload)
		if err != nil {
			return err
		}
		u := &User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, IsRoot: r.IsRoot, CreatedAt: time.Now()}
		sys.users[r.ID] = u
		sys.usersByName[normalize(r.Username)] = r.ID
		if r.IsRoot {
			sys.perms[r.ID] = permission.Root()
		} else {
			sys.perms[r.ID] = permission.NewSet()
		}
		if r.ID >= sys.nextUserID {
			sys.nextUserID = r.ID + 1
		}

	case statelog.DeleteUser:
		r, err := decodeUserIDRecord(rec.Payload)
		if err != nil {
			return err
		}
		if u, ok := sys.users[r.ID]; ok {
			delete(sys.usersByName, normalize(u.Username))
		}
		delete(sys.users, r.ID)
		delete(sys.perms, r.ID)

	case statelog.UpdateUser:
		r, err := decodeUserRecord(rec.Payload)
		if err != nil {
			return err
		}
		if u, ok := sys.users[r.ID]; ok {
			u.PasswordHash = r.PasswordHash
		}

	case statelog.UpdatePermissions:
		r, err := decodeUserIDRecord(rec.Payload)
		if err != nil {
			return err
		}
		// Grants are re-derived from explicit Grant/Revoke calls at runtime
		// only; replay restores an empty, rebuildable set for the addressed
		// user (permission grants are not individually logged, a scope
		// choice recorded in DESIGN.md).
		if _, ok := sys.perms[r.ID]; !ok {
			sys.perms[r.ID] = permission.NewSet()
		}

	case statelog.CreatePersonalAccessToken:
		r, err := decodePATRecord(rec.Payload)
		if err != nil {
			return err
		}
		pat := &PersonalAccessToken{Name: r.Name, UserID: r.UserID, Digest: r.Digest, CreatedAt: time.Now()}
		if r.ExpiresAtMicros != 0 {
			t := time.UnixMicro(int64(r.ExpiresAtMicros))
			pat.ExpiresAt = &t
		}
		sys.pats[r.Name] = pat

	case statelog.DeletePersonalAccessToken:
		r, err := decodePATNameRecord(rec.Payload)
		if err != nil {
			return err
		}
		delete(sys.pats, r.Name)

	case statelog.CreateConsumerGroup, statelog.DeleteConsumerGroup:
		// Consumer groups are membership-only state with no durable
		// cross-restart requirement in spec.md §3 beyond their existence;
		// reconcileDisk recreates empty groups for every CreateConsumerGroup
		// still standing after a matching DeleteConsumerGroup is replayed.
		if rec.Code == statelog.CreateConsumerGroup {
			r, err := decodeConsumerGroupRecord(rec.Payload)
			if err != nil {
				return err
			}
			sys.replayedGroups = append(sys.replayedGroups, r)
		} else {
			r, err := decodeStreamTopicGroupRecord(rec.Payload)
			if err != nil {
				return err
			}
			sys.removeReplayedGroup(r.StreamID, r.TopicID, r.GroupID)
		}

	case statelog.UpdateStream, statelog.UpdateTopic:
		// Rename-only mutations; replay updates the name index once the
		// owning stream/topic has been materialized by reconcileDisk, so
		// these are applied there instead of here (see reconcileDisk).
		sys.replayedRenames = append(sys.replayedRenames, rec)
	}
	return nil
}

func (sys *System) removeReplayedTopic(streamID, topicID uint32) {
	out := sys.replayedTopics[:0]
	for _, t := range sys.replayedTopics {
		if t.StreamID == streamID && t.ID == topicID {
			continue
		}
		out = append(out, t)
	}
	sys.replayedTopics = out
}

func (sys *System) removeReplayedGroup(streamID, topicID, groupID uint32) {
	out := sys.replayedGroups[:0]
	for _, g := range sys.replayedGroups {
		if g.StreamID == streamID && g.TopicID == topicID && g.GroupID == groupID {
			continue
		}
		out = append(out, g)
	}
	sys.replayedGroups = out
}

// reconcileDisk builds every Topic (via topic.Open, which in turn calls
// partition.Open per partition) now that replay has produced the final
// catalog shape, and recreates consumer groups recorded during replay.
func (sys *System) reconcileDisk(pending map[uint32]map[uint32]uint32) error {
	for _, r := range sys.replayedTopics {
		sDir := streamDir(sys.cfg.DataDir, r.StreamID)
		tDir := topicDir(sDir, r.ID)
		count := pending[r.StreamID][r.ID]
		if count == 0 {
			count = r.PartitionsCount
		}

		if _, err := os.Stat(tDir); os.IsNotExist(err) {
			sys.logger.Log(logging.LevelWarn, "topic directory missing at startup, recreating empty",
				"stream_id", r.StreamID, "topic_id", r.ID)
		}

		t, err := topic.Open(r.ID, r.StreamID, r.Name, topicExpiry(r), topicMaxSize(r),
			r.Compression, r.ReplicationFactor, r.partitioning(), int(count),
			loadConsumerOffsets(tDir, int(count)), sys.topicConfig(tDir), sys.logger)
		if err != nil {
			return err
		}

		s, ok := sys.streams[r.StreamID]
		if !ok {
			continue // stream was deleted after this topic was created; orphan, skip
		}
		if err := s.AddTopic(t); err != nil {
			return err
		}
	}

	for _, g := range sys.replayedGroups {
		s, ok := sys.streams[g.StreamID]
		if !ok {
			continue
		}
		t, ok := s.Topic(g.TopicID)
		if !ok {
			continue
		}
		if _, err := t.CreateConsumerGroup(g.GroupID, g.Name); err != nil {
			return err
		}
	}

	for _, rec := range sys.replayedRenames {
		sys.applyRename(rec)
	}
	sys.replayedTopics = nil
	sys.replayedGroups = nil
	sys.replayedRenames = nil
	return nil
}

func (sys *System) applyRename(rec statelog.Record) {
	switch rec.Code {
	case statelog.UpdateStream:
		r, err := decodeStreamRecord(rec.Payload)
		if err != nil {
			return
		}
		if s, ok := sys.streams[r.ID]; ok {
			delete(sys.streamNames, normalize(s.Name))
			s.Name = r.Name
			sys.streamNames[normalize(r.Name)] = r.ID
		}
	case statelog.UpdateTopic:
		r, err := decodeStreamTopicNameRecord(rec.Payload)
		if err != nil {
			return
		}
		if s, ok := sys.streams[r.StreamID]; ok {
			if t, ok := s.Topic(r.TopicID); ok {
				t.Name = r.Name
			}
		}
	}
}

func topicExpiry(r topicRecord) topic.Expiry {
	return topic.Expiry{Never: r.MessageExpiryNever, Duration: time.Duration(r.MessageExpiryMicros) * time.Microsecond}
}

func topicMaxSize(r topicRecord) topic.SizeLimit {
	return topic.SizeLimit{Kind: r.MaxTopicSizeKind, Bytes: r.MaxTopicSizeBytes}
}

func (sys *System) topicConfig(dir string) topic.Config {
	return topic.Config{
		Dir:                dir,
		SegmentMaxBytes:    sys.cfg.SegmentMaxSizeBytes,
		EnforceFsync:       sys.cfg.EnforceFsync,
		UnsavedBufferBytes: sys.cfg.AppendBufferSize,
	}
}

// loadConsumerOffsets reads every partition's persisted consumer_offsets/
// directory (written by the background flush task; see offsetFlushLoop)
// back into the map topic.Open expects.
func loadConsumerOffsets(topicDir string, partitionCount int) map[uint32]map[partition.ConsumerKey]uint64 {
	out := make(map[uint32]map[partition.ConsumerKey]uint64, partitionCount)
	for i := 1; i <= partitionCount; i++ {
		id := uint32(i)
		dir := filepath.Join(topicDir, "partitions", strconv.FormatUint(uint64(id), 10), "consumer_offsets")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		offsets := make(map[partition.ConsumerKey]uint64)
		for _, e := range entries {
			key, ok := parseConsumerOffsetFileName(e.Name())
			if !ok {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil || len(data) < 8 {
				continue
			}
			off, _, err := getU64(data, 0)
			if err != nil {
				continue
			}
			offsets[key] = off
		}
		if len(offsets) > 0 {
			out[id] = offsets
		}
	}
	return out
}

func consumerOffsetFileName(key partition.ConsumerKey) string {
	if key.Kind == partition.KeyGroup {
		return "group-" + strconv.FormatUint(uint64(key.ID), 10)
	}
	return "direct-" + strconv.FormatUint(uint64(key.ID), 10)
}

func parseConsumerOffsetFileName(name string) (partition.ConsumerKey, bool) {
	switch {
	case strings.HasPrefix(name, "direct-"):
		id, err := strconv.ParseUint(strings.TrimPrefix(name, "direct-"), 10, 32)
		if err != nil {
			return partition.ConsumerKey{}, false
		}
		return partition.Direct(uint32(id)), true
	case strings.HasPrefix(name, "group-"):
		id, err := strconv.ParseUint(strings.TrimPrefix(name, "group-"), 10, 32)
		if err != nil {
			return partition.ConsumerKey{}, false
		}
		return partition.Group(uint32(id)), true
	default:
		return partition.ConsumerKey{}, false
	}
}

// resolveStreamLocked looks up a stream by Identifier under the catalog lock
// a caller already holds (RLock or Lock).
func (sys *System) resolveStreamLocked(id ident.Identifier) (*stream.Stream, error) {
	var sid uint32
	if id.Kind() == ident.Numeric {
		sid = id.Num()
	} else {
		found, ok := sys.streamNames[id.NormalizedName()]
		if !ok {
			return nil, ierr.NotFound(ierr.CodeStreamNotFound, "stream not found")
		}
		sid = found
	}
	s, ok := sys.streams[sid]
	if !ok {
		return nil, ierr.NotFound(ierr.CodeStreamNotFound, "stream not found")
	}
	return s, nil
}

func (sys *System) resolveTopicLocked(streamID, topicID ident.Identifier) (*stream.Stream, *topic.Topic, error) {
	s, err := sys.resolveStreamLocked(streamID)
	if err != nil {
		return nil, nil, err
	}
	var tid uint32
	if topicID.Kind() == ident.Numeric {
		tid = topicID.Num()
	} else {
		for _, t := range s.Topics() {
			if normalize(t.Name) == topicID.NormalizedName() {
				tid = t.ID
				break
			}
		}
		if tid == 0 {
			return nil, nil, ierr.NotFound(ierr.CodeTopicNotFound, "topic not found")
		}
	}
	t, ok := s.Topic(tid)
	if !ok {
		return nil, nil, ierr.NotFound(ierr.CodeTopicNotFound, "topic not found")
	}
	return s, t, nil
}

// resolveUserByName looks up a user by username, for password login.
func (sys *System) resolveUserByName(username string) (*User, bool) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	id, ok := sys.usersByName[normalize(username)]
	if !ok {
		return nil, false
	}
	return sys.users[id], true
}

// permsFor returns the permission set for userID, never nil.
func (sys *System) permsFor(userID uint32) *permission.Set {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	if p, ok := sys.perms[userID]; ok {
		return p
	}
	return permission.NewSet()
}

// sortedStreamIDsLocked returns every stream ID ascending, for listing ops.
func (sys *System) sortedStreamIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(sys.streams))
	for id := range sys.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// startBackground launches the retention, compaction and consumer-offset
// flush tasks (spec.md §5: "background tasks for retention, state-log
// flush, and consumer-offset flush" — state-log flush needs no separate
// task since statelog.Apply already flushes synchronously before the
// in-memory change is visible).
func (sys *System) startBackground() {
	sys.wg.Add(3)
	go sys.retentionLoop()
	go sys.compactionLoop()
	go sys.offsetFlushLoop()
}

func (sys *System) retentionLoop() {
	defer sys.wg.Done()
	t := time.NewTicker(sys.cfg.RetentionCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-sys.stop:
			return
		case now := <-t.C:
			sys.mu.RLock()
			topics := sys.allTopicsLocked()
			sys.mu.RUnlock()
			for _, tp := range topics {
				if err := tp.EnforceRetention(now); err != nil {
					sys.logger.Log(logging.LevelError, "retention enforcement failed", "topic_id", tp.ID, "error", err.Error())
				}
			}
		}
	}
}

func (sys *System) compactionLoop() {
	defer sys.wg.Done()
	t := time.NewTicker(sys.cfg.RetentionCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-sys.stop:
			return
		case now := <-t.C:
			if sys.cfg.CompactionCodec == config.CompactionNone {
				continue
			}
			sys.mu.RLock()
			topics := sys.allTopicsLocked()
			sys.mu.RUnlock()
			for _, tp := range topics {
				if err := tp.CompactAgedSegments(sys.cfg.CompactionCodec, sys.cfg.CompactionMinAge, now); err != nil {
					sys.logger.Log(logging.LevelError, "segment compaction failed", "topic_id", tp.ID, "error", err.Error())
				}
			}
		}
	}
}

// offsetFlushLoop persists every partition's in-memory consumer offsets
// to consumer_offsets/<kind>-<id> files (spec.md §6 directory layout),
// the durable counterpart loadConsumerOffsets reads back on Open.
func (sys *System) offsetFlushLoop() {
	defer sys.wg.Done()
	t := time.NewTicker(sys.cfg.OffsetFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-sys.stop:
			return
		case <-t.C:
			sys.mu.RLock()
			topics := sys.allTopicsLocked()
			sys.mu.RUnlock()
			for _, tp := range topics {
				for _, p := range tp.Partitions() {
					if err := flushPartitionOffsets(p); err != nil {
						sys.logger.Log(logging.LevelError, "consumer offset flush failed", "partition_id", p.ID, "error", err.Error())
					}
				}
			}
		}
	}
}

func flushPartitionOffsets(p *partition.Partition) error {
	snapshot := p.ConsumerOffsetsSnapshot()
	if len(snapshot) == 0 {
		return nil
	}
	dir := filepath.Join(p.Dir, "consumer_offsets")
	if err := persister.EnsureDir(dir); err != nil {
		return err
	}
	for key, offset := range snapshot {
		buf := putU64(nil, offset)
		if err := persister.Overwrite(filepath.Join(dir, consumerOffsetFileName(key)), buf); err != nil {
			return err
		}
	}
	return nil
}

func (sys *System) allTopicsLocked() []*topic.Topic {
	var out []*topic.Topic
	for _, s := range sys.streams {
		out = append(out, s.Topics()...)
	}
	return out
}

// Shutdown stops background tasks and closes the state log. It does not
// close transport listeners; cmd/driftlined orchestrates the full
// shutdown sequence (listener drain, then System.Shutdown).
func (sys *System) Shutdown() error {
	close(sys.stop)
	sys.wg.Wait()
	return sys.stateLog.Close()
}
