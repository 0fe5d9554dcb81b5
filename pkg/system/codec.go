package system

import (
	"encoding/binary"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/topic"
)

// These primitives mirror pkg/command/codec.go's shape but encode the
// state log's own records (spec.md §4.6), a distinct concern from wire
// request/response payloads: little-endian, u32-length-prefixed
// strings/bytes.

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

func putString(buf []byte, v string) []byte { return putBytes(buf, []byte(v)) }

func getU32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, ierr.IO(ierr.CodeCorruptFile, "truncated state record u32", errShortRecord)
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), off + 4, nil
}

func getU64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, off, ierr.IO(ierr.CodeCorruptFile, "truncated state record u64", errShortRecord)
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), off + 8, nil
}

func getBytes(buf []byte, off int) ([]byte, int, error) {
	length, off, err := getU32(buf, off)
	if err != nil {
		return nil, off, err
	}
	if off+int(length) > len(buf) {
		return nil, off, ierr.IO(ierr.CodeCorruptFile, "truncated state record bytes", errShortRecord)
	}
	return append([]byte(nil), buf[off:off+int(length)]...), off + int(length), nil
}

func getString(buf []byte, off int) (string, int, error) {
	b, off, err := getBytes(buf, off)
	return string(b), off, err
}

type shortRecordErr struct{}

func (shortRecordErr) Error() string { return "short state log record payload" }

var errShortRecord = shortRecordErr{}

// --- CreateStream ------------------------------------------------------

type streamRecord struct {
	ID   uint32
	Name string
}

func encodeStreamRecord(r streamRecord) []byte {
	buf := putU32(nil, r.ID)
	return putString(buf, r.Name)
}

func decodeStreamRecord(buf []byte) (streamRecord, error) {
	id, off, err := getU32(buf, 0)
	if err != nil {
		return streamRecord{}, err
	}
	name, _, err := getString(buf, off)
	if err != nil {
		return streamRecord{}, err
	}
	return streamRecord{ID: id, Name: name}, nil
}

// --- CreateTopic ----------------------------------------------------------

type topicRecord struct {
	ID                  uint32
	StreamID            uint32
	Name                string
	PartitionsCount     uint32
	MessageExpiryNever  bool
	MessageExpiryMicros uint64
	MaxTopicSizeKind    topic.SizeLimitKind
	MaxTopicSizeBytes   uint64
	Compression         topic.Compression
	ReplicationFactor   uint8
	PartitioningKind    topic.PartitioningKind
	PartitioningID      uint32
	PartitioningKey     []byte
}

func encodeTopicRecord(r topicRecord) []byte {
	buf := putU32(nil, r.ID)
	buf = putU32(buf, r.StreamID)
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
	buf = append(buf, r.ReplicationFactor)
	buf = append(buf, byte(r.PartitioningKind))
	buf = putU32(buf, r.PartitioningID)
	return putBytes(buf, r.PartitioningKey)
}

func decodeTopicRecord(buf []byte) (topicRecord, error) {
	var r topicRecord
	var off int
	var err error
	r.ID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.StreamID, off, err = getU32(buf, off)
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
		return r, ierr.IO(ierr.CodeCorruptFile, "truncated topic record", errShortRecord)
	}
	r.MessageExpiryNever = buf[off] == 0
	off++
	r.MessageExpiryMicros, off, err = getU64(buf, off)
	if err != nil {
		return r, err
	}
	if off+1 > len(buf) {
		return r, ierr.IO(ierr.CodeCorruptFile, "truncated topic record", errShortRecord)
	}
	r.MaxTopicSizeKind = topic.SizeLimitKind(buf[off])
	off++
	r.MaxTopicSizeBytes, off, err = getU64(buf, off)
	if err != nil {
		return r, err
	}
	if off+3 > len(buf) {
		return r, ierr.IO(ierr.CodeCorruptFile, "truncated topic record", errShortRecord)
	}
	r.Compression = topic.Compression(buf[off])
	r.ReplicationFactor = buf[off+1]
	r.PartitioningKind = topic.PartitioningKind(buf[off+2])
	off += 3
	r.PartitioningID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.PartitioningKey, _, err = getBytes(buf, off)
	return r, err
}

func (r topicRecord) partitioning() topic.Partitioning {
	switch r.PartitioningKind {
	case topic.PartitioningFixed:
		return topic.Fixed(r.PartitioningID)
	case topic.PartitioningMessageKey:
		return topic.ByMessageKey(r.PartitioningKey)
	default:
		return topic.Balanced()
	}
}

// --- DeleteStream / DeleteTopic / CreatePartitions / DeletePartitions ----

type streamTopicRecord struct {
	StreamID uint32
	TopicID  uint32 // 0 when the record addresses a whole stream
}

func encodeStreamTopicRecord(r streamTopicRecord) []byte {
	buf := putU32(nil, r.StreamID)
	return putU32(buf, r.TopicID)
}

func decodeStreamTopicRecord(buf []byte) (streamTopicRecord, error) {
	sid, off, err := getU32(buf, 0)
	if err != nil {
		return streamTopicRecord{}, err
	}
	tid, _, err := getU32(buf, off)
	if err != nil {
		return streamTopicRecord{}, err
	}
	return streamTopicRecord{StreamID: sid, TopicID: tid}, nil
}

type partitionsCountRecord struct {
	StreamID uint32
	TopicID  uint32
	Count    uint32
}

func encodePartitionsCountRecord(r partitionsCountRecord) []byte {
	buf := putU32(nil, r.StreamID)
	buf = putU32(buf, r.TopicID)
	return putU32(buf, r.Count)
}

func decodePartitionsCountRecord(buf []byte) (partitionsCountRecord, error) {
	sid, off, err := getU32(buf, 0)
	if err != nil {
		return partitionsCountRecord{}, err
	}
	tid, off, err := getU32(buf, off)
	if err != nil {
		return partitionsCountRecord{}, err
	}
	count, _, err := getU32(buf, off)
	if err != nil {
		return partitionsCountRecord{}, err
	}
	return partitionsCountRecord{StreamID: sid, TopicID: tid, Count: count}, nil
}

// --- Users / PAT ------------------------------------------------------------

type userRecord struct {
	ID           uint32
	Username     string
	PasswordHash []byte
	IsRoot       bool
}

func encodeUserRecord(r userRecord) []byte {
	buf := putU32(nil, r.ID)
	buf = putString(buf, r.Username)
	buf = putBytes(buf, r.PasswordHash)
	if r.IsRoot {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func decodeUserRecord(buf []byte) (userRecord, error) {
	var r userRecord
	var off int
	var err error
	r.ID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Username, off, err = getString(buf, off)
	if err != nil {
		return r, err
	}
	r.PasswordHash, off, err = getBytes(buf, off)
	if err != nil {
		return r, err
	}
	if off+1 > len(buf) {
		return r, ierr.IO(ierr.CodeCorruptFile, "truncated user record", errShortRecord)
	}
	r.IsRoot = buf[off] == 1
	return r, nil
}

type userIDRecord struct {
	ID uint32
}

func encodeUserIDRecord(r userIDRecord) []byte { return putU32(nil, r.ID) }

func decodeUserIDRecord(buf []byte) (userIDRecord, error) {
	id, _, err := getU32(buf, 0)
	return userIDRecord{ID: id}, err
}

type patRecord struct {
	Name            string
	UserID          uint32
	Digest          [32]byte
	ExpiresAtMicros uint64 // 0 = never
}

func encodePATRecord(r patRecord) []byte {
	buf := putString(nil, r.Name)
	buf = putU32(buf, r.UserID)
	buf = append(buf, r.Digest[:]...)
	return putU64(buf, r.ExpiresAtMicros)
}

func decodePATRecord(buf []byte) (patRecord, error) {
	var r patRecord
	var off int
	var err error
	r.Name, off, err = getString(buf, off)
	if err != nil {
		return r, err
	}
	r.UserID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	if off+32 > len(buf) {
		return r, ierr.IO(ierr.CodeCorruptFile, "truncated pat record", errShortRecord)
	}
	copy(r.Digest[:], buf[off:off+32])
	off += 32
	r.ExpiresAtMicros, _, err = getU64(buf, off)
	return r, err
}

type patNameRecord struct {
	Name string
}

func encodePATNameRecord(r patNameRecord) []byte { return putString(nil, r.Name) }

func decodePATNameRecord(buf []byte) (patNameRecord, error) {
	name, _, err := getString(buf, 0)
	return patNameRecord{Name: name}, err
}

// --- Consumer groups --------------------------------------------------------

type consumerGroupRecord struct {
	StreamID uint32
	TopicID  uint32
	GroupID  uint32
	Name     string
}

func encodeConsumerGroupRecord(r consumerGroupRecord) []byte {
	buf := putU32(nil, r.StreamID)
	buf = putU32(buf, r.TopicID)
	buf = putU32(buf, r.GroupID)
	return putString(buf, r.Name)
}

func decodeConsumerGroupRecord(buf []byte) (consumerGroupRecord, error) {
	var r consumerGroupRecord
	var off int
	var err error
	r.StreamID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.TopicID, off, err = getU32(buf, off)
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

type streamTopicGroupRecord struct {
	StreamID uint32
	TopicID  uint32
	GroupID  uint32
}

func encodeStreamTopicGroupRecord(r streamTopicGroupRecord) []byte {
	buf := putU32(nil, r.StreamID)
	buf = putU32(buf, r.TopicID)
	return putU32(buf, r.GroupID)
}

func decodeStreamTopicGroupRecord(buf []byte) (streamTopicGroupRecord, error) {
	var r streamTopicGroupRecord
	var off int
	var err error
	r.StreamID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.TopicID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.GroupID, _, err = getU32(buf, off)
	return r, err
}

// --- Renames (UpdateStream / UpdateTopic) -----------------------------------

type streamTopicNameRecord struct {
	StreamID uint32
	TopicID  uint32
	Name     string
}

func encodeStreamTopicNameRecord(r streamTopicNameRecord) []byte {
	buf := putU32(nil, r.StreamID)
	buf = putU32(buf, r.TopicID)
	return putString(buf, r.Name)
}

func decodeStreamTopicNameRecord(buf []byte) (streamTopicNameRecord, error) {
	var r streamTopicNameRecord
	var off int
	var err error
	r.StreamID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.TopicID, off, err = getU32(buf, off)
	if err != nil {
		return r, err
	}
	r.Name, _, err = getString(buf, off)
	return r, err
}
