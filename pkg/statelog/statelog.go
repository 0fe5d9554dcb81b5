// Package statelog implements spec.md §4.6: a single append-only file of
// authoritative metadata mutations, replayed on startup to reconstruct
// the in-memory catalog.
package statelog

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/persister"
)

// Code tags which metadata mutation a Record represents (spec.md §4.6's
// tagged union).
type Code uint32

const (
	CreateStream Code = iota + 1
	DeleteStream
	UpdateStream
	CreateTopic
	DeleteTopic
	UpdateTopic
	CreatePartitions
	DeletePartitions
	CreateUser
	DeleteUser
	UpdateUser
	UpdatePermissions
	CreateConsumerGroup
	DeleteConsumerGroup
	CreatePersonalAccessToken
	DeletePersonalAccessToken
)

// Record is one state-log entry: [record_length:u32][user_id:u32]
// [code:u32][payload]. Payload encoding is owned by the caller (pkg/system);
// this package only frames and replays opaque bytes.
type Record struct {
	UserID  uint32
	Code    Code
	Payload []byte
}

const headerSize = 4 + 4 // user_id + code, not counting the length prefix itself

func encodeRecord(r Record) []byte {
	buf := make([]byte, 4+headerSize+len(r.Payload))
	binary.LittleEndian.PutUint32(buf, uint32(headerSize+len(r.Payload)))
	binary.LittleEndian.PutUint32(buf[4:], r.UserID)
	binary.LittleEndian.PutUint32(buf[8:], uint32(r.Code))
	copy(buf[12:], r.Payload)
	return buf
}

// decodeRecord reads one record starting at buf[off:], returning the
// record and the offset just past it.
func decodeRecord(buf []byte, off int) (Record, int, error) {
	if off+4 > len(buf) {
		return Record{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated state log record length", errShort)
	}
	recLen := int(binary.LittleEndian.Uint32(buf[off:]))
	p := off + 4
	end := p + recLen
	if recLen < headerSize || end > len(buf) {
		return Record{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated state log record body", errShort)
	}
	r := Record{
		UserID: binary.LittleEndian.Uint32(buf[p:]),
		Code:   Code(binary.LittleEndian.Uint32(buf[p+4:])),
	}
	if payloadLen := recLen - headerSize; payloadLen > 0 {
		r.Payload = append([]byte(nil), buf[p+8:p+8+payloadLen]...)
	}
	return r, end, nil
}

var errShort = shortErr{}

type shortErr struct{}

func (shortErr) Error() string { return "short state log frame" }

// StateLog is the append-only metadata mutation log.
type StateLog struct {
	mu   sync.Mutex
	p    *persister.Persister
	path string
}

// Open opens (creating if necessary) the state log file at path.
func Open(path string) (*StateLog, error) {
	p, err := persister.Open(path)
	if err != nil {
		return nil, err
	}
	return &StateLog{p: p, path: path}, nil
}

// Apply runs mutate to update in-memory state, then durably appends rec.
// If the append fails, rollback is invoked to undo mutate's effect and
// the IO error is returned (spec.md §4.6: "failure to persist must roll
// back the in-memory change").
func (s *StateLog) Apply(rec Record, mutate func() error, rollback func()) error {
	if err := mutate(); err != nil {
		return err
	}

	s.mu.Lock()
	_, err := s.p.AppendFlush(encodeRecord(rec))
	s.mu.Unlock()

	if err != nil {
		rollback()
		return err
	}
	return nil
}

// Replay reads every record in order from the beginning of the file and
// invokes apply for each, reconstructing the in-memory catalog on
// startup (spec.md §4.6).
func Replay(path string, apply func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierr.IO(ierr.CodePersisterFailed, "open state log for replay", err)
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return ierr.IO(ierr.CodeCorruptFile, "read state log", err)
	}

	off := 0
	for off < len(buf) {
		rec, next, err := decodeRecord(buf, off)
		if err != nil {
			// A short trailing record means a torn write mid-append; the
			// log itself is still valid up to this point.
			break
		}
		if err := apply(rec); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// Close closes the underlying file handle.
func (s *StateLog) Close() error {
	return s.p.Close()
}
