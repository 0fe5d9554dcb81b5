// Package segment implements the CORE storage engine (spec.md §4.2): one
// contiguous log file per segment plus two index files, batch framing,
// and message retrieval by offset or timestamp.
package segment

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/driftline/driftline/internal/ierr"
)

// State is a message's availability state (spec.md §3).
type State uint8

const (
	Available State = iota
	Unavailable
)

// ID is the opaque 128-bit producer-supplied message identifier used for
// per-producer deduplication (spec.md §1 non-goals: beyond this, no
// cross-partition exactly-once).
type ID [16]byte

// Message is one record within a partition (spec.md §3).
type Message struct {
	Offset    uint64
	State     State
	Timestamp uint64 // micros since epoch
	ID        ID
	Headers   []byte // opaque to the broker; nil means "no headers"
	Payload   []byte
	Checksum  uint32
}

// ComputeChecksum sets m.Checksum from m.Payload using IEEE CRC-32
// (hash/crc32 — see DESIGN.md: no third-party checksum library appears
// anywhere in the retrieved example pack).
func (m *Message) ComputeChecksum() {
	m.Checksum = crc32.ChecksumIEEE(m.Payload)
}

// VerifyChecksum reports whether m.Checksum matches m.Payload.
func (m *Message) VerifyChecksum() bool {
	return crc32.ChecksumIEEE(m.Payload) == m.Checksum
}

// bodySize is the on-disk frame size for m, per spec.md §4.2:
// [length:u32][offset:u64][state:u8][timestamp:u64][id:u128]
// [headers_len:u32][headers][payload_len:u32][payload][checksum:u32]
// "length" itself isn't counted in the returned size of the frame body,
// but is included in the frame written to disk.
func (m *Message) bodySize() int {
	return 8 + 1 + 8 + 16 + 4 + len(m.Headers) + 4 + len(m.Payload) + 4
}

func (m *Message) frameSize() int {
	return 4 + m.bodySize()
}

// encode appends m's on-disk frame to buf, returning the extended slice.
func (m *Message) encode(buf []byte) []byte {
	body := m.bodySize()
	start := len(buf)
	buf = append(buf, make([]byte, 4+body)...)

	binary.LittleEndian.PutUint32(buf[start:], uint32(body))
	p := start + 4
	binary.LittleEndian.PutUint64(buf[p:], m.Offset)
	p += 8
	buf[p] = byte(m.State)
	p++
	binary.LittleEndian.PutUint64(buf[p:], m.Timestamp)
	p += 8
	copy(buf[p:p+16], m.ID[:])
	p += 16
	binary.LittleEndian.PutUint32(buf[p:], uint32(len(m.Headers)))
	p += 4
	copy(buf[p:p+len(m.Headers)], m.Headers)
	p += len(m.Headers)
	binary.LittleEndian.PutUint32(buf[p:], uint32(len(m.Payload)))
	p += 4
	copy(buf[p:p+len(m.Payload)], m.Payload)
	p += len(m.Payload)
	binary.LittleEndian.PutUint32(buf[p:], m.Checksum)
	return buf
}

// decodeMessage parses one message frame from buf starting at offset off,
// returning the message and the offset just past it.
func decodeMessage(buf []byte, off int) (Message, int, error) {
	if off+4 > len(buf) {
		return Message{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated message length", errShortFrame)
	}
	body := int(binary.LittleEndian.Uint32(buf[off:]))
	p := off + 4
	end := p + body
	if body < 8+1+8+16+4+4+4 || end > len(buf) {
		return Message{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated message body", errShortFrame)
	}

	var m Message
	m.Offset = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	m.State = State(buf[p])
	p++
	m.Timestamp = binary.LittleEndian.Uint64(buf[p:])
	p += 8
	copy(m.ID[:], buf[p:p+16])
	p += 16
	hlen := int(binary.LittleEndian.Uint32(buf[p:]))
	p += 4
	if p+hlen > end {
		return Message{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated message headers", errShortFrame)
	}
	if hlen > 0 {
		m.Headers = append([]byte(nil), buf[p:p+hlen]...)
	}
	p += hlen
	plen := int(binary.LittleEndian.Uint32(buf[p:]))
	p += 4
	if p+plen > end {
		return Message{}, off, ierr.IO(ierr.CodeCorruptFile, "truncated message payload", errShortFrame)
	}
	m.Payload = append([]byte(nil), buf[p:p+plen]...)
	p += plen
	m.Checksum = binary.LittleEndian.Uint32(buf[p:])
	p += 4

	return m, off + 4 + body, nil
}

var errShortFrame = shortFrameErr{}

type shortFrameErr struct{}

func (shortFrameErr) Error() string { return "short frame" }
