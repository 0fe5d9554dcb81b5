package segment

import (
	"encoding/binary"

	"github.com/driftline/driftline/internal/ierr"
)

// batch is a contiguous group of messages appended and indexed as one
// unit (spec.md §4.2):
//
//	[batch_length:u32][base_offset:u64][last_offset_delta:u32]
//	[base_timestamp:u64][batch_body]
//
// batch_length counts every byte that follows it (base_offset through the
// end of batch_body).
type batch struct {
	baseOffset    uint64
	lastOffsetDelta uint32
	baseTimestamp uint64
	messages      []Message
}

const batchHeaderSize = 8 + 4 + 8 // base_offset + last_offset_delta + base_timestamp

func newBatch(messages []Message) batch {
	b := batch{
		baseOffset:    messages[0].Offset,
		baseTimestamp: messages[0].Timestamp,
		messages:      messages,
	}
	b.lastOffsetDelta = uint32(messages[len(messages)-1].Offset - b.baseOffset)
	return b
}

// encode serializes the batch into a single contiguous region, per the
// framing in spec.md §4.2.
func (b batch) encode() []byte {
	bodySize := 0
	for i := range b.messages {
		bodySize += b.messages[i].frameSize()
	}
	total := 4 + batchHeaderSize + bodySize
	buf := make([]byte, 0, total)

	buf = append(buf, make([]byte, 4)...)
	binary.LittleEndian.PutUint32(buf, uint32(batchHeaderSize+bodySize))

	buf = append(buf, make([]byte, batchHeaderSize)...)
	binary.LittleEndian.PutUint64(buf[4:], b.baseOffset)
	binary.LittleEndian.PutUint32(buf[12:], b.lastOffsetDelta)
	binary.LittleEndian.PutUint64(buf[16:], b.baseTimestamp)

	for i := range b.messages {
		buf = b.messages[i].encode(buf)
	}
	return buf
}

// decodedBatch is a parsed batch header plus the byte range of its body,
// without eagerly decoding every message (callers filter by offset range
// first, see readMessagesFrom).
type decodedBatch struct {
	baseOffset      uint64
	lastOffsetDelta uint32
	baseTimestamp   uint64
	bodyStart       int // offset within the source buffer where messages begin
	bodyEnd         int // offset within the source buffer just past the last message
	totalFrameLen   int // 4 (length prefix) + batchHeaderSize + bodySize
}

// decodeBatchHeader parses one batch header starting at buf[off:], without
// validating message bodies. It returns io.ErrUnexpectedEOF-shaped errors
// (via ierr) on truncation so the caller can decide whether to treat it as
// a corrupt tail (recovery) or a hard failure (normal read).
func decodeBatchHeader(buf []byte, off int) (decodedBatch, error) {
	if off+4 > len(buf) {
		return decodedBatch{}, ierr.IO(ierr.CodeCorruptFile, "truncated batch length", errShortFrame)
	}
	length := int(binary.LittleEndian.Uint32(buf[off:]))
	if length < batchHeaderSize {
		return decodedBatch{}, ierr.IO(ierr.CodeCorruptFile, "impossible batch length", errShortFrame)
	}
	end := off + 4 + length
	if end > len(buf) {
		return decodedBatch{}, ierr.IO(ierr.CodeCorruptFile, "truncated batch body", errShortFrame)
	}

	p := off + 4
	var db decodedBatch
	db.baseOffset = binary.LittleEndian.Uint64(buf[p:])
	db.lastOffsetDelta = binary.LittleEndian.Uint32(buf[p+8:])
	db.baseTimestamp = binary.LittleEndian.Uint64(buf[p+12:])
	db.bodyStart = p + batchHeaderSize
	db.bodyEnd = end
	db.totalFrameLen = 4 + length
	return db, nil
}

func (db decodedBatch) lastOffset() uint64 {
	return db.baseOffset + uint64(db.lastOffsetDelta)
}

// decodeMessages parses every message frame within db's body region.
func (db decodedBatch) decodeMessages(buf []byte) ([]Message, error) {
	var out []Message
	off := db.bodyStart
	for off < db.bodyEnd {
		m, next, err := decodeMessage(buf, off)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		off = next
	}
	return out, nil
}
