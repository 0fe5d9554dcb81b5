// Package wire implements spec.md §6's length-prefixed binary framing
// and identifier encoding, shared by every transport.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/driftline/driftline/internal/ident"
	"github.com/driftline/driftline/internal/ierr"
)

// MaxPayloadBytes bounds a single frame's payload to guard against a
// malformed or hostile length prefix forcing an unbounded allocation.
const MaxPayloadBytes = 64 << 20

const requestHeaderSize = 4 + 4   // length + command_code
const responseHeaderSize = 4 + 4  // status + payload_length

// ReadRequest reads one framed request from r: [length:u32 LE]
// [code:u32 LE][payload: length bytes] (spec.md §6).
func ReadRequest(r io.Reader) (code uint32, payload []byte, err error) {
	header := pool.get()
	defer pool.put(header)
	header = header[:requestHeaderSize]
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	code = binary.LittleEndian.Uint32(header[4:8])
	if length > MaxPayloadBytes {
		return 0, nil, ierr.Protocol(ierr.CodeOversizedPayload, "request payload too large")
	}
	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return code, payload, nil
}

// WriteRequest frames and writes a request; used by tests and by any
// in-process caller that issues commands the way a client would.
func WriteRequest(w io.Writer, code uint32, payload []byte) error {
	buf := pool.get()
	defer pool.put(buf)
	buf = append(buf, make([]byte, requestHeaderSize)...)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], code)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// WriteResponse frames and writes a response: [status:u32 LE]
// [payload_length:u32 LE][payload] (spec.md §4.9/§6). status = 0 means
// success; any other value is the dispatcher-mapped error code.
func WriteResponse(w io.Writer, status uint32, payload []byte) error {
	buf := pool.get()
	defer pool.put(buf)
	buf = append(buf, make([]byte, responseHeaderSize)...)
	binary.LittleEndian.PutUint32(buf[0:4], status)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadResponse reads one framed response from r, used by tests.
func ReadResponse(r io.Reader) (status uint32, payload []byte, err error) {
	header := pool.get()
	defer pool.put(header)
	header = header[:responseHeaderSize]
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	status = binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > MaxPayloadBytes {
		return 0, nil, ierr.Protocol(ierr.CodeOversizedPayload, "response payload too large")
	}
	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return status, payload, nil
}

// identifier kinds on the wire (spec.md §6): 1=numeric, 2=string.
const (
	wireKindNumeric byte = 1
	wireKindString  byte = 2
)

// EncodeIdentifier appends id's wire encoding to buf: [kind:u8]
// [length:u8][bytes]. Numeric is 4 bytes LE; string is UTF-8.
func EncodeIdentifier(buf []byte, id ident.Identifier) []byte {
	if id.Kind() == ident.Numeric {
		buf = append(buf, wireKindNumeric, 4)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], id.Num())
		return append(buf, b[:]...)
	}
	name := id.Name()
	buf = append(buf, wireKindString, byte(len(name)))
	return append(buf, name...)
}

// DecodeIdentifier parses one wire identifier from buf[off:], returning
// it and the offset just past it.
func DecodeIdentifier(buf []byte, off int) (ident.Identifier, int, error) {
	if off+2 > len(buf) {
		return ident.Identifier{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated identifier header")
	}
	kind := buf[off]
	length := int(buf[off+1])
	p := off + 2
	if p+length > len(buf) {
		return ident.Identifier{}, off, ierr.Protocol(ierr.CodeMalformedFrame, "truncated identifier body")
	}
	switch kind {
	case wireKindNumeric:
		if length != 4 {
			return ident.Identifier{}, off, ierr.Protocol(ierr.CodeInvalidIdentifier, "numeric identifier must be 4 bytes")
		}
		return ident.NewNumeric(binary.LittleEndian.Uint32(buf[p : p+4])), p + 4, nil
	case wireKindString:
		id, err := ident.NewNamed(string(buf[p : p+length]))
		if err != nil {
			return ident.Identifier{}, off, err
		}
		return id, p + length, nil
	default:
		return ident.Identifier{}, off, ierr.Protocol(ierr.CodeInvalidIdentifier, "unknown identifier kind")
	}
}
