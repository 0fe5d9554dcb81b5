package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/ident"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, 100, []byte("hello")))

	code, payload, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(100), code)
	require.Equal(t, []byte("hello"), payload)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, 0, []byte("ok")))

	status, payload, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0), status)
	require.Equal(t, []byte("ok"), payload)
}

func TestRequestWithEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, 1, nil))

	code, payload, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(1), code)
	require.Empty(t, payload)
}

func TestIdentifierRoundTripNumeric(t *testing.T) {
	id := ident.NewNumeric(42)
	buf := EncodeIdentifier(nil, id)

	got, n, err := DecodeIdentifier(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, ident.Numeric, got.Kind())
	require.Equal(t, uint32(42), got.Num())
}

func TestIdentifierRoundTripNamed(t *testing.T) {
	id, err := ident.NewNamed("orders")
	require.NoError(t, err)
	buf := EncodeIdentifier(nil, id)

	got, n, err := DecodeIdentifier(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, ident.Named, got.Kind())
	require.Equal(t, "orders", got.Name())
}

func TestDecodeIdentifierTruncatedIsProtocolError(t *testing.T) {
	_, _, err := DecodeIdentifier([]byte{byte(wireKindString), 10, 'a'}, 0)
	require.Error(t, err)
}

func TestDecodeIdentifierSequentialOffsets(t *testing.T) {
	var buf []byte
	buf = EncodeIdentifier(buf, ident.NewNumeric(1))
	buf = EncodeIdentifier(buf, ident.NewNumeric(2))

	first, n, err := DecodeIdentifier(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.Num())

	second, n2, err := DecodeIdentifier(buf, n)
	require.NoError(t, err)
	require.Equal(t, uint32(2), second.Num())
	require.Equal(t, len(buf), n2)
}
