package dispatch

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/pkg/command"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/wire"
)

func sendAndReceive(t *testing.T, d *Dispatcher, sess *session.Session, code command.Code, payload []byte) (uint32, []byte) {
	t.Helper()
	var in, out bytes.Buffer
	require.NoError(t, wire.WriteRequest(&in, uint32(code), payload))
	conn := struct {
		io.Reader
		io.Writer
	}{&in, &out}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serve loops until the next read fails; give it exactly one request
	// then let the read of a second request hit EOF and return.
	err := d.Serve(ctx, conn, sess)
	require.Error(t, err) // EOF on the second ReadRequest

	status, resp, err := wire.ReadResponse(&out)
	require.NoError(t, err)
	return status, resp
}

func TestUnknownCommandReturnsUnknownCommandStatus(t *testing.T) {
	d := New(nil)
	sess := &session.Session{Authenticated: true}
	status, _ := sendAndReceive(t, d, sess, command.Code(99999), nil)
	require.Equal(t, uint32(ierr.CodeUnknownCommand), status)
}

func TestUnauthenticatedRequiredCommandIsRejected(t *testing.T) {
	d := New(nil)
	d.Register(command.SendMessages, func(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
		return []byte("should not run"), nil
	})
	sess := &session.Session{Authenticated: false}
	status, resp := sendAndReceive(t, d, sess, command.SendMessages, nil)
	require.Equal(t, uint32(ierr.CodeUnauthenticated), status)
	require.Empty(t, resp)
}

func TestPingDoesNotRequireAuth(t *testing.T) {
	d := New(nil)
	d.Register(command.Ping, func(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
		return []byte("pong"), nil
	})
	status, resp := sendAndReceive(t, d, &session.Session{Authenticated: false}, command.Ping, nil)
	require.Equal(t, uint32(ierr.CodeOK), status)
	require.Equal(t, []byte("pong"), resp)
}

func TestHandlerErrorMapsToItsWireCode(t *testing.T) {
	d := New(nil)
	d.Register(command.GetStream, func(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
		return nil, ierr.NotFound(ierr.CodeStreamNotFound, "stream not found")
	})
	status, resp := sendAndReceive(t, d, &session.Session{Authenticated: true}, command.GetStream, nil)
	require.Equal(t, uint32(ierr.CodeStreamNotFound), status)
	require.Empty(t, resp)
}

func TestHandlerPanicIsRecoveredAsMalformedFrame(t *testing.T) {
	d := New(nil)
	d.Register(command.GetTopic, func(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error) {
		panic("boom")
	})
	status, resp := sendAndReceive(t, d, &session.Session{Authenticated: true}, command.GetTopic, nil)
	require.Equal(t, uint32(ierr.CodeMalformedFrame), status)
	require.Empty(t, resp)
}
