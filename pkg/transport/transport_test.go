package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftline/driftline/pkg/session"
)

type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Serve(ctx context.Context, conn io.ReadWriter, sess *session.Session) error {
	close(d.started)
	<-d.release
	return nil
}

type echoDispatcher struct{}

func (echoDispatcher) Serve(ctx context.Context, conn io.ReadWriter, sess *session.Session) error {
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	return err
}

func TestListenTCPAcceptsAndTracksSessions(t *testing.T) {
	sessions := session.NewRegistry()
	ln, err := ListenTCP("127.0.0.1:0", sessions, echoDispatcher{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return sessions.Count() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ln.Shutdown(context.Background(), time.Second))
}

func TestShutdownForciblyClosesAfterGrace(t *testing.T) {
	sessions := session.NewRegistry()
	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	ln, err := ListenTCP("127.0.0.1:0", sessions, d, nil)
	require.NoError(t, err)

	ctx := context.Background()
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	<-d.started

	done := make(chan struct{})
	go func() {
		ln.Shutdown(context.Background(), 20*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return after grace period elapsed")
	}
}
