// Package transport implements spec.md §4.10: one listener per
// configured transport, allocating a client_id/session/dispatcher task
// per accepted connection.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/session"
)

// Kind tags which transport a Listener serves (spec.md §9 design note: a
// tagged variant at the accept boundary, not a trait hierarchy).
type Kind uint8

const (
	TCP Kind = iota
	QUIC
)

func (k Kind) String() string {
	if k == QUIC {
		return "quic"
	}
	return "tcp"
}

// Dispatcher is the per-connection command loop a Listener hands each
// accepted connection to (implemented by pkg/dispatch.Dispatcher).
type Dispatcher interface {
	Serve(ctx context.Context, conn io.ReadWriter, sess *session.Session) error
}

// HTTPGateway is the interface boundary the external REST gateway would
// dial into (spec.md §6: "HTTP surface; external, not part of core").
// pkg/transport deliberately never implements it — there is no HTTP
// server here, only the seam a gateway process would call through.
type HTTPGateway interface {
	Dispatch(ctx context.Context, sess *session.Session, code uint32, payload []byte) (status uint32, resp []byte, err error)
}

// Listener accepts connections on one transport and runs the dispatcher
// loop on each.
type Listener struct {
	kind       Kind
	ln         net.Listener
	sessions   *session.Registry
	dispatcher Dispatcher
	logger     *logging.Logger

	mu     sync.Mutex
	conns  map[uint32]net.Conn
	closed bool

	wg sync.WaitGroup
}

// ListenTCP opens a plain TCP listener (spec.md §6's TCP transport).
func ListenTCP(addr string, sessions *session.Registry, dispatcher Dispatcher, logger *logging.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newListener(TCP, ln, sessions, dispatcher, logger), nil
}

// ListenQUIC opens a TLS-terminated TCP listener standing in for QUIC.
// No QUIC library is available anywhere in the example pack this module
// was grounded on (see DESIGN.md); this keeps the same Listener/Dispatcher
// seam so swapping in a real QUIC listener later touches only this
// function.
func ListenQUIC(addr string, tlsConfig *tls.Config, sessions *session.Registry, dispatcher Dispatcher, logger *logging.Logger) (*Listener, error) {
	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return newListener(QUIC, ln, sessions, dispatcher, logger), nil
}

func newListener(kind Kind, ln net.Listener, sessions *session.Registry, dispatcher Dispatcher, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Listener{
		kind:       kind,
		ln:         ln,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger,
		conns:      make(map[uint32]net.Conn),
	}
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until Shutdown is called or Accept fails; ctx
// is handed to each connection's dispatcher and does not by itself stop
// the accept loop. Each accepted connection gets its own session and
// dispatcher task
// (spec.md §4.10); the task deregisters the session on loop exit.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		sess := l.sessions.Create(conn.RemoteAddr().String())

		l.mu.Lock()
		l.conns[sess.ClientID] = conn
		l.mu.Unlock()

		l.wg.Add(1)
		go l.serveConn(ctx, conn, sess)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn, sess *session.Session) {
	defer l.wg.Done()
	defer func() {
		conn.Close()
		l.sessions.Remove(sess.ClientID)
		l.mu.Lock()
		delete(l.conns, sess.ClientID)
		l.mu.Unlock()
	}()

	if err := l.dispatcher.Serve(ctx, conn, sess); err != nil {
		l.logger.Log(logging.LevelDebug, "connection closed", "client_id", sess.ClientID, "transport", l.kind.String(), "error", err.Error())
	}
}

// Shutdown stops accepting new connections, waits up to grace for
// in-flight connections to finish on their own, then forcibly closes
// whatever remains (spec.md §5: "listeners stop accepting, existing
// connections are drained for up to a configured grace period, then
// forcibly closed").
func (l *Listener) Shutdown(ctx context.Context, grace time.Duration) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	if err := l.ln.Close(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	l.mu.Lock()
	for id, conn := range l.conns {
		conn.Close()
		delete(l.conns, id)
	}
	l.mu.Unlock()

	<-done
	return nil
}
