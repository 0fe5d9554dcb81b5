// Package dispatch implements the per-connection command loop (spec.md
// §4.9): read header, read payload, decode, authenticate, authorize,
// invoke, respond. It is transport-agnostic — pkg/transport hands it an
// io.ReadWriter per connection.
package dispatch

import (
	"context"
	"io"

	"github.com/driftline/driftline/internal/ierr"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/command"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/wire"
)

// Handler serves one decoded command for an already-authenticated (where
// required) session. It decodes its own payload and encodes its own
// response; permission checks against the catalog happen inside it,
// since the scope a command touches (which stream, which topic) is only
// known once the handler resolves the request's identifiers against the
// catalog (pkg/system owns that resolution).
type Handler func(ctx context.Context, sess *session.Session, payload []byte) ([]byte, error)

// Dispatcher routes command codes to handlers and runs the per-connection
// loop described in spec.md §4.9.
type Dispatcher struct {
	routes map[command.Code]Handler
	logger *logging.Logger
}

// New builds an empty Dispatcher. Register every command with Register
// before calling Serve.
func New(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{routes: make(map[command.Code]Handler), logger: logger}
}

// Register binds code to handler. Registering the same code twice
// replaces the previous handler.
func (d *Dispatcher) Register(code command.Code, h Handler) {
	d.routes[code] = h
}

// Serve runs the request/response loop over conn until reading a request
// fails (for instance the peer closed the connection), writing a response
// fails, or ctx is found cancelled before the next read. Exactly one
// request is in flight at a time per connection, matching spec.md §5's
// one-task-per-connection model.
func (d *Dispatcher) Serve(ctx context.Context, conn io.ReadWriter, sess *session.Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, payload, err := wire.ReadRequest(conn)
		if err != nil {
			return err
		}
		status, respPayload := d.dispatchOne(ctx, sess, command.Code(code), payload)
		if err := wire.WriteResponse(conn, status, respPayload); err != nil {
			return err
		}
	}
}

// dispatchOne runs steps 3-7 of spec.md §4.9 for one already-read
// request. A panic inside the handler is recovered here and reported as
// a malformed-frame status; the caller (Serve) returns that response over
// the wire and keeps serving the connection. The connection is not closed
// because of the panic.
func (d *Dispatcher) dispatchOne(ctx context.Context, sess *session.Session, code command.Code, payload []byte) (status uint32, respPayload []byte) {
	h, ok := d.routes[code]
	if !ok {
		d.logger.Log(logging.LevelWarn, "unknown command code", "code", uint32(code))
		return ierr.CodeUnknownCommand, nil
	}

	if code.RequiresAuth() && (sess == nil || !sess.Authenticated) {
		return ierr.CodeUnauthenticated, nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Log(logging.LevelError, "handler panic", "code", code.Name(), "recover", r)
			status, respPayload = ierr.CodeMalformedFrame, nil
		}
	}()

	resp, err := h(ctx, sess, payload)
	if err != nil {
		return ierr.CodeOf(err), nil
	}
	return ierr.CodeOK, resp
}
