package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/wagiedev/rbridge-go/internal/errors"
	"github.com/wagiedev/rbridge-go/internal/frame"
	"github.com/wagiedev/rbridge-go/internal/listener"
	"github.com/wagiedev/rbridge-go/internal/worker"
)

const (
	// HandshakeEvent is the event name of the first frame on a connection.
	HandshakeEvent = "handshake"

	// DefaultHandshakeTimeout bounds the wait for the handshake frame.
	DefaultHandshakeTimeout = 10 * time.Second
)

// Lookup resolves a worker id.
type Lookup func(id string) (*worker.Worker, bool)

// Handler implements listener.Handler for interpreter connections.
type Handler struct {
	log              *slog.Logger
	lookup           Lookup
	handshakeTimeout time.Duration
}

// Compile-time verification that Handler implements listener.Handler.
var _ listener.Handler = (*Handler)(nil)

// NewHandler creates a handler resolving workers through lookup.
// A non-positive handshakeTimeout uses DefaultHandshakeTimeout.
func NewHandler(log *slog.Logger, lookup Lookup, handshakeTimeout time.Duration) *Handler {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	return &Handler{
		log:              log.With("component", "session"),
		lookup:           lookup,
		handshakeTimeout: handshakeTimeout,
	}
}

// HandleConn performs the handshake and then reads inbound frames until
// the peer disconnects or ctx is cancelled.
func (h *Handler) HandleConn(ctx context.Context, conn net.Conn) {
	log := h.log.With("conn_id", listener.ConnID(ctx))

	// Unblock pending reads on shutdown without closing the connection,
	// which may belong to a worker by then.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	scanner := frame.NewScanner(conn)

	w, err := h.handshake(ctx, conn, scanner)
	if err != nil {
		log.Warn("Rejecting connection", "error", err)

		_ = conn.Close()

		return
	}

	log = log.With("worker_id", w.ID())
	log.Info("Worker connected")

	defer func() {
		if w.DetachSocketIf(conn) {
			log.Info("Worker disconnected")
		}

		_ = conn.Close()
	}()

	for scanner.Scan() {
		in, err := frame.Decode(scanner.Bytes())
		if err != nil {
			log.Warn("Skipping malformed frame", "error", err)

			continue
		}

		if n := w.Dispatch(in.Event, in.Data); n == 0 {
			log.Debug("No subscribers for event", "event", in.Event)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Debug("Connection read error", "error", err)
	}
}

func (h *Handler) handshake(
	ctx context.Context,
	conn net.Conn,
	scanner *bufio.Scanner,
) (*worker.Worker, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	if !scanner.Scan() {
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}

		return nil, &errors.HandshakeError{Reason: fmt.Sprintf("no handshake received: %v", err)}
	}

	// Clear the deadline before checking ctx so a concurrent shutdown is not lost.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	in, err := frame.Decode(scanner.Bytes())
	if err != nil {
		return nil, &errors.HandshakeError{Reason: err.Error()}
	}

	if in.Event != HandshakeEvent {
		return nil, &errors.HandshakeError{
			Reason: fmt.Sprintf("expected %q frame, got %q", HandshakeEvent, in.Event),
		}
	}

	id, ok := in.StringArg(0)
	if !ok || id == "" {
		return nil, &errors.HandshakeError{Reason: "missing worker id"}
	}

	w, ok := h.lookup(id)
	if !ok {
		return nil, &errors.HandshakeError{Reason: "unknown worker", WorkerID: id}
	}

	if !w.AttachSocket(conn) {
		return nil, &errors.HandshakeError{Reason: "worker already connected or not alive", WorkerID: id}
	}

	return w, nil
}
