package listener

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/rbridge-go/internal/errors"
)

var (
	loopbackV4       = netip.MustParseAddr("127.0.0.1")
	loopbackV4Mapped = netip.MustParseAddr("::ffff:127.0.0.1")
)

// Handler serves one accepted connection. HandleConn should return when
// ctx is cancelled.
type Handler interface {
	HandleConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// HandleConn implements Handler.
func (f HandlerFunc) HandleConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

type connIDKey struct{}

// ConnID returns the identifier assigned to the connection being handled.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)

	return id
}

// Listener accepts loopback connections and hands them to a Handler.
type Listener struct {
	log     *slog.Logger
	handler Handler

	mu      sync.Mutex
	ln      net.Listener
	ready   bool
	closed  bool
	pending []func()
	cancel  context.CancelFunc

	eg errgroup.Group
}

// New creates a listener that passes accepted connections to handler.
func New(log *slog.Logger, handler Handler) *Listener {
	return &Listener{
		log:     log.With("component", "listener"),
		handler: handler,
	}
}

// Listen binds a TCP listener on host:port and starts accepting.
// Port 0 picks an ephemeral port; see Addr.
func (l *Listener) Listen(ctx context.Context, host string, port int) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}

	if err := l.Serve(ctx, ln); err != nil {
		_ = ln.Close()

		return err
	}

	return nil
}

// Serve starts accepting on an existing listener, which the Listener
// then owns. Queued WhenReady callbacks run before the first Accept.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return errors.ErrListenerClosed
	}

	if l.ln != nil {
		l.mu.Unlock()

		return errors.ErrAlreadyListening
	}

	ctx, cancel := context.WithCancel(ctx)
	l.ln = ln
	l.cancel = cancel

	l.mu.Unlock()

	l.log.Info("Listening", "addr", ln.Addr().String())

	l.drainReady()

	l.eg.Go(func() error {
		return l.acceptLoop(ctx, ln)
	})

	return nil
}

// WhenReady runs fn now if the listener is accepting, otherwise queues it.
// Queued callbacks run once each, in submission order, when it becomes
// ready. After Close, fn is dropped.
func (l *Listener) WhenReady(fn func()) {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return
	}

	if !l.ready {
		l.pending = append(l.pending, fn)
		l.mu.Unlock()

		return
	}

	l.mu.Unlock()

	fn()
}

// Ready reports whether the listener is accepting connections.
func (l *Listener) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ready && !l.closed
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}

	return l.ln.Addr()
}

// Wait blocks until the accept loop and all handlers have returned.
func (l *Listener) Wait() error {
	return l.eg.Wait()
}

// Close stops accepting, cancels handler contexts and waits for handlers
// to return. It is safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return nil
	}

	l.closed = true
	l.pending = nil
	ln := l.ln
	cancel := l.cancel

	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var closeErr error

	if ln != nil {
		if err := ln.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			closeErr = fmt.Errorf("close listener: %w", err)
		}
	}

	waitErr := l.eg.Wait()

	l.log.Info("Listener closed")

	return stderrors.Join(closeErr, waitErr)
}

// drainReady runs queued callbacks one at a time. Callbacks queued while
// draining run after the ones before them; ready flips once the queue is empty.
func (l *Listener) drainReady() {
	for {
		l.mu.Lock()

		if l.closed {
			l.pending = nil
			l.mu.Unlock()

			return
		}

		if len(l.pending) == 0 {
			l.ready = true
			l.pending = nil
			l.mu.Unlock()

			return
		}

		fn := l.pending[0]
		l.pending = l.pending[1:]

		l.mu.Unlock()

		fn()
	}
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	defer l.log.Debug("Accept loop stopped")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}

			if ne, ok := stderrors.AsType[net.Error](err); ok && ne.Timeout() {
				l.log.Debug("Transient accept error", "error", err)

				continue
			}

			l.log.Error("Accept failed", "error", err)

			return fmt.Errorf("accept: %w", err)
		}

		connID := ulid.Make().String()
		log := l.log.With("conn_id", connID, "remote", addrString(conn.RemoteAddr()))

		if !IsLoopback(conn.RemoteAddr()) {
			log.Warn("Rejecting non-loopback connection")
			destroy(conn)

			continue
		}

		log.Debug("Accepted connection")

		connCtx := context.WithValue(ctx, connIDKey{}, connID)

		l.eg.Go(func() error {
			l.handler.HandleConn(connCtx, conn)

			return nil
		})
	}
}

// IsLoopback reports whether addr is exactly 127.0.0.1 or ::ffff:127.0.0.1.
// Other loopback addresses such as ::1 are rejected.
func IsLoopback(addr net.Addr) bool {
	if addr == nil {
		return false
	}

	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}

	return ip == loopbackV4 || ip == loopbackV4Mapped
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	return addr.String()
}

// destroy closes conn without a graceful shutdown.
func destroy(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}

	_ = conn.Close()
}
