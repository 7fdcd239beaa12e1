package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/wagiedev/rbridge-go/internal/errors"
	"github.com/wagiedev/rbridge-go/internal/executable"
	"github.com/wagiedev/rbridge-go/internal/frame"
	"github.com/wagiedev/rbridge-go/internal/subprocess"
	"github.com/wagiedev/rbridge-go/internal/uid"
)

// Conn is the connection a worker writes events to. net.Conn satisfies it.
type Conn interface {
	io.Writer
	Close() error
}

// lingerer is implemented by *net.TCPConn.
type lingerer interface {
	SetLinger(sec int) error
}

// Options configures a Worker.
type Options struct {
	// Path is the interpreter executable. Required.
	Path string

	// Args are passed to the process unchanged.
	Args []string

	// Env is the complete process environment. Nil inherits the parent's.
	Env []string

	// Dir is the process working directory.
	Dir string

	// ID overrides the generated worker id.
	ID string

	// Spawner starts the process. Defaults to subprocess.ExecSpawner.
	Spawner subprocess.Spawner

	// Stdout and Stderr receive process output lines.
	Stdout func(line string)
	Stderr func(line string)

	// OnExit is called once after the process has exited and the worker
	// has been cleaned up.
	OnExit func(w *Worker)
}

// Worker owns one spawned process and at most one attached connection.
type Worker struct {
	log      *slog.Logger
	id       string
	process  subprocess.Process
	spawnErr error
	onExit   func(w *Worker)

	// wmu serializes socket writes and is taken before mu. Kill and the exit
	// transition only take mu, so a stalled write never holds them up.
	wmu sync.Mutex

	mu      sync.Mutex
	alive   bool
	socket  Conn
	queue   []frame.Event
	exitErr error

	exitOnce sync.Once
	done     chan struct{}

	subs subscribers
}

// New validates opts.Path, spawns the process and returns the Worker.
//
// An invalid executable path returns *errors.ExecutableError and no Worker.
// A spawn failure does not: the Worker is returned dead on arrival, with
// Process() nil, Alive() false and SpawnErr() describing the failure.
func New(log *slog.Logger, opts *Options) (*Worker, error) {
	if opts == nil {
		opts = &Options{}
	}

	path, err := executable.Resolve(opts.Path)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = uid.New(uid.DefaultPrefix)
	}

	w := &Worker{
		log:    log.With("component", "worker", "worker_id", id),
		id:     id,
		onExit: opts.OnExit,
		done:   make(chan struct{}),
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = subprocess.NewExecSpawner(log)
	}

	proc, err := spawner.Spawn(subprocess.Spec{
		Path:   path,
		Args:   opts.Args,
		Env:    opts.Env,
		Dir:    opts.Dir,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	})
	if err == nil && proc == nil {
		err = fmt.Errorf("spawner returned no process")
	}

	if err != nil {
		w.spawnErr = err
		close(w.done)

		w.log.Warn("Worker process did not start", "path", path, "error", err)

		return w, nil
	}

	w.process = proc
	w.alive = true

	w.log.Info("Worker started", "path", path, "pid", proc.Pid())

	go w.watch(proc)

	return w, nil
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// Process returns the process handle, or nil if spawning failed.
func (w *Worker) Process() subprocess.Process {
	return w.process
}

// SpawnErr returns why the process failed to start, or nil.
func (w *Worker) SpawnErr() error {
	return w.spawnErr
}

// Alive reports whether the process is running.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.alive
}

// ExitErr returns the process exit failure once the worker is dead.
func (w *Worker) ExitErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.exitErr
}

// Socket returns the attached connection, or nil.
func (w *Worker) Socket() Conn {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.socket
}

// QueueLen returns the number of events waiting for a connection.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.queue)
}

// Queue returns a copy of the events waiting for a connection.
func (w *Worker) Queue() []frame.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	return slices.Clone(w.queue)
}

// Done is closed once the worker is dead and cleaned up.
// For a worker whose spawn failed it is closed from the start.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Emit sends an event to the interpreter.
//
// It returns false without side effects when the worker is not alive.
// With a connection attached the frame is written immediately; otherwise it
// is queued for the next attach. A frame that cannot be encoded or written
// also returns false.
func (w *Worker) Emit(event string, data ...any) bool {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	w.mu.Lock()

	if !w.alive {
		w.mu.Unlock()

		return false
	}

	ev := frame.Event{Event: event, Data: slices.Clone(data)}

	conn := w.socket
	if conn == nil {
		w.queue = append(w.queue, ev)
		w.mu.Unlock()

		return true
	}

	w.mu.Unlock()

	return w.write(conn, ev) == nil
}

// AttachSocket attaches conn and flushes queued events to it.
//
// The first attachment wins: if a connection is already attached, conn is
// ignored and false is returned. A dead worker refuses attachment.
func (w *Worker) AttachSocket(conn Conn) bool {
	if conn == nil {
		return false
	}

	w.wmu.Lock()
	defer w.wmu.Unlock()

	w.mu.Lock()

	if w.socket != nil {
		w.mu.Unlock()
		w.log.Debug("Ignoring connection, one is already attached")

		return false
	}

	if !w.alive {
		w.mu.Unlock()
		w.log.Debug("Ignoring connection, worker is not alive")

		return false
	}

	w.socket = conn
	w.log.Debug("Connection attached", "queued", len(w.queue))

	queue := w.queue
	w.queue = nil
	w.mu.Unlock()

	w.flush(conn, queue)

	return true
}

// FlushSocketQueue writes all queued events to the attached connection in
// order and clears the queue. Without a connection it does nothing.
func (w *Worker) FlushSocketQueue() {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	w.mu.Lock()

	conn := w.socket
	if conn == nil {
		w.mu.Unlock()

		return
	}

	queue := w.queue
	w.queue = nil
	w.mu.Unlock()

	w.flush(conn, queue)
}

// DetachSocket forgets the attached connection without closing it.
func (w *Worker) DetachSocket() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.socket = nil
}

// DetachSocketIf detaches conn only if it is the attached connection.
func (w *Worker) DetachSocketIf(conn Conn) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.socket == nil || w.socket != conn {
		return false
	}

	w.socket = nil

	return true
}

// Kill sends sig to the process and waits up to timeout for it to exit.
//
// Killing a worker that is not alive returns errors.ErrNotAlive. If the
// process exits in time, Kill returns nil after the worker has been marked
// dead and cleaned up. Otherwise it returns an error wrapping
// errors.ErrKillTimeout; an exit that arrives later still cleans up the
// worker but has no effect on this call.
func (w *Worker) Kill(ctx context.Context, sig os.Signal, timeout time.Duration) error {
	w.mu.Lock()
	alive := w.alive
	proc := w.process
	w.mu.Unlock()

	if !alive {
		return fmt.Errorf("kill worker %s: %w", w.id, errors.ErrNotAlive)
	}

	// A nil channel never fires, so without a process only the timer can settle.
	var exited <-chan struct{}

	if proc != nil {
		exited = w.done

		w.log.Debug("Sending signal", "signal", sig.String())

		if err := proc.Signal(sig); err != nil {
			w.log.Warn("Failed to signal process", "signal", sig.String(), "error", err)
		}
	} else {
		w.log.Warn("No process handle to signal")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		w.log.Info("Worker killed", "signal", sig.String())

		return nil

	case <-timer.C:
		w.log.Warn("Kill timed out", "signal", sig.String(), "timeout", timeout)

		return fmt.Errorf("kill worker %s: %w after %s", w.id, errors.ErrKillTimeout, timeout)

	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup hard-closes and detaches the connection of a dead worker.
// While the worker is alive it does nothing. It is safe to call repeatedly.
func (w *Worker) Cleanup() {
	w.mu.Lock()

	if w.alive {
		w.mu.Unlock()

		return
	}

	conn := w.socket
	w.socket = nil

	w.mu.Unlock()

	if conn == nil {
		return
	}

	if l, ok := conn.(lingerer); ok {
		_ = l.SetLinger(0)
	}

	if err := conn.Close(); err != nil {
		w.log.Debug("Error closing connection", "error", err)
	}

	w.log.Debug("Connection destroyed")
}

// On subscribes fn to inbound events named event. The name "*" receives
// every event. The returned function removes the subscription.
func (w *Worker) On(event string, fn Handler) func() {
	return w.subs.add(event, fn)
}

// Dispatch delivers an inbound event to subscribers in subscription order
// and returns how many were called.
func (w *Worker) Dispatch(event string, data []json.RawMessage) int {
	return w.subs.dispatch(event, data)
}

// watch waits for the process to exit and runs the exit transition.
func (w *Worker) watch(proc subprocess.Process) {
	<-proc.Done()
	w.exit(proc.Err())
}

// exit marks the worker dead, drops queued events, cleans up and notifies.
// It runs at most once.
func (w *Worker) exit(exitErr error) {
	w.exitOnce.Do(func() {
		w.mu.Lock()
		w.alive = false
		w.exitErr = exitErr
		dropped := len(w.queue)
		w.queue = nil
		w.mu.Unlock()

		if dropped > 0 {
			w.log.Warn("Dropped queued events, process exited before connecting", "count", dropped)
		}

		w.log.Info("Worker exited", "error", exitErr)

		w.Cleanup()
		close(w.done)

		if w.onExit != nil {
			w.onExit(w)
		}
	})
}

// flush writes queue to conn in order. An event that fails to encode is
// dropped; a failed write stops the flush and requeues the later events.
// The caller holds wmu but not mu.
func (w *Worker) flush(conn Conn, queue []frame.Event) {
	if len(queue) == 0 {
		return
	}

	for i, ev := range queue {
		data, err := frame.Encode(ev)
		if err != nil {
			w.log.Warn("Dropping queued event that cannot be encoded", "event", ev.Event, "error", err)

			continue
		}

		if _, err := conn.Write(data); err != nil {
			w.log.Warn("Failed to flush queued event", "event", ev.Event, "error", err)

			w.mu.Lock()
			if w.alive {
				w.queue = append(slices.Clone(queue[i+1:]), w.queue...)
			}
			w.mu.Unlock()

			return
		}
	}

	w.log.Debug("Flushed queued events", "count", len(queue))
}

// write encodes ev and writes it to conn. The caller holds wmu but not mu.
func (w *Worker) write(conn Conn, ev frame.Event) error {
	data, err := frame.Encode(ev)
	if err != nil {
		w.log.Warn("Failed to encode event", "event", ev.Event, "error", err)

		return err
	}

	if _, err := conn.Write(data); err != nil {
		w.log.Warn("Failed to write event", "event", ev.Event, "error", err)

		return fmt.Errorf("write event: %w", err)
	}

	return nil
}
