package rbridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/wagiedev/rbridge-go/internal/errors"
	"github.com/wagiedev/rbridge-go/internal/listener"
	"github.com/wagiedev/rbridge-go/internal/registry"
	"github.com/wagiedev/rbridge-go/internal/session"
	"github.com/wagiedev/rbridge-go/internal/subprocess"
	"github.com/wagiedev/rbridge-go/internal/uid"
	"github.com/wagiedev/rbridge-go/internal/worker"
)

// Environment variables set on every spawned worker process.
const (
	EnvHost     = "RBRIDGE_HOST"
	EnvPort     = "RBRIDGE_PORT"
	EnvWorkerID = "RBRIDGE_WORKER_ID"
)

// Program describes a worker process to start.
type Program struct {
	// Name labels the worker in logs. Optional.
	Name string

	// Path is the interpreter executable. Bare names are searched in PATH.
	Path string

	// Args are passed to the process unchanged.
	Args []string

	// Env adds to the bridge-wide environment for this process only.
	Env map[string]string

	// Cwd overrides the bridge-wide working directory.
	Cwd string
}

// Bridge spawns workers and accepts their connections on a loopback port.
type Bridge struct {
	log      *slog.Logger
	opts     *Options
	ids      uid.Generator
	workers  *registry.Registry[*Worker]
	listener *listener.Listener
	spawner  subprocess.Spawner

	// mu is read-held by Start from the closed check until the worker is
	// registered, so Close never snapshots the registry mid-start.
	mu     sync.RWMutex
	closed bool
}

// New creates a Bridge. Call Listen or Serve to start accepting connections.
func New(opts ...Option) *Bridge {
	options := applyOptions(opts).WithDefaults()

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	b := &Bridge{
		log:     log.With("component", "bridge"),
		opts:    options,
		workers: registry.New[*Worker](),
		spawner: options.Spawner,
	}

	if b.spawner == nil {
		b.spawner = subprocess.NewExecSpawner(log)
	}

	handler := session.NewHandler(log, b.workers.Get, options.HandshakeTimeout)
	b.listener = listener.New(log, handler)

	return b
}

// Listen binds the configured host and port and starts accepting.
func (b *Bridge) Listen(ctx context.Context) error {
	if b.isClosed() {
		return errors.ErrBridgeClosed
	}

	return b.listener.Listen(ctx, b.opts.Host, b.opts.Port)
}

// Serve starts accepting on ln, which the Bridge then owns.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	if b.isClosed() {
		return errors.ErrBridgeClosed
	}

	return b.listener.Serve(ctx, ln)
}

// WhenReady runs fn once the Bridge is accepting connections.
// Callbacks registered before then run in registration order.
func (b *Bridge) WhenReady(fn func()) {
	b.listener.WhenReady(fn)
}

// Ready reports whether the Bridge is accepting connections.
func (b *Bridge) Ready() bool {
	return b.listener.Ready()
}

// Addr returns the bound address, or nil before Listen.
func (b *Bridge) Addr() net.Addr {
	return b.listener.Addr()
}

// Spawn starts path with args as a new worker.
func (b *Bridge) Spawn(path string, args ...string) (*Worker, error) {
	return b.Start(Program{Path: path, Args: args})
}

// Start spawns p as a new worker and registers it until its process exits.
//
// An invalid executable returns *ExecutableError. A process that fails to
// start is not an error: the returned Worker is dead on arrival and
// SpawnErr reports why.
func (b *Bridge) Start(p Program) (*Worker, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("spawn %s: %w", p.Path, errors.ErrBridgeClosed)
	}

	id := b.ids.New(uid.DefaultPrefix)

	cwd := p.Cwd
	if cwd == "" {
		cwd = b.opts.Cwd
	}

	w, err := worker.New(b.log, &worker.Options{
		Path:    p.Path,
		Args:    p.Args,
		Env:     b.environ(id, p.Env),
		Dir:     cwd,
		ID:      id,
		Spawner: b.spawner,
		Stdout:  b.output(id, b.opts.Stdout),
		Stderr:  b.output(id, b.opts.Stderr),
		OnExit:  b.workers.Remove,
	})
	if err != nil {
		return nil, err
	}

	b.workers.Add(w)

	// The process may have exited before Add.
	select {
	case <-w.Done():
		b.workers.Remove(w)
	default:
	}

	b.log.Debug("Worker registered", "worker_id", id, "name", p.Name, "alive", w.Alive())

	return w, nil
}

// Worker returns the live worker registered under id.
func (b *Bridge) Worker(id string) (*Worker, bool) {
	return b.workers.Get(id)
}

// Workers returns the live workers sorted by id.
func (b *Bridge) Workers() []*Worker {
	return b.workers.List()
}

// Emit sends an event to the worker registered under id.
// It reports false when no such worker exists or it is not alive.
func (b *Bridge) Emit(id string, event string, data ...any) bool {
	w, ok := b.workers.Get(id)
	if !ok {
		return false
	}

	return w.Emit(event, data...)
}

// Kill signals the worker registered under id with the configured kill
// signal and waits up to the kill timeout for it to exit.
func (b *Bridge) Kill(ctx context.Context, id string) error {
	w, ok := b.workers.Get(id)
	if !ok {
		return fmt.Errorf("kill worker %s: %w", id, errors.ErrWorkerNotFound)
	}

	return w.Kill(ctx, b.opts.KillSignal, b.opts.KillTimeout)
}

// Close kills every live worker concurrently, then closes the listener.
// Errors are joined. Close is safe to call more than once.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true

	b.mu.Unlock()

	workers := b.workers.List()
	errs := make([]error, len(workers)+1)

	var wg sync.WaitGroup

	for i, w := range workers {
		wg.Go(func() {
			err := w.Kill(ctx, b.opts.KillSignal, b.opts.KillTimeout)
			if err != nil && !stderrors.Is(err, errors.ErrNotAlive) {
				errs[i] = err
			}
		})
	}

	wg.Wait()

	errs[len(workers)] = b.listener.Close()

	b.log.Info("Bridge closed", "workers", len(workers))

	return stderrors.Join(errs...)
}

func (b *Bridge) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.closed
}

// environ builds the process environment: the parent's, then bridge-wide
// and per-program variables, then the connect-back variables.
func (b *Bridge) environ(id string, extra map[string]string) []string {
	env := os.Environ()

	for _, vars := range []map[string]string{b.opts.Env, extra} {
		for _, k := range slices.Sorted(maps.Keys(vars)) {
			env = append(env, k+"="+vars[k])
		}
	}

	port := b.opts.Port
	if addr, ok := b.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	return append(env,
		EnvHost+"="+b.opts.Host,
		EnvPort+"="+strconv.Itoa(port),
		EnvWorkerID+"="+id,
	)
}

func (b *Bridge) output(id string, fn func(workerID, line string)) func(string) {
	if fn == nil {
		return nil
	}

	return func(line string) {
		fn(id, line)
	}
}
