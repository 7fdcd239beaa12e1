package rbridge

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid          int
	exitOnSignal bool
	done         chan struct{}
	once         sync.Once

	mu      sync.Mutex
	signals []os.Signal
}

func newFakeProcess(pid int, exitOnSignal bool) *fakeProcess {
	return &fakeProcess{pid: pid, exitOnSignal: exitOnSignal, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	if p.exitOnSignal {
		p.exit()
	}

	return nil
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakeProcess) received() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.signals)
}

// fakeSpawner records every spec and hands out fake processes.
type fakeSpawner struct {
	mu           sync.Mutex
	specs        []ProcessSpec
	procs        []*fakeProcess
	exitOnSignal bool
	err          error
}

func (s *fakeSpawner) Spawn(spec ProcessSpec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	p := newFakeProcess(1000+len(s.procs), s.exitOnSignal)
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)

	return p, nil
}

func (s *fakeSpawner) last() (ProcessSpec, *fakeProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.specs[len(s.specs)-1], s.procs[len(s.procs)-1]
}

func mockExecutable(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "interpreter")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	return path
}

func newTestBridge(t *testing.T, spawner *fakeSpawner, opts ...Option) *Bridge {
	t.Helper()

	opts = append([]Option{
		WithLogger(NopLogger()),
		WithSpawner(spawner),
		WithKillTimeout(time.Second),
	}, opts...)

	b := New(opts...)
	require.NoError(t, b.Listen(context.Background()))

	t.Cleanup(func() {
		_ = b.Close(context.Background())
	})

	return b
}

// dial connects to the bridge as an interpreter and sends the handshake.
func dial(t *testing.T, b *Bridge, id string) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = fmt.Fprintf(conn, `{"event":"handshake","data":[%q]}`+"\n", id)
	require.NoError(t, err)

	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	line, err := r.ReadString('\n')
	require.NoError(t, err)

	return line
}

func envValue(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}

	return ""
}

func TestBridge_SpawnQueuesUntilHandshake(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := newTestBridge(t, spawner)

	w, err := b.Spawn(mockExecutable(t), "--flag")
	require.NoError(t, err)
	require.True(t, w.Alive())

	assert.True(t, w.Emit("a", 1))
	assert.True(t, w.Emit("b", "x", map[string]any{"k": true}))
	assert.Equal(t, 2, w.QueueLen())

	_, r := dial(t, b, w.ID())

	assert.Equal(t, `{"event":"a","data":[1]}`+"\n", readLine(t, r))
	assert.Equal(t, `{"event":"b","data":["x",{"k":true}]}`+"\n", readLine(t, r))
	assert.Equal(t, 0, w.QueueLen())

	assert.True(t, b.Emit(w.ID(), "c"))
	assert.Equal(t, `{"event":"c","data":[]}`+"\n", readLine(t, r))
}

func TestBridge_ProcessEnvironment(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := newTestBridge(t, spawner,
		WithEnv(map[string]string{"SHARED": "1", "OVERRIDE": "bridge"}),
		WithCwd("/srv"),
	)

	w, err := b.Start(Program{
		Name: "calc",
		Path: mockExecutable(t),
		Args: []string{"a", "b"},
		Env:  map[string]string{"OVERRIDE": "program"},
	})
	require.NoError(t, err)

	spec, _ := spawner.last()
	port := b.Addr().(*net.TCPAddr).Port

	assert.Equal(t, []string{"a", "b"}, spec.Args)
	assert.Equal(t, "/srv", spec.Dir)
	assert.Equal(t, "1", envValue(spec.Env, "SHARED"))
	assert.Equal(t, "program", envValue(spec.Env, "OVERRIDE"))
	assert.Equal(t, "127.0.0.1", envValue(spec.Env, EnvHost))
	assert.Equal(t, strconv.Itoa(port), envValue(spec.Env, EnvPort))
	assert.Equal(t, w.ID(), envValue(spec.Env, EnvWorkerID))
}

func TestBridge_InboundEvents(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := newTestBridge(t, spawner)

	w, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)

	got := make(chan string, 1)
	w.On("result", func(event string, data []json.RawMessage) {
		got <- string(data[0])
	})

	// A flushed event proves the connection is attached.
	w.Emit("ready")

	conn, r := dial(t, b, w.ID())
	readLine(t, r)

	_, err = conn.Write([]byte(`{"event":"result","data":[{"sum":3}]}` + "\n"))
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.JSONEq(t, `{"sum":3}`, v)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound event not dispatched")
	}
}

func TestBridge_UnknownWorkerHandshake(t *testing.T) {
	b := newTestBridge(t, &fakeSpawner{exitOnSignal: true})

	_, r := dial(t, b, "w-unknown")

	_, err := r.ReadString('\n')
	require.Error(t, err)
}

func TestBridge_SecondConnectionRejected(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := newTestBridge(t, spawner)

	w, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)

	w.Emit("first")

	_, r1 := dial(t, b, w.ID())
	readLine(t, r1)

	_, r2 := dial(t, b, w.ID())

	_, err = r2.ReadString('\n')
	require.Error(t, err)

	w.Emit("second")
	assert.Equal(t, `{"event":"second","data":[]}`+"\n", readLine(t, r1))
}

func TestBridge_Kill(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := newTestBridge(t, spawner, WithKillSignal(syscall.SIGINT))

	w, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)

	_, proc := spawner.last()

	require.NoError(t, b.Kill(context.Background(), w.ID()))

	assert.False(t, w.Alive())
	assert.Equal(t, []os.Signal{syscall.SIGINT}, proc.received())
	assert.False(t, w.Emit("late"))

	require.Eventually(t, func() bool {
		_, ok := b.Worker(w.ID())

		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBridge_KillTimeout(t *testing.T) {
	spawner := &fakeSpawner{}
	b := newTestBridge(t, spawner, WithKillTimeout(20*time.Millisecond))

	w, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)

	err = b.Kill(context.Background(), w.ID())
	require.ErrorIs(t, err, ErrKillTimeout)
	assert.True(t, w.Alive())

	_, proc := spawner.last()
	proc.exit()

	<-w.Done()
	assert.False(t, w.Alive())
}

func TestBridge_KillUnknown(t *testing.T) {
	b := newTestBridge(t, &fakeSpawner{})

	err := b.Kill(context.Background(), "w-missing")
	require.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestBridge_SpawnInvalidExecutable(t *testing.T) {
	b := newTestBridge(t, &fakeSpawner{})

	w, err := b.Spawn(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Nil(t, w)

	execErr, ok := stderrors.AsType[*ExecutableError](err)
	require.True(t, ok)
	assert.Contains(t, execErr.Path, "missing")
	assert.Empty(t, b.Workers())
}

func TestBridge_DeadOnArrival(t *testing.T) {
	spawnErr := stderrors.New("fork failed")
	b := newTestBridge(t, &fakeSpawner{err: spawnErr})

	w, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.False(t, w.Alive())
	assert.Nil(t, w.Process())
	assert.ErrorIs(t, w.SpawnErr(), spawnErr)
	assert.False(t, w.Emit("x"))
	assert.ErrorIs(t, b.Kill(context.Background(), w.ID()), ErrWorkerNotFound)

	_, ok := b.Worker(w.ID())
	assert.False(t, ok)
}

func TestBridge_Workers(t *testing.T) {
	b := newTestBridge(t, &fakeSpawner{exitOnSignal: true})

	var ids []string

	for range 3 {
		w, err := b.Spawn(mockExecutable(t))
		require.NoError(t, err)

		ids = append(ids, w.ID())
	}

	slices.Sort(ids)

	var got []string
	for _, w := range b.Workers() {
		got = append(got, w.ID())
	}

	assert.Equal(t, ids, got)
}

func TestBridge_Close(t *testing.T) {
	spawner := &fakeSpawner{exitOnSignal: true}
	b := New(WithLogger(NopLogger()), WithSpawner(spawner))
	require.NoError(t, b.Listen(context.Background()))

	exe := mockExecutable(t)

	w1, err := b.Spawn(exe)
	require.NoError(t, err)

	w2, err := b.Spawn(exe)
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))

	assert.False(t, w1.Alive())
	assert.False(t, w2.Alive())
	assert.False(t, b.Ready())

	_, err = b.Spawn(exe)
	require.ErrorIs(t, err, ErrBridgeClosed)
	require.ErrorIs(t, b.Listen(context.Background()), ErrBridgeClosed)

	require.NoError(t, b.Close(context.Background()))
}

func TestBridge_CloseReportsStuckWorkers(t *testing.T) {
	spawner := &fakeSpawner{}
	b := New(
		WithLogger(NopLogger()),
		WithSpawner(spawner),
		WithKillTimeout(20*time.Millisecond),
	)
	require.NoError(t, b.Listen(context.Background()))

	_, err := b.Spawn(mockExecutable(t))
	require.NoError(t, err)

	err = b.Close(context.Background())
	require.ErrorIs(t, err, ErrKillTimeout)

	_, proc := spawner.last()
	proc.exit()
}

func TestBridge_WhenReady(t *testing.T) {
	b := New(WithLogger(NopLogger()), WithSpawner(&fakeSpawner{exitOnSignal: true}))

	t.Cleanup(func() {
		_ = b.Close(context.Background())
	})

	var order []int

	b.WhenReady(func() { order = append(order, 1) })
	b.WhenReady(func() {
		order = append(order, 2)
		b.WhenReady(func() { order = append(order, 4) })
	})
	b.WhenReady(func() { order = append(order, 3) })

	assert.Empty(t, order)
	assert.False(t, b.Ready())

	require.NoError(t, b.Listen(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4}, order)
	assert.True(t, b.Ready())

	b.WhenReady(func() { order = append(order, 5) })
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestBridge_CloseKillsWorkerStartedConcurrently(t *testing.T) {
	fake := &fakeSpawner{exitOnSignal: true}
	entered := make(chan struct{})
	release := make(chan struct{})

	spawner := SpawnerFunc(func(spec ProcessSpec) (Process, error) {
		close(entered)
		<-release

		return fake.Spawn(spec)
	})

	b := New(WithLogger(NopLogger()), WithSpawner(spawner))
	require.NoError(t, b.Listen(context.Background()))

	exe := mockExecutable(t)
	started := make(chan *Worker, 1)

	go func() {
		w, err := b.Spawn(exe)
		assert.NoError(t, err)

		started <- w
	}()

	<-entered

	closed := make(chan error, 1)

	go func() {
		closed <- b.Close(context.Background())
	}()

	// Close waits for the in-flight start.
	select {
	case <-closed:
		t.Fatal("Close returned while a worker was still starting")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	require.NoError(t, <-closed)

	w := <-started
	require.NotNil(t, w)
	assert.False(t, w.Alive())
	assert.Eventually(t, func() bool { return len(b.Workers()) == 0 }, time.Second, 5*time.Millisecond)

	_, proc := fake.last()
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, proc.received())
}
