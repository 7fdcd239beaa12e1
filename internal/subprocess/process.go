package subprocess

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/rbridge-go/internal/errors"
)

const (
	// maxLineSize caps one output line. Longer lines are cut at this size
	// and the remainder up to the next newline is discarded.
	maxLineSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr kept for ProcessError.
	// The Stderr callback still receives every line.
	maxStderrBufferSize = 64 * 1024 // 64KB
	// outputWaitDelay bounds how long Wait keeps reading output after the
	// process has exited, e.g. while a background child holds the pipes.
	outputWaitDelay = time.Second
)

// Spec describes a process to start.
type Spec struct {
	// Path is the resolved executable path.
	Path string
	// Args are passed through to the process unchanged.
	Args []string
	// Env is the complete environment. Nil inherits the parent environment.
	Env []string
	// Dir is the working directory. Empty uses the parent's.
	Dir string
	// Stdout receives each stdout line. Optional.
	Stdout func(line string)
	// Stderr receives each stderr line. Optional.
	Stderr func(line string)
}

// Process is a handle to a running process.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Signal delivers sig to the process.
	Signal(sig os.Signal) error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err returns the exit failure after Done is closed, or nil for a clean exit.
	Err() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(spec Spec) (Process, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(spec Spec) (Process, error) {
	return f(spec)
}

// ExecSpawner implements Spawner with os/exec.
type ExecSpawner struct {
	log *slog.Logger
}

// Compile-time verification that ExecSpawner implements Spawner.
var _ Spawner = (*ExecSpawner)(nil)

// NewExecSpawner creates a spawner that logs process output at debug level.
func NewExecSpawner(log *slog.Logger) *ExecSpawner {
	return &ExecSpawner{log: log.With("component", "subprocess")}
}

// Spawn starts the process described by spec.
//
// The process is not bound to any context: its lifetime is controlled
// through Signal. Output is split into lines as it arrives; exit is detected
// from the process itself, not from the output pipes closing.
func (s *ExecSpawner) Spawn(spec Spec) (Process, error) {
	stdout := newLineWriter(s.log, "stdout", spec.Stdout, false)
	stderr := newLineWriter(s.log, "stderr", spec.Stderr, true)

	//nolint:gosec // G204: launching a caller-supplied interpreter is the point
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		s.log.Error("Failed to start process", "path", spec.Path, "error", err)

		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &execProcess{
		log:  s.log.With("pid", cmd.Process.Pid),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	p.log.Info("Process started", "path", spec.Path)

	go p.wait(stdout, stderr)

	return p, nil
}

// execProcess is a Process backed by exec.Cmd.
type execProcess struct {
	log  *slog.Logger
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

var _ Process = (*execProcess)(nil)

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}

	p.log.Debug("Signalling process", "signal", sig.String())

	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", p.cmd.Process.Pid, err)
	}

	return nil
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// wait reaps the process, flushes partial output lines and closes done.
func (p *execProcess) wait(stdout, stderr *lineWriter) {
	waitErr := p.cmd.Wait()

	stdout.close()
	stderr.close()

	if stderrors.Is(waitErr, exec.ErrWaitDelay) {
		p.log.Debug("Output still open after exit, pipes closed")

		waitErr = nil
	}

	var exitErr error

	if waitErr != nil {
		exitCode := -1

		if ee, ok := stderrors.AsType[*exec.ExitError](waitErr); ok {
			exitCode = ee.ExitCode()
		}

		exitErr = &errors.ProcessError{
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.tail()),
			Err:      waitErr,
		}

		p.log.Info("Process exited with error", "exit_code", exitCode, "error", waitErr)
	} else {
		p.log.Info("Process exited")
	}

	p.mu.Lock()
	p.err = exitErr
	p.mu.Unlock()

	close(p.done)
}

// lineWriter splits process output into lines for fn. It never fails a
// write, so the process is never blocked on a full pipe.
type lineWriter struct {
	log    *slog.Logger
	stream string
	fn     func(string)
	keep   bool

	mu       sync.Mutex
	buf      []byte
	skipping bool
	kept     strings.Builder
}

func newLineWriter(log *slog.Logger, stream string, fn func(string), keep bool) *lineWriter {
	return &lineWriter{log: log, stream: stream, fn: fn, keep: keep}
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	n := len(p)

	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			lw.append(p)

			break
		}

		lw.append(p[:i])
		p = p[i+1:]

		if lw.skipping {
			lw.skipping = false
			lw.buf = lw.buf[:0]

			continue
		}

		lw.emit()
	}

	return n, nil
}

// close emits a trailing line that had no newline.
func (lw *lineWriter) close() {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if len(lw.buf) > 0 && !lw.skipping {
		lw.emit()
	}

	lw.buf = nil
	lw.skipping = false
}

// tail returns the kept output, up to maxStderrBufferSize.
func (lw *lineWriter) tail() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	return lw.kept.String()
}

func (lw *lineWriter) append(p []byte) {
	if lw.skipping {
		return
	}

	room := maxLineSize - len(lw.buf)
	if len(p) <= room {
		lw.buf = append(lw.buf, p...)

		return
	}

	lw.buf = append(lw.buf, p[:room]...)
	lw.log.Debug("Output line truncated", "stream", lw.stream, "limit", maxLineSize)
	lw.emit()
	lw.skipping = true
}

func (lw *lineWriter) emit() {
	line := strings.TrimSuffix(string(lw.buf), "\r")
	lw.buf = lw.buf[:0]

	if lw.keep && lw.kept.Len() < maxStderrBufferSize {
		if lw.kept.Len() > 0 {
			lw.kept.WriteString("\n")
		}

		lw.kept.WriteString(line)
	}

	if lw.fn != nil {
		lw.fn(line)
	} else {
		lw.log.Debug("Process output", "stream", lw.stream, "line", line)
	}
}
