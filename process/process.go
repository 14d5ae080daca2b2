// Package process runs external converters as subprocesses,
// exposing their standard input and output as streams.
//
// Data flows through the operating system's pipes,
// so a producer can feed a converter while a consumer reads its output
// without either side holding the whole payload in memory.
// A slow consumer throttles the producer.
package process

import (
	"context"
	stderrs "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// Stage says where in a subprocess's life a failure happened.
type Stage string

const (
	StageSpawn Stage = "spawn" // the executable could not be started
	StagePipe  Stage = "pipe"  // reading from or writing to the subprocess failed
	StageExit  Stage = "exit"  // the subprocess exited unsuccessfully
	StageParse Stage = "parse" // the subprocess's output could not be understood
)

// Error is a subprocess failure.
type Error struct {
	Stage    Stage
	Program  string
	ExitCode int    // meaningful for StageExit
	Stderr   string // leading portion of the subprocess's standard error, if any
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Program, e.Stage)
	if e.Stage == StageExit {
		msg = fmt.Sprintf("%s (status %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParseError reports output from program that could not be parsed.
func ParseError(program string, err error) error {
	return &Error{Stage: StageParse, Program: program, Err: err}
}

// Process is a running subprocess.
type Process struct {
	program string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  *headBuffer

	mu      sync.Mutex
	waited  bool
	waitErr error
}

// Spawn starts program with the given arguments.
// The process is killed if ctx is canceled before it exits.
//
// The caller must consume the process with Pipe or Read
// and close the resulting reader.
func Spawn(ctx context.Context, program string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, program, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Stage: StageSpawn, Program: program, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Stage: StageSpawn, Program: program, Err: err}
	}
	stderr := &headBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &Error{Stage: StageSpawn, Program: program, Err: err}
	}

	return &Process{
		program: program,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// Pipe feeds input to the process's standard input,
// concurrently with the caller reading its standard output from the result.
//
// The result reports io.EOF only if the process exited successfully
// and all of input was delivered
// (or the process finished without needing the rest of it).
// Otherwise the final Read returns an *Error,
// or the error from reading input.
func (p *Process) Pipe(input io.Reader) io.ReadCloser {
	feed := make(chan error, 1)
	go func() {
		w := &recordingWriter{w: p.stdin}
		_, err := io.Copy(w, input)
		switch {
		case err == nil:
		case err == w.err:
			err = &writeError{err: err}
		default:
			err = errors.Wrap(err, "reading subprocess input")
		}

		// The outcome is published before the process can see end of input,
		// so it is available once the process exits.
		feed <- err
		p.stdin.Close()
	}()
	return &reader{p: p, input: input, feed: feed}
}

// Read exposes the process's standard output.
// The process gets no input.
func (p *Process) Read() io.ReadCloser {
	p.stdin.Close()
	return &reader{p: p}
}

func (p *Process) wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.waited {
		p.waited = true
		p.waitErr = p.cmd.Wait()
	}
	return p.waitErr
}

func (p *Process) exitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if stderrs.As(err, &ee) {
		return &Error{
			Stage:    StageExit,
			Program:  p.program,
			ExitCode: ee.ExitCode(),
			Stderr:   p.stderr.String(),
		}
	}
	return &Error{Stage: StagePipe, Program: p.program, Stderr: p.stderr.String(), Err: err}
}

type reader struct {
	p     *Process
	input io.Reader
	feed  <-chan error // nil when there is no input
	err   error
}

func (r *reader) Read(buf []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.p.stdout.Read(buf)
	if err == io.EOF {
		r.err = r.finish()
		if r.err == nil {
			r.err = io.EOF
		}
		return n, r.err
	}
	if err != nil {
		r.p.kill()
		r.p.wait()
		r.err = &Error{Stage: StagePipe, Program: r.p.program, Stderr: r.p.stderr.String(), Err: err}
		return n, r.err
	}
	return n, nil
}

// Called after standard output reaches EOF.
// It never waits on the input feeder,
// which may be blocked reading a stalled input.
func (r *reader) finish() error {
	exitErr := r.p.exitError(r.p.wait())
	if r.feed == nil || exitErr != nil {
		r.stopFeed()
		return exitErr
	}

	var feedErr error
	select {
	case feedErr = <-r.feed:
	default:
		// The process finished successfully without reading all its input.
		r.stopFeed()
		return nil
	}

	var we *writeError
	if stderrs.As(feedErr, &we) {
		if isClosedPipe(we.err) {
			return nil
		}
		return &Error{Stage: StagePipe, Program: r.p.program, Err: we.err}
	}
	return feedErr
}

// Unblocks a feeder waiting on its input, if the input can be closed.
// A feeder blocked writing stops on its own,
// since the process's standard input is closed once it exits.
func (r *reader) stopFeed() {
	if r.feed == nil {
		return
	}
	select {
	case <-r.feed:
		return
	default:
	}
	if c, ok := r.input.(io.Closer); ok {
		c.Close()
	}
}

// Close releases the process,
// killing it if it has not finished.
// It does not wait for the input feeder.
func (r *reader) Close() error {
	if r.err == nil {
		r.err = errors.New("reader closed")
		r.p.kill()
		r.p.wait()
		r.stopFeed()
	}
	return nil
}

func (p *Process) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waited && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

type recordingWriter struct {
	w   io.Writer
	err error
}

func (w *recordingWriter) Write(buf []byte) (int, error) {
	n, err := w.w.Write(buf)
	if err != nil {
		w.err = err
	}
	return n, err
}

type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return "writing subprocess input: " + e.err.Error()
}

func (e *writeError) Unwrap() error {
	return e.err
}

func isClosedPipe(err error) bool {
	return stderrs.Is(err, syscall.EPIPE) || stderrs.Is(err, os.ErrClosed) || stderrs.Is(err, io.ErrClosedPipe)
}

// headBuffer keeps the first max bytes written to it.
type headBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *headBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *headBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
