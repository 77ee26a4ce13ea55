package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
)

const (
	// maxStderrBufferSize is the maximum size for the stderr buffer.
	// Stderr reading continues indefinitely (the callback receives all lines),
	// but the buffer stops growing after this limit.
	maxStderrBufferSize = 10 * 1024 * 1024 // 10MB

	// DefaultExitGrace is how long Close waits for the peer to exit after
	// stdin is closed before killing it.
	DefaultExitGrace = 2 * time.Second
)

// Process is a running peer. Its stdout is the connection's input stream
// and its stdin the output stream.
type Process struct {
	log      *slog.Logger
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *io.PipeReader
	onStderr func(string)

	exitGrace time.Duration

	stderrWg  sync.WaitGroup
	stderrMu  sync.Mutex
	stderrBuf strings.Builder

	mu     sync.Mutex
	killed bool

	exited  chan struct{}
	waitErr error
}

// Start spawns cmd with its stdio wired for a duplex stream.
//
// cmd must not have Stdin, Stdout or Stderr set. Every stderr line is passed
// to onStderr (if non-nil) and buffered for error reporting. Cancelling ctx
// kills the process.
func Start(ctx context.Context, log *slog.Logger, cmd *exec.Cmd, onStderr func(string)) (*Process, error) {
	log = log.With("component", "subprocess", "path", cmd.Path)

	if cmd.Stdin != nil || cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, &errors.TransportError{Op: "start", Err: stderrors.New("command stdio already configured")}
	}

	p := &Process{
		log:       log,
		cmd:       cmd,
		onStderr:  onStderr,
		exitGrace: DefaultExitGrace,
		exited:    make(chan struct{}),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error("Failed to create stdin pipe", "error", err)

		return nil, &errors.TransportError{Op: "start", Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	p.stdin = stdin

	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Error("Failed to create stderr pipe", "error", err)

		return nil, &errors.TransportError{Op: "start", Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	// Stdout goes through an in-process pipe so Wait completes only after
	// every byte the peer wrote has been consumed.
	stdoutReader, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.WaitDelay = p.exitGrace
	p.stdout = stdoutReader

	if err := cmd.Start(); err != nil {
		log.Error("Failed to start peer process", "error", err)

		return nil, &errors.TransportError{Op: "start", Err: fmt.Errorf("start process: %w", err)}
	}

	log.Info("Peer process started", "pid", cmd.Process.Pid)

	p.stderrWg.Go(func() {
		p.readStderr(stderr)
	})

	go func() {
		// Stderr must be fully read before Wait.
		p.stderrWg.Wait()

		err := cmd.Wait()
		_ = stdoutWriter.CloseWithError(io.EOF)

		p.waitErr = p.exitError(err)
		close(p.exited)
	}()

	context.AfterFunc(ctx, func() {
		select {
		case <-p.exited:
		default:
			p.log.Debug("Context cancelled, killing peer process")
			p.kill()
		}
	})

	return p, nil
}

// Stdout returns the peer's output stream.
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Stdin returns the peer's input stream. Closing it signals end of input.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stderr returns the buffered stderr output.
func (p *Process) Stderr() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	return strings.TrimSpace(p.stderrBuf.String())
}

// Exited returns a channel that is closed when the process has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Wait blocks until the process exits. A non-zero exit is reported as
// *errors.ProcessError unless the process was killed by Close or ctx.
func (p *Process) Wait() error {
	<-p.exited

	return p.waitErr
}

// Close ends the peer's input and waits for it to exit, killing it if it
// has not exited within the grace period. It's safe to call Close multiple
// times.
func (p *Process) Close() error {
	if err := p.stdin.Close(); err != nil && !stderrors.Is(err, io.ErrClosedPipe) {
		p.log.Debug("Closing stdin failed", "error", err)
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(p.exitGrace):
	}

	p.log.Warn("Peer process did not exit after stdin closed, killing", "pid", p.Pid())
	p.kill()

	<-p.exited

	return nil
}

func (p *Process) kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()

	if err := p.cmd.Process.Kill(); err != nil {
		p.log.Debug("Kill peer process failed", "error", err)
	}
}

func (p *Process) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()

		p.stderrMu.Lock()

		if p.stderrBuf.Len() < maxStderrBufferSize {
			if p.stderrBuf.Len() > 0 {
				p.stderrBuf.WriteString("\n")
			}

			p.stderrBuf.WriteString(line)
		}

		p.stderrMu.Unlock()

		if p.onStderr != nil {
			p.onStderr(line)
		}
	}

	// Don't fail: the process may have exited mid-line.
	if err := scanner.Err(); err != nil {
		p.log.Debug("Stderr scanner error", "error", err)
	}
}

// exitError converts the result of cmd.Wait.
func (p *Process) exitError(err error) error {
	if err == nil {
		p.log.Info("Peer process exited successfully")

		return nil
	}

	p.mu.Lock()
	killed := p.killed
	p.mu.Unlock()

	if killed {
		p.log.Debug("Peer process terminated during shutdown")

		return nil
	}

	// Exited cleanly, but nobody drained its stdout.
	if stderrors.Is(err, exec.ErrWaitDelay) {
		p.log.Debug("Peer stdout abandoned after exit")

		return nil
	}

	exitCode := -1

	if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
		exitCode = exitErr.ExitCode()
	}

	stderr := p.Stderr()
	p.log.Error("Peer process exited with error", "exit_code", exitCode, "stderr", stderr)

	return &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      err,
	}
}
