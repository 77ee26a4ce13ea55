package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/message"
)

const (
	// DefaultMaxFrameSize is the maximum size of one newline-delimited frame.
	DefaultMaxFrameSize = 1024 * 1024 // 1MB

	// writeExitGrace bounds how long Write waits for a blocked write to
	// return after the output was closed.
	writeExitGrace = 1 * time.Second
)

// Stream frames newline-delimited JSON messages over a duplex byte stream.
//
// Read must only be called from a single goroutine. Write is safe for
// concurrent use.
type Stream struct {
	log     *slog.Logger
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner

	// lines carries frames from the scan goroutine; it is closed at end of
	// input and scanErr is set before that.
	lines     chan []byte
	scanErr   error
	scanOnce  sync.Once
	stop      chan struct{}
	open      atomic.Bool
	outClosed atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once

	frames atomic.Int64
}

// New binds a Stream to the given input and output.
//
// maxFrameSize bounds a single incoming line; zero selects DefaultMaxFrameSize.
// A frame larger than the bound is a fatal read error.
func New(log *slog.Logger, in io.Reader, out io.Writer, maxFrameSize int) *Stream {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	scanner := bufio.NewScanner(in)
	// The scanner honours the larger of cap(buf) and max, so the initial
	// buffer must not exceed the frame bound.
	scanner.Buffer(make([]byte, 0, min(64*1024, maxFrameSize)), maxFrameSize)

	s := &Stream{
		log:     log.With("component", "channel"),
		in:      in,
		out:     out,
		scanner: scanner,
		lines:   make(chan []byte),
		stop:    make(chan struct{}),
	}
	s.open.Store(true)

	return s
}

// IsOpen reports whether the input side can still yield messages.
func (s *Stream) IsOpen() bool {
	return s.open.Load()
}

// Read blocks until the next frame arrives and returns the messages it holds.
//
// Malformed frames and messages are logged and skipped, yielding an empty
// batch. End of input marks the stream closed and returns an empty batch
// with a nil error. Scanner failures are returned as *errors.TransportError.
//
// Read returns as soon as ctx is cancelled or the stream is closed, even when
// the underlying reader cannot be interrupted. In that case the scan
// goroutine stays blocked until the reader returns.
func (s *Stream) Read(ctx context.Context) (message.Batch, error) {
	var batch message.Batch

	if !s.open.Load() {
		return batch, nil
	}

	s.scanOnce.Do(func() {
		go s.scan()
	})

	var line []byte

	select {
	case <-ctx.Done():
		s.log.Debug("Context cancelled during read", "error", ctx.Err())

		return batch, ctx.Err()

	case <-s.stop:
		s.open.Store(false)

		return batch, &errors.TransportError{Op: "read", Err: errors.ErrStreamClosed}

	case l, ok := <-s.lines:
		if !ok {
			s.open.Store(false)

			if s.scanErr != nil {
				s.log.Error("Scanner error while reading input", "error", s.scanErr)

				return batch, &errors.TransportError{Op: "read", Err: s.scanErr}
			}

			s.log.Debug("Input stream reached EOF", "frames", s.frames.Load())

			return batch, nil
		}

		line = l
	}

	s.frames.Add(1)

	envs, err := message.DecodeFrame(line)
	if err != nil {
		s.log.Warn("Dropping malformed frame", "error", err)

		return batch, nil
	}

	for _, env := range envs {
		msg, err := message.Parse(s.log, env)
		if err != nil {
			s.log.Warn("Dropping invalid message", "error", err)

			continue
		}

		batch.Add(msg)
	}

	return batch, nil
}

// scan feeds input lines to Read until end of input or Close.
func (s *Stream) scan() {
	defer close(s.lines)
	defer s.log.Debug("Scan goroutine stopped")

	for s.scanner.Scan() {
		line := bytes.Clone(s.scanner.Bytes())

		select {
		case s.lines <- line:
		case <-s.stop:
			return
		}
	}

	s.scanErr = s.scanner.Err()
}

// Write serializes one message and writes it followed by a newline.
//
// If ctx is cancelled while the write is blocked, the output is closed to
// unblock it and subsequent writes fail with ErrStreamClosed. Every I/O
// failure is returned as *errors.TransportError.
func (s *Stream) Write(ctx context.Context, msg message.Outgoing) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", msg.MessageKind(), msg.MessageID(), err)
	}

	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.outClosed.Load() {
		return &errors.TransportError{Op: "write", Err: errors.ErrStreamClosed}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	done := make(chan error, 1)

	go func() {
		_, err := s.out.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Error("Failed to write message", "error", err, "kind", msg.MessageKind())

			return &errors.TransportError{Op: "write", Err: err}
		}

		s.log.Debug("Message written", "kind", msg.MessageKind(), "id", msg.MessageID(), "data_len", len(data))

		return nil

	case <-ctx.Done():
		s.log.Debug("Context cancelled during write, closing output")
		s.closeOutput()

		select {
		case <-done:
		case <-time.After(writeExitGrace):
			s.log.Warn("Write goroutine did not exit after output close, potential leak")
		}

		return ctx.Err()
	}
}

// Close closes both sides of the stream when they are closable. It's safe to
// call Close multiple times.
func (s *Stream) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.stop)

		if c, ok := s.in.(io.Closer); ok {
			if closeErr := c.Close(); closeErr != nil {
				err = fmt.Errorf("close input: %w", closeErr)
			}
		}

		if closeErr := s.closeOutput(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
	})

	return err
}

// closeOutput closes the writer once, if it is closable.
func (s *Stream) closeOutput() error {
	if !s.outClosed.CompareAndSwap(false, true) {
		return nil
	}

	if c, ok := s.out.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
