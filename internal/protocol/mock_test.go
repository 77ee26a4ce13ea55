package protocol

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/duplexrpc-go/internal/config"
	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/message"
)

// mockChannel is an in-memory Channel. Tests feed incoming batches with
// deliver and inspect everything the dispatcher wrote.
type mockChannel struct {
	incoming  chan message.Batch
	closed    chan struct{}
	closeOnce sync.Once
	open      atomic.Bool

	mu       sync.Mutex
	written  []message.Outgoing
	writeErr error
	block    chan struct{}
}

var _ config.Channel = (*mockChannel)(nil)

func newMockChannel() *mockChannel {
	m := &mockChannel{
		incoming: make(chan message.Batch, 64),
		closed:   make(chan struct{}),
	}
	m.open.Store(true)

	return m
}

func (m *mockChannel) IsOpen() bool {
	return m.open.Load()
}

func (m *mockChannel) Read(_ context.Context) (message.Batch, error) {
	select {
	case batch, ok := <-m.incoming:
		if !ok {
			m.open.Store(false)

			return message.Batch{}, nil
		}

		return batch, nil
	case <-m.closed:
		m.open.Store(false)

		return message.Batch{}, io.ErrClosedPipe
	}
}

func (m *mockChannel) Write(ctx context.Context, msg message.Outgoing) error {
	m.mu.Lock()
	block := m.block
	writeErr := m.writeErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if writeErr != nil {
		return &errors.TransportError{Op: "write", Err: writeErr}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.written = append(m.written, msg)

	return nil
}

func (m *mockChannel) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})

	return nil
}

// deliver feeds msgs to the read loop as one batch.
func (m *mockChannel) deliver(msgs ...message.Outgoing) {
	var batch message.Batch

	for _, msg := range msgs {
		batch.Add(msg)
	}

	m.incoming <- batch
}

// finish makes the channel report closed after queued batches are read.
func (m *mockChannel) finish() {
	close(m.incoming)
}

func (m *mockChannel) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeErr = err
}

func (m *mockChannel) Written() []message.Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]message.Outgoing(nil), m.written...)
}

// waitWritten waits until at least n messages were written and returns them.
func (m *mockChannel) waitWritten(t *testing.T, n int) []message.Outgoing {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(m.Written()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d written messages", n)

	return m.Written()
}

// responseFor returns the written response answering requestID.
func (m *mockChannel) responseFor(t *testing.T, requestID string) *message.Response {
	t.Helper()

	var found *message.Response

	require.Eventually(t, func() bool {
		for _, msg := range m.Written() {
			if resp, ok := msg.(*message.Response); ok && resp.ID == requestID {
				found = resp

				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond, "no response for %s", requestID)

	return found
}

func request(id, requestType string, args any) *message.Request {
	payload, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}

	return &message.Request{ID: id, Type: requestType, Args: payload}
}

func response(id string, result any) *message.Response {
	payload, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}

	return &message.Response{ID: id, Result: payload}
}

// serve runs c over ch in the background and returns Serve's result channel.
func serve(ctx context.Context, c *Conn, ch config.Channel) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.Serve(ctx, ch)
	}()

	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")

		return nil
	}
}
