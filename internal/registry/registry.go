package registry

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/serializer"
)

// InvokeFunc is the body of a request handler. arg holds the deserialized
// argument (nil when the handler declares no argument type); the returned
// value is serialized when the handler declares a result type.
type InvokeFunc func(ctx context.Context, arg any) (any, error)

// Handler is a registration for one request type.
type Handler struct {
	RequestType string
	Description string
	ArgType     *serializer.Type
	ResultType  *serializer.Type
	Invoke      InvokeFunc
}

// CompleteFunc receives the outcome of a request sent by this side.
// err is a *errors.RemoteError when the peer answered with an error, or a
// *errors.DeserializationError when the result did not match ResultType.
type CompleteFunc func(ctx context.Context, result any, err error)

// Pending is a one-shot continuation awaiting the response to RequestID.
type Pending struct {
	RequestID   string
	RequestType string
	ResultType  *serializer.Type
	OnComplete  CompleteFunc
}

// Registry holds request handlers by type and pending response callbacks by
// request id. It is owned by a single connection.
type Registry struct {
	log *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler
	frozen     bool

	pendingMu sync.Mutex
	pending   map[string]Pending
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		log:      log.With("component", "registry"),
		handlers: make(map[string]Handler, 10),
		pending:  make(map[string]Pending, 10),
	}
}

// Register stores a handler.
//
// Only one handler can be registered per request type; a second registration
// returns *errors.DuplicateHandlerError and leaves the first one in place.
// Registration fails with ErrRegistryFrozen once Freeze has been called.
func (r *Registry) Register(h Handler) error {
	if h.RequestType == "" || h.Invoke == nil {
		return errors.ErrInvalidHandler
	}

	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	if r.frozen {
		return errors.ErrRegistryFrozen
	}

	if _, exists := r.handlers[h.RequestType]; exists {
		return &errors.DuplicateHandlerError{RequestType: h.RequestType}
	}

	r.log.Debug("Registering request handler", "request_type", h.RequestType)
	r.handlers[h.RequestType] = h

	return nil
}

// Freeze makes the handler set immutable. Called when the read loop starts.
func (r *Registry) Freeze() {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()

	r.frozen = true
}

// Resolve returns the handler registered for requestType.
func (r *Registry) Resolve(requestType string) (Handler, bool) {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()

	h, ok := r.handlers[requestType]

	return h, ok
}

// Handlers returns all registrations sorted by request type.
func (r *Registry) Handlers() []Handler {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()

	result := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		result = append(result, h)
	}

	slices.SortFunc(result, func(a, b Handler) int {
		return cmp.Compare(a.RequestType, b.RequestType)
	})

	return result
}

// AddPending stores a continuation for p.RequestID. Request ids are unique
// per connection, so an existing entry is never overwritten in practice.
func (r *Registry) AddPending(p Pending) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	r.pending[p.RequestID] = p
}

// TakePending atomically removes and returns the continuation for requestID.
// A second call for the same id reports false.
func (r *Registry) TakePending(requestID string) (Pending, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}

	return p, ok
}

// DropPending discards the continuation for requestID, if any.
func (r *Registry) DropPending(requestID string) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	delete(r.pending, requestID)
}

// PendingCount returns the number of unanswered requests with continuations.
func (r *Registry) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	return len(r.pending)
}
