package message

import "encoding/json"

// Kind tags every wire message.
type Kind string

const (
	// KindRequest marks a request frame.
	KindRequest Kind = "request"
	// KindResponse marks a response frame.
	KindResponse Kind = "response"
)

// Outgoing is a message that can be placed on the outgoing queue.
// Implementations: *Request, *Response.
type Outgoing interface {
	MessageKind() Kind
	MessageID() string
}

// Compile-time verification that both message types are Outgoing.
var (
	_ Outgoing = (*Request)(nil)
	_ Outgoing = (*Response)(nil)
)

// Request is a call issued by either side of the connection.
//
// Wire format:
//
//	{"kind": "request", "id": "01J...", "type": "greet", "args": "world"}
type Request struct {
	ID   string
	Type string
	Args json.RawMessage
}

// MessageKind implements Outgoing.
func (r *Request) MessageKind() Kind { return KindRequest }

// MessageID implements Outgoing.
func (r *Request) MessageID() string { return r.ID }

// MarshalJSON encodes the request in its wire format.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(&Envelope{
		Kind: KindRequest,
		ID:   r.ID,
		Type: r.Type,
		Args: r.Args,
	})
}

// Response answers a Request with the same ID.
//
// Wire format for success:
//
//	{"kind": "response", "id": "01J...", "result": "hello world"}
//
// Wire format for error:
//
//	{"kind": "response", "id": "01J...", "error": "error message"}
type Response struct {
	ID     string
	Result json.RawMessage
	Error  string
}

// MessageKind implements Outgoing.
func (r *Response) MessageKind() Kind { return KindResponse }

// MessageID implements Outgoing.
func (r *Response) MessageID() string { return r.ID }

// IsError reports whether the response carries a failure indicator.
func (r *Response) IsError() bool { return r.Error != "" }

// MarshalJSON encodes the response in its wire format.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(&Envelope{
		Kind:   KindResponse,
		ID:     r.ID,
		Result: r.Result,
		Error:  r.Error,
	})
}

// Envelope is the union of all wire fields. Each frame decodes into one
// Envelope before Parse classifies it.
type Envelope struct {
	Kind   Kind            `json:"kind"`
	ID     string          `json:"id"`
	Type   string          `json:"type,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Batch is the set of messages produced by one Channel read.
type Batch struct {
	Requests  []*Request
	Responses []*Response
}

// Len returns the number of messages in the batch.
func (b *Batch) Len() int {
	return len(b.Requests) + len(b.Responses)
}

// Add appends a parsed message to the matching slice.
func (b *Batch) Add(msg Outgoing) {
	switch m := msg.(type) {
	case *Request:
		b.Requests = append(b.Requests, m)
	case *Response:
		b.Responses = append(b.Responses, m)
	}
}
