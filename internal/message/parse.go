package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
)

// Parse converts a decoded envelope into a typed Request or Response.
//
// Returns ErrUnknownMessageKind for kinds other than request/response, and a
// MessageParseError when required fields are missing.
func Parse(log *slog.Logger, env *Envelope) (Outgoing, error) {
	if env == nil {
		return nil, parseError("", "null message")
	}

	switch env.Kind {
	case KindRequest:
		if env.ID == "" {
			return nil, parseError(env.Kind, "request: missing id")
		}

		if env.Type == "" {
			return nil, parseError(env.Kind, "request: missing type")
		}

		return &Request{ID: env.ID, Type: env.Type, Args: env.Args}, nil

	case KindResponse:
		if env.ID == "" {
			return nil, parseError(env.Kind, "response: missing id")
		}

		return &Response{ID: env.ID, Result: env.Result, Error: env.Error}, nil

	default:
		log.Debug("Skipping unknown message kind", "kind", env.Kind)

		return nil, errors.ErrUnknownMessageKind
	}
}

// DecodeFrame decodes one line of wire data. A frame holding a JSON array is
// a batch and yields one envelope per element. Null elements are dropped.
func DecodeFrame(line []byte) ([]*Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var envs []*Envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, &errors.WireDecodeError{RawData: string(line), Err: err}
		}

		return slices.DeleteFunc(envs, func(env *Envelope) bool {
			return env == nil
		}), nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &errors.WireDecodeError{RawData: string(line), Err: err}
	}

	return []*Envelope{&env}, nil
}

// parseError builds a MessageParseError for the given kind.
func parseError(kind Kind, msg string) error {
	return &errors.MessageParseError{
		Message: msg,
		Err:     fmt.Errorf("%s", msg),
		Kind:    string(kind),
	}
}
