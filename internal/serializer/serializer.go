package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
)

// Serializer converts typed values to and from wire payloads.
type Serializer interface {
	// Serialize encodes v. A nil value yields an empty payload.
	Serialize(v any) (json.RawMessage, error)

	// Deserialize decodes payload into a fresh value of target's Go type.
	// Failures are reported as *errors.DeserializationError.
	Deserialize(payload json.RawMessage, target *Type) (any, error)
}

// Type describes the Go type a payload must deserialize into, together with
// the JSON schema derived from it.
type Type struct {
	name     string
	goType   reflect.Type
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// TypeOf builds the descriptor for T. Types that have no JSON schema
// representation (funcs, channels) still deserialize, without validation.
func TypeOf[T any]() *Type {
	goType := reflect.TypeFor[T]()

	t := &Type{
		name:   goType.String(),
		goType: goType,
	}

	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return t
	}

	t.schema = schema

	if resolved, err := schema.Resolve(nil); err == nil {
		t.resolved = resolved
	}

	return t
}

// Name returns the Go type name.
func (t *Type) Name() string {
	return t.name
}

// GoType returns the reflected Go type.
func (t *Type) GoType() reflect.Type {
	return t.goType
}

// Schema returns the JSON schema for the type, or nil.
func (t *Type) Schema() *jsonschema.Schema {
	return t.schema
}

// JSON is the default Serializer. When Strict is set, payloads are validated
// against the target's JSON schema before decoding.
type JSON struct {
	Strict bool
}

// Compile-time verification that JSON implements Serializer.
var _ Serializer = (*JSON)(nil)

// Serialize implements Serializer.
func (s *JSON) Serialize(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize %T: %w", v, err)
	}

	return data, nil
}

// Deserialize implements Serializer.
//
// An empty payload yields the zero value of the target type.
func (s *JSON) Deserialize(payload json.RawMessage, target *Type) (any, error) {
	if target == nil {
		return nil, nil
	}

	ptr := reflect.New(target.goType)

	if len(payload) == 0 {
		return ptr.Elem().Interface(), nil
	}

	if s.Strict && target.resolved != nil {
		var instance any
		if err := json.Unmarshal(payload, &instance); err != nil {
			return nil, deserializationError(target, payload, err)
		}

		if err := target.resolved.Validate(instance); err != nil {
			return nil, deserializationError(target, payload, err)
		}
	}

	if err := json.Unmarshal(payload, ptr.Interface()); err != nil {
		return nil, deserializationError(target, payload, err)
	}

	return ptr.Elem().Interface(), nil
}

// As converts a deserialized value to T. A nil value yields the zero T.
func As[T any](v any) (T, error) {
	var zero T

	if v == nil {
		return zero, nil
	}

	typed, ok := v.(T)
	if !ok {
		return zero, &errors.DeserializationError{
			TargetType: reflect.TypeFor[T]().String(),
			Err:        fmt.Errorf("got %T", v),
		}
	}

	return typed, nil
}

func deserializationError(target *Type, payload json.RawMessage, err error) error {
	return &errors.DeserializationError{
		TargetType: target.name,
		Payload:    string(payload),
		Err:        err,
	}
}
