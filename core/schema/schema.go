// Package schema maps event type names to typed payloads and validates raw
// payload bytes before they are allowed into the event log. Decoding is a
// deserialize-then-validate step at the system boundary: everything behind it
// operates on the typed payload structs defined in payloads.go.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// Payload is implemented by every registered event payload.
type Payload interface {
	Validate() error
}

// FieldError describes a single failed payload field check.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (f FieldError) Error() string { return fmt.Sprintf("%s: %s", f.Field, f.Reason) }

// ValidationError carries field-level detail for a payload that failed its
// schema checks. It matches ErrInvalidPayload under errors.Is.
type ValidationError struct {
	EventType string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("invalid payload for %s: %s", e.EventType, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

// invalid builds a ValidationError from field checks.
func invalid(eventType string, fields ...FieldError) error {
	return &ValidationError{EventType: eventType, Fields: fields}
}

// Registry maps event type names to payload constructors so raw event data
// can be decoded and validated. Type names are exact matches; permissive
// prefixes (e.g. "test.", "system.") accept any JSON object payload.
type Registry struct {
	mu       sync.RWMutex
	ctors    map[string]func() Payload
	prefixes []string
}

func NewRegistry() *Registry {
	return &Registry{ctors: map[string]func() Payload{}}
}

// Register binds an event type name to a payload constructor.
func (r *Registry) Register(eventType string, ctor func() Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[eventType] = ctor
}

// RegisterPrefix marks every event type starting with prefix as permissive:
// any well-formed JSON object is accepted as payload.
func (r *Registry) RegisterPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefix)
}

// Known reports whether eventType has a registered schema (exact or prefix).
func (r *Registry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.ctors[eventType]; ok {
		return true
	}
	return r.matchPrefixLocked(eventType)
}

func (r *Registry) matchPrefixLocked(eventType string) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// Decode validates data against the schema registered for eventType and
// returns the typed payload. It fails with ErrUnknownEventType when no schema
// is registered, or ErrInvalidPayload (with field detail) when checks fail.
func (r *Registry) Decode(eventType string, data json.RawMessage) (Payload, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[eventType]
	permissive := !ok && r.matchPrefixLocked(eventType)
	r.mu.RUnlock()

	if !ok && !permissive {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	var p Payload
	if permissive {
		p = &GenericPayload{}
	} else {
		p = ctor()
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, invalid(eventType, FieldError{Field: "payload", Reason: err.Error()})
		}
	}
	if err := p.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.EventType = eventType
			return nil, ve
		}
		return nil, invalid(eventType, FieldError{Field: "payload", Reason: err.Error()})
	}
	return p, nil
}

// Default returns a registry with every built-in event type registered, plus
// the permissive test.* and system.* prefixes.
func Default() *Registry {
	r := NewRegistry()
	for t, ctor := range builtins {
		r.Register(t, ctor)
	}
	r.RegisterPrefix("test.")
	r.RegisterPrefix("system.")
	return r
}
