package changereq

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/uvr-coop/uvr/internal/shared"
)

// Registry maps each target type to its strategy.
type Registry struct {
	targets map[TargetType]Target
}

// NewRegistry registers every target.
func NewRegistry(targets ...Target) (*Registry, error) {
	r := &Registry{targets: make(map[TargetType]Target, len(targets))}
	for _, t := range targets {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds t to its type. Binding a type twice is an error.
func (r *Registry) Register(t Target) error {
	if _, err := ParseTargetType(string(t.Type())); err != nil {
		return fmt.Errorf("changereq: register %q: %w", t.Type(), err)
	}
	if _, exists := r.targets[t.Type()]; exists {
		return fmt.Errorf("changereq: target %q registered twice", t.Type())
	}
	r.targets[t.Type()] = t
	return nil
}

// Lookup returns the strategy for tt.
func (r *Registry) Lookup(tt TargetType) (Target, error) {
	t, ok := r.targets[tt]
	if !ok {
		return nil, shared.NewValidationError("target_type", fmt.Sprintf("%q is not governed", tt))
	}
	return t, nil
}

// DecodeInto strictly decodes raw into dst and validates it.
func DecodeInto[P Proposal](raw json.RawMessage, dst P) (P, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var zero P
		return zero, shared.NewValidationError("payload", fmt.Sprintf("malformed payload: %v", err))
	}
	if err := dst.Validate(); err != nil {
		var zero P
		return zero, err
	}
	return dst, nil
}
