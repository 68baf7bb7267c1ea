package idempotency

import (
	"encoding/json"
	"fmt"

	"github.com/cardledger/cardledger/internal/domain"
)

// envelope is the stored response body: a kind discriminator next to the payload.
type envelope struct {
	Kind    domain.ResourceKind `json:"kind"`
	Payload json.RawMessage     `json:"payload"`
}

// Encode wraps payload for storage under kind.
func Encode(kind domain.ResourceKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

// Decode unwraps a stored response. A record of another kind or an
// undecodable body yields domain.ErrInvalidData.
func Decode[T any](rec domain.IdempotencyRecord, kind domain.ResourceKind) (T, error) {
	var zero T
	if rec.ResourceKind != kind {
		return zero, fmt.Errorf("%w: key %s holds a %s response, expected %s", domain.ErrInvalidData, rec.Key, rec.ResourceKind, kind)
	}

	var env envelope
	if err := json.Unmarshal(rec.Body, &env); err != nil {
		return zero, fmt.Errorf("%w: stored response for key %s: %v", domain.ErrInvalidData, rec.Key, err)
	}
	if env.Kind != kind {
		return zero, fmt.Errorf("%w: stored response for key %s is tagged %s", domain.ErrInvalidData, rec.Key, env.Kind)
	}

	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return zero, fmt.Errorf("%w: stored %s payload for key %s: %v", domain.ErrInvalidData, kind, rec.Key, err)
	}
	return out, nil
}
