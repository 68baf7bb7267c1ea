package domain

import "time"

// ResourceKind discriminates the payload stored with an idempotency record.
type ResourceKind string

const (
	ResourceCard        ResourceKind = "CARD"
	ResourceTransaction ResourceKind = "TRANSACTION"
)

// IdempotencyState tracks whether the owning request has finished.
type IdempotencyState string

const (
	IdempotencyInProgress IdempotencyState = "in_progress"
	IdempotencyCompleted  IdempotencyState = "completed"
)

// IdempotencyRecord maps a caller-supplied key to the response produced for it.
type IdempotencyRecord struct {
	Key          string
	Endpoint     string
	State        IdempotencyState
	ResourceID   string
	ResourceKind ResourceKind
	StatusCode   int
	Body         []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the record is past its retention window at now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
