package services

import "github.com/google/uuid"

// IdempotencyKeyIssuer mints one key per purchase attempt.
// A new key is issued on first submit, after a hard validation failure, and when
// the buyer accepts a changed price.
type IdempotencyKeyIssuer struct {
	newKey func() string
}

// NewIdempotencyKeyIssuer creates an issuer backed by random UUIDs
func NewIdempotencyKeyIssuer() *IdempotencyKeyIssuer {
	return &IdempotencyKeyIssuer{newKey: uuid.NewString}
}

// Issue returns a fresh key
func (i *IdempotencyKeyIssuer) Issue() string {
	return i.newKey()
}
