// Package ids mints the identifiers used across the service: prefixed,
// lexicographically sortable ULIDs for intents, correlations and receipts,
// and random UUIDs for traces and gateway requests.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewIntentID returns a fresh intent identifier ("int_<ULID>").
func NewIntentID() string {
	return "int_" + ulid.Make().String()
}

// NewCorrelationID returns a fresh correlation identifier ("cor_<ULID>").
func NewCorrelationID() string {
	return "cor_" + ulid.Make().String()
}

// NewReceiptID returns a fresh receipt identifier ("rcp_<ULID>").
func NewReceiptID() string {
	return "rcp_" + ulid.Make().String()
}

// NewTraceID returns a random trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// NewRequestID returns a random gateway request identifier.
func NewRequestID() string {
	return uuid.NewString()
}
