// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import "errors"

var (
	// ErrInvalidEncoding is returned when a decoded payload prefix is not
	// valid UTF-8. Fatal to that decode, not to the session.
	ErrInvalidEncoding = errors.New("invalid encoding")

	// ErrInvalidWidth is returned when a payload width is not a supported
	// deployment constant.
	ErrInvalidWidth = errors.New("invalid payload width")

	// ErrInvalidRecipient is returned when a message is addressed to the
	// zero identity. Rejected before any mutation.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrSelfMessage is returned when sender and recipient are the same
	// identity. Rejected before any mutation.
	ErrSelfMessage = errors.New("self message")

	// ErrBackendUnavailable is returned on transport failure to an external
	// collaborator. Safe to retry for encrypt/decrypt, not for append.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnauthorized is returned when a capability carries no grant for any
	// requested handle. Not retryable without a new, correctly-scoped
	// capability.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCapabilityExpired is returned when a capability is past its
	// validity window. The capability must be re-issued, never resubmitted.
	ErrCapabilityExpired = errors.New("capability expired")

	// ErrCapabilityState is returned on an out-of-order capability
	// transition.
	ErrCapabilityState = errors.New("invalid capability state")

	// ErrIndexOutOfBounds is returned when a ledger read exceeds the box
	// count.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
)
