// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

// Ledger is the append-only public message store. Records are indexed
// per-recipient (inbox) and per-sender (outbox); an index, once assigned, is
// never reused or reordered. Ordering within a box is ledger-assigned append
// order, not client wall-clock order.
type Ledger interface {
	// Append validates addressing and stores the record in the recipient's
	// inbox and the sender's outbox at the next respective index, atomically
	// all-or-nothing. Returns ErrInvalidRecipient for the zero identity and
	// ErrSelfMessage when recipient equals sender, both before any mutation.
	Append(ctx context.Context, sender, recipient common.Address, handle ids.ID) (*MessageRecord, error)

	// Count returns the number of records in the identity's box.
	Count(ctx context.Context, identity common.Address, box Box) (uint64, error)

	// ReadAt returns the record at index. Returns ErrIndexOutOfBounds when
	// index >= Count.
	ReadAt(ctx context.Context, identity common.Address, box Box, index uint64) (*MessageRecord, error)

	// ListHandles returns the identity's inbox handles in insertion order: a
	// finite snapshot taken at call time, blind to later appends.
	ListHandles(ctx context.Context, identity common.Address) ([]ids.ID, error)
}

// LedgerObserver is notified when a record is appended. Events carry no
// ciphertext material.
type LedgerObserver interface {
	MessageSent(ev MessageSentEvent)
}
