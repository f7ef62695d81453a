// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cloak

import (
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

// Box selects one of an identity's two append-only message sequences.
type Box uint8

const (
	Inbox Box = iota
	Outbox
)

func (b Box) String() string {
	switch b {
	case Inbox:
		return "inbox"
	case Outbox:
		return "outbox"
	default:
		return "unknown"
	}
}

// MessageRecord is an immutable ledger entry. The handle is an opaque
// reference into the ciphertext service; the record itself carries no
// ciphertext material.
type MessageRecord struct {
	Sender    common.Address
	Recipient common.Address
	Handle    ids.ID
	Timestamp uint64
}

// Counterparty returns the other party of the record from viewer's
// perspective.
func (r *MessageRecord) Counterparty(viewer common.Address) common.Address {
	if viewer == r.Sender {
		return r.Recipient
	}
	return r.Sender
}

// MessageSentEvent is emitted by the ledger for external observers when a
// record is appended. It deliberately carries no handle or ciphertext.
type MessageSentEvent struct {
	From      common.Address
	To        common.Address
	Timestamp uint64
}
